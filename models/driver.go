package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
)

type Driver struct {
	ID         int        `gorm:"primary_key" json:"id"`
	BusinessId string     `gorm:"primary_key;autoIncrement:false;not null" json:"business_id" binding:"required"`
	Name       string     `gorm:"size:100;not null" json:"name" binding:"required"`
	Phone      string     `gorm:"size:20" json:"phone"`
	DriverType DriverType `gorm:"type:enum('Retail','Shipment');default:'Retail'" json:"driver_type"`
	IsActive   *bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewDriver struct {
	Name       string     `json:"name" binding:"required"`
	Phone      string     `json:"phone"`
	DriverType DriverType `json:"driver_type" binding:"required"`
}

type DriversEdge Edge[Driver]
type DriversConnection struct {
	PageInfo *PageInfo      `json:"pageInfo"`
	Edges    []*DriversEdge `json:"edges"`
}

// node
// returns decoded cursor string
func (d Driver) GetCursor() string {
	return d.Name
}

// validate input for both create & update. (id = 0 for create)
func (input *NewDriver) validate(ctx context.Context, businessId string, id int) error {
	// name
	if err := utils.ValidateUnique[Driver](ctx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	// phone
	if len(input.Phone) > 0 {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return err
		}
		if err := utils.ValidateUnique[Driver](ctx, businessId, "phone", input.Phone, id); err != nil {
			return err
		}
	}
	return nil
}

func CreateDriver(ctx context.Context, input *NewDriver) (*Driver, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	driver := Driver{
		BusinessId: businessId,
		Name:       input.Name,
		Phone:      input.Phone,
		DriverType: input.DriverType,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&driver).Error
	if err != nil {
		return nil, err
	}
	return &driver, nil
}

func UpdateDriver(ctx context.Context, id int, input *NewDriver) (*Driver, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	driver, err := utils.FetchModel[Driver](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&driver).Updates(map[string]interface{}{
		"Name":       input.Name,
		"Phone":      input.Phone,
		"DriverType": input.DriverType,
	}).Error
	if err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisItem[Driver](id); err != nil {
		return nil, err
	}
	return driver, nil
}

// DeleteDriver refuses while the driver still has ledger history, current
// receivable records, or sale events.
func DeleteDriver(ctx context.Context, id int) (*Driver, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	result, err := utils.FetchModel[Driver](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	ledgerCount, err := utils.ResourceCountWhere[DriverLedgerEntry](ctx, businessId, "driver_id = ?", id)
	if err != nil {
		return nil, err
	}
	if ledgerCount > 0 {
		return nil, errors.New("driver has ledger history and cannot be deleted")
	}
	receivableCount, err := utils.ResourceCountWhere[DriverReceivable](ctx, businessId, "driver_id = ?", id)
	if err != nil {
		return nil, err
	}
	if receivableCount > 0 {
		return nil, errors.New("driver has receivable records and cannot be deleted")
	}
	saleCount, err := utils.ResourceCountWhere[SaleEvent](ctx, businessId, "driver_id = ?", id)
	if err != nil {
		return nil, err
	}
	if saleCount > 0 {
		return nil, errors.New("driver has sale transactions and cannot be deleted")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Delete(&result).Error
	if err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisItem[Driver](id); err != nil {
		return nil, err
	}
	return result, nil
}

func GetDriver(ctx context.Context, id int) (*Driver, error) {
	return GetResource[Driver](ctx, id)
}

func GetDrivers(ctx context.Context, name *string, driverType *DriverType) ([]*Driver, error) {

	db := config.GetDB()
	var results []*Driver

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if driverType != nil && len(*driverType) > 0 {
		dbCtx = dbCtx.Where("driver_type = ?", *driverType)
	}
	err := dbCtx.Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetDriversByIds resolves a batch of drivers in one query (dataloader path).
func GetDriversByIds(ctx context.Context, businessId string, ids []int) ([]*Driver, error) {

	db := config.GetDB()
	var results []*Driver

	err := db.WithContext(ctx).
		Where("business_id = ? AND id IN ?", businessId, ids).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func ToggleActiveDriver(ctx context.Context, id int, isActive bool) (*Driver, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	return ToggleActiveModel[Driver](ctx, businessId, id, isActive)
}

func PaginateDriver(ctx context.Context, limit *int, after *string,
	name *string) (*DriversConnection, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != nil && *name != "" {
		dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	edges, pageInfo, err := FetchPagePureCursor[Driver](dbCtx, *limit, after, "name", ">")
	if err != nil {
		return nil, err
	}
	var driversConnection DriversConnection
	driversConnection.PageInfo = pageInfo
	for _, edge := range edges {
		driverEdge := DriversEdge(edge)
		driversConnection.Edges = append(driversConnection.Edges, &driverEdge)
	}
	return &driversConnection, err
}

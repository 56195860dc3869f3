package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DriverReceivable is the current, operator-editable balance record for one
// (driver, receivable type, cylinder size) slice. These are the values the
// validator compares against baselines; edits require a reason and leave an
// audit record.
type DriverReceivable struct {
	ID             int            `gorm:"primary_key" json:"id"`
	BusinessId     string         `gorm:"size:64;not null;index:uniq_receivable_slice,unique" json:"business_id"`
	DriverId       int            `gorm:"not null;index:uniq_receivable_slice,unique" json:"driver_id"`
	ReceivableType ReceivableType `gorm:"type:enum('Cash','Cylinder');not null;index:uniq_receivable_slice,unique" json:"receivable_type"`
	// CylinderSize is "" for cash and un-sized cylinder slices; NULL would
	// defeat the unique index under MySQL semantics.
	CylinderSize string          `gorm:"size:20;not null;default:'';index:uniq_receivable_slice,unique" json:"cylinder_size"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type UpdateReceivableInput struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"required,min=3"`
}

func (r *DriverReceivable) sliceLabel() string {
	if r.CylinderSize != "" {
		return fmt.Sprintf("%s/%s", r.ReceivableType, r.CylinderSize)
	}
	return string(r.ReceivableType)
}

// UpdateDriverReceivable edits one current record. The old and new amounts and
// the operator's reason are written to the audit trail in the same transaction.
func UpdateDriverReceivable(ctx context.Context, id int, input *UpdateReceivableInput) (*DriverReceivable, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if input.Reason == "" {
		return nil, errors.New("reason is required")
	}

	record, err := utils.FetchModel[DriverReceivable](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	oldAmount := record.Amount

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Model(&record).
		UpdateColumn("amount", input.Amount).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := createAuditRecord(tx.WithContext(ctx), AuditActionUpdate, record.DriverId, record.ID,
		"driver_receivables", "amount",
		oldAmount.String(), input.Amount.String(),
		input.Reason,
		fmt.Sprintf("edited %s receivable of driver %d", record.sliceLabel(), record.DriverId)); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := utils.RemoveRedisItem[DriverReceivable](id); err != nil {
		tx.Rollback()
		return nil, err
	}

	record.Amount = input.Amount
	return record, tx.Commit().Error
}

// UpsertReceivableSlice creates or replaces one slice's amount inside the
// caller's transaction. Used when seeding onboarding balances; operator edits
// go through UpdateDriverReceivable.
func UpsertReceivableSlice(tx *gorm.DB, businessId string, driverId int, rType ReceivableType, cylinderSize string, amount decimal.Decimal) error {

	switch rType {
	case ReceivableTypeCash, ReceivableTypeCylinder:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownReceivableType, rType)
	}

	sql := `
        INSERT INTO driver_receivables
            (business_id, driver_id, receivable_type, cylinder_size, amount, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, NOW(), NOW())
        ON DUPLICATE KEY UPDATE
            amount = VALUES(amount),
            updated_at = NOW()
    `
	return tx.Exec(sql, businessId, driverId, rType, cylinderSize, amount).Error
}

func GetDriverReceivable(ctx context.Context, id int) (*DriverReceivable, error) {
	return GetResource[DriverReceivable](ctx, id)
}

func GetDriverReceivables(ctx context.Context, driverId *int, rType *ReceivableType) ([]*DriverReceivable, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if driverId != nil && *driverId > 0 {
		dbCtx = dbCtx.Where("driver_id = ?", *driverId)
	}
	if rType != nil && len(*rType) > 0 {
		dbCtx = dbCtx.Where("receivable_type = ?", *rType)
	}

	var results []*DriverReceivable
	if err := dbCtx.Order("driver_id, receivable_type, cylinder_size").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetAllReceivables loads the whole tenant's current records in one query
// (snapshot capture and validation both need the full set).
func GetAllReceivables(ctx context.Context, businessId string) ([]*DriverReceivable, error) {

	db := config.GetDB()
	var results []*DriverReceivable
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("driver_id, receivable_type, cylinder_size").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

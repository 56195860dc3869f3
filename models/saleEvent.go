package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SaleEvent is one row of the ingested transaction feed. Rows are append-only;
// corrections arrive as new feed events, never as edits.
type SaleEvent struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	BusinessId         string          `gorm:"size:64;not null;index:uniq_sale_source,unique;index:idx_sale_biz_time,priority:1;index:idx_sale_biz_driver_time,priority:1" json:"business_id"`
	DriverId           int             `gorm:"not null;index:idx_sale_biz_driver_time,priority:2" json:"driver_id" binding:"required"`
	SaleTime           time.Time       `gorm:"not null;index:idx_sale_biz_time,priority:2;index:idx_sale_biz_driver_time,priority:3" json:"sale_time" binding:"required"`
	SaleType           SaleType        `gorm:"type:enum('Package','Refill');not null" json:"sale_type" binding:"required"`
	CylinderSize       *string         `gorm:"size:20" json:"cylinder_size"`
	Quantity           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	TotalAmount        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	Discount           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount"`
	CashDeposited      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cash_deposited"`
	CylindersDeposited decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cylinders_deposited"`
	// SourceRef is the feed's id for this event; unique per tenant so replays are no-ops.
	SourceRef string    `gorm:"size:255;not null;index:uniq_sale_source,unique" json:"source_ref" binding:"required"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewSaleEvent struct {
	DriverId           int             `json:"driver_id" validate:"required,gt=0"`
	SaleTime           time.Time       `json:"sale_time" validate:"required"`
	SaleType           SaleType        `json:"sale_type" validate:"required"`
	CylinderSize       *string         `json:"cylinder_size"`
	Quantity           decimal.Decimal `json:"quantity"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Discount           decimal.Decimal `json:"discount"`
	CashDeposited      decimal.Decimal `json:"cash_deposited"`
	CylindersDeposited decimal.Decimal `json:"cylinders_deposited"`
	SourceRef          string          `json:"source_ref" validate:"required"`
}

func (e *SaleEvent) BeforeUpdate(tx *gorm.DB) error {
	return utils.ErrorRecordImmutable
}

func (e *SaleEvent) BeforeDelete(tx *gorm.DB) error {
	return utils.ErrorRecordImmutable
}

// CreateSaleEvent inserts one feed row inside the caller's transaction.
// A duplicate source_ref surfaces as a MySQL 1062 error which the ingestion
// handler treats as already-ingested.
func CreateSaleEvent(tx *gorm.DB, businessId string, input *NewSaleEvent) (*SaleEvent, error) {

	if input.SaleType != SaleTypePackage && input.SaleType != SaleTypeRefill {
		return nil, errors.New("invalid sale type")
	}

	event := SaleEvent{
		BusinessId:         businessId,
		DriverId:           input.DriverId,
		SaleTime:           input.SaleTime.UTC(),
		SaleType:           input.SaleType,
		CylinderSize:       input.CylinderSize,
		Quantity:           input.Quantity,
		TotalAmount:        input.TotalAmount,
		Discount:           input.Discount,
		CashDeposited:      input.CashDeposited,
		CylindersDeposited: input.CylindersDeposited,
		SourceRef:          input.SourceRef,
	}
	if err := tx.Create(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// GetSaleEventsWindow fetches every sale row for the given drivers whose
// tenant-local day falls inside [fromDate, toDate]. One query per batch; the
// time bounds are widened by a day on each side so timezone bucketing never
// drops edge rows, callers re-bucket with ConvertToDate.
func GetSaleEventsWindow(tx *gorm.DB, ctx context.Context, businessId string, driverIds []int, fromDate, toDate time.Time) ([]*SaleEvent, error) {

	if len(driverIds) == 0 {
		return nil, nil
	}

	lower := fromDate.AddDate(0, 0, -1)
	upper := toDate.AddDate(0, 0, 2)

	var results []*SaleEvent
	err := tx.WithContext(ctx).
		Where("business_id = ? AND driver_id IN ? AND sale_time >= ? AND sale_time < ?",
			businessId, driverIds, lower, upper).
		Order("sale_time").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func GetSaleEvents(ctx context.Context, driverId *int, fromTime, toTime *time.Time) ([]*SaleEvent, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if driverId != nil && *driverId > 0 {
		dbCtx = dbCtx.Where("driver_id = ?", *driverId)
	}
	if fromTime != nil {
		dbCtx = dbCtx.Where("sale_time >= ?", *fromTime)
	}
	if toTime != nil {
		dbCtx = dbCtx.Where("sale_time < ?", *toTime)
	}

	var results []*SaleEvent
	if err := dbCtx.Order("sale_time").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

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

// BaselineSnapshot is an immutable point-in-time capture of every driver's
// receivable position. Once written it is never updated or deleted; a new
// snapshot is taken instead.
type BaselineSnapshot struct {
	ID           int          `gorm:"primary_key" json:"id"`
	BusinessId   string       `gorm:"size:64;not null;index:uniq_snapshot,unique" json:"business_id"`
	SnapshotDate time.Time    `gorm:"not null;index:uniq_snapshot,unique" json:"snapshot_date"`
	SnapshotType SnapshotType `gorm:"type:enum('Onboarding','Manual','Periodic');not null;index:uniq_snapshot,unique" json:"snapshot_type"`
	// Payload is the serialized driver -> balances mapping (JSON).
	Payload            []byte           `gorm:"type:blob" json:"payload"`
	TotalCash          decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"total_cash"`
	TotalCylinders     decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"total_cylinders"`
	DriverCount        int              `gorm:"not null;default:0" json:"driver_count"`
	Notes              string           `gorm:"type:text" json:"notes"`
	CreatedBy          string           `gorm:"size:100" json:"created_by"`
	ArchivedObjectName *string          `gorm:"size:255" json:"archived_object_name"`
	Records            []BaselineRecord `gorm:"foreignKey:SnapshotId" json:"records"`
	CreatedAt          time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// BaselineRecord is one fine-grained slice of a snapshot. When a record exists
// for a (driver, type, size) slice it takes precedence over the snapshot
// payload during validation.
type BaselineRecord struct {
	ID             int             `gorm:"primary_key" json:"id"`
	BusinessId     string          `gorm:"size:64;not null;index:idx_baseline_slice,priority:1" json:"business_id"`
	SnapshotId     int             `gorm:"not null;index" json:"snapshot_id"`
	DriverId       int             `gorm:"not null;index:idx_baseline_slice,priority:2" json:"driver_id"`
	ReceivableType ReceivableType  `gorm:"type:enum('Cash','Cylinder');not null;index:idx_baseline_slice,priority:3" json:"receivable_type"`
	CylinderSize   string          `gorm:"size:20;not null;default:'';index:idx_baseline_slice,priority:4" json:"cylinder_size"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (s *BaselineSnapshot) BeforeUpdate(tx *gorm.DB) error {
	// archived_object_name is stamped once after the post-commit GCS copy
	if tx != nil && tx.Statement != nil && tx.Statement.Schema != nil {
		onlyArchive := true
		for _, f := range tx.Statement.Schema.Fields {
			if tx.Statement.Changed(f.Name) && f.Name != "ArchivedObjectName" {
				onlyArchive = false
				break
			}
		}
		if onlyArchive {
			return nil
		}
	}
	return utils.ErrorRecordImmutable
}

func (s *BaselineSnapshot) BeforeDelete(tx *gorm.DB) error {
	return utils.ErrorRecordImmutable
}

func (r *BaselineRecord) BeforeUpdate(tx *gorm.DB) error {
	return utils.ErrorRecordImmutable
}

func (r *BaselineRecord) BeforeDelete(tx *gorm.DB) error {
	return utils.ErrorRecordImmutable
}

// GetEarliestOnboardingSnapshot returns the tenant's baseline of record: the
// earliest ONBOARDING snapshot. Nil when the tenant has none.
func GetEarliestOnboardingSnapshot(ctx context.Context, businessId string) (*BaselineSnapshot, error) {

	db := config.GetDB()
	var snapshot BaselineSnapshot
	err := db.WithContext(ctx).
		Where("business_id = ? AND snapshot_type = ?", businessId, SnapshotTypeOnboarding).
		Order("snapshot_date").
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}

func GetBaselineSnapshot(ctx context.Context, id int) (*BaselineSnapshot, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[BaselineSnapshot](ctx, businessId, id, "Records")
}

func GetBaselineSnapshots(ctx context.Context, snapshotType *SnapshotType) ([]*BaselineSnapshot, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if snapshotType != nil && len(*snapshotType) > 0 {
		dbCtx = dbCtx.Where("snapshot_type = ?", *snapshotType)
	}

	var results []*BaselineSnapshot
	if err := dbCtx.Order("snapshot_date DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetBaselineRecordsBySnapshot loads the fine-grained slices of one snapshot.
func GetBaselineRecordsBySnapshot(ctx context.Context, businessId string, snapshotId int) ([]*BaselineRecord, error) {

	db := config.GetDB()
	var results []*BaselineRecord
	err := db.WithContext(ctx).
		Where("business_id = ? AND snapshot_id = ?", businessId, snapshotId).
		Order("driver_id, receivable_type, cylinder_size").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// StampArchivedObjectName records where the payload copy landed in GCS.
// Best-effort: failure to stamp does not invalidate the snapshot.
func StampArchivedObjectName(ctx context.Context, snapshot *BaselineSnapshot, objectName string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(snapshot).
		Update("ArchivedObjectName", objectName).Error
}

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

// DriverLedgerEntry is one driver-day of the receivables running ledger.
//
// Carry-forward invariant:
//
//	cash_total     = previous cash_total     + cash_delta     + onboarding_cash (once, on its recorded day)
//	cylinder_total = previous cylinder_total + cylinder_delta + onboarding_cylinders (same)
//
// "previous" is the latest stored entry strictly before entry_date.
type DriverLedgerEntry struct {
	BusinessId         string           `gorm:"primaryKey;index:idx_dle_biz_driver_date,priority:1" json:"business_id"`
	DriverId           int              `gorm:"primaryKey;index:idx_dle_biz_driver_date,priority:2" json:"driver_id"`
	EntryDate          time.Time        `gorm:"primaryKey;index:idx_dle_biz_driver_date,priority:3" json:"entry_date"`
	CashDelta          decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"cash_delta"`
	CylinderDelta      decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"cylinder_delta"`
	CashTotal          decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"cash_total"`
	CylinderTotal      decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"cylinder_total"`
	OnboardingCash     *decimal.Decimal `gorm:"type:decimal(20,4)" json:"onboarding_cash"`
	OnboardingCylinder *decimal.Decimal `gorm:"type:decimal(20,4)" json:"onboarding_cylinder"`
	CalculatedAt       time.Time        `gorm:"not null" json:"calculated_at"`
	CreatedAt          time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetLatestLedgerEntryBefore returns the latest entry strictly before date,
// or nil when no prior entry exists.
func GetLatestLedgerEntryBefore(tx *gorm.DB, ctx context.Context, businessId string, driverId int, date time.Time) (*DriverLedgerEntry, error) {

	var entry DriverLedgerEntry
	err := tx.WithContext(ctx).
		Where("business_id = ? AND driver_id = ? AND entry_date < ?", businessId, driverId, date).
		Order("entry_date DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// GetLedgerEntry returns the entry for one driver-day, nil when absent.
func GetLedgerEntry(tx *gorm.DB, ctx context.Context, businessId string, driverId int, date time.Time) (*DriverLedgerEntry, error) {

	var entry DriverLedgerEntry
	err := tx.WithContext(ctx).
		Where("business_id = ? AND driver_id = ? AND entry_date = ?", businessId, driverId, date).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// UpsertLedgerEntry writes one driver-day row. Recalculation owns the delta
// and total columns; the onboarding columns belong to onboarding recording and
// are preserved on conflict so a recompute can never wipe them.
func UpsertLedgerEntry(tx *gorm.DB, entry *DriverLedgerEntry) error {

	sql := `
        INSERT INTO driver_ledger_entries
            (business_id, driver_id, entry_date, cash_delta, cylinder_delta, cash_total, cylinder_total,
             onboarding_cash, onboarding_cylinder, calculated_at, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
        ON DUPLICATE KEY UPDATE
            cash_delta = VALUES(cash_delta),
            cylinder_delta = VALUES(cylinder_delta),
            cash_total = VALUES(cash_total),
            cylinder_total = VALUES(cylinder_total),
            calculated_at = VALUES(calculated_at),
            updated_at = NOW()
    `
	return tx.Exec(sql,
		entry.BusinessId, entry.DriverId, entry.EntryDate,
		entry.CashDelta, entry.CylinderDelta,
		entry.CashTotal, entry.CylinderTotal,
		entry.OnboardingCash, entry.OnboardingCylinder,
		entry.CalculatedAt,
	).Error
}

// AssertOnboardingColumns records onboarding balances on the driver's row for
// that day, creating the row if needed. Totals are left for the next
// recalculation pass to fold in.
func AssertOnboardingColumns(tx *gorm.DB, businessId string, driverId int, date time.Time, cash, cylinders decimal.Decimal) error {

	sql := `
        INSERT INTO driver_ledger_entries
            (business_id, driver_id, entry_date, onboarding_cash, onboarding_cylinder, calculated_at, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, NOW(), NOW(), NOW())
        ON DUPLICATE KEY UPDATE
            onboarding_cash = VALUES(onboarding_cash),
            onboarding_cylinder = VALUES(onboarding_cylinder),
            updated_at = NOW()
    `
	return tx.Exec(sql, businessId, driverId, date, cash, cylinders).Error
}

// GetLedgerEntriesRange returns entries for the drivers inside
// [fromDate, toDate], ascending by entry_date then driver_id.
func GetLedgerEntriesRange(tx *gorm.DB, ctx context.Context, businessId string, driverIds []int, fromDate, toDate time.Time) ([]*DriverLedgerEntry, error) {

	dbCtx := tx.WithContext(ctx).
		Where("business_id = ? AND entry_date >= ? AND entry_date <= ?", businessId, fromDate, toDate)
	if len(driverIds) > 0 {
		dbCtx = dbCtx.Where("driver_id IN ?", driverIds)
	}

	var results []*DriverLedgerEntry
	if err := dbCtx.Order("entry_date, driver_id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetLatestLedgerEntries returns the latest entry per driver as of date
// (inclusive), giving each driver's closing position.
func GetLatestLedgerEntries(ctx context.Context, businessId string, asOf time.Time) ([]*DriverLedgerEntry, error) {

	db := config.GetDB()
	var results []*DriverLedgerEntry

	sql := `
        SELECT l.*
        FROM driver_ledger_entries l
        JOIN (
            SELECT driver_id, MAX(entry_date) AS entry_date
            FROM driver_ledger_entries
            WHERE business_id = ? AND entry_date <= ?
            GROUP BY driver_id
        ) latest ON l.driver_id = latest.driver_id AND l.entry_date = latest.entry_date
        WHERE l.business_id = ?
    `
	if err := db.WithContext(ctx).Raw(sql, businessId, asOf, businessId).Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// OnboardingRecordedBefore reports whether any entry outside the given date
// already carries onboarding values for the driver. Onboarding is applied
// exactly once per driver.
func OnboardingRecordedBefore(ctx context.Context, businessId string, driverId int, exceptDate time.Time) (bool, error) {

	count, err := utils.ResourceCountWhere[DriverLedgerEntry](ctx, businessId,
		"driver_id = ? AND entry_date <> ? AND (onboarding_cash IS NOT NULL OR onboarding_cylinder IS NOT NULL)",
		driverId, exceptDate)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

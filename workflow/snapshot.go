package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type SnapshotInput struct {
	SnapshotType models.SnapshotType `json:"snapshot_type" binding:"required"`
	Notes        string              `json:"notes"`
}

// SnapshotDriverBalances is one driver's frozen position inside a snapshot
// payload. Map key in the payload is the driver id.
type SnapshotDriverBalances struct {
	Cash            decimal.Decimal            `json:"cash"`
	Cylinders       decimal.Decimal            `json:"cylinders"`
	CylindersBySize map[string]decimal.Decimal `json:"cylinders_by_size,omitempty"`
}

// CreateBaselineSnapshot freezes every driver's current receivable position
// into a write-once snapshot: the serialized driver mapping, per-slice
// baseline records and tenant-wide totals, all in one transaction. At most
// one snapshot per (date, type); taking another means a new date or type.
func CreateBaselineSnapshot(ctx context.Context, businessId string, input *SnapshotInput) (*models.BaselineSnapshot, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	switch input.SnapshotType {
	case models.SnapshotTypeOnboarding, models.SnapshotTypeManual, models.SnapshotTypePeriodic:
	default:
		return nil, fmt.Errorf("invalid snapshot type %q", input.SnapshotType)
	}

	business, err := models.GetBusinessById(ctx, businessId)
	if err != nil {
		return nil, err
	}
	snapshotDate, err := utils.ConvertToDate(time.Now().UTC(), business.Timezone)
	if err != nil {
		return nil, err
	}

	receivables, err := models.GetAllReceivables(ctx, businessId)
	if err != nil {
		return nil, err
	}
	if len(receivables) == 0 {
		return nil, errors.New("business has no receivable records to snapshot")
	}

	mapping := make(map[int]*SnapshotDriverBalances)
	totalCash := decimal.Zero
	totalCylinders := decimal.Zero
	records := make([]models.BaselineRecord, 0, len(receivables))

	for _, r := range receivables {
		balances, ok := mapping[r.DriverId]
		if !ok {
			balances = &SnapshotDriverBalances{}
			mapping[r.DriverId] = balances
		}
		switch r.ReceivableType {
		case models.ReceivableTypeCash:
			balances.Cash = balances.Cash.Add(r.Amount)
			totalCash = totalCash.Add(r.Amount)
		case models.ReceivableTypeCylinder:
			balances.Cylinders = balances.Cylinders.Add(r.Amount)
			totalCylinders = totalCylinders.Add(r.Amount)
			if r.CylinderSize != "" {
				if balances.CylindersBySize == nil {
					balances.CylindersBySize = map[string]decimal.Decimal{}
				}
				balances.CylindersBySize[r.CylinderSize] = balances.CylindersBySize[r.CylinderSize].Add(r.Amount)
			}
		default:
			return nil, fmt.Errorf("%w: %q", models.ErrUnknownReceivableType, r.ReceivableType)
		}
		records = append(records, models.BaselineRecord{
			BusinessId:     businessId,
			DriverId:       r.DriverId,
			ReceivableType: r.ReceivableType,
			CylinderSize:   r.CylinderSize,
			Amount:         r.Amount,
		})
	}

	payload, err := json.Marshal(mapping)
	if err != nil {
		return nil, err
	}
	createdBy, _ := utils.GetUserNameFromContext(ctx)

	snapshot := &models.BaselineSnapshot{
		BusinessId:     businessId,
		SnapshotDate:   snapshotDate,
		SnapshotType:   input.SnapshotType,
		Payload:        payload,
		TotalCash:      totalCash,
		TotalCylinders: totalCylinders,
		DriverCount:    len(mapping),
		Notes:          input.Notes,
		CreatedBy:      createdBy,
		Records:        records,
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(snapshot).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return fmt.Errorf("a %s snapshot already exists for %s", input.SnapshotType, dayKey(snapshotDate))
			}
			return err
		}
		eventPayload := map[string]interface{}{
			"snapshot_id":   snapshot.ID,
			"snapshot_type": snapshot.SnapshotType,
			"driver_count":  snapshot.DriverCount,
		}
		return models.EnqueueLedgerEvent(ctx, tx, businessId, models.LedgerEventSnapshotCreated, nil, snapshotDate, snapshotDate, eventPayload)
	})
	if err != nil {
		return nil, err
	}

	if config.SnapshotArchiveEnabled() {
		// best effort: the db row is the source of truth, the GCS copy is an
		// off-db audit artifact
		objectName := fmt.Sprintf("snapshots/%s/%s-%s-%d.json", businessId, dayKey(snapshotDate), snapshot.SnapshotType, snapshot.ID)
		if err := utils.ArchiveSnapshotToGCS(ctx, objectName, payload); err != nil {
			config.LogError(logger, "snapshot.go", "CreateBaselineSnapshot", "Archiving snapshot payload", objectName, err)
		} else if err := models.StampArchivedObjectName(ctx, snapshot, objectName); err != nil {
			config.LogError(logger, "snapshot.go", "CreateBaselineSnapshot", "Stamping archived object name", objectName, err)
		}
	}

	return snapshot, nil
}

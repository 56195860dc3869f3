package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const maxRecalcRangeDays = 366

const (
	RecalcStatusProcessed    = "PROCESSED"
	RecalcStatusSkipped      = "SKIPPED"
	RecalcStatusNotCommitted = "NOT_COMMITTED"
)

var errLedgerWrite = errors.New("ledger write failed")

type RecalculateInput struct {
	DriverIds []int     `json:"driver_ids"`
	DateFrom  time.Time `json:"date_from" binding:"required"`
	DateTo    time.Time `json:"date_to" binding:"required"`
}

type DriverDateStatus struct {
	DriverId int    `json:"driver_id"`
	Date     string `json:"date"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

type RecalculateResult struct {
	Processed int                `json:"processed"`
	Skipped   int                `json:"skipped"`
	Statuses  []DriverDateStatus `json:"statuses"`
}

// recalcBatch carries the state of one recalculation call. Nothing here
// outlives the call; concurrent calls for different tenants never share it.
type recalcBatch struct {
	db         *gorm.DB
	logger     *logrus.Logger
	businessId string
	timezone   string
	driverIds  []int

	mu        sync.Mutex
	processed int
	skipped   int
	statuses  []DriverDateStatus
}

func (b *recalcBatch) record(driverId int, date time.Time, status string, cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := DriverDateStatus{DriverId: driverId, Date: dayKey(date), Status: status}
	if cause != nil {
		s.Error = cause.Error()
	}
	switch status {
	case RecalcStatusProcessed:
		b.processed++
	case RecalcStatusSkipped:
		b.skipped++
	}
	b.statuses = append(b.statuses, s)
}

func (b *recalcBatch) markRemaining(dates []time.Time, cause error) {
	for _, date := range dates {
		for _, driverId := range b.driverIds {
			b.record(driverId, date, RecalcStatusNotCommitted, cause)
		}
	}
}

func (b *recalcBatch) result() *RecalculateResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &RecalculateResult{
		Processed: b.processed,
		Skipped:   b.skipped,
		Statuses:  b.statuses,
	}
}

// RecalculateLedgerRange recomputes the ledger for [DateFrom, DateTo] for the
// given drivers (all drivers when none given). Dates are processed strictly
// ascending since each day's totals feed the next day; drivers within one
// date run in parallel with a barrier before the date advances. Re-running an
// unchanged range is a no-op row-for-row.
func RecalculateLedgerRange(ctx context.Context, businessId string, input *RecalculateInput) (*RecalculateResult, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	if input == nil {
		return nil, errors.New("input is required")
	}
	if input.DateTo.Before(input.DateFrom) {
		return nil, errors.New("date_to must not be before date_from")
	}

	business, err := models.GetBusinessById(ctx, businessId)
	if err != nil {
		return nil, err
	}

	seq, err := utils.NewDateSequence(input.DateFrom, input.DateTo, business.Timezone)
	if err != nil {
		return nil, err
	}
	if seq.Len() > maxRecalcRangeDays {
		return nil, fmt.Errorf("date range exceeds %d days", maxRecalcRangeDays)
	}

	driverIds, err := resolveDriverIds(ctx, businessId, input.DriverIds)
	if err != nil {
		return nil, err
	}

	// Shed obviously concurrent callers early, then the definitive
	// per-tenant serialization on a MySQL advisory lock, held on one
	// pinned connection for the whole batch.
	if err := utils.BusinessLock(ctx, businessId, "ledger-recalc", "recalculate.go", "RecalculateLedgerRange"); err != nil {
		return nil, err
	}

	batch := &recalcBatch{
		db:         db,
		logger:     logger,
		businessId: businessId,
		timezone:   business.Timezone,
		driverIds:  driverIds,
	}

	chunks := seq.Chunk(config.RecomputeChunkDays())
	var batchErr error
	lockErr := WithRecalculationLock(db, businessId, func() {
		batchErr = batch.run(ctx, chunks)
	})
	if lockErr != nil {
		return nil, lockErr
	}
	if batchErr != nil {
		return batch.result(), batchErr
	}

	result := batch.result()

	var eventDriverId *int
	if len(input.DriverIds) == 1 {
		eventDriverId = &input.DriverIds[0]
	}
	payload := map[string]interface{}{
		"processed": result.Processed,
		"skipped":   result.Skipped,
		"drivers":   len(driverIds),
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return models.EnqueueLedgerEvent(ctx, tx, businessId, models.LedgerEventRecalculationCompleted, eventDriverId, seq.First(), seq.Last(), payload)
	})
	if err != nil {
		config.LogError(logger, "recalculate.go", "RecalculateLedgerRange", "Enqueueing recalculation event", businessId, err)
	}

	return result, nil
}

// run walks the chunks in order. Dates already committed when an error
// aborts the batch stay committed; the rest are recorded NOT_COMMITTED.
func (b *recalcBatch) run(ctx context.Context, chunks []utils.DateSequence) error {
	for ci, chunk := range chunks {
		grid, err := AggregateSales(b.db, ctx, b.businessId, b.timezone, b.driverIds, chunk)
		if err != nil {
			config.LogError(b.logger, "recalculate.go", "run", "Aggregating sales for chunk", b.businessId, err)
			b.markRemaining(remainingDates(chunks, ci, 0), err)
			return err
		}
		for di, date := range chunk.Dates() {
			select {
			case <-ctx.Done():
				// cancellation only stops scheduling further dates; every
				// committed date is self-consistent
				return ctx.Err()
			default:
			}
			if err := b.processDate(ctx, date, grid); err != nil {
				b.markRemaining(remainingDates(chunks, ci, di+1), err)
				return err
			}
		}
	}
	return nil
}

// processDate recomputes every driver for one date. Single-driver failures
// are logged and skipped; only a ledger write failure aborts the batch.
func (b *recalcBatch) processDate(ctx context.Context, date time.Time, grid map[int]map[string]DayDelta) error {
	handle := func(driverId int) error {
		delta := grid[driverId][dayKey(date)]
		err := b.recalcOne(ctx, driverId, date, delta)
		if err == nil {
			b.record(driverId, date, RecalcStatusProcessed, nil)
			return nil
		}
		if errors.Is(err, errLedgerWrite) {
			b.record(driverId, date, RecalcStatusNotCommitted, err)
			return err
		}
		config.LogError(b.logger, "recalculate.go", "processDate", "Recomputing driver day",
			map[string]interface{}{"driver_id": driverId, "date": dayKey(date)}, err)
		b.record(driverId, date, RecalcStatusSkipped, err)
		return nil
	}

	if config.SerialRecompute() {
		for _, driverId := range b.driverIds {
			if err := handle(driverId); err != nil {
				return err
			}
		}
		return nil
	}

	// all drivers for this date in parallel; the WaitGroup is the barrier
	// before the next date reads these rows as "previous totals"
	var wg sync.WaitGroup
	var mu sync.Mutex
	var persistErr error
	for _, driverId := range b.driverIds {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := handle(id); err != nil {
				mu.Lock()
				if persistErr == nil {
					persistErr = err
				}
				mu.Unlock()
			}
		}(driverId)
	}
	wg.Wait()
	return persistErr
}

// BuildLedgerEntry derives the stored row for one driver-day. prev is the
// latest entry strictly before date (nil when none exists); existing is the
// row currently stored for the date, consulted only for its onboarding
// columns so they count on that day and never again. The result is fully
// determined by its inputs, which is what makes recomputation idempotent.
func BuildLedgerEntry(businessId string, driverId int, date time.Time, prev, existing *models.DriverLedgerEntry, delta DayDelta) *models.DriverLedgerEntry {
	prevTotals := RunningTotals{}
	if prev != nil {
		prevTotals = RunningTotals{Cash: prev.CashTotal, Cylinder: prev.CylinderTotal}
	}

	var onboarding *OnboardingValues
	var obCash, obCylinder *decimal.Decimal
	if existing != nil && (existing.OnboardingCash != nil || existing.OnboardingCylinder != nil) {
		onboarding = &OnboardingValues{
			Cash:     utils.DereferencePtr(existing.OnboardingCash),
			Cylinder: utils.DereferencePtr(existing.OnboardingCylinder),
		}
		obCash = existing.OnboardingCash
		obCylinder = existing.OnboardingCylinder
	}

	totals := ComputeEntry(prevTotals, delta, onboarding)
	return &models.DriverLedgerEntry{
		BusinessId:         businessId,
		DriverId:           driverId,
		EntryDate:          date,
		CashDelta:          delta.Cash,
		CylinderDelta:      delta.Cylinder,
		CashTotal:          totals.Cash,
		CylinderTotal:      totals.Cylinder,
		OnboardingCash:     obCash,
		OnboardingCylinder: obCylinder,
	}
}

// recalcOne computes and upserts one driver-day row. Previous totals come
// from the latest stored entry strictly before the date.
func (b *recalcBatch) recalcOne(ctx context.Context, driverId int, date time.Time, delta DayDelta) error {
	writeOnce := func() error {
		return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			prev, err := models.GetLatestLedgerEntryBefore(tx, ctx, b.businessId, driverId, date)
			if err != nil {
				return fmt.Errorf("reading previous totals: %w", err)
			}
			existing, err := models.GetLedgerEntry(tx, ctx, b.businessId, driverId, date)
			if err != nil {
				return fmt.Errorf("reading current entry: %w", err)
			}

			entry := BuildLedgerEntry(b.businessId, driverId, date, prev, existing, delta)
			entry.CalculatedAt = time.Now().UTC()
			if err := models.UpsertLedgerEntry(tx, entry); err != nil {
				return fmt.Errorf("%w: %w", errLedgerWrite, err)
			}
			return nil
		})
	}

	err := writeOnce()
	if err != nil && isDuplicateKeyErr(err) {
		// concurrent insert on the same key; retry once against a fresh
		// previous-totals read
		err = writeOnce()
	}
	return err
}

func remainingDates(chunks []utils.DateSequence, chunkIdx, dateIdx int) []time.Time {
	var out []time.Time
	dates := chunks[chunkIdx].Dates()
	if dateIdx < len(dates) {
		out = append(out, dates[dateIdx:]...)
	}
	for _, c := range chunks[chunkIdx+1:] {
		out = append(out, c.Dates()...)
	}
	return out
}

func resolveDriverIds(ctx context.Context, businessId string, requested []int) ([]int, error) {
	if len(requested) == 0 {
		drivers, err := models.GetDrivers(ctx, nil, nil)
		if err != nil {
			return nil, err
		}
		ids := make([]int, 0, len(drivers))
		for _, d := range drivers {
			ids = append(ids, d.ID)
		}
		if len(ids) == 0 {
			return nil, errors.New("business has no drivers")
		}
		return ids, nil
	}

	requested = utils.UniqueSlice(requested)
	drivers, err := models.GetDriversByIds(ctx, businessId, requested)
	if err != nil {
		return nil, err
	}
	known := make(map[int]bool, len(drivers))
	for _, d := range drivers {
		known[d.ID] = true
	}
	for _, id := range requested {
		if !known[id] {
			return nil, fmt.Errorf("unknown driver id %d", id)
		}
	}
	return requested, nil
}

type CylinderOnboarding struct {
	CylinderSize string          `json:"cylinder_size" binding:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
}

type OnboardingInput struct {
	Date      time.Time            `json:"date" binding:"required"`
	Cash      decimal.Decimal      `json:"cash"`
	Cylinders []CylinderOnboarding `json:"cylinders"`
	Notes     string               `json:"notes"`
}

// RecordOnboardingBalance stamps a driver's initial balances onto that day's
// ledger row and seeds the editable receivable records the validator checks
// against. A driver gets onboarding values on exactly one date; the next
// recalculation folds them into the running totals.
func RecordOnboardingBalance(ctx context.Context, businessId string, driverId int, input *OnboardingInput) error {
	db := config.GetDB()

	business, err := models.GetBusinessById(ctx, businessId)
	if err != nil {
		return err
	}
	if _, err := models.GetDriver(ctx, driverId); err != nil {
		return err
	}

	date, err := utils.ConvertToDate(input.Date, business.Timezone)
	if err != nil {
		return err
	}

	recorded, err := models.OnboardingRecordedBefore(ctx, businessId, driverId, date)
	if err != nil {
		return err
	}
	if recorded {
		return errors.New("onboarding balance already recorded for this driver")
	}

	totalCylinders := decimal.Zero
	for _, c := range input.Cylinders {
		totalCylinders = totalCylinders.Add(c.Quantity)
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.AssertOnboardingColumns(tx, businessId, driverId, date, input.Cash, totalCylinders); err != nil {
			return err
		}
		if err := models.UpsertReceivableSlice(tx, businessId, driverId, models.ReceivableTypeCash, "", input.Cash); err != nil {
			return err
		}
		if len(input.Cylinders) == 0 && !totalCylinders.IsZero() {
			if err := models.UpsertReceivableSlice(tx, businessId, driverId, models.ReceivableTypeCylinder, "", totalCylinders); err != nil {
				return err
			}
		}
		for _, c := range input.Cylinders {
			if err := models.UpsertReceivableSlice(tx, businessId, driverId, models.ReceivableTypeCylinder, c.CylinderSize, c.Quantity); err != nil {
				return err
			}
		}
		newValue := fmt.Sprintf("cash=%s cylinders=%s", input.Cash.String(), totalCylinders.String())
		description := fmt.Sprintf("Onboarding balances recorded for %s", dayKey(date))
		return models.CreateAuditRecord(tx, models.AuditActionCreate, driverId, driverId, "DriverOnboarding",
			"onboarding", "", newValue, input.Notes, description)
	})
}

package workflow

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"github.com/shopspring/decimal"
)

// fakeLedgerStore mimics the driver_ledger_entries table for DB-free tests:
// keyed by (driver, day), with the latest-prior-entry read the recalculation
// depends on. Entries are folded through the real BuildLedgerEntry.
type fakeLedgerStore struct {
	entries map[int]map[string]*models.DriverLedgerEntry
}

func newFakeLedgerStore() *fakeLedgerStore {
	return &fakeLedgerStore{entries: map[int]map[string]*models.DriverLedgerEntry{}}
}

func (s *fakeLedgerStore) get(driverId int, date time.Time) *models.DriverLedgerEntry {
	return s.entries[driverId][dayKey(date)]
}

func (s *fakeLedgerStore) latestBefore(driverId int, date time.Time) *models.DriverLedgerEntry {
	var latest *models.DriverLedgerEntry
	for _, e := range s.entries[driverId] {
		if !e.EntryDate.Before(date) {
			continue
		}
		if latest == nil || e.EntryDate.After(latest.EntryDate) {
			latest = e
		}
	}
	return latest
}

func (s *fakeLedgerStore) upsert(entry *models.DriverLedgerEntry) {
	if s.entries[entry.DriverId] == nil {
		s.entries[entry.DriverId] = map[string]*models.DriverLedgerEntry{}
	}
	s.entries[entry.DriverId][dayKey(entry.EntryDate)] = entry
}

// recompute folds the given dates ascending for every driver, the way
// recalcBatch.run drives recalcOne.
func (s *fakeLedgerStore) recompute(businessId string, driverIds []int, dates []time.Time, grid map[int]map[string]DayDelta) {
	for _, date := range dates {
		for _, driverId := range driverIds {
			prev := s.latestBefore(driverId, date)
			existing := s.get(driverId, date)
			delta := grid[driverId][dayKey(date)]
			s.upsert(BuildLedgerEntry(businessId, driverId, date, prev, existing, delta))
		}
	}
}

func (s *fakeLedgerStore) snapshot() map[int]map[string]models.DriverLedgerEntry {
	out := map[int]map[string]models.DriverLedgerEntry{}
	for driverId, days := range s.entries {
		out[driverId] = map[string]models.DriverLedgerEntry{}
		for day, e := range days {
			out[driverId][day] = *e
		}
	}
	return out
}

func testDates(start time.Time, n int) []time.Time {
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i)
	}
	return dates
}

func testGrid(driverIds []int, dates []time.Time) map[int]map[string]DayDelta {
	grid := map[int]map[string]DayDelta{}
	for di, id := range driverIds {
		grid[id] = map[string]DayDelta{}
		for i, date := range dates {
			grid[id][dayKey(date)] = DayDelta{
				Cash:     decimal.NewFromInt(int64((di + 1) * (i + 7))),
				Cylinder: decimal.NewFromInt(int64(i % 3)),
			}
		}
	}
	return grid
}

// Re-running an unchanged range must reproduce every row exactly, onboarding
// day included.
func TestRecalc_RerunIsIdempotent(t *testing.T) {
	const biz = "biz-1"
	driverIds := []int{1, 2}
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	dates := testDates(start, 5)
	grid := testGrid(driverIds, dates)

	store := newFakeLedgerStore()

	// driver 1 has onboarding balances stamped on day 2; they must fold in
	// on that day on every run, never twice
	obCash := decimal.NewFromInt(500)
	obCyl := decimal.NewFromInt(12)
	store.upsert(&models.DriverLedgerEntry{
		BusinessId:         biz,
		DriverId:           1,
		EntryDate:          dates[2],
		OnboardingCash:     &obCash,
		OnboardingCylinder: &obCyl,
	})

	store.recompute(biz, driverIds, dates, grid)
	first := store.snapshot()

	store.recompute(biz, driverIds, dates, grid)
	second := store.snapshot()

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("re-run changed rows:\nfirst:  %+v\nsecond: %+v", first, second)
	}

	day2 := store.get(1, dates[2])
	if day2.OnboardingCash == nil || !day2.OnboardingCash.Equal(obCash) {
		t.Fatalf("onboarding cash lost on re-run: %+v", day2)
	}
	prevTotal := store.get(1, dates[1]).CashTotal
	wantDay2 := prevTotal.Add(grid[1][dayKey(dates[2])].Cash).Add(obCash)
	if !day2.CashTotal.Equal(wantDay2) {
		t.Fatalf("day-2 cash total = %s, want %s", day2.CashTotal, wantDay2)
	}
}

// Recomputing a sub-range only rewrites rows inside it: rows before the range
// are untouched, and with unchanged data the recomputed rows come out
// identical too.
func TestRecalc_RangeLocality(t *testing.T) {
	const biz = "biz-1"
	driverIds := []int{1, 2, 3}
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	dates := testDates(start, 11)
	grid := testGrid(driverIds, dates)

	store := newFakeLedgerStore()
	store.recompute(biz, driverIds, dates, grid)
	before := store.snapshot()

	// same data, single-day range
	store.recompute(biz, driverIds, dates[5:6], grid)
	if after := store.snapshot(); !reflect.DeepEqual(before, after) {
		t.Fatalf("recomputing an unchanged day altered rows:\nbefore: %+v\nafter:  %+v", before, after)
	}

	// a corrected delta on day 5 rewrites day 5 from day 4's totals and
	// nothing else
	newDelta := DayDelta{Cash: decimal.NewFromInt(9999), Cylinder: decimal.NewFromInt(5)}
	grid[2][dayKey(dates[5])] = newDelta
	store.recompute(biz, driverIds, dates[5:6], grid)
	after := store.snapshot()

	for _, id := range driverIds {
		for i, date := range dates {
			if i == 5 && id == 2 {
				continue
			}
			if !reflect.DeepEqual(before[id][dayKey(date)], after[id][dayKey(date)]) {
				t.Errorf("driver %d day %s changed outside the recomputed slot", id, dayKey(date))
			}
		}
	}

	day5 := store.get(2, dates[5])
	want := store.get(2, dates[4]).CashTotal.Add(newDelta.Cash)
	if !day5.CashTotal.Equal(want) {
		t.Fatalf("day-5 cash total = %s, want %s", day5.CashTotal, want)
	}
}

// Per-tenant recalculations hold one lock for the whole batch, so concurrent
// callers fold whole ranges one after another and the store converges on the
// serial outcome regardless of scheduling.
func TestRecalc_Property_WholeBatchSerialization(t *testing.T) {
	const biz = "biz-1"
	driverIds := []int{1, 2}
	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	dates := testDates(start, 7)
	grid := testGrid(driverIds, dates)

	serial := newFakeLedgerStore()
	serial.recompute(biz, driverIds, dates, grid)
	want := serial.snapshot()

	for run := 0; run < 50; run++ {
		store := newFakeLedgerStore()
		var tenantLock sync.Mutex
		var wg sync.WaitGroup
		for caller := 0; caller < 3; caller++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// lock spans the full fold, as WithRecalculationLock holds
				// the advisory lock across every chunk
				tenantLock.Lock()
				defer tenantLock.Unlock()
				store.recompute(biz, driverIds, dates, grid)
			}()
		}
		wg.Wait()

		if got := store.snapshot(); !reflect.DeepEqual(want, got) {
			t.Fatalf("run=%d concurrent batches diverged from serial outcome", run)
		}
	}
}

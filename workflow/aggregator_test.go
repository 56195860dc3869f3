package workflow

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
)

func mustSequence(t *testing.T, from, to string, timezone string) utils.DateSequence {
	t.Helper()
	f, err := time.Parse("2006-01-02", from)
	if err != nil {
		t.Fatal(err)
	}
	to2, err := time.Parse("2006-01-02", to)
	if err != nil {
		t.Fatal(err)
	}
	seq, err := utils.NewDateSequence(f, to2, timezone)
	if err != nil {
		t.Fatal(err)
	}
	return seq
}

func TestGroupSales_CashDelta(t *testing.T) {
	seq := mustSequence(t, "2024-03-10", "2024-03-10", "UTC")
	sales := []*models.SaleEvent{
		{
			DriverId:      7,
			SaleTime:      time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
			SaleType:      models.SaleTypePackage,
			Quantity:      dec("2"),
			TotalAmount:   dec("1000"),
			CashDeposited: dec("700"),
			Discount:      dec("50"),
		},
	}

	grid, err := groupSales(sales, "UTC", []int{7}, seq)
	if err != nil {
		t.Fatal(err)
	}

	delta := grid[7]["2024-03-10"]
	// total - deposited - discount
	if !delta.Cash.Equal(dec("250")) {
		t.Fatalf("cash delta: expected 250, got %s", delta.Cash)
	}
	// Package sales move no cylinders.
	if !delta.Cylinder.IsZero() {
		t.Fatalf("cylinder delta: expected 0 for package sale, got %s", delta.Cylinder)
	}
}

func TestGroupSales_CylinderDeltaRefillOnly(t *testing.T) {
	seq := mustSequence(t, "2024-03-10", "2024-03-10", "UTC")
	day := time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC)
	sales := []*models.SaleEvent{
		{DriverId: 7, SaleTime: day, SaleType: models.SaleTypeRefill, Quantity: dec("5"), CylindersDeposited: dec("2")},
		{DriverId: 7, SaleTime: day, SaleType: models.SaleTypePackage, Quantity: dec("4"), CylindersDeposited: dec("9")},
	}

	grid, err := groupSales(sales, "UTC", []int{7}, seq)
	if err != nil {
		t.Fatal(err)
	}

	delta := grid[7]["2024-03-10"]
	// 5 refills out minus 2 returned; the package row's deposit column is ignored.
	if !delta.Cylinder.Equal(dec("3")) {
		t.Fatalf("cylinder delta: expected 3, got %s", delta.Cylinder)
	}
}

func TestGroupSales_ZeroFillsQuietDays(t *testing.T) {
	seq := mustSequence(t, "2024-03-10", "2024-03-12", "UTC")

	grid, err := groupSales(nil, "UTC", []int{1, 2}, seq)
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []int{1, 2} {
		days := grid[id]
		if len(days) != 3 {
			t.Fatalf("driver %d: expected 3 zero-filled days, got %d", id, len(days))
		}
		for key, delta := range days {
			if !delta.Cash.IsZero() || !delta.Cylinder.IsZero() {
				t.Fatalf("driver %d day %s: expected zero delta, got %+v", id, key, delta)
			}
		}
	}
}

func TestGroupSales_DayAttributionUsesBusinessTimezone(t *testing.T) {
	seq := mustSequence(t, "2024-03-10", "2024-03-11", "Asia/Yangon")
	// 2024-03-10 19:00 UTC is already 2024-03-11 01:30 in Yangon (+06:30).
	sales := []*models.SaleEvent{
		{DriverId: 3, SaleTime: time.Date(2024, 3, 10, 19, 0, 0, 0, time.UTC), SaleType: models.SaleTypePackage, TotalAmount: dec("100")},
	}

	grid, err := groupSales(sales, "Asia/Yangon", []int{3}, seq)
	if err != nil {
		t.Fatal(err)
	}

	if !grid[3]["2024-03-10"].Cash.IsZero() {
		t.Fatalf("sale bucketed on the UTC day instead of the business-timezone day")
	}
	if !grid[3]["2024-03-11"].Cash.Equal(dec("100")) {
		t.Fatalf("expected 100 on 2024-03-11, got %s", grid[3]["2024-03-11"].Cash)
	}
}

func TestGroupSales_IgnoresUnrequestedDriversAndDays(t *testing.T) {
	seq := mustSequence(t, "2024-03-10", "2024-03-10", "UTC")
	sales := []*models.SaleEvent{
		// Driver not in scope.
		{DriverId: 99, SaleTime: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), SaleType: models.SaleTypePackage, TotalAmount: dec("500")},
		// In scope, but folds outside the requested range.
		{DriverId: 7, SaleTime: time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC), SaleType: models.SaleTypePackage, TotalAmount: dec("500")},
	}

	grid, err := groupSales(sales, "UTC", []int{7}, seq)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := grid[99]; ok {
		t.Fatalf("driver 99 should not appear in the grid")
	}
	if !grid[7]["2024-03-10"].Cash.IsZero() {
		t.Fatalf("out-of-range sale leaked into the grid: %s", grid[7]["2024-03-10"].Cash)
	}
}

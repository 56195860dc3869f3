package workflow

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeEntry_CarryForward(t *testing.T) {
	prev := RunningTotals{Cash: dec("1200"), Cylinder: dec("8")}
	delta := DayDelta{Cash: dec("250"), Cylinder: dec("3")}

	got := ComputeEntry(prev, delta, nil)

	if !got.Cash.Equal(dec("1450")) {
		t.Fatalf("cash total: expected 1450, got %s", got.Cash)
	}
	if !got.Cylinder.Equal(dec("11")) {
		t.Fatalf("cylinder total: expected 11, got %s", got.Cylinder)
	}
}

func TestComputeEntry_OnboardingAppliedOnItsDayOnly(t *testing.T) {
	// Driver onboards with 5000 cash and no sales activity. The onboarding
	// amount lands on the onboarding day and then rides the carry-forward;
	// it must never be added twice.
	onboarding := &OnboardingValues{Cash: dec("5000")}

	day0 := ComputeEntry(RunningTotals{}, DayDelta{}, onboarding)
	if !day0.Cash.Equal(dec("5000")) {
		t.Fatalf("day0 cash: expected 5000, got %s", day0.Cash)
	}

	day1 := ComputeEntry(day0, DayDelta{}, nil)
	day2 := ComputeEntry(day1, DayDelta{}, nil)
	if !day2.Cash.Equal(dec("5000")) {
		t.Fatalf("day2 cash: expected 5000 (onboarding applied once), got %s", day2.Cash)
	}
	if !day2.Cylinder.IsZero() {
		t.Fatalf("day2 cylinder: expected 0, got %s", day2.Cylinder)
	}
}

func TestComputeEntry_NegativeTotalsAllowed(t *testing.T) {
	// Over-deposits drive the position negative; the ledger records it as-is.
	prev := RunningTotals{Cash: dec("100")}
	delta := DayDelta{Cash: dec("-350")}

	got := ComputeEntry(prev, delta, nil)
	if !got.Cash.Equal(dec("-250")) {
		t.Fatalf("cash total: expected -250, got %s", got.Cash)
	}
}

func TestComputeEntry_RecomputeIsIdempotent(t *testing.T) {
	prev := RunningTotals{Cash: dec("990.25"), Cylinder: dec("4")}
	delta := DayDelta{Cash: dec("10.75"), Cylinder: dec("1")}
	onboarding := &OnboardingValues{Cash: dec("500"), Cylinder: dec("2")}

	first := ComputeEntry(prev, delta, onboarding)
	second := ComputeEntry(prev, delta, onboarding)

	if !first.Cash.Equal(second.Cash) || !first.Cylinder.Equal(second.Cylinder) {
		t.Fatalf("recompute diverged: first=%+v second=%+v", first, second)
	}
	if !first.Cash.Equal(dec("1501")) {
		t.Fatalf("cash total: expected 1501, got %s", first.Cash)
	}
	if !first.Cylinder.Equal(dec("7")) {
		t.Fatalf("cylinder total: expected 7, got %s", first.Cylinder)
	}
}

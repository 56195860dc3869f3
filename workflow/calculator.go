package workflow

import (
	"github.com/shopspring/decimal"
)

// RunningTotals is a driver's cumulative receivable position as of a date.
type RunningTotals struct {
	Cash     decimal.Decimal
	Cylinder decimal.Decimal
}

// OnboardingValues are the initial balances recorded when a driver enters the
// system. They contribute to exactly one day's totals.
type OnboardingValues struct {
	Cash     decimal.Decimal
	Cylinder decimal.Decimal
}

// ComputeEntry folds one day's delta (and the onboarding values, when that day
// is the onboarding date) onto the previous running totals. Pure; the caller
// supplies prev = latest stored entry strictly before the target date, or
// zero totals when none exists.
func ComputeEntry(prev RunningTotals, delta DayDelta, onboarding *OnboardingValues) RunningTotals {
	next := RunningTotals{
		Cash:     prev.Cash.Add(delta.Cash),
		Cylinder: prev.Cylinder.Add(delta.Cylinder),
	}
	if onboarding != nil {
		next.Cash = next.Cash.Add(onboarding.Cash)
		next.Cylinder = next.Cylinder.Add(onboarding.Cylinder)
	}
	return next
}

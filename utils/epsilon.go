package utils

import "github.com/shopspring/decimal"

// CurrencyEpsilon is the tolerance for money/quantity comparisons.
// All receivable comparisons go through this file; never compare
// decimals for exact equality elsewhere.
var CurrencyEpsilon = decimal.NewFromFloat(0.01)

// WithinEpsilon reports whether a and b differ by at most CurrencyEpsilon.
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(CurrencyEpsilon)
}

// CompareWithEpsilon returns 0 when the values are equal within
// CurrencyEpsilon, +1 when a > b and -1 when a < b.
func CompareWithEpsilon(a, b decimal.Decimal) int {
	diff := a.Sub(b)
	if diff.Abs().LessThanOrEqual(CurrencyEpsilon) {
		return 0
	}
	if diff.IsPositive() {
		return 1
	}
	return -1
}

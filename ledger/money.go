package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// MONEY HELPERS
// =============================================================================

// Tolerance is the rounding slack allowed between a payment's used amount
// and the sum of its allocations.
var Tolerance = decimal.NewFromInt(1)

// RoundUnit rounds to the nearest whole currency unit, half away from zero.
func RoundUnit(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}

// IsZeroUnit reports whether d rounds to zero whole units.
func IsZeroUnit(d decimal.Decimal) bool {
	return RoundUnit(d).IsZero()
}

// Sum adds a list of amounts.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Ptr returns a pointer to a copy of d, for optional fields.
func Ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

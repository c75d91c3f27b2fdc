package shared

import "github.com/shopspring/decimal"

// Ledger amounts are int64 minor units end to end so the balance invariant
// is exact integer equality. Fractional math (waste and markup percentages,
// moving-average cost) runs in decimal and is rounded here at the boundary.

// MinorUnits converts a decimal currency amount to int64 minor units using
// banker's rounding.
func MinorUnits(d decimal.Decimal) int64 {
	return d.RoundBank(0).IntPart()
}

// DecimalFromMinor converts int64 minor units back into a decimal amount.
func DecimalFromMinor(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// MulMinor multiplies a minor-unit amount by a decimal factor and rounds
// back to minor units, e.g. unit cost x quantity.
func MulMinor(amount int64, factor decimal.Decimal) int64 {
	return MinorUnits(decimal.NewFromInt(amount).Mul(factor))
}

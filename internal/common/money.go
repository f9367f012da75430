package common

import "github.com/shopspring/decimal"

// MinorUnits converts a decimal currency amount into integer minor units
// (cents). Conversion rounds half away from zero; truncation would
// systematically underbill on fractional cents.
func MinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// ValidAmount reports whether the amount is a positive, chargeable value.
func ValidAmount(amount float64) bool {
	return MinorUnits(amount) > 0
}

package money

import "github.com/shopspring/decimal"

const Currency = "ZAR"

var hundred = decimal.NewFromInt(100)

// ToCents converts a rand amount to minor units, rounding half away from zero.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func Format(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

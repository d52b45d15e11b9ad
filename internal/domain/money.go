package domain

import "github.com/shopspring/decimal"

// MoneyScale is the number of decimal places money leaves the service with.
const MoneyScale = 2

// RoundMoney rounds an amount for output. Intermediate arithmetic stays unrounded.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyScale)
}

// FormatMoney renders an amount with exactly two decimal places.
func FormatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(MoneyScale)
}

// ClampMoney bounds amount to [lo, hi].
func ClampMoney(amount, lo, hi decimal.Decimal) decimal.Decimal {
	if amount.LessThan(lo) {
		return lo
	}
	if amount.GreaterThan(hi) {
		return hi
	}
	return amount
}

// ParseMoney parses a stored decimal string, treating blank as zero.
func ParseMoney(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

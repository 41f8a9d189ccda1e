package domain

import "github.com/shopspring/decimal"

const SettlementCurrency = "EUR"

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half away from zero to two decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ValidAmount reports whether d is a positive amount with at most two decimals.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(2))
}

// PercentOf returns round(amount * pct / 100, 2).
func PercentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(pct).Div(hundred))
}

func MinMoney(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

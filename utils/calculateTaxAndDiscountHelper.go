package utils

import (
	"github.com/shopspring/decimal"
)

var decimalOneHundred = decimal.NewFromInt(100)

const (
	MoneyPlaces   = 2
	StoragePlaces = 4
)

// RoundMoney rounds half away from zero to 2 places, which is half-up for the non-negative totals it is used on.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

func RoundStorage(d decimal.Decimal) decimal.Decimal {
	return d.Round(StoragePlaces)
}

// CalculateDiscountAmount returns amount * percent / 100, unrounded.
func CalculateDiscountAmount(amount decimal.Decimal, percent decimal.Decimal) decimal.Decimal {
	if !percent.GreaterThan(decimal.Zero) {
		return decimal.Zero
	}
	return amount.Mul(percent).Div(decimalOneHundred)
}

// CalculateTaxAmount is tax-exclusive: taxable * rate / 100, unrounded.
func CalculateTaxAmount(taxable decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	if !rate.GreaterThan(decimal.Zero) {
		return decimal.Zero
	}
	return taxable.Mul(rate).Div(decimalOneHundred)
}

func IsPercentage(d decimal.Decimal) bool {
	return !d.IsNegative() && !d.GreaterThan(decimalOneHundred)
}

func SumDecimals(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundMoney_HalfUp(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"510.715", "510.72"},
		{"510.7149", "510.71"},
		{"0.005", "0.01"},
		{"456", "456"},
	}
	for _, tc := range cases {
		got := RoundMoney(decimal.RequireFromString(tc.in))
		if !got.Equal(decimal.RequireFromString(tc.expected)) {
			t.Fatalf("RoundMoney(%s) expected %s, got %s", tc.in, tc.expected, got.String())
		}
	}
}

func TestCalculateDiscountAndTax(t *testing.T) {
	gross := decimal.NewFromInt(480)
	discount := CalculateDiscountAmount(gross, decimal.NewFromInt(5))
	if !discount.Equal(decimal.NewFromInt(24)) {
		t.Fatalf("expected discount 24, got %s", discount)
	}
	tax := CalculateTaxAmount(gross.Sub(discount), decimal.NewFromInt(12))
	if !tax.Equal(decimal.RequireFromString("54.72")) {
		t.Fatalf("expected tax 54.72, got %s", tax)
	}
	if !CalculateTaxAmount(gross, decimal.Zero).IsZero() {
		t.Fatalf("zero rate should yield zero tax")
	}
}

func TestIsPercentage(t *testing.T) {
	if !IsPercentage(decimal.Zero) || !IsPercentage(decimal.NewFromInt(100)) {
		t.Fatalf("bounds must be inclusive")
	}
	if IsPercentage(decimal.NewFromInt(-1)) || IsPercentage(decimal.RequireFromString("100.01")) {
		t.Fatalf("out of range accepted")
	}
}

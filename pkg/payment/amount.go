package payment

import (
	"fmt"
	"strings"

	"weddingpay/internal/models"

	"github.com/shopspring/decimal"
)

// AmountBounds are the provider-defined limits in minor units, inclusive.
type AmountBounds struct {
	MinMinor int64
	MaxMinor int64
}

// DefaultAmountBounds matches the wallet gateway's published limits for PHP.
var DefaultAmountBounds = AmountBounds{MinMinor: 100, MaxMinor: 100_000_000}

// minorUnitExponent lists the currencies the gateway settles in.
var minorUnitExponent = map[string]int32{
	"PHP": 2,
	"USD": 2,
	"EUR": 2,
	"SGD": 2,
	"MYR": 2,
	"IDR": 2,
	"THB": 2,
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
}

// MinorUnits returns the number of decimal places used by currency.
func MinorUnits(currency string) (int32, bool) {
	exp, ok := minorUnitExponent[strings.ToUpper(currency)]
	return exp, ok
}

// NormalizeAmount converts a decimal amount into integer minor units and checks it
// against bounds. Fractions below the minor unit are rounded half away from zero.
func NormalizeAmount(amount decimal.Decimal, currency string, bounds AmountBounds) (int64, error) {
	exp, ok := MinorUnits(currency)
	if !ok {
		return 0, &models.ValidationError{Field: "currency", Reason: fmt.Sprintf("unsupported currency %q", currency)}
	}

	minor := amount.Shift(exp).Round(0)
	if minor.LessThan(decimal.NewFromInt(bounds.MinMinor)) {
		return 0, &models.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("%s %s is below the minimum of %d minor units", amount.String(), currency, bounds.MinMinor),
		}
	}
	if minor.GreaterThan(decimal.NewFromInt(bounds.MaxMinor)) {
		return 0, &models.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("%s %s is above the maximum of %d minor units", amount.String(), currency, bounds.MaxMinor),
		}
	}
	return minor.IntPart(), nil
}

// ParseAndNormalize is NormalizeAmount for amounts arriving as strings on the API.
func ParseAndNormalize(raw, currency string, bounds AmountBounds) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, &models.ValidationError{Field: "amount", Reason: fmt.Sprintf("%q is not a decimal amount", raw)}
	}
	return NormalizeAmount(amount, currency, bounds)
}

// FormatMinor renders minor units back as a decimal string, e.g. 150000 PHP -> "1500.00".
func FormatMinor(minor int64, currency string) string {
	exp, ok := MinorUnits(currency)
	if !ok {
		exp = 2
	}
	return decimal.New(minor, -exp).StringFixed(exp)
}

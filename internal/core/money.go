// Package core holds the engine's domain model: payment methods,
// transactions, budgets, exchange rates and the validation rules that are
// enforced before any write reaches storage.
package core

import (
	"strings"
	"unicode"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// AmountPlaces is the scale every stored amount is rounded to.
const AmountPlaces = 2

// RatePlaces is the scale used for derived exchange rates (e.g. inverses).
const RatePlaces = 6

// RoundAmount rounds a monetary amount half away from zero to two places.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountPlaces)
}

// ParseAmount parses a strictly positive decimal amount from a string.
// Both dot and comma decimal separators are accepted; the result is
// rounded to two places.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return decimal.Zero, Invalid("amount", "empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, Invalidf("amount", "not a decimal number: %q", s)
	}
	d = RoundAmount(d)
	if !d.IsPositive() {
		return decimal.Zero, Invalid("amount", "must be positive")
	}
	return d, nil
}

// InverseRate returns 1/rate rounded to six places.
func InverseRate(rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).DivRound(rate, RatePlaces)
}

// Convert applies rate to a native amount and rounds to two places.
func Convert(native, rate decimal.Decimal) decimal.Decimal {
	return RoundAmount(native.Mul(rate))
}

// NormalizeCurrency upper-cases and validates an ISO-4217 currency code.
// The code must be exactly three letters and known to the ISO table.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", Invalidf("currency", "%q is not a 3-letter ISO-4217 code", code)
	}
	for _, r := range code {
		if !unicode.IsUpper(r) || r > 'Z' {
			return "", Invalidf("currency", "%q is not a 3-letter ISO-4217 code", code)
		}
	}
	if money.GetCurrency(code) == nil {
		return "", Invalidf("currency", "unknown ISO-4217 code %q", code)
	}
	return code, nil
}

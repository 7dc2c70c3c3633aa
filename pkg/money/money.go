// Package money converts between the integer minor units stored in the ledger
// and the decimal major units payment gateways exchange on the wire.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// minorExponent is the number of decimal places of each currency's minor unit.
var minorExponent = map[string]int32{
	"NGN": 2,
	"USD": 2,
	"GBP": 2,
	"EUR": 2,
	"KES": 2,
	"GHS": 2,
	"JPY": 0,
}

func exponent(currency string) int32 {
	if exp, ok := minorExponent[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return exp
	}
	return 2
}

// ToMajor returns minor units as a decimal in major units, e.g. 150050 kobo -> 1500.50.
func ToMajor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -exponent(currency))
}

// FormatMajor renders minor units as a fixed-point major-unit string.
func FormatMajor(minor int64, currency string) string {
	return ToMajor(minor, currency).StringFixed(exponent(currency))
}

// FromMajor converts a major-unit decimal to minor units, rounding half away from zero.
func FromMajor(major decimal.Decimal, currency string) int64 {
	return major.Shift(exponent(currency)).Round(0).IntPart()
}

// ParseMajor parses a gateway amount such as "1500.5" into minor units.
func ParseMajor(raw string, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return FromMajor(d, currency), nil
}

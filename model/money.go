package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// currencyExponents holds minor-unit exponents that differ from the default of 2.
var currencyExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"XOF": 0,
	"XAF": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
	"TND": 3,
}

// CurrencyExponent returns the number of minor-unit digits for a currency code.
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// ParseAmount converts a display amount such as "9775.00" to minor units.
// Amounts with more precision than the currency allows are rejected rather than rounded.
func ParseAmount(value, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(value), ",", ""))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	exp := CurrencyExponent(currency)
	minor := d.Shift(exp)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimal places for %s", value, exp, currency)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %q out of range", value)
	}
	return minor.IntPart(), nil
}

// FormatAmount renders minor units as a fixed-point display string.
func FormatAmount(minor int64, currency string) string {
	exp := CurrencyExponent(currency)
	return decimal.New(minor, -exp).StringFixed(exp)
}

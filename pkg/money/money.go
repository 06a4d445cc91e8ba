// Package money is the only place amounts change representation. Invoices and
// plans hold decimal major units, providers speak either integer minor units
// or decimal strings, and every hop between them goes through a named
// conversion here.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrCurrencyRequired = errors.New("currency code is required")
	ErrNegativeAmount   = errors.New("amount must not be negative")
)

// exponents lists currencies whose minor unit is not 1/100.
var exponents = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0,
	"KRW": 0, "PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0,
	"XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// Amount is a decimal value in major units paired with its ISO-4217 code.
type Amount struct {
	Value    decimal.Decimal
	Currency string
}

// New normalizes the currency code and rejects negative values.
func New(value decimal.Decimal, currency string) (Amount, error) {
	code := NormalizeCurrency(currency)
	if code == "" {
		return Amount{}, ErrCurrencyRequired
	}
	if value.IsNegative() {
		return Amount{}, ErrNegativeAmount
	}
	return Amount{Value: value, Currency: code}, nil
}

// NormalizeCurrency upper-cases and trims an ISO-4217 code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Exponent returns the number of minor-unit digits for the currency.
func Exponent(currency string) int32 {
	if exp, ok := exponents[NormalizeCurrency(currency)]; ok {
		return exp
	}
	return 2
}

// Equal compares value and currency.
func (a Amount) Equal(other Amount) bool {
	return NormalizeCurrency(a.Currency) == NormalizeCurrency(other.Currency) && a.Value.Equal(other.Value)
}

func (a Amount) String() string {
	return FormatDecimal(a) + " " + NormalizeCurrency(a.Currency)
}

// ToMinorUnits converts to the integer minor-unit form used by card processors.
// Amounts with more precision than the currency allows are rejected rather than rounded.
func ToMinorUnits(a Amount) (int64, error) {
	if NormalizeCurrency(a.Currency) == "" {
		return 0, ErrCurrencyRequired
	}
	if a.Value.IsNegative() {
		return 0, ErrNegativeAmount
	}
	exp := Exponent(a.Currency)
	scaled := a.Value.Shift(exp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places for %s", a.Value.String(), exp, NormalizeCurrency(a.Currency))
	}
	if !scaled.IsInteger() || scaled.GreaterThan(decimal.NewFromInt(1<<62)) {
		return 0, fmt.Errorf("amount %s out of range", a.Value.String())
	}
	return scaled.IntPart(), nil
}

// FromMinorUnits converts an integer minor-unit amount back to major units.
func FromMinorUnits(minor int64, currency string) Amount {
	code := NormalizeCurrency(currency)
	return Amount{Value: decimal.New(minor, -Exponent(code)), Currency: code}
}

// FormatDecimal renders the amount as a fixed-precision decimal string ("10.00").
func FormatDecimal(a Amount) string {
	return a.Value.StringFixed(Exponent(a.Currency))
}

// ParseDecimal parses a provider decimal string ("10.00") into an Amount.
func ParseDecimal(value, currency string) (Amount, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return New(parsed, currency)
}

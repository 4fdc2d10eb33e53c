package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// minorUnits holds ISO-4217 exponents for currencies that differ from 2.
var minorUnits = map[string]int32{
	"BHD": 3,
	"IQD": 0,
	"JOD": 3,
	"JPY": 0,
	"KRW": 0,
	"KWD": 3,
	"LYD": 3,
	"OMR": 3,
	"TND": 3,
	"VND": 0,
}

// MinorUnits returns the number of decimal places used by currency.
func MinorUnits(currency string) int32 {
	if exp, ok := minorUnits[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// RoundToMinor rounds amount half-up to the currency's minor unit.
func RoundToMinor(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(MinorUnits(currency))
}

// HasValidPrecision reports whether amount carries no more decimal places
// than the currency allows.
func HasValidPrecision(amount decimal.Decimal, currency string) bool {
	return amount.Equal(amount.Truncate(MinorUnits(currency)))
}

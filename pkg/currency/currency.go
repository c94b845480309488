// Package currency exposes ISO currency subunit precision used when
// converting decimal amounts to stored minor units.
package currency

import "strings"

// subunits maps currency codes to the number of minor units per major unit.
// Unlisted currencies default to 100.
var subunits = map[string]int64{
	"BHD": 1000,
	"CLP": 1,
	"ISK": 1,
	"JOD": 1000,
	"JPY": 1,
	"KRW": 1,
	"KWD": 1000,
	"OMR": 1000,
	"TND": 1000,
	"VND": 1,
}

// SubunitToUnit returns how many minor units make up one unit of the currency.
func SubunitToUnit(code string) int64 {
	if v, ok := subunits[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return v
	}
	return 100
}

// Exponent returns the number of decimal digits of the currency's minor unit.
func Exponent(code string) int32 {
	switch SubunitToUnit(code) {
	case 1:
		return 0
	case 1000:
		return 3
	default:
		return 2
	}
}

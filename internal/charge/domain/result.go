package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ApplyResult is the monetary outcome of one charge model evaluation.
// Amount is expressed in currency units; the fee materializer converts it
// to minor units with round-half-up.
type ApplyResult struct {
	Units decimal.Decimal
	// Amount is the total for the evaluated units.
	Amount decimal.Decimal
	// UnitAmount is the precise per-unit rate (total/units), kept at full
	// precision to avoid cumulative rounding drift across fee lines.
	UnitAmount decimal.Decimal
	Count      int64
}

var (
	ErrUnsupportedModel   = errors.New("unsupported_charge_model")
	ErrInvalidProperties  = errors.New("invalid_charge_properties")
	ErrInvalidPackageSize = errors.New("invalid_package_size")
	ErrInvalidRanges      = errors.New("invalid_ranges")
)

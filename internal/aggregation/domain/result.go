package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Result is the outcome of one aggregation evaluation.
type Result struct {
	// Aggregation is the aggregated quantity over the window.
	Aggregation decimal.Decimal
	// Count is the number of events that contributed.
	Count int64

	// PayInAdvanceAggregation is the share attributable to the triggering
	// event in incremental mode (fees bill the delta, not the total).
	PayInAdvanceAggregation decimal.Decimal

	// Recurring pay-in-advance tracking, nil when the metric does not
	// track a current/max distinction.
	CurrentAggregation          decimal.NullDecimal
	CurrentAmount               decimal.NullDecimal
	MaxAggregation              decimal.NullDecimal
	MaxAggregationWithProration decimal.NullDecimal

	// PreciseTotalAmount carries the event-supplied amount for dynamic
	// (externally-priced) charge models.
	PreciseTotalAmount decimal.Decimal

	GroupedBy map[string]string
}

// Boundaries delimit the billing window an aggregation runs over.
type Boundaries struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	// ChargesDuration is the full period length used for proration.
	ChargesDuration time.Duration
	Timestamp       time.Time
}

var (
	ErrUnsupportedAggregation = errors.New("unsupported_aggregation_type")
	ErrMissingFieldValue      = errors.New("missing_field_value")
	ErrInvalidFieldValue      = errors.New("invalid_field_value")
)

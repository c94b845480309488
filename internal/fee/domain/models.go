// Package domain contains the fee model and the pay-in-advance
// materialization contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type FeeStatus string

const (
	FeeStatusBuilding    FeeStatus = "building"
	FeeStatusAggregating FeeStatus = "aggregating"
	FeeStatusTaxing      FeeStatus = "taxing"
	FeeStatusPersisted   FeeStatus = "persisted"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Fee is one billed line. For pay-in-advance charges exactly one fee
// exists per (event transaction, charge, charge filter); the unique index
// enforces it under concurrent delivery.
type Fee struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID  `gorm:"not null;index" json:"organization_id"`
	SubscriptionID snowflake.ID  `gorm:"not null;index" json:"subscription_id"`
	ChargeID       snowflake.ID  `gorm:"not null;uniqueIndex:ux_fees_advance_event,priority:2" json:"charge_id"`
	ChargeFilterID *snowflake.ID `gorm:"uniqueIndex:ux_fees_advance_event,priority:3" json:"charge_filter_id,omitempty"`

	AmountCents      int64  `gorm:"not null" json:"amount_cents"`
	AmountCurrency   string `gorm:"type:text;not null" json:"amount_currency"`
	TaxesAmountCents int64  `gorm:"not null;default:0" json:"taxes_amount_cents"`
	// TaxesRate is the applied percentage.
	TaxesRate float64 `gorm:"not null;default:0" json:"taxes_rate"`

	Units decimal.Decimal `gorm:"type:numeric;not null" json:"units"`
	// PreciseUnitAmount keeps the per-unit rate at full precision; the
	// cents figure is derived from it.
	PreciseUnitAmount decimal.Decimal `gorm:"type:numeric;not null" json:"precise_unit_amount"`
	UnitAmountCents   int64           `gorm:"not null;default:0" json:"unit_amount_cents"`
	EventsCount       int64           `gorm:"not null;default:0" json:"events_count"`

	PayInAdvance  bool          `gorm:"not null;default:false" json:"pay_in_advance"`
	Invoiceable   bool          `gorm:"not null;default:true" json:"invoiceable"`
	PaymentStatus PaymentStatus `gorm:"type:text;not null;default:'pending'" json:"payment_status"`

	PayInAdvanceEventID            *snowflake.ID `gorm:"index" json:"pay_in_advance_event_id,omitempty"`
	PayInAdvanceEventTransactionID string        `gorm:"type:text;uniqueIndex:ux_fees_advance_event,priority:1" json:"pay_in_advance_event_transaction_id,omitempty"`

	PeriodStart time.Time         `gorm:"not null" json:"period_start"`
	PeriodEnd   time.Time         `gorm:"not null" json:"period_end"`
	GroupedBy   datatypes.JSONMap `gorm:"type:jsonb" json:"grouped_by,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Fee) TableName() string { return "fees" }

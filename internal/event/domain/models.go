// Package domain contains the usage event model and ingestion contract.
package domain

import (
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Event is one immutable usage fact. (org, external_subscription_id,
// transaction_id) is unique; duplicate delivery is rejected, never
// re-aggregated.
type Event struct {
	ID                     snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID                  snowflake.ID      `gorm:"not null;uniqueIndex:ux_events_transaction,priority:1" json:"organization_id"`
	ExternalSubscriptionID string            `gorm:"type:text;uniqueIndex:ux_events_transaction,priority:2;index:ix_events_code" json:"external_subscription_id,omitempty"`
	ExternalCustomerID     string            `gorm:"type:text" json:"external_customer_id,omitempty"`
	SubscriptionID         *snowflake.ID     `gorm:"index" json:"subscription_id,omitempty"`
	Code                   string            `gorm:"type:text;not null;index:ix_events_code" json:"code"`
	TransactionID          string            `gorm:"type:text;not null;uniqueIndex:ux_events_transaction,priority:3" json:"transaction_id"`
	Timestamp              time.Time         `gorm:"not null;index" json:"timestamp"`
	Properties             datatypes.JSONMap `gorm:"type:jsonb" json:"properties,omitempty"`
	// PreciseTotalAmountCents is the event-supplied price for dynamic
	// charge models, in minor units.
	PreciseTotalAmountCents decimal.NullDecimal `gorm:"type:numeric" json:"precise_total_amount_cents,omitempty"`
	CreatedAt               time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Event) TableName() string { return "events" }

// PropertyString returns the named property rendered as a string.
func (e Event) PropertyString(key string) (string, bool) {
	raw, ok := e.Properties[key]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// PropertyDecimal parses the named property as a decimal value.
func (e Event) PropertyDecimal(key string) (decimal.Decimal, bool, error) {
	raw, ok := e.Properties[key]
	if !ok || raw == nil {
		return decimal.Zero, false, nil
	}
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), true, nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, true, err
		}
		return d, true, nil
	case int64:
		return decimal.NewFromInt(v), true, nil
	default:
		return decimal.Zero, true, ErrMalformedProperties
	}
}

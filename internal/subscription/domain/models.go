// Package domain contains subscription models and the resolver contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusPending    SubscriptionStatus = "pending"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTerminated SubscriptionStatus = "terminated"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
)

// Subscription captures a customer's billing agreement. Upgrades and
// downgrades chain through PreviousSubscriptionID.
type Subscription struct {
	ID                     snowflake.ID       `gorm:"primaryKey" json:"id"`
	OrgID                  snowflake.ID       `gorm:"not null;index" json:"organization_id"`
	CustomerID             snowflake.ID       `gorm:"not null;index" json:"customer_id"`
	PlanID                 snowflake.ID       `gorm:"not null" json:"plan_id"`
	ExternalID             string             `gorm:"type:text;not null;index" json:"external_id"`
	Status                 SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	StartedAt              time.Time          `gorm:"not null" json:"started_at"`
	TerminatedAt           *time.Time         `gorm:"" json:"terminated_at,omitempty"`
	PreviousSubscriptionID *snowflake.ID      `gorm:"index" json:"previous_subscription_id,omitempty"`
	CreatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Active reports whether the subscription has started and not terminated at t.
func (s Subscription) Active(t time.Time) bool {
	if s.StartedAt.After(t) {
		return false
	}
	return s.TerminatedAt == nil || !s.TerminatedAt.Before(t)
}

package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Resolver attaches events to the subscription active at their timestamp.
type Resolver interface {
	// ResolveAt returns the zero-or-one subscription of the org whose
	// validity interval covers ts for the external id. Overlapping
	// candidates order by terminated_at descending (open-ended first),
	// then started_at descending.
	ResolveAt(ctx context.Context, orgID snowflake.ID, externalID string, ts time.Time) (*Subscription, error)

	// ActiveForCustomer lists the customer's subscriptions active at ts,
	// used to backfill events missing an external subscription id.
	ActiveForCustomer(ctx context.Context, orgID snowflake.ID, externalCustomerID string, ts time.Time) ([]Subscription, error)
}

var (
	ErrInvalidExternalID    = errors.New("invalid_external_id")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)

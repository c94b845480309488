package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/tally/internal/event/domain"
	metricdomain "github.com/smallbiznis/tally/internal/metric/domain"
	"gorm.io/gorm"
)

// DeferredInput describes a full-window recomputation (in-arrears billing).
type DeferredInput struct {
	OrgID                  snowflake.ID
	ExternalSubscriptionID string
	Metric                 metricdomain.Metric
	// FilterValues restricts matching events per dimension key.
	FilterValues map[string][]string
	// GroupedBy selects one bucket by exact property values.
	GroupedBy  map[string]string
	Boundaries Boundaries
}

// IncrementalInput folds one event into the latest cached snapshot
// (pay-in-advance billing).
type IncrementalInput struct {
	OrgID          snowflake.ID
	Event          eventdomain.Event
	Metric         metricdomain.Metric
	ChargeID       snowflake.ID
	ChargeFilterID *snowflake.ID
	FilterValues   map[string][]string
	GroupedByKeys  []string
	Prorated       bool
	Boundaries     Boundaries
}

type Engine interface {
	Deferred(ctx context.Context, db *gorm.DB, in DeferredInput) (*Result, error)
	// Incremental must run inside the caller's transaction: the latest
	// snapshot row is read under a row lock so concurrent events for the
	// same bucket serialize.
	Incremental(ctx context.Context, tx *gorm.DB, in IncrementalInput) (*Result, error)
	// PreAggregate folds a non-recurring sum event into its hourly
	// accumulator under a row lock.
	PreAggregate(ctx context.Context, event eventdomain.Event, metric metricdomain.Metric) error
}

// Repository persists running-aggregate snapshots.
type Repository interface {
	// FindLatestLocked returns the most recent snapshot for the bucket,
	// locked FOR UPDATE for the duration of the transaction.
	FindLatestLocked(ctx context.Context, tx *gorm.DB, key BucketKey) (*CachedAggregation, error)
	Create(ctx context.Context, tx *gorm.DB, snapshot *CachedAggregation) error
}

// BucketKey identifies one running-aggregate bucket.
type BucketKey struct {
	OrgID                  snowflake.ID
	ExternalSubscriptionID string
	ChargeID               snowflake.ID
	ChargeFilterID         *snowflake.ID
	GroupedBy              map[string]string
	Boundaries             Boundaries
}

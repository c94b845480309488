// Package domain contains the running-aggregate models shared by the
// deferred and incremental aggregation paths.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CachedAggregation snapshots the aggregation state used to build one
// pay-in-advance fee. Rows are append-only: a new snapshot supersedes the
// previous one for the same bucket, the latest row is the running aggregate.
type CachedAggregation struct {
	ID                          snowflake.ID        `gorm:"primaryKey"`
	OrgID                       snowflake.ID        `gorm:"not null;index"`
	EventID                     snowflake.ID        `gorm:"not null"`
	EventTransactionID          string              `gorm:"type:text;not null"`
	ExternalSubscriptionID      string              `gorm:"type:text;not null;index:ix_cached_aggregations_bucket,priority:1"`
	ChargeID                    snowflake.ID        `gorm:"not null;index:ix_cached_aggregations_bucket,priority:2"`
	ChargeFilterID              *snowflake.ID       `gorm:"index:ix_cached_aggregations_bucket,priority:3"`
	GroupedByHash               string              `gorm:"type:text;not null;default:'';index:ix_cached_aggregations_bucket,priority:4"`
	Timestamp                   time.Time           `gorm:"not null;index:ix_cached_aggregations_bucket,priority:5"`
	CurrentAggregation          decimal.NullDecimal `gorm:"type:numeric"`
	CurrentAmount               decimal.NullDecimal `gorm:"type:numeric"`
	MaxAggregation              decimal.NullDecimal `gorm:"type:numeric"`
	MaxAggregationWithProration decimal.NullDecimal `gorm:"type:numeric"`
	EventsCount                 int64               `gorm:"not null;default:0"`
	GroupedBy                   datatypes.JSONMap   `gorm:"type:jsonb"`
	CreatedAt                   time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CachedAggregation) TableName() string { return "cached_aggregations" }

// GroupedByHash canonicalizes one grouping bucket so snapshot lookups can
// match it in SQL. An empty grouping hashes to the empty string, which is
// also the column default.
func GroupedByHash(values map[string]string) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s|", k, values[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// PreAggregation is the mutable hourly accumulator for non-recurring sum
// metrics. It is the only row mutated in place, always under a row lock.
type PreAggregation struct {
	ID                     snowflake.ID      `gorm:"primaryKey"`
	OrgID                  snowflake.ID      `gorm:"not null;uniqueIndex:ux_pre_aggregations_bucket,priority:1"`
	ExternalSubscriptionID string            `gorm:"type:text;not null;uniqueIndex:ux_pre_aggregations_bucket,priority:2"`
	Code                   string            `gorm:"type:text;not null;uniqueIndex:ux_pre_aggregations_bucket,priority:3"`
	FiltersHash            string            `gorm:"type:text;not null;uniqueIndex:ux_pre_aggregations_bucket,priority:4"`
	BucketStart            time.Time         `gorm:"not null;uniqueIndex:ux_pre_aggregations_bucket,priority:5"`
	Filters                datatypes.JSONMap `gorm:"type:jsonb"`
	AggregatedValue        decimal.Decimal   `gorm:"type:numeric;not null"`
	Units                  int64             `gorm:"not null;default:0"`
	CreatedAt              time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PreAggregation) TableName() string { return "pre_aggregations" }

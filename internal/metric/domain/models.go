// Package domain contains billable metric models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AggregationType enumerates the closed set of aggregation strategies.
type AggregationType string

const (
	AggregationCount       AggregationType = "count_agg"
	AggregationSum         AggregationType = "sum_agg"
	AggregationMax         AggregationType = "max_agg"
	AggregationLatest      AggregationType = "latest_agg"
	AggregationUniqueCount AggregationType = "unique_count_agg"
	AggregationWeightedSum AggregationType = "weighted_sum_agg"
)

// Valid reports whether t is a known aggregation strategy.
func (t AggregationType) Valid() bool {
	switch t {
	case AggregationCount, AggregationSum, AggregationMax,
		AggregationLatest, AggregationUniqueCount, AggregationWeightedSum:
		return true
	}
	return false
}

// RequiresField reports whether the strategy reads a numeric event property.
func (t AggregationType) RequiresField() bool {
	return t != AggregationCount
}

// Metric defines a billable usage measurement.
type Metric struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID       snowflake.ID    `json:"organization_id" gorm:"column:org_id;not null;index:ux_metrics_org_code,unique,priority:1"`
	Code        string          `json:"code" gorm:"type:text;not null;index:ux_metrics_org_code,unique,priority:2"`
	Name        string          `json:"name" gorm:"type:text;not null"`
	Aggregation AggregationType `json:"aggregation_type" gorm:"type:text;not null"`
	// FieldName is the event property holding the value to aggregate.
	// Unused for count aggregation.
	FieldName string `json:"field_name" gorm:"type:text"`
	// Recurring metrics keep a current/max distinction across the billing
	// period (peak-usage billing).
	Recurring bool           `json:"recurring" gorm:"not null;default:false"`
	Filters   []MetricFilter `json:"filters,omitempty" gorm:"foreignKey:MetricID"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Metric) TableName() string { return "metrics" }

// MetricFilter names one event-property dimension and its allowed values,
// partitioning events into disjoint aggregate buckets.
type MetricFilter struct {
	ID        snowflake.ID                `json:"id" gorm:"primaryKey"`
	MetricID  snowflake.ID                `json:"metric_id" gorm:"not null;index"`
	Key       string                      `json:"key" gorm:"type:text;not null"`
	Values    datatypes.JSONSlice[string] `json:"values" gorm:"type:jsonb;not null"`
	CreatedAt time.Time                   `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (MetricFilter) TableName() string { return "metric_filters" }

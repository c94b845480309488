// Package domain contains charge models and pricing parameters.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ChargeModel enumerates the closed set of pricing curves.
type ChargeModel string

const (
	ModelStandard   ChargeModel = "standard"
	ModelGraduated  ChargeModel = "graduated"
	ModelPackage    ChargeModel = "package"
	ModelPercentage ChargeModel = "percentage"
	ModelVolume     ChargeModel = "volume"
	ModelDynamic    ChargeModel = "dynamic"
)

// Valid reports whether m is a known charge model.
func (m ChargeModel) Valid() bool {
	switch m {
	case ModelStandard, ModelGraduated, ModelPackage,
		ModelPercentage, ModelVolume, ModelDynamic:
		return true
	}
	return false
}

// TierRange is one disjoint unit range of a graduated or volume model.
// A nil ToValue marks the terminal open-ended range. Amounts are decimal
// strings to preserve sub-cent precision in configuration.
type TierRange struct {
	FromValue     int64  `json:"from_value"`
	ToValue       *int64 `json:"to_value,omitempty"`
	PerUnitAmount string `json:"per_unit_amount"`
	FlatAmount    string `json:"flat_amount"`
}

// Properties carries the parameter set for every charge model; only the
// fields of the configured model are read.
type Properties struct {
	// Standard.
	Amount string `json:"amount,omitempty"`
	// Package.
	PackageSize int64 `json:"package_size,omitempty"`
	FreeUnits   int64 `json:"free_units,omitempty"`
	// Percentage.
	Rate                    string `json:"rate,omitempty"`
	FixedAmount             string `json:"fixed_amount,omitempty"`
	PerTransactionMinAmount string `json:"per_transaction_min_amount,omitempty"`
	PerTransactionMaxAmount string `json:"per_transaction_max_amount,omitempty"`
	// Graduated / volume.
	GraduatedRanges []TierRange `json:"graduated_ranges,omitempty"`
	VolumeRanges    []TierRange `json:"volume_ranges,omitempty"`
	// GroupedBy splits the aggregate into per-value buckets.
	GroupedBy []string `json:"grouped_by,omitempty"`
}

// Charge binds a metric to a plan with a pricing model.
type Charge struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID    snowflake.ID `gorm:"not null;index" json:"organization_id"`
	PlanID   snowflake.ID `gorm:"not null;index" json:"plan_id"`
	MetricID snowflake.ID `gorm:"not null;index" json:"metric_id"`
	Model    ChargeModel  `gorm:"type:text;not null" json:"charge_model"`
	// PayInAdvance fees are created on event arrival; otherwise the
	// charge bills in arrears at period end.
	PayInAdvance bool `gorm:"not null;default:false" json:"pay_in_advance"`
	Prorated     bool `gorm:"not null;default:false" json:"prorated"`
	// Invoiceable charges tolerate a missing tax figure; see the fee
	// materializer's taxing step.
	Invoiceable bool           `gorm:"not null;default:true" json:"invoiceable"`
	Properties  Properties     `gorm:"type:jsonb;serializer:json" json:"properties"`
	Filters     []ChargeFilter `gorm:"foreignKey:ChargeID" json:"filters,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Charge) TableName() string { return "charges" }

// ChargeFilter overrides the charge's parameters for events whose
// properties match every one of its value sets.
type ChargeFilter struct {
	ID         snowflake.ID        `gorm:"primaryKey" json:"id"`
	ChargeID   snowflake.ID        `gorm:"not null;index" json:"charge_id"`
	Properties Properties          `gorm:"type:jsonb;serializer:json" json:"properties"`
	Values     []ChargeFilterValue `gorm:"foreignKey:ChargeFilterID" json:"values,omitempty"`
	CreatedAt  time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ChargeFilter) TableName() string { return "charge_filters" }

// ChargeFilterValue is one dimension constraint of a charge filter.
type ChargeFilterValue struct {
	ID             snowflake.ID                `gorm:"primaryKey" json:"id"`
	ChargeFilterID snowflake.ID                `gorm:"not null;index" json:"charge_filter_id"`
	Key            string                      `gorm:"type:text;not null" json:"key"`
	Values         datatypes.JSONSlice[string] `gorm:"type:jsonb;not null" json:"values"`
}

// TableName sets the database table name.
func (ChargeFilterValue) TableName() string { return "charge_filter_values" }

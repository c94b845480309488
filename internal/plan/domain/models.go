// Package domain contains the read-only plan model consumed by the
// metering pipeline.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PlanInterval string

const (
	PlanIntervalWeekly    PlanInterval = "weekly"
	PlanIntervalMonthly   PlanInterval = "monthly"
	PlanIntervalQuarterly PlanInterval = "quarterly"
	PlanIntervalYearly    PlanInterval = "yearly"
)

type Plan struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID `gorm:"not null;index:ux_plans_org_code,unique,priority:1" json:"organization_id"`
	Code           string       `gorm:"type:text;not null;index:ux_plans_org_code,unique,priority:2" json:"code"`
	Name           string       `gorm:"type:text;not null" json:"name"`
	Interval       PlanInterval `gorm:"type:text;not null" json:"interval"`
	AmountCents    int64        `gorm:"not null" json:"amount_cents"`
	AmountCurrency string       `gorm:"type:text;not null" json:"amount_currency"`
	PayInAdvance   bool         `gorm:"not null;default:false" json:"pay_in_advance"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// Package domain contains the read-only customer model consumed by the
// metering pipeline. Customer CRUD lives outside this service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Customer struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID `gorm:"not null;index" json:"organization_id"`
	ExternalID string       `gorm:"type:text;not null;index:ux_customers_org_external,unique" json:"external_id"`
	Name       string       `gorm:"not null" json:"name"`
	Email      string       `gorm:"not null" json:"email"`
	Currency   string       `gorm:"column:currency" json:"currency,omitempty"`
	// TaxRate is the local tax percentage applied when no external provider
	// is configured. Zero is a valid rate.
	TaxRate            float64           `gorm:"not null;default:0" json:"tax_rate"`
	ExternalTaxEnabled bool              `gorm:"not null;default:false" json:"external_tax_enabled"`
	Timezone           string            `gorm:"type:text" json:"timezone,omitempty"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }

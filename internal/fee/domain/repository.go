package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Create inserts the fee. A duplicate on the advance-event unique
	// index surfaces gorm's translated duplicate-key error unchanged.
	Create(ctx context.Context, tx *gorm.DB, fee *Fee) error
	// FindForAdvanceEvent returns the fee already persisted for the
	// (event transaction, charge, charge filter) triple, if any.
	FindForAdvanceEvent(ctx context.Context, db *gorm.DB, orgID snowflake.ID, transactionID string, chargeID snowflake.ID, chargeFilterID *snowflake.ID) (*Fee, error)
}

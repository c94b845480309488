package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Create inserts the event, surfacing ErrDuplicateTransactionID on a
	// transaction id replay.
	Create(ctx context.Context, db *gorm.DB, event *Event) error
	FindByTransactionID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, externalSubscriptionID, transactionID string) (*Event, error)
	// AttachSubscription backfills the resolved subscription and customer
	// on an already stored event.
	AttachSubscription(ctx context.Context, db *gorm.DB, event *Event) error
}

package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/tally/internal/event/domain"
	"github.com/smallbiznis/tally/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() eventdomain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, tx *gorm.DB, event *eventdomain.Event) error {
	if err := tx.WithContext(ctx).Create(event).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return eventdomain.ErrDuplicateTransactionID
		}
		return err
	}
	return nil
}

func (r *repo) FindByTransactionID(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, externalSubscriptionID, transactionID string) (*eventdomain.Event, error) {
	var event eventdomain.Event
	err := tx.WithContext(ctx).
		Where("org_id = ? AND external_subscription_id = ? AND transaction_id = ?",
			orgID, externalSubscriptionID, transactionID).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repo) AttachSubscription(ctx context.Context, tx *gorm.DB, event *eventdomain.Event) error {
	return tx.WithContext(ctx).Model(&eventdomain.Event{}).
		Where("id = ?", event.ID).
		Updates(map[string]any{
			"subscription_id":          event.SubscriptionID,
			"external_subscription_id": event.ExternalSubscriptionID,
			"external_customer_id":     event.ExternalCustomerID,
		}).Error
}

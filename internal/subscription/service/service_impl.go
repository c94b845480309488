package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(p Params) subscriptiondomain.Resolver {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.resolver"),
	}
}

func (s *Service) ResolveAt(
	ctx context.Context,
	orgID snowflake.ID,
	externalID string,
	ts time.Time,
) (*subscriptiondomain.Subscription, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, subscriptiondomain.ErrInvalidExternalID
	}

	var candidates []subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND external_id = ?", orgID, externalID).
		Where("started_at <= ?", ts).
		Where("terminated_at IS NULL OR terminated_at >= ?", ts).
		Order("terminated_at DESC NULLS FIRST").
		Order("started_at DESC").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return &candidates[0], nil
}

func (s *Service) ActiveForCustomer(
	ctx context.Context,
	orgID snowflake.ID,
	externalCustomerID string,
	ts time.Time,
) ([]subscriptiondomain.Subscription, error) {
	externalCustomerID = strings.TrimSpace(externalCustomerID)
	if externalCustomerID == "" {
		return nil, nil
	}

	var subscriptions []subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).
		Joins("JOIN customers ON customers.id = subscriptions.customer_id").
		Where("subscriptions.org_id = ? AND customers.external_id = ?", orgID, externalCustomerID).
		Where("subscriptions.started_at <= ?", ts).
		Where("subscriptions.terminated_at IS NULL OR subscriptions.terminated_at >= ?", ts).
		Order("subscriptions.terminated_at DESC NULLS FIRST").
		Order("subscriptions.started_at DESC").
		Find(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

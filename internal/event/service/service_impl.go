package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	aggregationdomain "github.com/smallbiznis/tally/internal/aggregation/domain"
	eventdomain "github.com/smallbiznis/tally/internal/event/domain"
	feedomain "github.com/smallbiznis/tally/internal/fee/domain"
	metricdomain "github.com/smallbiznis/tally/internal/metric/domain"
	"github.com/smallbiznis/tally/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/tally/internal/webhook/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       eventdomain.Repository
	MetricRepo metricdomain.Repository
	Resolver   subscriptiondomain.Resolver
	Engine     aggregationdomain.Engine
	Fees       feedomain.Service
	Notifier   webhookdomain.Notifier
	Observe    *metrics.Metrics
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       eventdomain.Repository
	metricRepo metricdomain.Repository
	resolver   subscriptiondomain.Resolver
	engine     aggregationdomain.Engine
	fees       feedomain.Service
	notifier   webhookdomain.Notifier
	observe    *metrics.Metrics
}

func New(p Params) eventdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("event.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		metricRepo: p.MetricRepo,
		resolver:   p.Resolver,
		engine:     p.Engine,
		fees:       p.Fees,
		notifier:   p.Notifier,
		observe:    p.Observe,
	}
}

func (s *Service) Ingest(ctx context.Context, req eventdomain.IngestRequest) (*eventdomain.Event, error) {
	event, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, s.db, event); err != nil {
		if errors.Is(err, eventdomain.ErrDuplicateTransactionID) {
			s.observe.RecordEventDeduplicated(event.OrgID.String(), event.Code)
			s.notifyError(ctx, event, eventdomain.ErrDuplicateTransactionID.Error(),
				"transaction_id already received")
		}
		return nil, err
	}
	s.observe.RecordEventIngested(event.OrgID.String(), event.Code)

	s.postProcess(ctx, event)
	return event, nil
}

// Prepare validates the request into an unsaved event and resolves its
// subscription at the event timestamp.
func (s *Service) Prepare(ctx context.Context, req eventdomain.IngestRequest) (*eventdomain.Event, error) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(req.OrganizationID))
	if err != nil || orgID == 0 {
		return nil, eventdomain.ErrInvalidOrganization
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, eventdomain.ErrInvalidCode
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		return nil, eventdomain.ErrInvalidTransactionID
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	event := &eventdomain.Event{
		ID:                     s.genID.Generate(),
		OrgID:                  orgID,
		ExternalSubscriptionID: strings.TrimSpace(req.ExternalSubscriptionID),
		ExternalCustomerID:     strings.TrimSpace(req.ExternalCustomerID),
		Code:                   strings.TrimSpace(req.Code),
		TransactionID:          strings.TrimSpace(req.TransactionID),
		Timestamp:              ts.UTC(),
		Properties:             datatypes.JSONMap(req.Properties),
		CreatedAt:              time.Now().UTC(),
	}

	if raw := strings.TrimSpace(req.PreciseTotalAmountCents); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, eventdomain.ErrMalformedProperties
		}
		event.PreciseTotalAmountCents = decimal.NullDecimal{Decimal: amount, Valid: true}
	}

	if err := s.resolveSubscription(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *Service) resolveSubscription(ctx context.Context, event *eventdomain.Event) error {
	if event.ExternalSubscriptionID != "" {
		sub, err := s.resolver.ResolveAt(ctx, event.OrgID, event.ExternalSubscriptionID, event.Timestamp)
		if err != nil {
			return err
		}
		if sub != nil {
			event.SubscriptionID = &sub.ID
		}
		return nil
	}

	if event.ExternalCustomerID == "" {
		return nil
	}

	// Events addressed by customer only are accepted for backward
	// compatibility when the customer holds exactly one active
	// subscription.
	subs, err := s.resolver.ActiveForCustomer(ctx, event.OrgID, event.ExternalCustomerID, event.Timestamp)
	if err != nil {
		return err
	}
	if len(subs) != 1 {
		return nil
	}
	s.log.Warn("event delivered without external_subscription_id",
		zap.String("external_customer_id", event.ExternalCustomerID),
		zap.String("code", event.Code))
	event.ExternalSubscriptionID = subs[0].ExternalID
	event.SubscriptionID = &subs[0].ID
	return nil
}

// postProcess runs after the event is durably stored. Failures here are
// reported through webhooks and logs, never to the ingesting client.
func (s *Service) postProcess(ctx context.Context, event *eventdomain.Event) {
	if event.SubscriptionID == nil {
		s.observe.RecordEventUnattached(event.OrgID.String(), event.Code)
		s.notifier.Notify(ctx, webhookdomain.EventSubscriptionless, map[string]any{
			"org_id":                   event.OrgID.String(),
			"transaction_id":           event.TransactionID,
			"external_subscription_id": event.ExternalSubscriptionID,
			"external_customer_id":     event.ExternalCustomerID,
			"code":                     event.Code,
		})
		return
	}

	metric, err := s.metricRepo.FindByCode(ctx, s.db, event.OrgID, event.Code)
	if err != nil {
		s.log.Error("metric lookup failed", zap.String("code", event.Code), zap.Error(err))
		return
	}
	if metric == nil {
		s.notifyError(ctx, event, "metric_not_found", "no billable metric matches the event code")
		return
	}

	if !metric.Recurring && metric.Aggregation == metricdomain.AggregationSum {
		if err := s.engine.PreAggregate(ctx, *event, *metric); err != nil {
			s.log.Error("pre-aggregation failed",
				zap.String("transaction_id", event.TransactionID), zap.Error(err))
		}
	}

	if _, err := s.fees.CreateFromEvent(ctx, event); err != nil {
		s.log.Error("pay-in-advance fee creation failed",
			zap.String("transaction_id", event.TransactionID), zap.Error(err))
	}
}

func (s *Service) notifyError(ctx context.Context, event *eventdomain.Event, code, message string) {
	s.notifier.Notify(ctx, webhookdomain.EventEventError, map[string]any{
		"org_id":         event.OrgID.String(),
		"transaction_id": event.TransactionID,
		"code":           event.Code,
		"error_code":     code,
		"error_message":  message,
	})
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	aggregationdomain "github.com/smallbiznis/tally/internal/aggregation/domain"
	chargedomain "github.com/smallbiznis/tally/internal/charge/domain"
	chargeservice "github.com/smallbiznis/tally/internal/charge/service"
	customerdomain "github.com/smallbiznis/tally/internal/customer/domain"
	eventdomain "github.com/smallbiznis/tally/internal/event/domain"
	feedomain "github.com/smallbiznis/tally/internal/fee/domain"
	"github.com/smallbiznis/tally/internal/lock"
	metricdomain "github.com/smallbiznis/tally/internal/metric/domain"
	"github.com/smallbiznis/tally/internal/observability/metrics"
	plandomain "github.com/smallbiznis/tally/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	taxdomain "github.com/smallbiznis/tally/internal/tax/domain"
	webhookdomain "github.com/smallbiznis/tally/internal/webhook/domain"
	"github.com/smallbiznis/tally/pkg/currency"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	pkgdb "github.com/smallbiznis/tally/pkg/db"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        feedomain.Repository
	ChargeRepo  chargedomain.Repository
	MetricRepo  metricdomain.Repository
	AggRepo     aggregationdomain.Repository
	Engine      aggregationdomain.Engine
	Evaluator   *chargeservice.Evaluator
	TaxComputer taxdomain.Computer
	TaxProvider taxdomain.Provider
	Locker      lock.Locker
	Notifier    webhookdomain.Notifier
	Observe     *metrics.Metrics
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        feedomain.Repository
	chargeRepo  chargedomain.Repository
	metricRepo  metricdomain.Repository
	aggRepo     aggregationdomain.Repository
	engine      aggregationdomain.Engine
	evaluator   *chargeservice.Evaluator
	taxComputer taxdomain.Computer
	taxProvider taxdomain.Provider
	locker      lock.Locker
	notifier    webhookdomain.Notifier
	observe     *metrics.Metrics
}

func New(p Params) feedomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("fee.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		chargeRepo:  p.ChargeRepo,
		metricRepo:  p.MetricRepo,
		aggRepo:     p.AggRepo,
		engine:      p.Engine,
		evaluator:   p.Evaluator,
		taxComputer: p.TaxComputer,
		taxProvider: p.TaxProvider,
		locker:      p.Locker,
		notifier:    p.Notifier,
		observe:     p.Observe,
	}
}

func (s *Service) CreateFromEvent(ctx context.Context, event *eventdomain.Event) (*feedomain.Result, error) {
	return s.materialize(ctx, event, false)
}

func (s *Service) EstimateFromEvent(ctx context.Context, event *eventdomain.Event) (*feedomain.Result, error) {
	return s.materialize(ctx, event, true)
}

// chargeEnv bundles the billing context of one event.
type chargeEnv struct {
	event        *eventdomain.Event
	subscription *subscriptiondomain.Subscription
	plan         *plandomain.Plan
	customer     *customerdomain.Customer
	metric       *metricdomain.Metric
}

func (s *Service) materialize(ctx context.Context, event *eventdomain.Event, estimate bool) (*feedomain.Result, error) {
	env, failure, err := s.loadEnv(ctx, event)
	if err != nil {
		return nil, err
	}
	if failure != nil {
		return &feedomain.Result{Failure: failure}, nil
	}

	charges, err := s.chargeRepo.FindByPlanAndMetric(ctx, s.db, event.OrgID, env.plan.ID, env.metric.ID)
	if err != nil {
		return nil, err
	}

	result := &feedomain.Result{}
	for i := range charges {
		charge := &charges[i]
		if !charge.PayInAdvance {
			continue
		}

		fee, failure, err := s.materializeCharge(ctx, env, charge, estimate)
		if err != nil {
			return nil, err
		}
		if failure != nil && failure.Kind != feedomain.FailureConflict {
			result.Failure = failure
			return result, nil
		}
		if fee != nil {
			result.Fees = append(result.Fees, *fee)
		}
	}

	if !estimate {
		s.notifyCreated(ctx, result.Fees)
	}
	return result, nil
}

func (s *Service) loadEnv(ctx context.Context, event *eventdomain.Event) (*chargeEnv, *feedomain.Failure, error) {
	if event.SubscriptionID == nil {
		return nil, buildFailure(feedomain.FailureValidation,
			"subscription_not_found", "event is not attached to a subscription"), nil
	}

	var sub subscriptiondomain.Subscription
	if err := s.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", event.OrgID, *event.SubscriptionID).
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, buildFailure(feedomain.FailureValidation,
				"subscription_not_found", "subscription no longer exists"), nil
		}
		return nil, nil, err
	}

	var plan plandomain.Plan
	if err := s.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", event.OrgID, sub.PlanID).
		First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, buildFailure(feedomain.FailureValidation,
				"plan_not_found", "subscription plan no longer exists"), nil
		}
		return nil, nil, err
	}

	var customer customerdomain.Customer
	if err := s.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", event.OrgID, sub.CustomerID).
		First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, buildFailure(feedomain.FailureValidation,
				"customer_not_found", "subscription customer no longer exists"), nil
		}
		return nil, nil, err
	}

	metric, err := s.metricRepo.FindByCode(ctx, s.db, event.OrgID, event.Code)
	if err != nil {
		return nil, nil, err
	}
	if metric == nil {
		return nil, buildFailure(feedomain.FailureValidation,
			"metric_not_found", "no billable metric matches the event code"), nil
	}

	return &chargeEnv{
		event:        event,
		subscription: &sub,
		plan:         &plan,
		customer:     &customer,
		metric:       metric,
	}, nil, nil
}

func (s *Service) materializeCharge(
	ctx context.Context,
	env *chargeEnv,
	charge *chargedomain.Charge,
	estimate bool,
) (*feedomain.Fee, *feedomain.Failure, error) {
	filter := chargeservice.MatchFilter(charge, env.event)
	props := charge.Properties
	var chargeFilterID *snowflake.ID
	if filter != nil {
		props = filter.Properties
		chargeFilterID = &filter.ID
	}

	boundaries := periodBoundaries(env.plan.Interval, env.subscription.StartedAt, env.event.Timestamp)

	if !estimate {
		release, err := s.locker.Acquire(ctx, feeLockKey(env.event.OrgID, env.event.ExternalSubscriptionID, charge.ID))
		if err != nil {
			return nil, nil, err
		}
		defer release()
	}

	var (
		fee     *feedomain.Fee
		failure *feedomain.Failure
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		agg, err := s.engine.Incremental(ctx, tx, aggregationdomain.IncrementalInput{
			OrgID:          env.event.OrgID,
			Event:          *env.event,
			Metric:         *env.metric,
			ChargeID:       charge.ID,
			ChargeFilterID: chargeFilterID,
			FilterValues:   chargeservice.FilterValues(filter),
			GroupedByKeys:  props.GroupedBy,
			Prorated:       charge.Prorated,
			Boundaries:     boundaries,
		})
		if err != nil {
			failure = failureFrom(feedomain.FailureAggregation, feedomain.FeeStatusAggregating, err)
			return errAbort
		}

		subunit := currency.SubunitToUnit(env.plan.AmountCurrency)
		apply, err := s.evaluator.ApplyPayInAdvance(charge.Model, props, chargeservice.Input{
			Aggregation:   *agg,
			PreciseAmount: agg.PreciseTotalAmount.Div(decimal.NewFromInt(subunit)),
		})
		if err != nil {
			failure = failureFrom(feedomain.FailureChargeModel, feedomain.FeeStatusAggregating, err)
			return errAbort
		}

		fee = s.buildFee(env, charge, chargeFilterID, boundaries, agg, apply, subunit)

		breakdown, taxFailure := s.computeTaxes(ctx, env, charge, fee)
		if taxFailure != nil {
			failure = taxFailure
			fee = nil
			return errAbort
		}
		fee.TaxesRate, _ = breakdown.Rate.Float64()
		fee.TaxesAmountCents = breakdown.TaxAmountCents

		if estimate {
			return nil
		}

		if err := s.persistSnapshot(ctx, tx, env, charge, chargeFilterID, agg); err != nil {
			return err
		}

		if err := s.repo.Create(ctx, tx, fee); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				// A concurrent delivery already persisted this fee.
				failure = &feedomain.Failure{
					Kind: feedomain.FailureConflict,
					Step: feedomain.FeeStatusPersisted,
					Code: "fee_already_exists",
				}
				return errAbort
			}
			return err
		}
		return nil
	})
	if err != nil && !errors.Is(err, errAbort) {
		return nil, nil, err
	}

	if failure != nil && failure.Kind == feedomain.FailureConflict {
		existing, err := s.repo.FindForAdvanceEvent(ctx, s.db, env.event.OrgID,
			env.event.TransactionID, charge.ID, chargeFilterID)
		if err != nil {
			return nil, nil, err
		}
		return existing, failure, nil
	}
	return fee, failure, nil
}

func (s *Service) buildFee(
	env *chargeEnv,
	charge *chargedomain.Charge,
	chargeFilterID *snowflake.ID,
	boundaries aggregationdomain.Boundaries,
	agg *aggregationdomain.Result,
	apply *chargedomain.ApplyResult,
	subunit int64,
) *feedomain.Fee {
	amountCents := toCents(apply.Amount, subunit)
	eventID := env.event.ID

	var groupedBy datatypes.JSONMap
	if len(agg.GroupedBy) > 0 {
		groupedBy = make(datatypes.JSONMap, len(agg.GroupedBy))
		for k, v := range agg.GroupedBy {
			groupedBy[k] = v
		}
	}

	return &feedomain.Fee{
		ID:                             s.genID.Generate(),
		OrgID:                          env.event.OrgID,
		SubscriptionID:                 env.subscription.ID,
		ChargeID:                       charge.ID,
		ChargeFilterID:                 chargeFilterID,
		AmountCents:                    amountCents,
		AmountCurrency:                 env.plan.AmountCurrency,
		Units:                          apply.Units,
		PreciseUnitAmount:              apply.UnitAmount,
		UnitAmountCents:                toCents(apply.UnitAmount, subunit),
		EventsCount:                    apply.Count,
		PayInAdvance:                   true,
		Invoiceable:                    charge.Invoiceable,
		PaymentStatus:                  feedomain.PaymentStatusPending,
		PayInAdvanceEventID:            &eventID,
		PayInAdvanceEventTransactionID: env.event.TransactionID,
		PeriodStart:                    boundaries.PeriodStart,
		PeriodEnd:                      boundaries.PeriodEnd,
		GroupedBy:                      groupedBy,
	}
}

// computeTaxes resolves the fee's tax figure. A provider failure aborts
// persistence; the webhook carries the provider's error code.
func (s *Service) computeTaxes(
	ctx context.Context,
	env *chargeEnv,
	charge *chargedomain.Charge,
	fee *feedomain.Fee,
) (*taxdomain.Breakdown, *feedomain.Failure) {
	in := taxdomain.ComputeInput{
		OrgID:       env.event.OrgID,
		Customer:    env.customer,
		AmountCents: fee.AmountCents,
		Currency:    fee.AmountCurrency,
	}

	if !env.customer.ExternalTaxEnabled {
		breakdown, err := s.taxComputer.Compute(ctx, in)
		if err != nil {
			return nil, failureFrom(feedomain.FailureValidation, feedomain.FeeStatusTaxing, err)
		}
		return breakdown, nil
	}

	breakdown, err := s.taxProvider.FetchTaxes(ctx, in)
	if err != nil {
		s.observe.RecordTaxProviderFailure(env.event.OrgID.String())
		s.notifier.Notify(ctx, webhookdomain.EventFeeTaxError, map[string]any{
			"org_id":         env.event.OrgID.String(),
			"transaction_id": env.event.TransactionID,
			"code":           "tax_error",
			"message":        err.Error(),
		})
		kind := feedomain.FailureTaxProvider
		if !charge.Invoiceable {
			// Non-invoiceable fees never reach an invoice.
			kind = feedomain.FailureValidation
		}
		return nil, failureFrom(kind, feedomain.FeeStatusTaxing, err)
	}
	return breakdown, nil
}

// persistSnapshot appends the running-aggregate state when the strategy
// carries one. Count-style strategies re-derive from the event store and
// need no snapshot.
func (s *Service) persistSnapshot(
	ctx context.Context,
	tx *gorm.DB,
	env *chargeEnv,
	charge *chargedomain.Charge,
	chargeFilterID *snowflake.ID,
	agg *aggregationdomain.Result,
) error {
	if !agg.CurrentAggregation.Valid && !agg.MaxAggregation.Valid &&
		!agg.MaxAggregationWithProration.Valid {
		return nil
	}

	var groupedBy datatypes.JSONMap
	if len(agg.GroupedBy) > 0 {
		groupedBy = make(datatypes.JSONMap, len(agg.GroupedBy))
		for k, v := range agg.GroupedBy {
			groupedBy[k] = v
		}
	}

	return s.aggRepo.Create(ctx, tx, &aggregationdomain.CachedAggregation{
		ID:                          s.genID.Generate(),
		OrgID:                       env.event.OrgID,
		EventID:                     env.event.ID,
		EventTransactionID:          env.event.TransactionID,
		ExternalSubscriptionID:      env.event.ExternalSubscriptionID,
		ChargeID:                    charge.ID,
		ChargeFilterID:              chargeFilterID,
		Timestamp:                   env.event.Timestamp,
		CurrentAggregation:          agg.CurrentAggregation,
		CurrentAmount:               agg.CurrentAmount,
		MaxAggregation:              agg.MaxAggregation,
		MaxAggregationWithProration: agg.MaxAggregationWithProration,
		EventsCount:                 agg.Count,
		GroupedBy:                   groupedBy,
	})
}

func (s *Service) notifyCreated(ctx context.Context, fees []feedomain.Fee) {
	for i := range fees {
		fee := &fees[i]
		s.observe.RecordFeeCreated(fee.OrgID.String())
		s.notifier.Notify(ctx, webhookdomain.EventFeeCreated, map[string]any{
			"org_id":          fee.OrgID.String(),
			"fee_id":          fee.ID.String(),
			"subscription_id": fee.SubscriptionID.String(),
			"transaction_id":  fee.PayInAdvanceEventTransactionID,
			"amount_cents":    fee.AmountCents,
			"amount_currency": fee.AmountCurrency,
			"units":           fee.Units.String(),
			"dedupe_key":      fmt.Sprintf("fee.created:%s", fee.ID),
		})
	}
}

// errAbort rolls the transaction back while the classified failure is
// reported through the result.
var errAbort = errors.New("fee_materialization_aborted")

func buildFailure(kind feedomain.FailureKind, code, message string) *feedomain.Failure {
	return &feedomain.Failure{
		Kind:    kind,
		Step:    feedomain.FeeStatusBuilding,
		Code:    code,
		Message: message,
	}
}

func failureFrom(kind feedomain.FailureKind, step feedomain.FeeStatus, err error) *feedomain.Failure {
	return &feedomain.Failure{
		Kind:    kind,
		Step:    step,
		Code:    err.Error(),
		Message: err.Error(),
	}
}

func feeLockKey(orgID snowflake.ID, externalSubscriptionID string, chargeID snowflake.ID) string {
	return fmt.Sprintf("fees:%s:%s:%s", orgID, externalSubscriptionID, chargeID)
}

// toCents converts a currency-unit amount to minor units, rounding half up.
func toCents(amount decimal.Decimal, subunit int64) int64 {
	return amount.Mul(decimal.NewFromInt(subunit)).Round(0).IntPart()
}

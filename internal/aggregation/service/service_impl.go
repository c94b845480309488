package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	aggregationdomain "github.com/smallbiznis/tally/internal/aggregation/domain"
	eventdomain "github.com/smallbiznis/tally/internal/event/domain"
	metricdomain "github.com/smallbiznis/tally/internal/metric/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  aggregationdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  aggregationdomain.Repository
}

func New(p Params) aggregationdomain.Engine {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("aggregation.engine"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

// Deferred recomputes the aggregate over a closed window by scanning all
// matching events and folding them with the metric's strategy.
func (s *Service) Deferred(
	ctx context.Context,
	db *gorm.DB,
	in aggregationdomain.DeferredInput,
) (*aggregationdomain.Result, error) {
	if !in.Metric.Aggregation.Valid() {
		return nil, aggregationdomain.ErrUnsupportedAggregation
	}

	events, err := s.matchingEvents(ctx, db, in, nil)
	if err != nil {
		return nil, err
	}

	result := &aggregationdomain.Result{GroupedBy: in.GroupedBy}
	switch in.Metric.Aggregation {
	case metricdomain.AggregationCount:
		result.Aggregation = decimal.NewFromInt(int64(len(events)))
		result.Count = int64(len(events))
	case metricdomain.AggregationSum:
		return s.foldSum(events, in, result)
	case metricdomain.AggregationMax:
		return s.foldMax(events, in, result)
	case metricdomain.AggregationLatest:
		return s.foldLatest(events, in, result)
	case metricdomain.AggregationUniqueCount:
		return s.foldUniqueCount(events, in, result)
	case metricdomain.AggregationWeightedSum:
		return s.foldWeightedSum(events, in, result)
	}
	return result, nil
}

func (s *Service) foldSum(
	events []eventdomain.Event,
	in aggregationdomain.DeferredInput,
	result *aggregationdomain.Result,
) (*aggregationdomain.Result, error) {
	total := decimal.Zero
	for _, event := range events {
		value, present, err := event.PropertyDecimal(in.Metric.FieldName)
		if err != nil {
			return nil, aggregationdomain.ErrInvalidFieldValue
		}
		if !present {
			continue
		}
		total = total.Add(value)
		result.Count++
	}
	result.Aggregation = total
	return result, nil
}

func (s *Service) foldMax(
	events []eventdomain.Event,
	in aggregationdomain.DeferredInput,
	result *aggregationdomain.Result,
) (*aggregationdomain.Result, error) {
	maxSeen := decimal.Zero
	for _, event := range events {
		value, present, err := event.PropertyDecimal(in.Metric.FieldName)
		if err != nil {
			return nil, aggregationdomain.ErrInvalidFieldValue
		}
		if !present {
			continue
		}
		// Seed from the first value so all-negative windows keep their
		// true maximum.
		if result.Count == 0 || value.GreaterThan(maxSeen) {
			maxSeen = value
		}
		result.Count++
	}
	result.Aggregation = maxSeen
	return result, nil
}

func (s *Service) foldLatest(
	events []eventdomain.Event,
	in aggregationdomain.DeferredInput,
	result *aggregationdomain.Result,
) (*aggregationdomain.Result, error) {
	// Events arrive ordered by (timestamp, id): the last value wins,
	// insertion order breaking timestamp ties.
	latest := decimal.Zero
	for _, event := range events {
		value, present, err := event.PropertyDecimal(in.Metric.FieldName)
		if err != nil {
			return nil, aggregationdomain.ErrInvalidFieldValue
		}
		if !present {
			continue
		}
		latest = value
		result.Count++
	}
	result.Aggregation = latest
	return result, nil
}

func (s *Service) foldUniqueCount(
	events []eventdomain.Event,
	in aggregationdomain.DeferredInput,
	result *aggregationdomain.Result,
) (*aggregationdomain.Result, error) {
	seen := make(map[string]struct{})
	for _, event := range events {
		value, ok := event.PropertyString(in.Metric.FieldName)
		if !ok {
			continue
		}
		seen[value] = struct{}{}
		result.Count++
	}
	result.Aggregation = decimal.NewFromInt(int64(len(seen)))
	return result, nil
}

// foldWeightedSum weights each running value by the fraction of the window it
// was active; the value recorded by the last event persists to the window end.
func (s *Service) foldWeightedSum(
	events []eventdomain.Event,
	in aggregationdomain.DeferredInput,
	result *aggregationdomain.Result,
) (*aggregationdomain.Result, error) {
	duration := in.Boundaries.PeriodEnd.Sub(in.Boundaries.PeriodStart)
	if duration <= 0 {
		result.Aggregation = decimal.Zero
		return result, nil
	}

	weighted := decimal.Zero
	running := decimal.Zero
	cursor := in.Boundaries.PeriodStart

	for _, event := range events {
		value, present, err := event.PropertyDecimal(in.Metric.FieldName)
		if err != nil {
			return nil, aggregationdomain.ErrInvalidFieldValue
		}
		if !present {
			continue
		}

		ts := event.Timestamp
		if ts.Before(cursor) {
			ts = cursor
		}
		weighted = weighted.Add(running.Mul(windowFraction(cursor, ts, duration)))
		running = running.Add(value)
		cursor = ts
		result.Count++
	}

	weighted = weighted.Add(running.Mul(windowFraction(cursor, in.Boundaries.PeriodEnd, duration)))
	result.Aggregation = weighted
	return result, nil
}

func windowFraction(from, to time.Time, duration time.Duration) decimal.Decimal {
	if !to.After(from) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(to.Sub(from).Seconds()).
		Div(decimal.NewFromFloat(duration.Seconds()))
}

// matchingEvents loads the window's events ordered by (timestamp, id) and
// applies filter value sets and grouping keys. excludeID drops the
// triggering event when the incremental path needs the prior state.
func (s *Service) matchingEvents(
	ctx context.Context,
	db *gorm.DB,
	in aggregationdomain.DeferredInput,
	excludeID *snowflake.ID,
) ([]eventdomain.Event, error) {
	var rows []eventdomain.Event
	query := db.WithContext(ctx).
		Where("org_id = ? AND external_subscription_id = ? AND code = ?",
			in.OrgID, in.ExternalSubscriptionID, in.Metric.Code).
		// The period end is exclusive: an event at the exact anniversary
		// instant belongs to the next period.
		Where("timestamp >= ? AND timestamp < ?",
			in.Boundaries.PeriodStart, in.Boundaries.PeriodEnd)
	if excludeID != nil {
		query = query.Where("id <> ?", *excludeID)
	}
	if err := query.
		Order("timestamp ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	matched := rows[:0]
	for _, row := range rows {
		if !eventMatchesFilters(row, in.FilterValues) {
			continue
		}
		if !eventMatchesGrouping(row, in.GroupedBy) {
			continue
		}
		matched = append(matched, row)
	}
	return matched, nil
}

func eventMatchesFilters(event eventdomain.Event, filters map[string][]string) bool {
	for key, allowed := range filters {
		value, ok := event.PropertyString(key)
		if !ok {
			return false
		}
		found := false
		for _, candidate := range allowed {
			if candidate == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func eventMatchesGrouping(event eventdomain.Event, groupedBy map[string]string) bool {
	for key, wanted := range groupedBy {
		value, ok := event.PropertyString(key)
		if !ok || value != wanted {
			return false
		}
	}
	return true
}

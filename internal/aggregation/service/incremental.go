package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	aggregationdomain "github.com/smallbiznis/tally/internal/aggregation/domain"
	eventdomain "github.com/smallbiznis/tally/internal/event/domain"
	metricdomain "github.com/smallbiznis/tally/internal/metric/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Incremental folds one event into the latest snapshot for its bucket.
// Count-style strategies derive their value from the event store instead of
// the snapshot because they need no prior accumulator.
func (s *Service) Incremental(
	ctx context.Context,
	tx *gorm.DB,
	in aggregationdomain.IncrementalInput,
) (*aggregationdomain.Result, error) {
	if !in.Metric.Aggregation.Valid() {
		return nil, aggregationdomain.ErrUnsupportedAggregation
	}

	groupedBy := groupedByValues(in.Event, in.GroupedByKeys)

	switch in.Metric.Aggregation {
	case metricdomain.AggregationCount:
		return s.incrementalCount(ctx, tx, in, groupedBy)
	case metricdomain.AggregationUniqueCount:
		return s.incrementalUniqueCount(ctx, tx, in, groupedBy)
	}

	snapshot, err := s.repo.FindLatestLocked(ctx, tx, aggregationdomain.BucketKey{
		OrgID:                  in.OrgID,
		ExternalSubscriptionID: in.Event.ExternalSubscriptionID,
		ChargeID:               in.ChargeID,
		ChargeFilterID:         in.ChargeFilterID,
		GroupedBy:              groupedBy,
		Boundaries:             in.Boundaries,
	})
	if err != nil {
		return nil, err
	}

	switch in.Metric.Aggregation {
	case metricdomain.AggregationSum:
		return s.incrementalSum(in, snapshot, groupedBy)
	case metricdomain.AggregationMax:
		return s.incrementalMax(in, snapshot, groupedBy)
	case metricdomain.AggregationLatest:
		return s.incrementalLatest(in, snapshot, groupedBy)
	case metricdomain.AggregationWeightedSum:
		return s.incrementalWeightedSum(in, snapshot, groupedBy)
	}
	return nil, aggregationdomain.ErrUnsupportedAggregation
}

func (s *Service) incrementalCount(
	ctx context.Context,
	tx *gorm.DB,
	in aggregationdomain.IncrementalInput,
	groupedBy map[string]string,
) (*aggregationdomain.Result, error) {
	events, err := s.matchingEvents(ctx, tx, deferredFrom(in, groupedBy), nil)
	if err != nil {
		return nil, err
	}

	count := int64(len(events))
	if !containsEvent(events, in.Event.ID) {
		// Estimate mode runs before the triggering event is persisted.
		count++
	}

	return &aggregationdomain.Result{
		Aggregation:             decimal.NewFromInt(count),
		Count:                   count,
		PayInAdvanceAggregation: decimal.NewFromInt(1),
		PreciseTotalAmount:      eventPreciseAmount(in.Event),
		GroupedBy:               groupedBy,
	}, nil
}

func (s *Service) incrementalUniqueCount(
	ctx context.Context,
	tx *gorm.DB,
	in aggregationdomain.IncrementalInput,
	groupedBy map[string]string,
) (*aggregationdomain.Result, error) {
	events, err := s.matchingEvents(ctx, tx, deferredFrom(in, groupedBy), nil)
	if err != nil {
		return nil, err
	}

	value, ok := in.Event.PropertyString(in.Metric.FieldName)
	if !ok {
		return nil, aggregationdomain.ErrMissingFieldValue
	}

	seen := make(map[string]int64)
	var count int64
	for _, event := range events {
		v, present := event.PropertyString(in.Metric.FieldName)
		if !present {
			continue
		}
		seen[v]++
		count++
	}
	if !containsEvent(events, in.Event.ID) {
		// Estimate mode runs before the triggering event is persisted.
		seen[value]++
		count++
	}

	delta := decimal.Zero
	if seen[value] == 1 {
		// First occurrence in the period: this event introduced it.
		delta = decimal.NewFromInt(1)
	}

	return &aggregationdomain.Result{
		Aggregation:             decimal.NewFromInt(int64(len(seen))),
		Count:                   count,
		PayInAdvanceAggregation: delta,
		PreciseTotalAmount:      eventPreciseAmount(in.Event),
		GroupedBy:               groupedBy,
	}, nil
}

func (s *Service) incrementalSum(
	in aggregationdomain.IncrementalInput,
	snapshot *aggregationdomain.CachedAggregation,
	groupedBy map[string]string,
) (*aggregationdomain.Result, error) {
	value, err := requiredFieldValue(in.Event, in.Metric.FieldName)
	if err != nil {
		return nil, err
	}

	previous := nullOrZero(snapshot, func(c *aggregationdomain.CachedAggregation) decimal.NullDecimal {
		return c.CurrentAggregation
	})
	current := previous.Add(value)

	result := &aggregationdomain.Result{
		Aggregation:             current,
		Count:                   snapshotCount(snapshot) + 1,
		PayInAdvanceAggregation: clampPositive(value),
		CurrentAggregation:      decimal.NewNullDecimal(current),
		PreciseTotalAmount:      eventPreciseAmount(in.Event),
		GroupedBy:               groupedBy,
	}

	if in.Metric.Recurring {
		previousMax := nullOrZero(snapshot, func(c *aggregationdomain.CachedAggregation) decimal.NullDecimal {
			return c.MaxAggregation
		})
		newMax := decimal.Max(previousMax, current)
		// Peak billing charges only the growth of the period maximum.
		growth := clampPositive(newMax.Sub(previousMax))
		result.Aggregation = newMax
		result.PayInAdvanceAggregation = growth
		result.MaxAggregation = decimal.NewNullDecimal(newMax)

		if in.Prorated {
			previousProrated := nullOrZero(snapshot, func(c *aggregationdomain.CachedAggregation) decimal.NullDecimal {
				return c.MaxAggregationWithProration
			})
			factor := remainingPeriodFraction(in.Boundaries, in.Event.Timestamp)
			prorated := previousProrated.Add(growth.Mul(factor))
			result.MaxAggregationWithProration = decimal.NewNullDecimal(prorated)
			result.PayInAdvanceAggregation = growth.Mul(factor)
		}
	}

	return result, nil
}

func (s *Service) incrementalMax(
	in aggregationdomain.IncrementalInput,
	snapshot *aggregationdomain.CachedAggregation,
	groupedBy map[string]string,
) (*aggregationdomain.Result, error) {
	value, err := requiredFieldValue(in.Event, in.Metric.FieldName)
	if err != nil {
		return nil, err
	}

	previousMax := nullOrZero(snapshot, func(c *aggregationdomain.CachedAggregation) decimal.NullDecimal {
		return c.MaxAggregation
	})
	// Without a snapshot the event's value is the maximum, negative or not.
	newMax := value
	if snapshot != nil && snapshot.MaxAggregation.Valid {
		newMax = decimal.Max(previousMax, value)
	}

	return &aggregationdomain.Result{
		Aggregation:             newMax,
		Count:                   snapshotCount(snapshot) + 1,
		PayInAdvanceAggregation: clampPositive(newMax.Sub(previousMax)),
		CurrentAggregation:      decimal.NewNullDecimal(value),
		MaxAggregation:          decimal.NewNullDecimal(newMax),
		PreciseTotalAmount:      eventPreciseAmount(in.Event),
		GroupedBy:               groupedBy,
	}, nil
}

func (s *Service) incrementalLatest(
	in aggregationdomain.IncrementalInput,
	snapshot *aggregationdomain.CachedAggregation,
	groupedBy map[string]string,
) (*aggregationdomain.Result, error) {
	value, err := requiredFieldValue(in.Event, in.Metric.FieldName)
	if err != nil {
		return nil, err
	}

	return &aggregationdomain.Result{
		Aggregation:             value,
		Count:                   snapshotCount(snapshot) + 1,
		PayInAdvanceAggregation: clampPositive(value),
		CurrentAggregation:      decimal.NewNullDecimal(value),
		PreciseTotalAmount:      eventPreciseAmount(in.Event),
		GroupedBy:               groupedBy,
	}, nil
}

// incrementalWeightedSum projects the time-weighted sum to the period end
// using only the prior snapshot and the new event: the weighted value
// accumulated so far is carried in CurrentAmount, the running units level in
// CurrentAggregation.
func (s *Service) incrementalWeightedSum(
	in aggregationdomain.IncrementalInput,
	snapshot *aggregationdomain.CachedAggregation,
	groupedBy map[string]string,
) (*aggregationdomain.Result, error) {
	value, err := requiredFieldValue(in.Event, in.Metric.FieldName)
	if err != nil {
		return nil, err
	}

	duration := in.Boundaries.PeriodEnd.Sub(in.Boundaries.PeriodStart)
	if duration <= 0 {
		return nil, aggregationdomain.ErrUnsupportedAggregation
	}

	previousRunning := nullOrZero(snapshot, func(c *aggregationdomain.CachedAggregation) decimal.NullDecimal {
		return c.CurrentAggregation
	})
	previousWeighted := nullOrZero(snapshot, func(c *aggregationdomain.CachedAggregation) decimal.NullDecimal {
		return c.CurrentAmount
	})
	previousTs := in.Boundaries.PeriodStart
	if snapshot != nil {
		previousTs = snapshot.Timestamp
	}

	ts := in.Event.Timestamp
	if ts.Before(previousTs) {
		ts = previousTs
	}

	weightedSoFar := previousWeighted.Add(previousRunning.Mul(windowFraction(previousTs, ts, duration)))
	newRunning := previousRunning.Add(value)
	projected := weightedSoFar.Add(newRunning.Mul(windowFraction(ts, in.Boundaries.PeriodEnd, duration)))

	return &aggregationdomain.Result{
		Aggregation:             projected,
		Count:                   snapshotCount(snapshot) + 1,
		PayInAdvanceAggregation: clampPositive(value.Mul(windowFraction(ts, in.Boundaries.PeriodEnd, duration))),
		CurrentAggregation:      decimal.NewNullDecimal(newRunning),
		CurrentAmount:           decimal.NewNullDecimal(weightedSoFar),
		PreciseTotalAmount:      eventPreciseAmount(in.Event),
		GroupedBy:               groupedBy,
	}, nil
}

func containsEvent(events []eventdomain.Event, id snowflake.ID) bool {
	for i := range events {
		if events[i].ID == id {
			return true
		}
	}
	return false
}

func deferredFrom(
	in aggregationdomain.IncrementalInput,
	groupedBy map[string]string,
) aggregationdomain.DeferredInput {
	return aggregationdomain.DeferredInput{
		OrgID:                  in.OrgID,
		ExternalSubscriptionID: in.Event.ExternalSubscriptionID,
		Metric:                 in.Metric,
		FilterValues:           in.FilterValues,
		GroupedBy:              groupedBy,
		Boundaries:             in.Boundaries,
	}
}

func groupedByValues(event eventdomain.Event, keys []string) map[string]string {
	if len(keys) == 0 {
		return nil
	}
	values := make(map[string]string, len(keys))
	for _, key := range keys {
		value, _ := event.PropertyString(key)
		values[key] = value
	}
	return values
}

func requiredFieldValue(event eventdomain.Event, field string) (decimal.Decimal, error) {
	value, present, err := event.PropertyDecimal(field)
	if err != nil {
		return decimal.Zero, aggregationdomain.ErrInvalidFieldValue
	}
	if !present {
		return decimal.Zero, aggregationdomain.ErrMissingFieldValue
	}
	return value, nil
}

func eventPreciseAmount(event eventdomain.Event) decimal.Decimal {
	if event.PreciseTotalAmountCents.Valid {
		return event.PreciseTotalAmountCents.Decimal
	}
	return decimal.Zero
}

func nullOrZero(
	snapshot *aggregationdomain.CachedAggregation,
	pick func(*aggregationdomain.CachedAggregation) decimal.NullDecimal,
) decimal.Decimal {
	if snapshot == nil {
		return decimal.Zero
	}
	value := pick(snapshot)
	if !value.Valid {
		return decimal.Zero
	}
	return value.Decimal
}

func snapshotCount(snapshot *aggregationdomain.CachedAggregation) int64 {
	if snapshot == nil {
		return 0
	}
	return snapshot.EventsCount
}

func clampPositive(value decimal.Decimal) decimal.Decimal {
	if value.IsNegative() {
		return decimal.Zero
	}
	return value
}

func remainingPeriodFraction(boundaries aggregationdomain.Boundaries, at time.Time) decimal.Decimal {
	duration := boundaries.ChargesDuration
	if duration <= 0 {
		duration = boundaries.PeriodEnd.Sub(boundaries.PeriodStart)
	}
	if duration <= 0 {
		return decimal.Zero
	}
	remaining := boundaries.PeriodEnd.Sub(at)
	if remaining < 0 {
		return decimal.Zero
	}
	if remaining > duration {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(remaining.Seconds()).
		Div(decimal.NewFromFloat(duration.Seconds()))
}

package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	aggregationdomain "github.com/smallbiznis/tally/internal/aggregation/domain"
	"github.com/smallbiznis/tally/internal/aggregation/repository"
	eventdomain "github.com/smallbiznis/tally/internal/event/domain"
	metricdomain "github.com/smallbiznis/tally/internal/metric/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const testExternalSubID = "sub_agg_test"

type engineFixture struct {
	db     *gorm.DB
	engine *Service
	genID  *snowflake.Node
	orgID  snowflake.ID
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&eventdomain.Event{},
		&aggregationdomain.CachedAggregation{},
		&aggregationdomain.PreAggregation{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	engine := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	}).(*Service)

	return &engineFixture{db: db, engine: engine, genID: node, orgID: node.Generate()}
}

func (f *engineFixture) storeEvent(t *testing.T, code string, ts time.Time, properties map[string]any) eventdomain.Event {
	t.Helper()
	event := eventdomain.Event{
		ID:                     f.genID.Generate(),
		OrgID:                  f.orgID,
		ExternalSubscriptionID: testExternalSubID,
		Code:                   code,
		TransactionID:          fmt.Sprintf("tx-%d", f.genID.Generate()),
		Timestamp:              ts,
		Properties:             datatypes.JSONMap(properties),
	}
	require.NoError(t, f.db.Create(&event).Error)
	return event
}

func window(start time.Time, d time.Duration) aggregationdomain.Boundaries {
	return aggregationdomain.Boundaries{
		PeriodStart:     start,
		PeriodEnd:       start.Add(d),
		ChargesDuration: d,
	}
}

func sumMetric(code string, recurring bool) metricdomain.Metric {
	return metricdomain.Metric{
		Code:        code,
		Aggregation: metricdomain.AggregationSum,
		FieldName:   "value",
		Recurring:   recurring,
	}
}

func TestDeferredSum(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	f.storeEvent(t, "api_calls", start.Add(time.Hour), map[string]any{"value": 3})
	f.storeEvent(t, "api_calls", start.Add(2*time.Hour), map[string]any{"value": "4.5"})
	// Missing field value: skipped, not an error.
	f.storeEvent(t, "api_calls", start.Add(3*time.Hour), map[string]any{"other": 1})

	result, err := f.engine.Deferred(context.Background(), f.db, aggregationdomain.DeferredInput{
		OrgID:                  f.orgID,
		ExternalSubscriptionID: testExternalSubID,
		Metric:                 sumMetric("api_calls", false),
		Boundaries:             window(start, 30*24*time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, result.Aggregation.Equal(decimal.RequireFromString("7.5")),
		"aggregation = %s", result.Aggregation)
	assert.Equal(t, int64(2), result.Count)
}

func TestDeferredSumInvalidValue(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	f.storeEvent(t, "api_calls", start.Add(time.Hour), map[string]any{"value": "not-a-number"})

	_, err := f.engine.Deferred(context.Background(), f.db, aggregationdomain.DeferredInput{
		OrgID:                  f.orgID,
		ExternalSubscriptionID: testExternalSubID,
		Metric:                 sumMetric("api_calls", false),
		Boundaries:             window(start, 24*time.Hour),
	})
	assert.ErrorIs(t, err, aggregationdomain.ErrInvalidFieldValue)
}

func TestDeferredMaxLatestUniqueCount(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	f.storeEvent(t, "storage", start.Add(time.Hour), map[string]any{"value": 10, "region": "eu"})
	f.storeEvent(t, "storage", start.Add(2*time.Hour), map[string]any{"value": 25, "region": "us"})
	f.storeEvent(t, "storage", start.Add(3*time.Hour), map[string]any{"value": 5, "region": "eu"})

	base := aggregationdomain.DeferredInput{
		OrgID:                  f.orgID,
		ExternalSubscriptionID: testExternalSubID,
		Boundaries:             window(start, 30*24*time.Hour),
	}

	maxIn := base
	maxIn.Metric = metricdomain.Metric{Code: "storage", Aggregation: metricdomain.AggregationMax, FieldName: "value"}
	result, err := f.engine.Deferred(context.Background(), f.db, maxIn)
	require.NoError(t, err)
	assert.True(t, result.Aggregation.Equal(decimal.NewFromInt(25)))

	latestIn := base
	latestIn.Metric = metricdomain.Metric{Code: "storage", Aggregation: metricdomain.AggregationLatest, FieldName: "value"}
	result, err = f.engine.Deferred(context.Background(), f.db, latestIn)
	require.NoError(t, err)
	assert.True(t, result.Aggregation.Equal(decimal.NewFromInt(5)))

	uniqueIn := base
	uniqueIn.Metric = metricdomain.Metric{Code: "storage", Aggregation: metricdomain.AggregationUniqueCount, FieldName: "region"}
	result, err = f.engine.Deferred(context.Background(), f.db, uniqueIn)
	require.NoError(t, err)
	assert.True(t, result.Aggregation.Equal(decimal.NewFromInt(2)))
}

func TestDeferredCountWithFilterValues(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	f.storeEvent(t, "api_calls", start.Add(time.Hour), map[string]any{"region": "eu"})
	f.storeEvent(t, "api_calls", start.Add(2*time.Hour), map[string]any{"region": "us"})
	f.storeEvent(t, "api_calls", start.Add(3*time.Hour), map[string]any{"region": "eu"})

	result, err := f.engine.Deferred(context.Background(), f.db, aggregationdomain.DeferredInput{
		OrgID:                  f.orgID,
		ExternalSubscriptionID: testExternalSubID,
		Metric:                 metricdomain.Metric{Code: "api_calls", Aggregation: metricdomain.AggregationCount},
		FilterValues:           map[string][]string{"region": {"eu"}},
		Boundaries:             window(start, 30*24*time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, result.Aggregation.Equal(decimal.NewFromInt(2)))
}

func TestDeferredWeightedSum(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	duration := 10 * 24 * time.Hour

	// 20 units for the second half of the window weigh in at 10.
	f.storeEvent(t, "seats", start.Add(duration/2), map[string]any{"value": 20})

	result, err := f.engine.Deferred(context.Background(), f.db, aggregationdomain.DeferredInput{
		OrgID:                  f.orgID,
		ExternalSubscriptionID: testExternalSubID,
		Metric: metricdomain.Metric{
			Code:        "seats",
			Aggregation: metricdomain.AggregationWeightedSum,
			FieldName:   "value",
			Recurring:   true,
		},
		Boundaries: window(start, duration),
	})
	require.NoError(t, err)
	assert.True(t, result.Aggregation.Equal(decimal.NewFromInt(10)),
		"aggregation = %s", result.Aggregation)
}

// The incremental path must land on the same total as a full recomputation
// when snapshots are persisted between events.
func TestIncrementalSumMatchesDeferred(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	metric := sumMetric("api_calls", false)
	chargeID := f.genID.Generate()
	boundaries := window(start, 30*24*time.Hour)

	values := []int{3, 7, 5}
	var last *aggregationdomain.Result
	for i, v := range values {
		event := f.storeEvent(t, "api_calls", start.Add(time.Duration(i+1)*time.Hour),
			map[string]any{"value": v})

		err := f.db.Transaction(func(tx *gorm.DB) error {
			result, err := f.engine.Incremental(context.Background(), tx, aggregationdomain.IncrementalInput{
				OrgID:      f.orgID,
				Event:      event,
				Metric:     metric,
				ChargeID:   chargeID,
				Boundaries: boundaries,
			})
			if err != nil {
				return err
			}
			last = result
			return f.db.Create(&aggregationdomain.CachedAggregation{
				ID:                     f.genID.Generate(),
				OrgID:                  f.orgID,
				EventID:                event.ID,
				EventTransactionID:     event.TransactionID,
				ExternalSubscriptionID: testExternalSubID,
				ChargeID:               chargeID,
				Timestamp:              event.Timestamp,
				CurrentAggregation:     result.CurrentAggregation,
				EventsCount:            result.Count,
			}).Error
		})
		require.NoError(t, err)
		assert.True(t, last.PayInAdvanceAggregation.Equal(decimal.NewFromInt(int64(v))),
			"delta = %s, want %d", last.PayInAdvanceAggregation, v)
	}

	deferred, err := f.engine.Deferred(context.Background(), f.db, aggregationdomain.DeferredInput{
		OrgID:                  f.orgID,
		ExternalSubscriptionID: testExternalSubID,
		Metric:                 metric,
		Boundaries:             boundaries,
	})
	require.NoError(t, err)
	assert.True(t, last.Aggregation.Equal(deferred.Aggregation),
		"incremental = %s, deferred = %s", last.Aggregation, deferred.Aggregation)
}

func TestIncrementalRecurringSumBillsGrowthOnly(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	metric := sumMetric("seats", true)
	chargeID := f.genID.Generate()
	boundaries := window(start, 30*24*time.Hour)

	event := f.storeEvent(t, "seats", start.Add(time.Hour), map[string]any{"value": 5})
	result, err := f.engine.Incremental(context.Background(), f.db, aggregationdomain.IncrementalInput{
		OrgID:      f.orgID,
		Event:      event,
		Metric:     metric,
		ChargeID:   chargeID,
		Boundaries: boundaries,
	})
	require.NoError(t, err)
	assert.True(t, result.PayInAdvanceAggregation.Equal(decimal.NewFromInt(5)))
	require.NoError(t, f.db.Create(&aggregationdomain.CachedAggregation{
		ID:                     f.genID.Generate(),
		OrgID:                  f.orgID,
		EventID:                event.ID,
		EventTransactionID:     event.TransactionID,
		ExternalSubscriptionID: testExternalSubID,
		ChargeID:               chargeID,
		Timestamp:              event.Timestamp,
		CurrentAggregation:     result.CurrentAggregation,
		MaxAggregation:         result.MaxAggregation,
		EventsCount:            result.Count,
	}).Error)

	// Removing seats shrinks the current level but bills nothing.
	event = f.storeEvent(t, "seats", start.Add(2*time.Hour), map[string]any{"value": -2})
	result, err = f.engine.Incremental(context.Background(), f.db, aggregationdomain.IncrementalInput{
		OrgID:      f.orgID,
		Event:      event,
		Metric:     metric,
		ChargeID:   chargeID,
		Boundaries: boundaries,
	})
	require.NoError(t, err)
	assert.True(t, result.PayInAdvanceAggregation.IsZero())
	assert.True(t, result.CurrentAggregation.Decimal.Equal(decimal.NewFromInt(3)))
	assert.True(t, result.MaxAggregation.Decimal.Equal(decimal.NewFromInt(5)))
}

func TestIncrementalUniqueCountDelta(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	metric := metricdomain.Metric{
		Code:        "users",
		Aggregation: metricdomain.AggregationUniqueCount,
		FieldName:   "user_id",
	}
	boundaries := window(start, 30*24*time.Hour)

	first := f.storeEvent(t, "users", start.Add(time.Hour), map[string]any{"user_id": "u1"})
	result, err := f.engine.Incremental(context.Background(), f.db, aggregationdomain.IncrementalInput{
		OrgID: f.orgID, Event: first, Metric: metric, ChargeID: 1, Boundaries: boundaries,
	})
	require.NoError(t, err)
	assert.True(t, result.PayInAdvanceAggregation.Equal(decimal.NewFromInt(1)))

	repeat := f.storeEvent(t, "users", start.Add(2*time.Hour), map[string]any{"user_id": "u1"})
	result, err = f.engine.Incremental(context.Background(), f.db, aggregationdomain.IncrementalInput{
		OrgID: f.orgID, Event: repeat, Metric: metric, ChargeID: 1, Boundaries: boundaries,
	})
	require.NoError(t, err)
	assert.True(t, result.PayInAdvanceAggregation.IsZero())
	assert.True(t, result.Aggregation.Equal(decimal.NewFromInt(1)))
}

func TestPreAggregateAccumulatesHourlyBuckets(t *testing.T) {
	f := newEngineFixture(t)
	ts := time.Date(2026, 4, 1, 10, 15, 0, 0, time.UTC)
	metric := sumMetric("api_calls", false)

	first := f.storeEvent(t, "api_calls", ts, map[string]any{"value": 3, "region": "eu"})
	require.NoError(t, f.engine.PreAggregate(context.Background(), first, metric))

	second := f.storeEvent(t, "api_calls", ts.Add(20*time.Minute), map[string]any{"value": 4, "region": "eu"})
	require.NoError(t, f.engine.PreAggregate(context.Background(), second, metric))

	other := f.storeEvent(t, "api_calls", ts.Add(30*time.Minute), map[string]any{"value": 9, "region": "us"})
	require.NoError(t, f.engine.PreAggregate(context.Background(), other, metric))

	var rows []aggregationdomain.PreAggregation
	require.NoError(t, f.db.Order("aggregated_value ASC").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].AggregatedValue.Equal(decimal.NewFromInt(7)))
	assert.Equal(t, int64(2), rows[0].Units)
	assert.True(t, rows[1].AggregatedValue.Equal(decimal.NewFromInt(9)))
	assert.Equal(t, time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC), rows[0].BucketStart.UTC())
}

func (f *engineFixture) makeEvent(code string, ts time.Time, properties map[string]any) eventdomain.Event {
	return eventdomain.Event{
		ID:                     f.genID.Generate(),
		OrgID:                  f.orgID,
		ExternalSubscriptionID: testExternalSubID,
		Code:                   code,
		TransactionID:          fmt.Sprintf("tx-%d", f.genID.Generate()),
		Timestamp:              ts,
		Properties:             datatypes.JSONMap(properties),
	}
}

// An unstored event (estimate mode) must aggregate like a stored one for the
// count strategies that re-derive from the event store.
func TestIncrementalCountUnstoredEvent(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	metric := metricdomain.Metric{Code: "api_calls", Aggregation: metricdomain.AggregationCount}
	boundaries := window(start, 30*24*time.Hour)

	f.storeEvent(t, "api_calls", start.Add(time.Hour), map[string]any{"value": 1})
	pending := f.makeEvent("api_calls", start.Add(2*time.Hour), map[string]any{"value": 1})

	estimated, err := f.engine.Incremental(context.Background(), f.db, aggregationdomain.IncrementalInput{
		OrgID: f.orgID, Event: pending, Metric: metric, ChargeID: 1, Boundaries: boundaries,
	})
	require.NoError(t, err)

	require.NoError(t, f.db.Create(&pending).Error)
	created, err := f.engine.Incremental(context.Background(), f.db, aggregationdomain.IncrementalInput{
		OrgID: f.orgID, Event: pending, Metric: metric, ChargeID: 1, Boundaries: boundaries,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), estimated.Count)
	assert.Equal(t, created.Count, estimated.Count)
	assert.True(t, estimated.Aggregation.Equal(created.Aggregation))
	assert.True(t, estimated.PayInAdvanceAggregation.Equal(created.PayInAdvanceAggregation))
}

func TestIncrementalUniqueCountUnstoredEvent(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	metric := metricdomain.Metric{
		Code:        "active_users",
		Aggregation: metricdomain.AggregationUniqueCount,
		FieldName:   "user_id",
	}
	boundaries := window(start, 30*24*time.Hour)

	pending := f.makeEvent("active_users", start.Add(time.Hour), map[string]any{"user_id": "u1"})

	estimated, err := f.engine.Incremental(context.Background(), f.db, aggregationdomain.IncrementalInput{
		OrgID: f.orgID, Event: pending, Metric: metric, ChargeID: 1, Boundaries: boundaries,
	})
	require.NoError(t, err)

	require.NoError(t, f.db.Create(&pending).Error)
	created, err := f.engine.Incremental(context.Background(), f.db, aggregationdomain.IncrementalInput{
		OrgID: f.orgID, Event: pending, Metric: metric, ChargeID: 1, Boundaries: boundaries,
	})
	require.NoError(t, err)

	// A first-ever value bills a delta of one in both modes.
	assert.True(t, estimated.PayInAdvanceAggregation.Equal(decimal.NewFromInt(1)))
	assert.True(t, estimated.PayInAdvanceAggregation.Equal(created.PayInAdvanceAggregation))
	assert.True(t, estimated.Aggregation.Equal(created.Aggregation))
}

// The period end is exclusive: an anniversary-instant event belongs to the
// next period, never to both.
func TestDeferredWindowEndExclusive(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * 24 * time.Hour)

	f.storeEvent(t, "api_calls", start, map[string]any{"value": 3})
	f.storeEvent(t, "api_calls", end.Add(-time.Second), map[string]any{"value": 4})
	f.storeEvent(t, "api_calls", end, map[string]any{"value": 100})

	result, err := f.engine.Deferred(context.Background(), f.db, aggregationdomain.DeferredInput{
		OrgID:                  f.orgID,
		ExternalSubscriptionID: testExternalSubID,
		Metric:                 sumMetric("api_calls", false),
		Boundaries:             window(start, 30*24*time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, result.Aggregation.Equal(decimal.NewFromInt(7)),
		"aggregation = %s", result.Aggregation)
	assert.Equal(t, int64(2), result.Count)
}

func TestDeferredMaxAllNegative(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	metric := metricdomain.Metric{Code: "temp", Aggregation: metricdomain.AggregationMax, FieldName: "value"}

	f.storeEvent(t, "temp", start.Add(time.Hour), map[string]any{"value": -5})
	f.storeEvent(t, "temp", start.Add(2*time.Hour), map[string]any{"value": -2})

	result, err := f.engine.Deferred(context.Background(), f.db, aggregationdomain.DeferredInput{
		OrgID:                  f.orgID,
		ExternalSubscriptionID: testExternalSubID,
		Metric:                 metric,
		Boundaries:             window(start, 30*24*time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, result.Aggregation.Equal(decimal.NewFromInt(-2)),
		"aggregation = %s", result.Aggregation)
}

func TestIncrementalMaxNegativeFirstEvent(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	metric := metricdomain.Metric{Code: "temp", Aggregation: metricdomain.AggregationMax, FieldName: "value"}

	event := f.storeEvent(t, "temp", start.Add(time.Hour), map[string]any{"value": -3})
	result, err := f.engine.Incremental(context.Background(), f.db, aggregationdomain.IncrementalInput{
		OrgID: f.orgID, Event: event, Metric: metric, ChargeID: 1, Boundaries: window(start, 30*24*time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, result.Aggregation.Equal(decimal.NewFromInt(-3)),
		"aggregation = %s", result.Aggregation)
	assert.True(t, result.PayInAdvanceAggregation.IsZero())
}

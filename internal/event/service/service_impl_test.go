package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	aggregationdomain "github.com/smallbiznis/tally/internal/aggregation/domain"
	aggregationrepo "github.com/smallbiznis/tally/internal/aggregation/repository"
	aggregationservice "github.com/smallbiznis/tally/internal/aggregation/service"
	customerdomain "github.com/smallbiznis/tally/internal/customer/domain"
	eventdomain "github.com/smallbiznis/tally/internal/event/domain"
	eventrepo "github.com/smallbiznis/tally/internal/event/repository"
	feedomain "github.com/smallbiznis/tally/internal/fee/domain"
	metricdomain "github.com/smallbiznis/tally/internal/metric/domain"
	metricrepo "github.com/smallbiznis/tally/internal/metric/repository"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	subscriptionservice "github.com/smallbiznis/tally/internal/subscription/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *stubNotifier) Notify(ctx context.Context, eventType string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType)
}

func (n *stubNotifier) sent(eventType string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type stubFeeService struct {
	mu     sync.Mutex
	called int
}

func (s *stubFeeService) CreateFromEvent(ctx context.Context, event *eventdomain.Event) (*feedomain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.called++
	return &feedomain.Result{}, nil
}

func (s *stubFeeService) EstimateFromEvent(ctx context.Context, event *eventdomain.Event) (*feedomain.Result, error) {
	return &feedomain.Result{}, nil
}

type ingestFixture struct {
	db       *gorm.DB
	svc      eventdomain.Service
	notifier *stubNotifier
	fees     *stubFeeService
	genID    *snowflake.Node

	orgID        snowflake.ID
	customer     customerdomain.Customer
	subscription subscriptiondomain.Subscription
	metric       metricdomain.Metric
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&customerdomain.Customer{},
		&subscriptiondomain.Subscription{},
		&metricdomain.Metric{},
		&metricdomain.MetricFilter{},
		&eventdomain.Event{},
		&aggregationdomain.CachedAggregation{},
		&aggregationdomain.PreAggregation{},
	))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	log := zap.NewNop()

	f := &ingestFixture{
		db:       db,
		notifier: &stubNotifier{},
		fees:     &stubFeeService{},
		genID:    node,
		orgID:    node.Generate(),
	}

	f.customer = customerdomain.Customer{
		ID:         node.Generate(),
		OrgID:      f.orgID,
		ExternalID: "cust_1",
		Name:       "Acme",
		Email:      "billing@acme.test",
	}
	require.NoError(t, db.Create(&f.customer).Error)

	f.subscription = subscriptiondomain.Subscription{
		ID:         node.Generate(),
		OrgID:      f.orgID,
		CustomerID: f.customer.ID,
		PlanID:     node.Generate(),
		ExternalID: "sub_1",
		Status:     subscriptiondomain.SubscriptionStatusActive,
		StartedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&f.subscription).Error)

	f.metric = metricdomain.Metric{
		ID:          node.Generate(),
		OrgID:       f.orgID,
		Code:        "api_calls",
		Name:        "API calls",
		Aggregation: metricdomain.AggregationSum,
		FieldName:   "value",
	}
	require.NoError(t, db.Create(&f.metric).Error)

	engine := aggregationservice.New(aggregationservice.Params{
		DB: db, Log: log, GenID: node, Repo: aggregationrepo.Provide(),
	})
	resolver := subscriptionservice.New(subscriptionservice.Params{DB: db, Log: log})

	f.svc = New(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Repo:       eventrepo.Provide(),
		MetricRepo: metricrepo.Provide(),
		Resolver:   resolver,
		Engine:     engine,
		Fees:       f.fees,
		Notifier:   f.notifier,
		Observe:    nil,
	})
	return f
}

func (f *ingestFixture) request(transactionID string) eventdomain.IngestRequest {
	return eventdomain.IngestRequest{
		OrganizationID:         f.orgID.String(),
		ExternalSubscriptionID: "sub_1",
		Code:                   "api_calls",
		TransactionID:          transactionID,
		Timestamp:              time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC),
		Properties:             map[string]any{"value": 5},
	}
}

func TestIngestStoresAndTriggersFees(t *testing.T) {
	f := newIngestFixture(t)

	event, err := f.svc.Ingest(context.Background(), f.request("tx-1"))
	require.NoError(t, err)
	require.NotNil(t, event.SubscriptionID)
	assert.Equal(t, f.subscription.ID, *event.SubscriptionID)
	assert.Equal(t, 1, f.fees.called)

	// Non-recurring sum metrics also feed the hourly accumulator.
	var preCount int64
	require.NoError(t, f.db.Model(&aggregationdomain.PreAggregation{}).Count(&preCount).Error)
	assert.Equal(t, int64(1), preCount)
}

func TestIngestRejectsDuplicateTransactionID(t *testing.T) {
	f := newIngestFixture(t)

	_, err := f.svc.Ingest(context.Background(), f.request("tx-dup"))
	require.NoError(t, err)

	_, err = f.svc.Ingest(context.Background(), f.request("tx-dup"))
	assert.ErrorIs(t, err, eventdomain.ErrDuplicateTransactionID)
	assert.True(t, f.notifier.sent("event.error"))

	var count int64
	require.NoError(t, f.db.Model(&eventdomain.Event{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, f.fees.called)
}

func TestIngestBackfillsSubscriptionFromCustomer(t *testing.T) {
	f := newIngestFixture(t)

	req := f.request("tx-backfill")
	req.ExternalSubscriptionID = ""
	req.ExternalCustomerID = "cust_1"

	event, err := f.svc.Ingest(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, event.SubscriptionID)
	assert.Equal(t, f.subscription.ID, *event.SubscriptionID)
	assert.Equal(t, "sub_1", event.ExternalSubscriptionID)
}

func TestIngestUnattachedEventIsStoredAndReported(t *testing.T) {
	f := newIngestFixture(t)

	req := f.request("tx-orphan")
	req.ExternalSubscriptionID = "sub_ghost"

	event, err := f.svc.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, event.SubscriptionID)
	assert.True(t, f.notifier.sent("event.missing_subscription"))
	assert.Equal(t, 0, f.fees.called)

	var count int64
	require.NoError(t, f.db.Model(&eventdomain.Event{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestIngestValidation(t *testing.T) {
	f := newIngestFixture(t)

	tests := []struct {
		name    string
		mutate  func(*eventdomain.IngestRequest)
		wantErr error
	}{
		{
			name:    "missing organization",
			mutate:  func(r *eventdomain.IngestRequest) { r.OrganizationID = "" },
			wantErr: eventdomain.ErrInvalidOrganization,
		},
		{
			name:    "missing code",
			mutate:  func(r *eventdomain.IngestRequest) { r.Code = " " },
			wantErr: eventdomain.ErrInvalidCode,
		},
		{
			name:    "missing transaction id",
			mutate:  func(r *eventdomain.IngestRequest) { r.TransactionID = "" },
			wantErr: eventdomain.ErrInvalidTransactionID,
		},
		{
			name:    "malformed precise amount",
			mutate:  func(r *eventdomain.IngestRequest) { r.PreciseTotalAmountCents = "abc" },
			wantErr: eventdomain.ErrMalformedProperties,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request("tx-invalid")
			tt.mutate(&req)
			_, err := f.svc.Ingest(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

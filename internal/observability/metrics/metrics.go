// Package metrics exposes application-level prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics holds counters for the event-to-fee pipeline.
type Metrics struct {
	eventsIngested      *prometheus.CounterVec
	eventsDeduplicated  *prometheus.CounterVec
	eventsUnattached    *prometheus.CounterVec
	feesCreated         *prometheus.CounterVec
	taxProviderFailures *prometheus.CounterVec
}

func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_events_ingested_total",
			Help: "Number of usage events accepted for processing.",
		}, []string{"org_id", "code"}),
		eventsDeduplicated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_events_deduplicated_total",
			Help: "Number of usage events rejected as duplicate transaction ids.",
		}, []string{"org_id", "code"}),
		eventsUnattached: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_events_unattached_total",
			Help: "Number of usage events stored without a resolved subscription.",
		}, []string{"org_id", "code"}),
		feesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_fees_created_total",
			Help: "Number of pay-in-advance fees persisted.",
		}, []string{"org_id"}),
		taxProviderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_tax_provider_failures_total",
			Help: "Number of aborted fee transactions caused by the tax provider.",
		}, []string{"org_id"}),
	}

	collectors := []prometheus.Collector{
		m.eventsIngested,
		m.eventsDeduplicated,
		m.eventsUnattached,
		m.feesCreated,
		m.taxProviderFailures,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordEventIngested(orgID, code string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(orgID, code).Inc()
}

func (m *Metrics) RecordEventDeduplicated(orgID, code string) {
	if m == nil {
		return
	}
	m.eventsDeduplicated.WithLabelValues(orgID, code).Inc()
}

func (m *Metrics) RecordEventUnattached(orgID, code string) {
	if m == nil {
		return
	}
	m.eventsUnattached.WithLabelValues(orgID, code).Inc()
}

func (m *Metrics) RecordFeeCreated(orgID string) {
	if m == nil {
		return
	}
	m.feesCreated.WithLabelValues(orgID).Inc()
}

func (m *Metrics) RecordTaxProviderFailure(orgID string) {
	if m == nil {
		return
	}
	m.taxProviderFailures.WithLabelValues(orgID).Inc()
}

// Module wires the prometheus registry and pipeline instruments.
var Module = fx.Module("observability.metrics",
	fx.Provide(func() *prometheus.Registry {
		return prometheus.NewRegistry()
	}),
	fx.Provide(New),
)

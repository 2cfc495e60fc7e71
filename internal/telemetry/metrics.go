// Package telemetry exposes the Prometheus counters/histograms an agent
// process emits on its optional debug listener (spec §10's AMBIENT STACK).
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all collectors for one agent process.
type Metrics struct {
	TicksTotal       *prometheus.CounterVec
	TickDuration     prometheus.Histogram
	MarketplaceCalls *prometheus.CounterVec
	MarketplaceRetries prometheus.Counter
	AuthorizationsSigned prometheus.Counter
	AuthorizedValueTotal prometheus.Counter
	EscrowTransitions *prometheus.CounterVec
	HeartbeatErrors  prometheus.Counter
}

// New creates a Metrics instance registered to the default registry.
func New(agent string) *Metrics {
	return NewWithRegistry(agent, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered to the given registerer.
func NewWithRegistry(agent string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "agent_ticks_total",
				Help:        "Total number of heartbeat ticks executed.",
				ConstLabels: prometheus.Labels{"agent": agent},
			},
			[]string{"status"},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "agent_tick_duration_seconds",
				Help:        "Heartbeat tick duration in seconds.",
				ConstLabels: prometheus.Labels{"agent": agent},
				Buckets:     []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		MarketplaceCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "agent_marketplace_calls_total",
				Help:        "Total marketplace HTTP calls by operation and outcome.",
				ConstLabels: prometheus.Labels{"agent": agent},
			},
			[]string{"operation", "outcome"},
		),
		MarketplaceRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "agent_marketplace_retries_total",
				Help:        "Total marketplace HTTP retries (network/429).",
				ConstLabels: prometheus.Labels{"agent": agent},
			},
		),
		AuthorizationsSigned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "agent_authorizations_signed_total",
				Help:        "Total payment authorizations signed.",
				ConstLabels: prometheus.Labels{"agent": agent},
			},
		),
		AuthorizedValueTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "agent_authorized_value_total",
				Help:        "Total value (smallest units) across signed authorizations.",
				ConstLabels: prometheus.Labels{"agent": agent},
			},
		),
		EscrowTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "agent_escrow_transitions_total",
				Help:        "Total escrow state transitions by target state.",
				ConstLabels: prometheus.Labels{"agent": agent},
			},
			[]string{"to"},
		),
		HeartbeatErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "agent_heartbeat_errors_total",
				Help:        "Total ticks that ended in an error heartbeat.",
				ConstLabels: prometheus.Labels{"agent": agent},
			},
		),
	}

	registerer.MustRegister(
		m.TicksTotal,
		m.TickDuration,
		m.MarketplaceCalls,
		m.MarketplaceRetries,
		m.AuthorizationsSigned,
		m.AuthorizedValueTotal,
		m.EscrowTransitions,
		m.HeartbeatErrors,
	)

	return m
}

// ObserveTick records a completed tick's duration and outcome.
func (m *Metrics) ObserveTick(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(status).Inc()
	m.TickDuration.Observe(d.Seconds())
	if status == "error" {
		m.HeartbeatErrors.Inc()
	}
}

// ObserveMarketplaceCall records the outcome of one marketplace HTTP call.
func (m *Metrics) ObserveMarketplaceCall(operation, outcome string) {
	if m == nil {
		return
	}
	m.MarketplaceCalls.WithLabelValues(operation, outcome).Inc()
}

// ObserveAuthorization records a signed payment authorization.
func (m *Metrics) ObserveAuthorization(value int64) {
	if m == nil {
		return
	}
	m.AuthorizationsSigned.Inc()
	m.AuthorizedValueTotal.Add(float64(value))
}

// ObserveEscrowTransition records a state machine transition.
func (m *Metrics) ObserveEscrowTransition(to string) {
	if m == nil {
		return
	}
	m.EscrowTransitions.WithLabelValues(to).Inc()
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics tracks ledger events moving from the outbox table to Pub/Sub.
type RelayMetrics struct {
	outcomes *prometheus.CounterVec
	lag      prometheus.Histogram
}

// NewRelayMetrics registers the relay metrics on the provided registerer.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return &RelayMetrics{}
	}
	m := &RelayMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_relay_events_total",
			Help: "Outbox events handled by the relay, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_relay_delivery_lag_seconds",
			Help:    "Time between an event being queued and Pub/Sub acknowledging it.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	reg.MustRegister(m.outcomes, m.lag)
	return m
}

// Outcome counts one handled event.
func (r *RelayMetrics) Outcome(eventType, outcome string) {
	if r == nil || r.outcomes == nil {
		return
	}
	r.outcomes.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// ObserveLag records how long a delivered event waited in the outbox.
func (r *RelayMetrics) ObserveLag(queuedAt, deliveredAt time.Time) {
	if r == nil || r.lag == nil || queuedAt.IsZero() {
		return
	}
	lag := deliveredAt.Sub(queuedAt)
	if lag < 0 {
		lag = 0
	}
	r.lag.Observe(lag.Seconds())
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics counts journal activity.
type LedgerMetrics struct {
	postings   *prometheus.CounterVec
	rejections *prometheus.CounterVec
	conflicts  prometheus.Counter
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_postings_total",
		Help: "Journal entries applied, by kind and balance bucket.",
	}, []string{"kind", "bucket"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_rejections_total",
		Help: "Journal appends rejected, by error code.",
	}, []string{"code"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_version_conflicts_total",
		Help: "Optimistic balance updates retried after a version conflict.",
	})
	reg.MustRegister(postings, rejections, conflicts)
	return &LedgerMetrics{
		postings:   postings,
		rejections: rejections,
		conflicts:  conflicts,
	}
}

// IncPosting increments the posting counter.
func (l *LedgerMetrics) IncPosting(kind, bucket string) {
	if l == nil || l.postings == nil {
		return
	}
	l.postings.WithLabelValues(normalizeLabel(kind), normalizeLabel(bucket)).Inc()
}

// IncRejection increments the rejection counter for the error code.
func (l *LedgerMetrics) IncRejection(code string) {
	if l == nil || l.rejections == nil {
		return
	}
	l.rejections.WithLabelValues(normalizeLabel(code)).Inc()
}

// IncConflict increments the version conflict counter.
func (l *LedgerMetrics) IncConflict() {
	if l == nil || l.conflicts == nil {
		return
	}
	l.conflicts.Inc()
}

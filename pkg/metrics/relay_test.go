package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRelayMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRelayMetrics(reg)

	m.Outcome("escrow_held", "delivered")
	m.Outcome("escrow_held", "delivered")
	m.Outcome("payout_failed", "parked")
	now := time.Now()
	m.ObserveLag(now.Add(-2*time.Second), now)
	m.ObserveLag(time.Time{}, now)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "ledger_relay_events_total", "event_type", "escrow_held")
	require.NoError(t, err)
	require.Equal(t, float64(2), got)

	lag := findMetricFamily(mfs, "ledger_relay_delivery_lag_seconds")
	require.NotNil(t, lag)
	require.EqualValues(t, 1, lag.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestRelayMetricsNilSafe(t *testing.T) {
	var m *RelayMetrics
	m.Outcome("", "")
	m.ObserveLag(time.Now(), time.Now())
}

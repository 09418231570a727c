package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)

	m.ObserveDuration("reservation-sweep", 250*time.Millisecond)
	m.IncSuccess("reservation-sweep")
	m.IncSuccess("reservation-sweep")
	m.IncFailure("voucher-expiry")
	m.IncSkipped("usage-cycle-reset")
	m.AddAffected("reservation-sweep", 12)
	m.AddAffected("reservation-sweep", 0)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	require.Equal(t, 2.0, counterValue(t, mfs, "ispbox_cron_runs_total", map[string]string{"job": "reservation-sweep", "outcome": CronOutcomeSuccess}))
	require.Equal(t, 1.0, counterValue(t, mfs, "ispbox_cron_runs_total", map[string]string{"job": "voucher-expiry", "outcome": CronOutcomeFailure}))
	require.Equal(t, 1.0, counterValue(t, mfs, "ispbox_cron_runs_total", map[string]string{"job": "usage-cycle-reset", "outcome": CronOutcomeSkipped}))
	require.Equal(t, 12.0, counterValue(t, mfs, "ispbox_cron_rows_affected_total", map[string]string{"job": "reservation-sweep"}))

	hist := findMetric(t, mfs, "ispbox_cron_job_duration_seconds", map[string]string{"job": "reservation-sweep"}).GetHistogram()
	require.EqualValues(t, 1, hist.GetSampleCount())
	require.InDelta(t, 0.25, hist.GetSampleSum(), 1e-9)
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	require.NotPanics(t, func() {
		m.IncSuccess("x")
		m.IncSkipped("x")
		m.AddAffected("x", 3)
		m.ObserveDuration("x", time.Second)
	})
	unregistered := NewCronJobMetrics(nil)
	require.NotPanics(t, func() { unregistered.IncFailure("") })
}

func counterValue(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	return findMetric(t, mfs, name, labels).GetCounter().GetValue()
}

func findMetric(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric.GetLabel(), labels) {
				return metric
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; ok {
			if v != p.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}

func TestHTTPMetricsGroupByStatusClass(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTP(reg)

	done := m.Begin()
	m.Observe("POST", "/api/v1/pools/{poolId}/allocate", 409, 20*time.Millisecond)
	m.Observe("POST", "/api/v1/pools/{poolId}/allocate", 402, 10*time.Millisecond)
	done()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	hist := findMetric(t, mfs, "ispbox_http_request_duration_seconds", map[string]string{
		"route":  "/api/v1/pools/{poolId}/allocate",
		"status": "4xx",
	}).GetHistogram()
	require.EqualValues(t, 2, hist.GetSampleCount())
	require.Equal(t, 0.0, findMetric(t, mfs, "ispbox_http_requests_in_flight", nil).GetGauge().GetValue())

	require.Equal(t, "unknown", statusClass(0))
	require.NotPanics(t, func() { (*HTTP)(nil).Begin()() })
}

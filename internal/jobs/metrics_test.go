package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("rollup:daily").End(nil))
	err := errors.New("boom")
	require.ErrorIs(t, m.Track("rollup:daily").End(err), err)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("rollup:daily", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("rollup:daily", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("rollup:daily")))
}

func TestCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddFacts("product", 3)
	m.AddFacts("product", 0)
	m.AddSyncRows("synced", 4)

	require.Equal(t, 3.0, testutil.ToFloat64(m.facts.WithLabelValues("product")))
	require.Equal(t, 4.0, testutil.ToFloat64(m.syncRows.WithLabelValues("synced")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddFacts("order", 1)
	m.AddSyncRows("synced", 1)
	require.NoError(t, m.Track("x").End(nil))
}

func TestDurationHistogramObserved(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NoError(t, m.Track("rollup:rebuild").End(nil))

	families, err := reg.Gather()
	require.NoError(t, err)
	var hist *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "rollup_job_duration_seconds" {
			hist = mf
		}
	}
	require.NotNil(t, hist)
	require.Equal(t, dto.MetricType_HISTOGRAM, hist.GetType())
	require.Len(t, hist.GetMetric(), 1)
	require.Equal(t, uint64(1), hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for roll-up jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	facts    *prometheus.CounterVec
	syncRows *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddFacts counts fact rows saved by a computation kind.
func (m *Metrics) AddFacts(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.facts.WithLabelValues(kind).Add(float64(count))
}

// AddSyncRows counts rows pushed to a parent partition, labelled by sync outcome.
func (m *Metrics) AddSyncRows(outcome string, count int) {
	if m == nil || count < 0 {
		return
	}
	m.syncRows.WithLabelValues(outcome).Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rollup_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rollup_jobs_failures_total",
		Help: "Total failures observed for roll-up jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rollup_job_duration_seconds",
		Help:    "Duration in seconds of roll-up job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	facts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rollup_facts_saved_total",
		Help: "Fact rows saved by aggregation, grouped by kind.",
	}, []string{"kind"})
	syncRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rollup_sync_rows_total",
		Help: "Fact rows pushed to parent partitions, grouped by outcome.",
	}, []string{"outcome"})
	registerer.MustRegister(runs, failures, duration, facts, syncRows)
	return &Metrics{runs: runs, failures: failures, duration: duration, facts: facts, syncRows: syncRows}
}

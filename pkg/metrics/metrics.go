package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Query metrics
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firn_queries_total",
			Help: "Total number of routed queries by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	PlanLevels = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "firn_plan_levels",
			Help:    "Number of levels in compiled query plans",
			Buckets: []float64{1, 2, 3, 4, 5, 6},
		},
	)

	PlanStatementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "firn_plan_statements_total",
			Help: "Total number of plan statements dispatched to workers",
		},
	)

	StatementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firn_statement_duration_seconds",
			Help:    "Time workers took to execute one plan statement",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Registry metrics
	WorkersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "firn_workers_active",
			Help: "Number of workers seen within the liveness TTL",
		},
	)

	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "firn_heartbeats_total",
			Help: "Total number of accepted worker heartbeats",
		},
	)

	RegistrationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "firn_registrations_total",
			Help: "Total number of worker registrations",
		},
	)

	// Worker-side metrics
	ShardsWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "firn_shards_written_total",
			Help: "Total number of shard files written by inserts",
		},
	)

	InsertRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "firn_insert_rows_total",
			Help: "Total number of rows ingested by inserts",
		},
	)
)

func init() {
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(PlanLevels)
	prometheus.MustRegister(PlanStatementsTotal)
	prometheus.MustRegister(StatementDuration)
	prometheus.MustRegister(WorkersActive)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(RegistrationsTotal)
	prometheus.MustRegister(ShardsWrittenTotal)
	prometheus.MustRegister(InsertRowsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

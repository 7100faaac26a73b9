// Package observability exposes Prometheus metrics for the pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plainquery_turns_total",
			Help: "Total number of finalized turns by status.",
		},
		[]string{"status"},
	)
	validationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plainquery_validation_failures_total",
			Help: "Total number of validation rule violations by rule.",
		},
		[]string{"rule"},
	)
	synthesisAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plainquery_synthesis_attempts_total",
			Help: "Total number of generation attempts, including retries.",
		},
	)
	executionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plainquery_execution_duration_seconds",
			Help:    "Sandbox execution latency.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
	executionRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plainquery_execution_rows_returned",
			Help:    "Rows materialized per executed statement.",
			Buckets: []float64{0, 1, 10, 50, 100, 250, 500, 1000},
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plainquery_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plainquery_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	catalogTables = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "plainquery_catalog_tables",
			Help: "Tables in the last successful catalog scan.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		turnsTotal,
		validationFailuresTotal,
		synthesisAttemptsTotal,
		executionDurationSeconds,
		executionRowsReturned,
		httpRequestsTotal,
		httpRequestDurationSeconds,
		catalogTables,
	)
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, path, status string, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, path, status).Observe(elapsed.Seconds())
}

// ObserveTurn records a finalized turn and its generation attempts.
func ObserveTurn(status string, synthesisAttempts int) {
	turnsTotal.WithLabelValues(status).Inc()
	if synthesisAttempts > 0 {
		synthesisAttemptsTotal.Add(float64(synthesisAttempts))
	}
}

// ObserveValidationFailure records every violated rule of a failed verdict.
func ObserveValidationFailure(rules []string) {
	for _, rule := range rules {
		validationFailuresTotal.WithLabelValues(rule).Inc()
	}
}

// ObserveExecution records sandbox latency and result size.
func ObserveExecution(elapsed time.Duration, rowCount int) {
	executionDurationSeconds.Observe(elapsed.Seconds())
	executionRowsReturned.Observe(float64(rowCount))
}

// SetCatalogTables records the size of the active catalog.
func SetCatalogTables(n int) {
	catalogTables.Set(float64(n))
}

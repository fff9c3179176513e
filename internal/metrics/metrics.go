// Package metrics exposes Prometheus collectors for the export engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	exportNodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_nodes_total",
			Help: "Total nodes processed, labeled by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	exportJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_jobs_total",
			Help: "Total export jobs run, labeled by final status.",
		},
		[]string{"status"},
	)

	exportActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "export_active_workers",
			Help: "Workers currently processing a fetch task.",
		},
	)

	exportThrottleSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "export_throttle_delay_seconds",
			Help:    "Time spent waiting on per-source pacing.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"source"},
	)

	exportPageCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_page_calls_total",
			Help: "Total paginated list calls issued, labeled by source.",
		},
		[]string{"source"},
	)

	exportRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_retries_total",
			Help: "Total retried source calls, labeled by source.",
		},
		[]string{"source"},
	)

	exportDuplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_duplicates_total",
			Help: "Tasks discarded because the node was already claimed.",
		},
		[]string{"source"},
	)

	exportFetchSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "export_fetch_duration_seconds",
			Help:    "Latency of node fetches, labeled by source.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"source"},
	)
)

// Handler returns an http.Handler for exposing the collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveNode increments the node counter for the given source and outcome.
func ObserveNode(source, outcome string) {
	exportNodesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveJob increments the job counter for the given final status.
func ObserveJob(status string) {
	exportJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	exportActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	exportActiveWorkers.Dec()
}

// ObserveThrottleDelay records time spent waiting on the per-source pacer.
func ObserveThrottleDelay(source string, d time.Duration) {
	exportThrottleSeconds.WithLabelValues(source).Observe(d.Seconds())
}

// ObservePageCall counts one paginated list call.
func ObservePageCall(source string) {
	exportPageCallsTotal.WithLabelValues(source).Inc()
}

// ObserveRetry counts one retried source call.
func ObserveRetry(source string) {
	exportRetryTotal.WithLabelValues(source).Inc()
}

// ObserveDuplicate counts one task that lost the claim race.
func ObserveDuplicate(source string) {
	exportDuplicatesTotal.WithLabelValues(source).Inc()
}

// ObserveFetchDuration records the latency of a node fetch.
func ObserveFetchDuration(source string, d time.Duration) {
	exportFetchSeconds.WithLabelValues(source).Observe(d.Seconds())
}

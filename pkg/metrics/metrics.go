// Package metrics exposes Prometheus collectors for the ingestion
// pipeline: package throughput, per-stage duration, and worker pool
// utilization. All metrics are registered against a package-level
// registry so main.go can serve /metrics without wiring each collector
// individually.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the registry all metrics package collectors register
	// against. A dedicated registry (rather than the global default)
	// keeps /metrics free of Go runtime noise unless explicitly added.
	Registry = prometheus.NewRegistry()

	PackagesProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metacam_packages_processed_total",
		Help: "Count of packages that reached a terminal outcome, by outcome.",
	}, []string{"outcome"})

	StageDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "metacam_stage_duration_seconds",
		Help:    "Duration of each pipeline stage, in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	InflightPackages = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "metacam_inflight_packages",
		Help: "Number of packages currently being processed by the orchestrator.",
	})

	WorkerPoolUtilization = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "metacam_worker_pool_utilization",
		Help: "Fraction of worker pool slots currently busy (0.0-1.0).",
	})

	ValidationOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metacam_validation_outcomes_total",
		Help: "Count of validation results, by pass/fail and validator name.",
	}, []string{"validator", "result"})

	RetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metacam_retries_total",
		Help: "Count of retry attempts, by error code.",
	}, []string{"code"})
)

func init() {
	Registry.MustRegister(
		PackagesProcessedTotal,
		StageDurationSeconds,
		InflightPackages,
		WorkerPoolUtilization,
		ValidationOutcomesTotal,
		RetriesTotal,
	)
}

// Handler returns an http.Handler serving the metrics registry, for
// wiring behind METRICS_ADDR.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Serve starts a blocking HTTP server exposing /metrics on addr. Callers
// typically run this in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}

// Package metrics exposes Prometheus collectors for the harvest pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	harvestPagesTotal      *prometheus.CounterVec
	harvestRecordsTotal    *prometheus.CounterVec
	harvestRetriesTotal    *prometheus.CounterVec
	harvestBytesTotal      *prometheus.CounterVec
	harvestRateDelay       prometheus.Gauge
	harvestActiveWorkers   prometheus.Gauge
	harvestRateWaitSeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		harvestPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_pages_total",
				Help: "Total number of listing pages handled, labeled by section and status.",
			},
			[]string{"section", "status"},
		)

		harvestRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_records_total",
				Help: "Total number of records processed, labeled by section and outcome.",
			},
			[]string{"section", "outcome"},
		)

		harvestRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_retries_total",
				Help: "Total retry attempts, labeled by call kind and error class.",
			},
			[]string{"kind", "class"},
		)

		harvestBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_artifact_bytes_total",
				Help: "Total artifact bytes downloaded, labeled by section.",
			},
			[]string{"section"},
		)

		harvestRateDelay = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_rate_delay_seconds",
				Help: "Current shared inter-request delay chosen by the rate controller.",
			},
		)

		harvestActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_active_workers",
				Help: "Number of record workers currently processing.",
			},
		)

		harvestRateWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvest_rate_wait_seconds",
				Help:    "Time spent blocked in the rate controller before a network call.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)
	})
}

// IncPage records a page reaching a terminal scheduler state.
func IncPage(section, status string) {
	if harvestPagesTotal != nil {
		harvestPagesTotal.WithLabelValues(section, status).Inc()
	}
}

// IncRecord records one processed record by outcome.
func IncRecord(section, outcome string) {
	if harvestRecordsTotal != nil {
		harvestRecordsTotal.WithLabelValues(section, outcome).Inc()
	}
}

// IncRetry records one retry attempt for the given call kind.
func IncRetry(kind, class string) {
	if harvestRetriesTotal != nil {
		harvestRetriesTotal.WithLabelValues(kind, class).Inc()
	}
}

// AddArtifactBytes records downloaded artifact volume.
func AddArtifactBytes(section string, n int) {
	if harvestBytesTotal != nil {
		harvestBytesTotal.WithLabelValues(section).Add(float64(n))
	}
}

// SetRateDelay publishes the rate controller's current delay.
func SetRateDelay(d time.Duration) {
	if harvestRateDelay != nil {
		harvestRateDelay.Set(d.Seconds())
	}
}

// WorkerStarted increments the active worker gauge.
func WorkerStarted() {
	if harvestActiveWorkers != nil {
		harvestActiveWorkers.Inc()
	}
}

// WorkerStopped decrements the active worker gauge.
func WorkerStopped() {
	if harvestActiveWorkers != nil {
		harvestActiveWorkers.Dec()
	}
}

// ObserveRateWait records time spent waiting on the shared rate budget.
func ObserveRateWait(d time.Duration) {
	if harvestRateWaitSeconds != nil {
		harvestRateWaitSeconds.Observe(d.Seconds())
	}
}

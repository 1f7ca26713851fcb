// Package metrics holds the tracker's Prometheus collectors. There is no
// inbound HTTP surface, so values are published by writing a node-exporter
// textfile (see WriteTextfile).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activeWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "satpass_active_workers",
		Help: "Number of pass workers currently holding an admission slot.",
	})

	passesAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "satpass_passes_admitted_total",
		Help: "Total number of passes admitted by the scheduler.",
	})

	workerResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satpass_worker_results_total",
			Help: "Pass worker completions by outcome.",
		},
		[]string{"result"},
	)

	refreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satpass_refreshes_total",
			Help: "Element refresh cycles by outcome.",
		},
		[]string{"result"},
	)

	refreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "satpass_refresh_duration_seconds",
		Help:    "Duration of element refresh cycles.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	predictorCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "satpass_predictors",
		Help: "Number of tracked satellites with a live predictor.",
	})

	sourceFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satpass_source_fetches_total",
			Help: "Element source lookups by source and result (fresh, fetched, timeout, failed).",
		},
		[]string{"source", "result"},
	)

	lastRefresh = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "satpass_last_refresh_timestamp_seconds",
		Help: "Unix time of the last element refresh.",
	})
)

func init() {
	prometheus.MustRegister(
		activeWorkers,
		passesAdmitted,
		workerResults,
		refreshesTotal,
		refreshDuration,
		predictorCount,
		sourceFetches,
		lastRefresh,
	)
}

// SetActiveWorkers records the number of occupied admission slots.
func SetActiveWorkers(n int) {
	activeWorkers.Set(float64(n))
}

// IncPassesAdmitted counts one admitted pass.
func IncPassesAdmitted() {
	passesAdmitted.Inc()
}

// RecordWorkerResult counts a worker completion ("ok", "failed", "cancelled").
func RecordWorkerResult(result string) {
	workerResults.WithLabelValues(result).Inc()
}

// RecordRefresh counts a refresh cycle and its duration.
func RecordRefresh(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	refreshesTotal.WithLabelValues(result).Inc()
	refreshDuration.Observe(d.Seconds())
	lastRefresh.SetToCurrentTime()
}

// SetPredictorCount records the size of the live predictor set.
func SetPredictorCount(n int) {
	predictorCount.Set(float64(n))
}

// RecordSourceFetch counts one source lookup in a fetch cycle.
func RecordSourceFetch(source, result string) {
	sourceFetches.WithLabelValues(source, result).Inc()
}

// WriteTextfile writes every registered metric to path in the text
// exposition format, for the node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal          *prometheus.CounterVec
	fetchBytesTotal       *prometheus.CounterVec
	fetchDurationSeconds  *prometheus.HistogramVec
	unitsTotal            *prometheus.CounterVec
	recordsTotal          *prometheus.CounterVec
	variantSwitchFailures *prometheus.CounterVec
	mergeConflictsTotal   *prometheus.CounterVec
	rateLimitDelaySeconds prometheus.Histogram
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times; every
// observer calls it, so callers never see nil collectors.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetches_total",
				Help: "Fragment requests, labeled by variant and status class.",
			},
			[]string{"variant", "status"},
		)
		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_bytes_total",
				Help: "Bytes of fragment bodies fetched, labeled by variant.",
			},
			[]string{"variant"},
		)
		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Fragment request latency, labeled by variant.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"variant"},
		)
		unitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_units_total",
				Help: "Checkpoint units, labeled by phase and outcome (done, skipped, failed).",
			},
			[]string{"phase", "outcome"},
		)
		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_total",
				Help: "Records emitted, labeled by stage (flattened, extracted).",
			},
			[]string{"stage"},
		)
		variantSwitchFailures = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_variant_switch_failures_total",
				Help: "Rejected variant switches, labeled by variant.",
			},
			[]string{"variant"},
		)
		mergeConflictsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_merge_conflicts_total",
				Help: "Tree paths written by more than one fragment, labeled by variant.",
			},
			[]string{"variant"},
		)
		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Time requests spent waiting on origin pacing.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_status_http_requests_total",
				Help: "Status server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_status_http_request_duration_seconds",
				Help:    "Status server latency, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusClass buckets an HTTP status as "2xx", "4xx", ... or "error" for transport failures.
func StatusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// ObserveFetch records one fragment request.
func ObserveFetch(variant string, status int, bytesFetched int, duration time.Duration) {
	Init()
	fetchesTotal.WithLabelValues(variant, StatusClass(status)).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(variant).Add(float64(bytesFetched))
	}
	fetchDurationSeconds.WithLabelValues(variant).Observe(duration.Seconds())
}

// ObserveUnit records a checkpoint unit outcome.
func ObserveUnit(phase, outcome string) {
	Init()
	unitsTotal.WithLabelValues(phase, outcome).Inc()
}

// AddRecords counts records produced by a stage.
func AddRecords(stage string, n int) {
	Init()
	if n > 0 {
		recordsTotal.WithLabelValues(stage).Add(float64(n))
	}
}

// ObserveVariantSwitchFailure counts a rejected switch.
func ObserveVariantSwitchFailure(variant string) {
	Init()
	variantSwitchFailures.WithLabelValues(variant).Inc()
}

// AddMergeConflicts counts overlapping tree writes.
func AddMergeConflicts(variant string, n int) {
	Init()
	if n > 0 {
		mergeConflictsTotal.WithLabelValues(variant).Add(float64(n))
	}
}

// ObserveRateLimitDelay records a pacing wait.
func ObserveRateLimitDelay(d time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest records one status server request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"harvester/pkg/fetch"
)

var (
	fetchAttemptsTotal   *prometheus.CounterVec
	fetchDurationSeconds *prometheus.HistogramVec
	fetchRetriesTotal    *prometheus.CounterVec
	retryDelaySeconds    prometheus.Histogram
	rateLimitWaitSeconds prometheus.Histogram
	unitsTotal           *prometheus.CounterVec
	recordsSavedTotal    prometheus.Counter
	quotaUsed            prometheus.Gauge
	orchestratorState    *prometheus.GaugeVec
	activeWorkers        prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_attempts_total",
				Help: "Total number of HTTP attempts, labeled by classified outcome.",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Histogram of single attempt latencies, labeled by outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"outcome"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_retries_total",
				Help: "Total number of retries, labeled by the outcome that caused them.",
			},
			[]string{"outcome"},
		)

		retryDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_retry_delay_seconds",
				Help:    "Histogram of backoff and Retry-After delays.",
				Buckets: []float64{0.5, 1, 2, 4, 8, 16, 30, 60, 120},
			},
		)

		rateLimitWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_wait_seconds",
				Help:    "Histogram of waits imposed by the global request spacing.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		unitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_units_total",
				Help: "Total number of finished units, labeled by disposition.",
			},
			[]string{"disposition"},
		)

		recordsSavedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_records_saved_total",
				Help: "Total number of new records written to the sink.",
			},
		)

		quotaUsed = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_quota_used",
				Help: "Search API calls counted against today's quota.",
			},
		)

		orchestratorState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvester_orchestrator_state",
				Help: "1 for the current orchestrator state, 0 otherwise.",
			},
			[]string{"state"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently processing a unit.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveRateLimitWait records a wait imposed by the request spacing gate
func ObserveRateLimitWait(d time.Duration) {
	Init()
	rateLimitWaitSeconds.Observe(d.Seconds())
}

// ObserveUnit counts a finished unit
func ObserveUnit(disposition string) {
	Init()
	unitsTotal.WithLabelValues(disposition).Inc()
}

// ObserveRecordSaved counts a newly stored record
func ObserveRecordSaved() {
	Init()
	recordsSavedTotal.Inc()
}

// SetQuotaUsed publishes today's quota usage
func SetQuotaUsed(count int) {
	Init()
	quotaUsed.Set(float64(count))
}

// SetState marks current as the active state among all known states
func SetState(current string, all []string) {
	Init()
	for _, s := range all {
		value := 0.0
		if s == current {
			value = 1
		}
		orchestratorState.WithLabelValues(s).Set(value)
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// FetchObserver feeds fetch client telemetry into the collectors
type FetchObserver struct{}

var _ fetch.Observer = FetchObserver{}

func (FetchObserver) ObserveAttempt(kind fetch.Kind, duration time.Duration) {
	Init()
	fetchAttemptsTotal.WithLabelValues(kind.String()).Inc()
	fetchDurationSeconds.WithLabelValues(kind.String()).Observe(duration.Seconds())
}

func (FetchObserver) ObserveRetry(kind fetch.Kind, delay time.Duration) {
	Init()
	fetchRetriesTotal.WithLabelValues(kind.String()).Inc()
	retryDelaySeconds.Observe(delay.Seconds())
}

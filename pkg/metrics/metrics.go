// Package metrics provides Prometheus metrics for the TWAP oracle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EpochsCommittedTotal is a counter of committed epochs by source.
	EpochsCommittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epochs_committed_total",
			Help: "Total number of epochs committed with a price, by source",
		},
		[]string{"source"},
	)

	// EpochsSkippedTotal is a counter of permanently skipped epochs by reason.
	EpochsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epochs_skipped_total",
			Help: "Total number of epochs skipped without a price, by reason",
		},
		[]string{"reason"},
	)

	// FeedRoundsConsumedTotal is a counter of primary feed rounds consumed.
	FeedRoundsConsumedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_rounds_consumed_total",
			Help: "Total number of primary feed rounds consumed by the reader",
		},
	)

	// UpdateCycleDuration is a histogram of update cycle durations.
	UpdateCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "update_cycle_duration_seconds",
			Help:    "Duration of epoch update cycles",
			Buckets: prometheus.DefBuckets,
		},
	)

	// UpdateCyclesTotal is a counter of update cycle outcomes.
	UpdateCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "update_cycles_total",
			Help: "Total number of update cycle invocations by outcome",
		},
		[]string{"outcome"},
	)

	// ManualSubmissionsTotal is a counter of manual price submissions.
	ManualSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manual_submissions_total",
			Help: "Total number of manual price submissions by status",
		},
		[]string{"status"},
	)

	// LastDecidedEpoch is a gauge of the most recently decided epoch boundary.
	LastDecidedEpoch = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "last_decided_epoch_timestamp",
			Help: "Unix timestamp of the most recently decided epoch boundary",
		},
	)

	// PrimaryCursorRound is a gauge of the primary feed cursor position.
	PrimaryCursorRound = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "primary_cursor_round",
			Help: "Round ID the primary feed cursor last consumed",
		},
	)

	// HTTPRequestsTotal is a counter of total HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint"},
	)
)

// Init initializes Prometheus metrics registry.
func Init() {
	// Register all metrics
	prometheus.MustRegister(
		EpochsCommittedTotal,
		EpochsSkippedTotal,
		FeedRoundsConsumedTotal,
		UpdateCycleDuration,
		UpdateCyclesTotal,
		ManualSubmissionsTotal,
		LastDecidedEpoch,
		PrimaryCursorRound,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ServeHTTP serves Prometheus metrics on the specified address.
func ServeHTTP(addr string) error {
	http.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      http.DefaultServeMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// RecordEpochCommitted records an epoch committed with a price.
func RecordEpochCommitted(source string, epoch uint64) {
	EpochsCommittedTotal.WithLabelValues(source).Inc()
	LastDecidedEpoch.Set(float64(epoch))
}

// RecordEpochSkipped records an epoch skipped without a price.
func RecordEpochSkipped(reason string, epoch uint64) {
	EpochsSkippedTotal.WithLabelValues(reason).Inc()
	LastDecidedEpoch.Set(float64(epoch))
}

// RecordRoundsConsumed records primary feed rounds consumed in a cycle.
func RecordRoundsConsumed(n int, cursorRound uint64) {
	FeedRoundsConsumedTotal.Add(float64(n))
	PrimaryCursorRound.Set(float64(cursorRound))
}

// RecordUpdateCycle records an update cycle invocation.
func RecordUpdateCycle(outcome string, duration time.Duration) {
	UpdateCyclesTotal.WithLabelValues(outcome).Inc()
	UpdateCycleDuration.Observe(duration.Seconds())
}

// RecordManualSubmission records a manual price submission attempt.
func RecordManualSubmission(status string) {
	ManualSubmissionsTotal.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

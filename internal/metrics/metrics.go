// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "healthbridge"

var (
	// Cycle Metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of source cycles by outcome",
		},
		[]string{"source", "status"}, // status: success, failed, skipped
	)

	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of source cycles including fetch and merge",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source"},
	)

	SourceStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_status",
			Help:      "Source scheduling state (0=idle, 1=running, 2=sleeping, 3=disabled)",
		},
		[]string{"source"},
	)

	SourceConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_consecutive_failures",
			Help:      "Current number of consecutive failed cycles",
		},
		[]string{"source"},
	)

	SourceLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_last_success_timestamp",
			Help:      "Unix timestamp of the last successful cycle",
		},
		[]string{"source"},
	)

	DataShapeIssues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_shape_issues_total",
			Help:      "Provider records skipped because of an unexpected shape",
		},
		[]string{"source"},
	)

	// Credential Metrics
	CredentialRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_refresh_total",
			Help:      "Total number of credential refresh attempts",
		},
		[]string{"source", "result"}, // result: success, rejected, unsupported, error
	)

	// Merge Metrics
	MergeDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_decisions_total",
			Help:      "Merge decisions per canonical field",
		},
		[]string{"field", "decision"},
	)

	MergeRowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_rows_written_total",
			Help:      "Total number of record rows written by the merger",
		},
	)

	CounterIncrements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_increment_total",
			Help:      "Sum of increments applied to counter fields",
		},
		[]string{"field"},
	)

	MergeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_duration_seconds",
			Help:      "Time spent applying one fragment, including the sink write",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15},
		},
	)

	MergeWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_write_failures_total",
			Help:      "Failed record sink write attempts",
		},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Duration of record set queries",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_query_errors_total",
			Help:      "Total number of failed record set queries",
		},
		[]string{"operation"},
	)

	StateGCRounds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_gc_rounds_total",
			Help:      "Value log files rewritten by state store garbage collection",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_requests_total",
			Help:      "Total number of fetches through the circuit breaker",
		},
		[]string{"source", "result"}, // result: success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"source", "from_state", "to_state"},
	)

	// Scale Metrics
	ScalePayloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scale_payloads_total",
			Help:      "Scale upload packets by outcome",
		},
		[]string{"result"}, // result: accepted, filtered, invalid, queue_full
	)

	WeightPushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weight_pushes_total",
			Help:      "Scale readings copied to Garmin Connect by outcome",
		},
		[]string{"result"}, // result: success, error
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API request latency",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_active_requests",
			Help:      "Number of API requests being served",
		},
	)
)

// Source status gauge values.
const (
	StatusIdle     = 0
	StatusRunning  = 1
	StatusSleeping = 2
	StatusDisabled = 3
)

// RecordCycle records the outcome of one source cycle.
func RecordCycle(source, status string, duration time.Duration) {
	CyclesTotal.WithLabelValues(source, status).Inc()
	if status == "skipped" {
		return
	}
	CycleDuration.WithLabelValues(source).Observe(duration.Seconds())
	if status == "success" {
		SourceLastSuccess.WithLabelValues(source).Set(float64(time.Now().Unix()))
	}
}

// SetSourceState publishes the scheduling state of a source.
func SetSourceState(source string, status float64, consecutiveFailures int) {
	SourceStatus.WithLabelValues(source).Set(status)
	SourceConsecutiveFailures.WithLabelValues(source).Set(float64(consecutiveFailures))
}

// RecordCredentialRefresh records a credential refresh attempt.
func RecordCredentialRefresh(source, result string) {
	CredentialRefreshTotal.WithLabelValues(source, result).Inc()
}

// RecordDataShapeIssues adds n skipped provider records for source.
func RecordDataShapeIssues(source string, n int) {
	if n <= 0 {
		return
	}
	DataShapeIssues.WithLabelValues(source).Add(float64(n))
}

// RecordDBQuery records a record set query.
func RecordDBQuery(operation string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordScalePayload records the outcome of a scale upload.
func RecordScalePayload(result string) {
	ScalePayloads.WithLabelValues(result).Inc()
}

// RecordWeightPush records the outcome of copying a reading to Garmin.
func RecordWeightPush(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	WeightPushes.WithLabelValues(result).Inc()
}

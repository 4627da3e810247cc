package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataaccess_retries_total",
		Help: "Total number of retry attempts by executor and error kind",
	}, []string{"executor", "error_kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dataaccess_retry_backoff_seconds",
		Help:    "Backoff duration before a retry",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"executor"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataaccess_retry_exhausted_total",
		Help: "Operations that failed after exhausting every attempt",
	}, []string{"executor", "error_kind"})

	releaseFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataaccess_release_failures_total",
		Help: "Failures returning a resource to its pool after an attempt",
	}, []string{"executor"})
)

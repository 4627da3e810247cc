package upstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataaccess_upstream_requests_total",
		Help: "Upstream page requests by status class",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dataaccess_upstream_request_duration_seconds",
		Help:    "Upstream page request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataaccess_upstream_pages_total",
		Help: "Pages processed by the aggregator by result",
	}, []string{"result"})

	aggregationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataaccess_upstream_aggregations_total",
		Help: "Finished aggregations by outcome",
	}, []string{"outcome"})

	aggregatedRecords = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dataaccess_upstream_aggregated_records",
		Help:    "Primary records per aggregation",
		Buckets: prometheus.ExponentialBuckets(10, 4, 8),
	})
)

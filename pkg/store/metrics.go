package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "dataaccess_store_query_duration_seconds",
	Help:    "Repository call duration including pool wait and retries",
	Buckets: prometheus.DefBuckets,
}, []string{"operation"})

func observeQuery(op string, start time.Time) {
	queryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

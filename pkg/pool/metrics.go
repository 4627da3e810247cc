package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolCapacity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dataaccess_pool_capacity",
		Help: "Configured maximum number of pooled resources",
	}, []string{"pool"})

	poolResourcesActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dataaccess_pool_resources_active",
		Help: "Pooled resources currently borrowed",
	}, []string{"pool"})

	poolResourcesTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dataaccess_pool_resources_total",
		Help: "Pooled resources currently open or being opened",
	}, []string{"pool"})

	poolWaiters = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dataaccess_pool_waiters",
		Help: "Callers queued for a pooled resource",
	}, []string{"pool"})

	poolAcquireDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dataaccess_pool_acquire_duration_seconds",
		Help:    "Time spent acquiring a pooled resource",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	}, []string{"pool"})

	poolAcquireTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataaccess_pool_acquire_timeouts_total",
		Help: "Acquire calls that timed out",
	}, []string{"pool"})

	poolDiscardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataaccess_pool_discards_total",
		Help: "Pooled resources discarded after a fatal fault",
	}, []string{"pool"})

	poolMisuseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataaccess_pool_misuse_total",
		Help: "Rejected release or discard of resources not borrowed from the pool",
	}, []string{"pool", "op"})
)

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lookups tracks page cache lookups by result (hit, miss).
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataaccess_page_cache_lookups_total",
			Help: "Total number of page cache lookups",
		},
		[]string{"result"},
	)

	// Revalidations tracks conditional requests by result (not_modified, modified).
	Revalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataaccess_page_cache_revalidations_total",
			Help: "Total number of conditional page requests",
		},
		[]string{"result"},
	)

	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataaccess_page_cache_errors_total",
			Help: "Total number of page cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)

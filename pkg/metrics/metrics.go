// Package metrics exposes the Prometheus registry of the data-access layer.
// All metrics are defined in their respective packages (pool, retry, token,
// upstream, cache, ratelimit, store, credential) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and the HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the data-access layer.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry's read side.
var Gatherer = prometheus.DefaultGatherer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Pool Metrics (pkg/pool):
//   - dataaccess_pool_capacity{pool} (Gauge): Configured maximum number of resources
//   - dataaccess_pool_resources_active{pool} (Gauge): Resources currently borrowed
//   - dataaccess_pool_resources_total{pool} (Gauge): Resources open or being opened
//   - dataaccess_pool_waiters{pool} (Gauge): Callers queued for a resource
//   - dataaccess_pool_acquire_duration_seconds{pool} (Histogram): Acquire latency
//   - dataaccess_pool_acquire_timeouts_total{pool} (Counter): Acquire calls that timed out
//   - dataaccess_pool_discards_total{pool} (Counter): Resources discarded after a fault
//   - dataaccess_pool_misuse_total{pool, op} (Counter): Rejected release or discard calls
//
// Retry Metrics (pkg/retry):
//   - dataaccess_retries_total{executor, error_kind} (Counter): Retry attempts
//   - dataaccess_retry_backoff_seconds{executor} (Histogram): Backoff before a retry
//   - dataaccess_retry_exhausted_total{executor, error_kind} (Counter): Operations out of attempts
//   - dataaccess_release_failures_total{executor} (Counter): Failed returns to the pool
//
// Token Metrics (pkg/token):
//   - dataaccess_token_validations_total{state} (Counter): Validations by state found
//   - dataaccess_token_refreshes_total{result} (Counter): Refresh outcomes
//   - dataaccess_token_refresh_duration_seconds (Histogram): Refresh call duration
//   - dataaccess_token_rejections_total (Counter): Credentials refused upstream
//
// Upstream Metrics (pkg/upstream, pkg/ratelimit):
//   - dataaccess_upstream_requests_total{status} (Counter): Page requests by status class
//   - dataaccess_upstream_request_duration_seconds (Histogram): Page request duration
//   - dataaccess_upstream_pages_total{result} (Counter): Pages processed by the aggregator
//   - dataaccess_upstream_aggregations_total{outcome} (Counter): Finished aggregations
//   - dataaccess_upstream_aggregated_records (Histogram): Records per aggregation
//   - dataaccess_upstream_ratelimit_remaining{upstream} (Gauge): Requests left in the window
//   - dataaccess_upstream_ratelimit_decisions_total{upstream, decision} (Counter): Gate decisions
//
// Page Cache Metrics (pkg/cache):
//   - dataaccess_page_cache_lookups_total{result} (Counter): Lookups by hit or miss
//   - dataaccess_page_cache_revalidations_total{result} (Counter): Conditional requests by not_modified or modified
//   - dataaccess_page_cache_errors_total{operation} (Counter): Failed Redis operations
//
// Storage Metrics (pkg/store, pkg/credential):
//   - dataaccess_store_query_duration_seconds{operation} (Histogram): Repository call duration
//   - dataaccess_credential_store_ops_total{store, operation, result} (Counter): Credential store calls
//
// Example Prometheus Queries:
//
//   # Pool saturation
//   dataaccess_pool_resources_active / dataaccess_pool_capacity
//
//   # Retry exhaustion rate
//   sum(rate(dataaccess_retry_exhausted_total[5m])) by (executor)
//
//   # Share of partial aggregations
//   rate(dataaccess_upstream_aggregations_total{outcome="partial"}[5m]) /
//   sum(rate(dataaccess_upstream_aggregations_total[5m]))
//
//   # Page cache hit ratio
//   sum(rate(dataaccess_page_cache_lookups_total{result="hit"}[5m])) /
//   sum(rate(dataaccess_page_cache_lookups_total[5m]))
//
//   # P95 page latency
//   histogram_quantile(0.95, rate(dataaccess_upstream_request_duration_seconds_bucket[5m]))

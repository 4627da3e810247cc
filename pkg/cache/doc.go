// Package cache keeps upstream pages in Redis so repeated aggregations can
// revalidate them with conditional requests instead of downloading them
// again.
//
// Pages are private to the credential that fetched them. Every entry lives
// under a scope derived from the bearer token (CredentialScope), so a page
// is only ever offered back to a request carrying the same token, and the
// scope never comes from request input.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, time.Hour)
//	client, _ := upstream.NewClient(cfg, upstream.WithCache(manager))
//
// # Freshness
//
// An entry is fresh until the time given by Cache-Control max-age or, when
// that is absent, the Expires header. Entries are kept for the retention
// period past that and revalidated with If-None-Match or If-Modified-Since;
// a 304 answer renews them. Responses marked no-store are never cached.
//
// The upstream client revalidates every entry, fresh or not, because the
// upstream must see the bearer to detect a revoked credential.
//
// # Metrics
//
//   - dataaccess_page_cache_lookups_total{result} - hit or miss
//   - dataaccess_page_cache_revalidations_total{result} - not_modified or modified
//   - dataaccess_page_cache_errors_total{operation} - Redis failures
package cache

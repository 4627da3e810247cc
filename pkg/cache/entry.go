package cache

import "time"

// Entry is a cached page body with the validators needed to revalidate it.
type Entry struct {
	// Body is the raw page body.
	Body []byte `json:"body"`

	// ETag for conditional requests (If-None-Match)
	ETag string `json:"etag,omitempty"`

	// LastModified for conditional requests (If-Modified-Since)
	LastModified time.Time `json:"last_modified"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when the body was stored.
	CachedAt time.Time `json:"cached_at"`
}

// IsFresh reports whether the entry may be served without a request.
func (e *Entry) IsFresh(now time.Time) bool {
	return now.Before(e.Expires)
}

// CanRevalidate reports whether a conditional request can be made.
func (e *Entry) CanRevalidate() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}

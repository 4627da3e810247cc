package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// EntryFromResponse builds an entry from a 200 response. It returns false
// when the response must not be cached or can neither stay fresh nor be
// revalidated.
func EntryFromResponse(h http.Header, body []byte, now time.Time) (*Entry, bool) {
	if hasDirective(h, "no-store") {
		return nil, false
	}

	entry := &Entry{
		Body:     body,
		ETag:     h.Get("ETag"),
		Expires:  freshUntil(h, now),
		CachedAt: now,
	}
	if lm := h.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			entry.LastModified = t
		}
	}

	if !entry.IsFresh(now) && !entry.CanRevalidate() {
		return nil, false
	}
	return entry, true
}

// Revalidated renews an entry after a 304 answer.
func Revalidated(entry *Entry, h http.Header, now time.Time) *Entry {
	renewed := *entry
	renewed.Expires = freshUntil(h, now)
	if etag := h.Get("ETag"); etag != "" {
		renewed.ETag = etag
	}
	return &renewed
}

// freshUntil reads Cache-Control max-age, then Expires. Without either the
// response is stale immediately and must be revalidated.
func freshUntil(h http.Header, now time.Time) time.Time {
	if hasDirective(h, "no-cache") {
		return now
	}
	for _, directive := range directives(h) {
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
				return now.Add(time.Duration(secs) * time.Second)
			}
		}
	}
	if exp := h.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil && t.After(now) {
			return t
		}
	}
	return now
}

func directives(h http.Header) []string {
	var out []string
	for _, v := range h.Values("Cache-Control") {
		for _, d := range strings.Split(v, ",") {
			out = append(out, strings.ToLower(strings.TrimSpace(d)))
		}
	}
	return out
}

func hasDirective(h http.Header, name string) bool {
	for _, d := range directives(h) {
		if d == name {
			return true
		}
	}
	return false
}

// AddConditionalHeaders adds If-None-Match (ETag) or If-Modified-Since headers
// to the request if the cache entry supports conditional requests.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if entry == nil || req == nil {
		return
	}

	// Prefer ETag over Last-Modified (more accurate)
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.UTC().Format(http.TimeFormat))
	}
}

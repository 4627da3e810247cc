// Package testutil provides test doubles for the data-access layer: a fake
// pool connection factory and a mock upstream API with an OAuth token
// endpoint.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Credentials the mock accepts before any refresh.
const (
	InitialAccessToken  = "initial-access"
	InitialRefreshToken = "initial-refresh"
	ValidAuthCode       = "valid-code"
)

// MockAPI is a paginated JSON:API upstream. Page n of /items holds
// records of type "item" with ids "<n>-<i>", includes the records
// owner/o<n> and category/shared, and links to page n+1 until the last
// page. /oauth/token implements the refresh_token and authorization_code
// grants, and /oauth/authorize redirects straight back with ValidAuthCode.
type MockAPI struct {
	server *httptest.Server

	mu            sync.Mutex
	pages         []int
	failures      map[int]int
	delays        map[int]time.Duration
	tokens        map[string]bool
	refreshToken  string
	tokenSeq      int
	expiresIn     int
	tokenDelay    time.Duration
	rateRemaining int
	cacheMaxAge   int

	pageRequests []int
	refreshCount int
	notModified  int
	lastAuth     string
}

// NewMockAPI starts a mock with no pages.
func NewMockAPI() *MockAPI {
	m := &MockAPI{
		failures:      make(map[int]int),
		delays:        make(map[int]time.Duration),
		tokens:        map[string]bool{InitialAccessToken: true},
		refreshToken:  InitialRefreshToken,
		expiresIn:     1200,
		rateRemaining: -1,
		cacheMaxAge:   -1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/items", m.handleItems)
	mux.HandleFunc("/oauth/token", m.handleToken)
	mux.HandleFunc("/oauth/authorize", m.handleAuthorize)
	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the server root.
func (m *MockAPI) URL() string { return m.server.URL }

// ItemsURL returns the first page of the collection.
func (m *MockAPI) ItemsURL() string { return m.server.URL + "/items?page=1" }

// TokenURL returns the OAuth token endpoint.
func (m *MockAPI) TokenURL() string { return m.server.URL + "/oauth/token" }

// AuthURL returns the OAuth authorization endpoint.
func (m *MockAPI) AuthURL() string { return m.server.URL + "/oauth/authorize" }

// Client returns an HTTP client for the server.
func (m *MockAPI) Client() *http.Client { return m.server.Client() }

// Close shuts down the server.
func (m *MockAPI) Close() { m.server.Close() }

// SetPages sets the number of records on each page.
func (m *MockAPI) SetPages(counts ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = append([]int(nil), counts...)
}

// FailPage makes page answer with status.
func (m *MockAPI) FailPage(page, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[page] = status
}

// SetPageDelay delays the response for page.
func (m *MockAPI) SetPageDelay(page int, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[page] = d
}

// SetTokenDelay delays every token response.
func (m *MockAPI) SetTokenDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenDelay = d
}

// SetExpiresIn sets the lifetime of issued access tokens in seconds.
func (m *MockAPI) SetExpiresIn(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiresIn = seconds
}

// SetRateLimit makes pages advertise remaining requests; -1 omits the
// headers.
func (m *MockAPI) SetRateLimit(remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateRemaining = remaining
}

// SetCaching makes pages carry an ETag and "private, max-age" and answer
// a matching If-None-Match with 304; -1 turns caching headers off.
func (m *MockAPI) SetCaching(maxAge int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheMaxAge = maxAge
}

// NotModifiedCount returns how many 304 responses were sent.
func (m *MockAPI) NotModifiedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notModified
}

// RevokeTokens invalidates every access token and the refresh token.
func (m *MockAPI) RevokeTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = make(map[string]bool)
	m.refreshToken = ""
}

// PageRequests returns the page numbers requested, in order.
func (m *MockAPI) PageRequests() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.pageRequests...)
}

// RefreshCount returns how many refresh grants succeeded.
func (m *MockAPI) RefreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCount
}

// LastAuthorization returns the Authorization header of the last page
// request.
func (m *MockAPI) LastAuthorization() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAuth
}

// CurrentRefreshToken returns the refresh token the mock accepts.
func (m *MockAPI) CurrentRefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshToken
}

func (m *MockAPI) handleItems(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		http.Error(w, `{"errors":[{"detail":"invalid page"}]}`, http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.pageRequests = append(m.pageRequests, page)
	m.lastAuth = r.Header.Get("Authorization")
	authorized := len(m.lastAuth) > 7 && m.tokens[m.lastAuth[7:]]
	status, failing := m.failures[page]
	delay := m.delays[page]
	pages := append([]int(nil), m.pages...)
	remaining := m.rateRemaining
	maxAge := m.cacheMaxAge
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if remaining >= 0 {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", "60")
	}

	switch {
	case !authorized:
		writeJSON(w, http.StatusUnauthorized, map[string]any{"errors": []any{map[string]string{"detail": "invalid token"}}})
		return
	case failing:
		writeJSON(w, status, map[string]any{"errors": []any{map[string]string{"detail": "page failure"}}})
		return
	case page > len(pages):
		writeJSON(w, http.StatusNotFound, map[string]any{"errors": []any{map[string]string{"detail": "no such page"}}})
		return
	}

	if maxAge >= 0 {
		etag := fmt.Sprintf(`"page-%d-%d"`, page, pages[page-1])
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", maxAge))
		if r.Header.Get("If-None-Match") == etag {
			m.mu.Lock()
			m.notModified++
			m.mu.Unlock()
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	data := make([]map[string]any, 0, pages[page-1])
	for i := 0; i < pages[page-1]; i++ {
		data = append(data, map[string]any{
			"type": "item",
			"id":   fmt.Sprintf("%d-%d", page, i),
			"attributes": map[string]any{
				"page":  page,
				"index": i,
			},
		})
	}

	var next any
	if page < len(pages) {
		next = fmt.Sprintf("/items?page=%d", page+1)
	}
	w.Header().Set("Content-Type", "application/vnd.api+json")
	writeJSON(w, http.StatusOK, map[string]any{
		"data": data,
		"included": []map[string]any{
			{"type": "owner", "id": fmt.Sprintf("o%d", page), "attributes": map[string]any{"page": page}},
			{"type": "category", "id": "shared", "attributes": map[string]any{"seen_on": page}},
		},
		"links": map[string]any{"next": next},
	})
}

func (m *MockAPI) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	m.mu.Lock()
	delay := m.tokenDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "refresh_token":
		if m.refreshToken == "" || r.PostForm.Get("refresh_token") != m.refreshToken {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		m.refreshCount++
	case "authorization_code":
		if r.PostForm.Get("code") != ValidAuthCode {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	m.tokenSeq++
	access := fmt.Sprintf("access-%d", m.tokenSeq)
	m.refreshToken = fmt.Sprintf("refresh-%d", m.tokenSeq)
	m.tokens[access] = true

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"token_type":    "Bearer",
		"refresh_token": m.refreshToken,
		"expires_in":    m.expiresIn,
	})
}

func (m *MockAPI) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	redirect, err := url.Parse(r.URL.Query().Get("redirect_uri"))
	if err != nil || redirect.String() == "" {
		http.Error(w, "redirect_uri is required", http.StatusBadRequest)
		return
	}
	q := redirect.Query()
	q.Set("code", ValidAuthCode)
	q.Set("state", r.URL.Query().Get("state"))
	redirect.RawQuery = q.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

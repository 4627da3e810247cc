// Package upstream fetches paginated JSON:API collections from an external
// REST API on behalf of a user and aggregates them into one ordered result.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/dataaccess/pkg/cache"
	"github.com/Sternrassler/dataaccess/pkg/fault"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// maxPageBytes bounds a single page body.
const maxPageBytes = 32 << 20

// Resource is one JSON:API resource object.
type Resource struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// Page is one decoded response envelope.
type Page struct {
	Data     []Resource
	Included []Resource
	// Next is the absolute URL of the following page, empty on the last one.
	Next string
}

// Gate is consulted before and informed after every request. It is
// satisfied by *ratelimit.Tracker.
type Gate interface {
	Wait(ctx context.Context) error
	Observe(ctx context.Context, headers http.Header) error
}

// PageCache stores page bodies between runs. It is satisfied by
// *cache.Manager.
type PageCache interface {
	Get(ctx context.Context, key cache.Key) (*cache.Entry, error)
	Set(ctx context.Context, key cache.Key, entry *cache.Entry) error
	Delete(ctx context.Context, key cache.Key) error
}

// Config holds the page client settings.
type Config struct {
	// UserAgent is sent with every request.
	UserAgent string
	// PageTimeout bounds one page request.
	PageTimeout time.Duration
	// RequestsPerSecond paces requests locally; 0 disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns a 15s page timeout and 10 requests per second.
func DefaultConfig() Config {
	return Config{
		UserAgent:         "dataaccess/1.0",
		PageTimeout:       15 * time.Second,
		RequestsPerSecond: 10,
		Burst:             5,
	}
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithGate installs a shared rate limit gate.
func WithGate(g Gate) ClientOption {
	return func(c *Client) { c.gate = g }
}

// WithCache enables conditional page requests. Entries are scoped to the
// bearer token that fetched them.
func WithCache(pc PageCache) ClientOption {
	return func(c *Client) { c.cache = pc }
}

// WithClientLogger sets the logger.
func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// Client fetches single pages.
type Client struct {
	httpClient *http.Client
	cfg        Config
	limiter    *rate.Limiter
	gate       Gate
	cache      PageCache
	logger     zerolog.Logger
	now        func() time.Time
}

// NewClient creates a page client.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.PageTimeout <= 0 {
		return nil, fmt.Errorf("page timeout must be > 0 (got %s)", cfg.PageTimeout)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		httpClient: &http.Client{},
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     log.With().Str("component", "upstream").Logger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchPage requests pageURL with the bearer token and decodes the
// envelope. A 401 or 403 fails with fault.KindAuthorizationExpired, other
// 4xx with fault.KindCallerInput, and everything else that goes wrong with
// fault.KindUpstreamPage.
//
// When the caller's context ends first the error is fault.KindTimeout.
//
// With a cache, a stored page is always revalidated with its validators so
// the upstream sees the bearer on every fetch; a 304 answer reuses the
// stored body.
func (c *Client) FetchPage(ctx context.Context, pageURL, bearer string) (*Page, error) {
	const op = "upstream.fetch_page"

	base, err := url.Parse(pageURL)
	if err != nil || !base.IsAbs() {
		return nil, fault.New(fault.KindCallerInput, op, fmt.Sprintf("invalid page url %q", pageURL))
	}

	key, cached := c.lookup(ctx, pageURL, bearer)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fault.Wrap(fault.KindTimeout, op, err)
	}
	if c.gate != nil {
		if err := c.gate.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, fault.Wrap(fault.KindTimeout, op, ctx.Err())
			}
			return nil, fault.Wrapf(fault.KindUpstreamPage, op, err, "rate limit gate")
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.PageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fault.Wrapf(fault.KindCallerInput, op, err, "invalid page url")
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/vnd.api+json, application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	cache.AddConditionalHeaders(req, cached)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues("network_error").Inc()
		if ctx.Err() != nil {
			return nil, fault.Wrap(fault.KindTimeout, op, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fault.Wrapf(fault.KindUpstreamPage, op, err, "page timed out after %s", c.cfg.PageTimeout)
		}
		return nil, fault.Wrap(fault.KindUpstreamPage, op, err)
	}
	defer resp.Body.Close()
	requestDuration.Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(statusClass(resp.StatusCode)).Inc()

	if c.gate != nil {
		if err := c.gate.Observe(reqCtx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record upstream rate limit state")
		}
	}

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		cache.Revalidations.WithLabelValues("not_modified").Inc()
		c.store(ctx, key, cache.Revalidated(cached, resp.Header, c.now()))
		return c.decode(op, cached.Body, base)
	}
	if cached != nil {
		cache.Revalidations.WithLabelValues("modified").Inc()
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		err := statusError(op, resp.StatusCode)
		if cached != nil && fault.Is(err, fault.KindAuthorizationExpired) {
			c.forget(ctx, key)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fault.Wrap(fault.KindTimeout, op, ctx.Err())
		}
		return nil, fault.Wrapf(fault.KindUpstreamPage, op, err, "read page body")
	}
	if len(body) > maxPageBytes {
		return nil, fault.New(fault.KindUpstreamPage, op, "page body exceeds size limit")
	}

	page, err := c.decode(op, body, resp.Request.URL)
	if err != nil {
		return nil, err
	}
	if key != nil {
		if entry, ok := cache.EntryFromResponse(resp.Header, body, c.now()); ok && entry.CanRevalidate() {
			c.store(ctx, key, entry)
		}
	}
	return page, nil
}

func (c *Client) decode(op string, body []byte, base *url.URL) (*Page, error) {
	page, err := decodePage(body, base)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamPage, op, err)
	}
	return page, nil
}

// lookup returns the cache key for pageURL under bearer and any entry
// stored under it. The key is nil without a cache.
func (c *Client) lookup(ctx context.Context, pageURL, bearer string) (*cache.Key, *cache.Entry) {
	if c.cache == nil {
		return nil, nil
	}
	key := &cache.Key{Scope: cache.CredentialScope(bearer), URL: pageURL}

	entry, err := c.cache.Get(ctx, *key)
	switch {
	case err == nil:
		cache.Lookups.WithLabelValues("hit").Inc()
		return key, entry
	case errors.Is(err, cache.ErrCacheMiss):
		cache.Lookups.WithLabelValues("miss").Inc()
	default:
		cache.Lookups.WithLabelValues("miss").Inc()
		c.logger.Warn().Err(err).Msg("Page cache lookup failed")
	}
	return key, nil
}

// store writes entry without failing the fetch.
func (c *Client) store(ctx context.Context, key *cache.Key, entry *cache.Entry) {
	if err := c.cache.Set(ctx, *key, entry); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to cache page")
	}
}

// forget drops the entry of a credential the upstream refused.
func (c *Client) forget(ctx context.Context, key *cache.Key) {
	if err := c.cache.Delete(ctx, *key); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to drop cached page")
	}
}

func statusError(op string, status int) error {
	msg := fmt.Sprintf("upstream answered %d %s", status, http.StatusText(status))
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fault.New(fault.KindAuthorizationExpired, op, msg)
	case status == http.StatusTooManyRequests:
		return fault.New(fault.KindUpstreamPage, op, msg)
	case status >= 400 && status < 500:
		return fault.New(fault.KindCallerInput, op, msg)
	default:
		return fault.New(fault.KindUpstreamPage, op, msg)
	}
}

// decodePage parses {data, included, links.next}. A single resource object
// in data is accepted as a one-element page.
func decodePage(body []byte, base *url.URL) (*Page, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("malformed page body")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, errors.New("page body is not an object")
	}

	data := doc.Get("data")
	if !data.Exists() {
		return nil, errors.New("page has no data member")
	}

	page := &Page{}
	var err error
	if page.Data, err = resources(data); err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	if page.Included, err = resources(doc.Get("included")); err != nil {
		return nil, fmt.Errorf("included: %w", err)
	}

	next := doc.Get("links.next")
	// links.next may be a string or a link object {"href": ...}
	if next.IsObject() {
		next = next.Get("href")
	}
	if next.Type == gjson.String && next.Str != "" {
		ref, err := url.Parse(next.Str)
		if err != nil {
			return nil, fmt.Errorf("links.next: %w", err)
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		page.Next = ref.String()
	}
	return page, nil
}

func resources(v gjson.Result) ([]Resource, error) {
	switch {
	case !v.Exists(), v.Type == gjson.Null:
		return nil, nil
	case v.IsObject():
		r, err := resource(v)
		if err != nil {
			return nil, err
		}
		return []Resource{r}, nil
	case v.IsArray():
		items := v.Array()
		out := make([]Resource, 0, len(items))
		for i, item := range items {
			r, err := resource(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, r)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected %s", v.Type)
	}
}

func resource(v gjson.Result) (Resource, error) {
	if !v.IsObject() {
		return Resource{}, errors.New("resource is not an object")
	}
	r := Resource{
		Type: v.Get("type").String(),
		ID:   v.Get("id").String(),
	}
	if r.Type == "" {
		return Resource{}, errors.New("resource has no type")
	}
	if attrs := v.Get("attributes"); attrs.IsObject() {
		r.Attributes = json.RawMessage(attrs.Raw)
	}
	return r, nil
}

func statusClass(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}

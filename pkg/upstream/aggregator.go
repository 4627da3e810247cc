package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/dataaccess/pkg/credential"
	"github.com/Sternrassler/dataaccess/pkg/fault"
	"github.com/Sternrassler/dataaccess/pkg/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCursorReused ends a stream whose next link points at a page that
	// was already consumed.
	ErrCursorReused = errors.New("next link points at an already fetched page")

	// ErrPageLimit ends a stream that exceeds the configured page limit.
	ErrPageLimit = errors.New("page limit reached")

	// ErrForeignLink ends a stream whose next link leaves the host of the
	// initial URL. The bearer token is never sent there.
	ErrForeignLink = errors.New("next link points at another host")
)

// Outcome is how an aggregation ended.
type Outcome int

const (
	// OutcomeComplete means the last page had no next link.
	OutcomeComplete Outcome = iota
	// OutcomePartial means at least one page was fetched before the stream
	// ended early. Result.Err holds the cause.
	OutcomePartial
	// OutcomeNeedsAuthorization means the credential is unusable and the
	// user must authorize again.
	OutcomeNeedsAuthorization
	// OutcomeFailed means no page could be fetched.
	OutcomeFailed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomePartial:
		return "partial"
	case OutcomeNeedsAuthorization:
		return "needs_authorization"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

type resourceKey struct{ typ, id string }

// Result is the outcome of FetchAll. It is not modified after FetchAll
// returns.
type Result struct {
	// Records holds the primary records in page order.
	Records []Resource
	// Included holds the auxiliary records, deduplicated by (type, id).
	Included []Resource
	// Progress is the number of primary records accumulated.
	Progress int
	// Pages is the number of pages fetched successfully.
	Pages   int
	Outcome Outcome
	// Err is why the stream ended early; nil when complete.
	Err error

	included map[resourceKey]int
}

// Partial reports whether the result is missing pages.
func (r *Result) Partial() bool {
	return r.Outcome != OutcomeComplete
}

// Lookup finds an included record.
func (r *Result) Lookup(typ, id string) (Resource, bool) {
	i, ok := r.included[resourceKey{typ, id}]
	if !ok {
		return Resource{}, false
	}
	return r.Included[i], true
}

func (r *Result) addIncluded(res Resource) {
	k := resourceKey{res.Type, res.ID}
	if i, ok := r.included[k]; ok {
		r.Included[i] = res
		return
	}
	r.included[k] = len(r.Included)
	r.Included = append(r.Included, res)
}

// PageFetcher fetches one page. *Client implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL, bearer string) (*Page, error)
}

// Tokens supplies bearer tokens. *token.Manager implements it.
type Tokens interface {
	Validate(ctx context.Context, store credential.Store) (token.Validation, error)
	Reject(ctx context.Context, store credential.Store) error
}

// ProgressFunc is called after every page with the records and pages so far.
type ProgressFunc func(records, pages int)

type fetchSettings struct {
	progress ProgressFunc
	maxPages int
}

// FetchOption customizes one FetchAll call.
type FetchOption func(*fetchSettings)

// WithProgress reports progress after each page.
func WithProgress(fn ProgressFunc) FetchOption {
	return func(s *fetchSettings) { s.progress = fn }
}

// WithMaxPages stops after n pages with a partial result.
func WithMaxPages(n int) FetchOption {
	return func(s *fetchSettings) { s.maxPages = n }
}

// Aggregator walks a paginated collection page by page.
type Aggregator struct {
	pages    PageFetcher
	tokens   Tokens
	maxPages int
	logger   zerolog.Logger
}

// NewAggregator creates an aggregator. maxPages caps every run unless a
// call overrides it; 0 means no cap.
func NewAggregator(pages PageFetcher, tokens Tokens, maxPages int, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		pages:    pages,
		tokens:   tokens,
		maxPages: maxPages,
		logger:   logger.With().Str("component", "aggregator").Logger(),
	}
}

// NewDefaultAggregator uses the global logger and no page cap.
func NewDefaultAggregator(pages PageFetcher, tokens Tokens) *Aggregator {
	return NewAggregator(pages, tokens, 0, log.Logger)
}

// FetchAll follows next links from initialURL until the collection ends.
// Pages are fetched strictly one after another, each with a freshly
// validated token.
//
// A page failure after at least one good page yields OutcomePartial and a
// nil error; Result.Err holds the cause. Authorization failures yield
// OutcomeNeedsAuthorization with an error of kind
// fault.KindAuthorizationExpired, and a run without any good page yields
// OutcomeFailed with the page error. The result is non-nil in every case.
func (a *Aggregator) FetchAll(ctx context.Context, store credential.Store, initialURL string, opts ...FetchOption) (*Result, error) {
	const op = "upstream.fetch_all"

	settings := fetchSettings{maxPages: a.maxPages}
	for _, opt := range opts {
		opt(&settings)
	}

	res := &Result{included: make(map[resourceKey]int)}
	if initialURL == "" {
		res.Outcome = OutcomeFailed
		res.Err = fault.New(fault.KindCallerInput, op, "initial url is required")
		return res, res.Err
	}

	start := time.Now()
	logger := a.logger.With().Str("url", initialURL).Logger()
	seen := map[string]bool{}
	cursor := initialURL

	for cursor != "" {
		if settings.maxPages > 0 && res.Pages >= settings.maxPages {
			res.Err = fmt.Errorf("%w (%d)", ErrPageLimit, settings.maxPages)
			break
		}
		seen[cursor] = true

		v, err := a.tokens.Validate(ctx, store)
		if err != nil {
			res.Err = err
			break
		}
		if v.NeedsAuthorization {
			return a.needsAuthorization(res, logger, fault.New(fault.KindAuthorizationExpired, op, "authorization required"))
		}

		page, err := a.pages.FetchPage(ctx, cursor, v.Token)
		if err != nil {
			pagesTotal.WithLabelValues("failure").Inc()
			if fault.Is(err, fault.KindAuthorizationExpired) {
				if rerr := a.tokens.Reject(ctx, store); rerr != nil {
					logger.Error().Err(rerr).Msg("Failed to clear rejected credential")
				}
				return a.needsAuthorization(res, logger, err)
			}
			logger.Warn().
				Err(err).
				Int("page", res.Pages+1).
				Int("records", res.Progress).
				Msg("Page fetch failed, ending stream")
			res.Err = err
			break
		}
		pagesTotal.WithLabelValues("success").Inc()

		res.Records = append(res.Records, page.Data...)
		for _, inc := range page.Included {
			res.addIncluded(inc)
		}
		res.Pages++
		res.Progress = len(res.Records)

		logger.Debug().
			Int("page", res.Pages).
			Int("records", res.Progress).
			Str("next", page.Next).
			Msg("Page fetched")

		if settings.progress != nil {
			settings.progress(res.Progress, res.Pages)
		}

		cursor = page.Next
		if cursor != "" && seen[cursor] {
			res.Err = fault.Wrapf(fault.KindUpstreamPage, op, ErrCursorReused, "cursor %s", cursor)
			break
		}
		if cursor != "" && !sameOrigin(initialURL, cursor) {
			res.Err = fault.Wrapf(fault.KindUpstreamPage, op, ErrForeignLink, "cursor %s", cursor)
			break
		}
	}

	switch {
	case res.Err == nil:
		res.Outcome = OutcomeComplete
	case res.Pages == 0:
		res.Outcome = OutcomeFailed
	default:
		res.Outcome = OutcomePartial
	}
	aggregationsTotal.WithLabelValues(res.Outcome.String()).Inc()
	aggregatedRecords.Observe(float64(res.Progress))

	event := logger.Info()
	if res.Outcome != OutcomeComplete {
		event = logger.Warn().Err(res.Err)
	}
	event.
		Str("outcome", res.Outcome.String()).
		Int("pages", res.Pages).
		Int("records", res.Progress).
		Int("included", len(res.Included)).
		Dur("duration", time.Since(start)).
		Msg("Aggregation finished")

	if res.Outcome == OutcomeFailed {
		return res, res.Err
	}
	return res, nil
}

func (a *Aggregator) needsAuthorization(res *Result, logger zerolog.Logger, err error) (*Result, error) {
	res.Outcome = OutcomeNeedsAuthorization
	res.Err = err
	aggregationsTotal.WithLabelValues(res.Outcome.String()).Inc()
	logger.Warn().
		Err(err).
		Int("pages", res.Pages).
		Int("records", res.Progress).
		Msg("Aggregation aborted, authorization required")
	return res, err
}

// sameOrigin reports whether a and b share scheme and host.
func sameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) && strings.EqualFold(ua.Host, ub.Host)
}

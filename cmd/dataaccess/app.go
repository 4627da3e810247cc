package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/dataaccess/internal/syncer"
	"github.com/Sternrassler/dataaccess/pkg/cache"
	"github.com/Sternrassler/dataaccess/pkg/config"
	"github.com/Sternrassler/dataaccess/pkg/logging"
	"github.com/Sternrassler/dataaccess/pkg/ratelimit"
	"github.com/Sternrassler/dataaccess/pkg/store"
	"github.com/Sternrassler/dataaccess/pkg/token"
	"github.com/Sternrassler/dataaccess/pkg/upstream"
	"github.com/redis/go-redis/v9"
)

// app holds the long-lived components shared by the commands.
type app struct {
	cfg     *config.Config
	redis   *redis.Client
	backend *store.Backend
	records *store.Records
	tokens  *token.Manager
	agg     *upstream.Aggregator
	syncer  *syncer.Syncer
}

// newApp connects Redis and the upstream client. The database is opened
// only when withDB is set.
func newApp(ctx context.Context, cfg *config.Config, withDB bool) (*app, error) {
	a := &app{cfg: cfg}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		a.redis.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	oauth, err := token.NewOAuth2Client(cfg.OAuthClientConfig(), &http.Client{Timeout: cfg.Token.RefreshTimeout})
	if err != nil {
		a.redis.Close()
		return nil, fmt.Errorf("oauth client: %w", err)
	}
	a.tokens = token.NewManager(oauth, cfg.TokenConfig(), logging.NewLogger("token"))

	gate := ratelimit.NewTracker(a.redis, upstreamName(cfg.Upstream.BaseURL), logging.NewLogger("ratelimit"))
	pages, err := upstream.NewClient(cfg.UpstreamConfig(),
		upstream.WithGate(gate),
		upstream.WithCache(cache.NewManager(a.redis, cfg.Upstream.CacheRetention)),
		upstream.WithClientLogger(logging.NewLogger("upstream")),
	)
	if err != nil {
		a.redis.Close()
		return nil, fmt.Errorf("upstream client: %w", err)
	}
	a.agg = upstream.NewAggregator(pages, a.tokens, cfg.Upstream.MaxPages, logging.NewLogger("aggregator"))

	if withDB {
		policy, err := cfg.RetryPolicy()
		if err != nil {
			a.redis.Close()
			return nil, err
		}
		a.backend, err = store.Connect(ctx, cfg.StoreConfig(), policy, logging.NewLogger("store"))
		if err != nil {
			a.redis.Close()
			return nil, err
		}
		a.records = store.NewRecords(a.backend.Exec)
		a.syncer = syncer.New(a.agg, a.records, logging.NewLogger("syncer"))
	}
	return a, nil
}

// collectionURL resolves path against the upstream base URL.
func (a *app) collectionURL(path string) (string, error) {
	return resolveCollection(a.cfg.Upstream.BaseURL, path)
}

func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.backend != nil {
		errs = append(errs, a.backend.Close(ctx))
	}
	errs = append(errs, a.redis.Close())
	return errors.Join(errs...)
}

func resolveCollection(baseURL, path string) (string, error) {
	if baseURL == "" {
		return "", errors.New("upstream.base_url is not configured")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("upstream.base_url: %w", err)
	}
	if path == "" {
		return base.String(), nil
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("collection path: %w", err)
	}
	// The bearer token follows this URL, so it must stay on the upstream.
	if ref.Scheme != "" || ref.Host != "" || ref.User != nil {
		return "", fmt.Errorf("collection path %q must be relative to the upstream", path)
	}
	resolved := base.ResolveReference(ref)
	if !strings.EqualFold(resolved.Scheme, base.Scheme) || !strings.EqualFold(resolved.Host, base.Host) {
		return "", fmt.Errorf("collection path %q leaves the upstream", path)
	}
	return resolved.String(), nil
}

// upstreamName keys the shared rate limit state.
func upstreamName(baseURL string) string {
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		return u.Host
	}
	return "default"
}

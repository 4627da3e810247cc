// Package token keeps upstream OAuth credentials usable: it classifies the
// stored credential, refreshes it shortly before expiry and clears it when
// the user has to authorize again.
//
// A Manager is shared by all requests. Concurrent validations holding the
// same refresh token share one refresh call, and a refresh token that was
// just rotated is answered from memory so that late arrivals do not spend
// the old token a second time.
package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/dataaccess/pkg/credential"
	"github.com/Sternrassler/dataaccess/pkg/fault"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Refresher talks to the authorization server.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (credential.Credential, error)
	Exchange(ctx context.Context, code string) (credential.Credential, error)
	AuthCodeURL(state string) string
}

// Config tunes a Manager.
type Config struct {
	// RefreshBuffer is how long before expiry a token counts as expiring.
	RefreshBuffer time.Duration
	// RefreshTimeout bounds one refresh call. It is independent of the
	// caller's context so an abandoned request cannot cut a rotation short.
	RefreshTimeout time.Duration
	// RotationGrace is how long a rotated refresh token is answered from
	// memory.
	RotationGrace time.Duration
	// StoreTTL is passed to the store when saving; 0 keeps fields until
	// cleared.
	StoreTTL time.Duration
}

// DefaultConfig returns a 30s refresh buffer and 10s refresh timeout.
func DefaultConfig() Config {
	return Config{
		RefreshBuffer:  30 * time.Second,
		RefreshTimeout: 10 * time.Second,
		RotationGrace:  time.Minute,
	}
}

// Validation is the outcome of Validate.
type Validation struct {
	Token              string
	TokenType          string
	State              State
	NeedsAuthorization bool
}

type rotation struct {
	cred credential.Credential
	at   time.Time
}

// Manager validates and refreshes credentials held in a credential.Store.
type Manager struct {
	client Refresher
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	group singleflight.Group

	mu         sync.Mutex
	rotated    map[string]rotation
	refreshing map[string]int
}

// NewManager creates a manager. Zero config fields take their defaults.
func NewManager(client Refresher, cfg Config, logger zerolog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = def.RefreshBuffer
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = def.RefreshTimeout
	}
	if cfg.RotationGrace <= 0 {
		cfg.RotationGrace = def.RotationGrace
	}
	return &Manager{
		client:     client,
		cfg:        cfg,
		logger:     logger.With().Str("component", "token").Logger(),
		now:        time.Now,
		rotated:    make(map[string]rotation),
		refreshing: make(map[string]int),
	}
}

// NewDefaultManager uses the global logger.
func NewDefaultManager(client Refresher, cfg Config) *Manager {
	return NewManager(client, cfg, log.Logger)
}

// AuthCodeURL returns the authorization entry point for state.
func (m *Manager) AuthCodeURL(state string) string {
	return m.client.AuthCodeURL(state)
}

// State reports the state of the credential in store without changing it.
func (m *Manager) State(ctx context.Context, store credential.Store) (State, error) {
	c, err := credential.Load(ctx, store)
	if err != nil {
		return StateAbsent, fault.Wrap(fault.KindTransientBackend, "token.state", err)
	}
	s := Classify(c, m.now(), m.cfg.RefreshBuffer)
	if s == StateExpiring && m.inFlight(c.RefreshToken) {
		return StateRefreshing, nil
	}
	return s, nil
}

// Validate returns a usable access token, refreshing it first when it is
// expiring. When no usable token can be produced the store is cleared and
// NeedsAuthorization is set; that outcome is not an error. Errors are
// reserved for store failures and the caller's own cancellation.
func (m *Manager) Validate(ctx context.Context, store credential.Store) (Validation, error) {
	c, err := credential.Load(ctx, store)
	if err != nil {
		return Validation{}, fault.Wrap(fault.KindTransientBackend, "token.validate", err)
	}

	state := Classify(c, m.now(), m.cfg.RefreshBuffer)
	validationsTotal.WithLabelValues(state.String()).Inc()

	switch state {
	case StateValid:
		return Validation{Token: c.AccessToken, TokenType: c.TokenType, State: StateValid}, nil
	case StateAbsent:
		return Validation{State: StateInvalid, NeedsAuthorization: true}, nil
	case StateInvalid:
		m.logger.Info().Msg("Access token expired and no refresh token stored")
		return m.invalidate(ctx, store)
	default:
		return m.refresh(ctx, store, c.RefreshToken)
	}
}

// Authorize completes the authorization-code flow and stores the result.
func (m *Manager) Authorize(ctx context.Context, store credential.Store, code string) (Validation, error) {
	if code == "" {
		return Validation{}, fault.New(fault.KindCallerInput, "token.authorize", "authorization code is required")
	}

	c, err := m.client.Exchange(ctx, code)
	if err != nil {
		kind := fault.KindTransientBackend
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
			kind = fault.KindCallerInput
		}
		return Validation{}, fault.Wrapf(kind, "token.authorize", err, "code exchange failed")
	}
	if err := credential.Save(ctx, store, c, credential.SetOptions{TTL: m.cfg.StoreTTL}); err != nil {
		return Validation{}, fault.Wrap(fault.KindTransientBackend, "token.authorize", err)
	}

	m.logger.Info().Time("expiry", c.Expiry).Msg("Authorization completed")
	return Validation{Token: c.AccessToken, TokenType: c.TokenType, State: StateValid}, nil
}

// Reject clears the credential after the upstream refused it.
func (m *Manager) Reject(ctx context.Context, store credential.Store) error {
	rejectionsTotal.Inc()
	m.logger.Warn().Msg("Upstream rejected access token, clearing credential")
	if err := credential.Clear(ctx, store); err != nil {
		return fault.Wrap(fault.KindTransientBackend, "token.reject", err)
	}
	return nil
}

func (m *Manager) refresh(ctx context.Context, store credential.Store, refreshToken string) (Validation, error) {
	if c, ok := m.recentRotation(refreshToken); ok {
		refreshesTotal.WithLabelValues("memo").Inc()
		return m.adopt(ctx, store, c)
	}

	ch := m.group.DoChan(refreshToken, func() (any, error) {
		// a flight that finished between the check above and DoChan
		if c, ok := m.recentRotation(refreshToken); ok {
			return c, nil
		}
		m.track(refreshToken, 1)
		defer m.track(refreshToken, -1)

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.RefreshTimeout)
		defer cancel()

		start := time.Now()
		next, err := m.client.Refresh(rctx, refreshToken)
		refreshDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}
		if next.AccessToken == "" {
			return nil, errors.New("authorization server returned no access token")
		}
		if next.RefreshToken == "" {
			next.RefreshToken = refreshToken
		}
		m.remember(refreshToken, next)
		return next, nil
	})

	select {
	case <-ctx.Done():
		return Validation{}, fault.Wrap(fault.KindTimeout, "token.validate", ctx.Err())
	case res := <-ch:
		if res.Shared {
			refreshesTotal.WithLabelValues("shared").Inc()
		}
		if res.Err != nil {
			refreshesTotal.WithLabelValues("failure").Inc()
			m.logger.Warn().Err(res.Err).Msg("Token refresh failed, authorization required")
			return m.invalidate(ctx, store)
		}
		refreshesTotal.WithLabelValues("success").Inc()
		c := res.Val.(credential.Credential)
		m.logger.Debug().Time("expiry", c.Expiry).Bool("shared", res.Shared).Msg("Token refreshed")
		return m.adopt(ctx, store, c)
	}
}

func (m *Manager) adopt(ctx context.Context, store credential.Store, c credential.Credential) (Validation, error) {
	if err := credential.Save(ctx, store, c, credential.SetOptions{TTL: m.cfg.StoreTTL}); err != nil {
		return Validation{}, fault.Wrap(fault.KindTransientBackend, "token.validate", err)
	}
	return Validation{Token: c.AccessToken, TokenType: c.TokenType, State: StateValid}, nil
}

func (m *Manager) invalidate(ctx context.Context, store credential.Store) (Validation, error) {
	if err := credential.Clear(ctx, store); err != nil {
		return Validation{}, fault.Wrap(fault.KindTransientBackend, "token.validate", err)
	}
	return Validation{State: StateInvalid, NeedsAuthorization: true}, nil
}

func (m *Manager) remember(old string, c credential.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, r := range m.rotated {
		if now.Sub(r.at) > m.cfg.RotationGrace {
			delete(m.rotated, k)
		}
	}
	m.rotated[old] = rotation{cred: c, at: now}
}

func (m *Manager) recentRotation(old string) (credential.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rotated[old]
	if !ok || m.now().Sub(r.at) > m.cfg.RotationGrace {
		return credential.Credential{}, false
	}
	if r.cred.ExpiresWithin(m.now(), m.cfg.RefreshBuffer) {
		return credential.Credential{}, false
	}
	return r.cred, true
}

func (m *Manager) track(refreshToken string, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshing[refreshToken] += delta
	if m.refreshing[refreshToken] <= 0 {
		delete(m.refreshing, refreshToken)
	}
}

func (m *Manager) inFlight(refreshToken string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshing[refreshToken] > 0
}

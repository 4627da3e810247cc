package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	upstreamRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dataaccess_upstream_ratelimit_remaining",
		Help: "Requests remaining in the current upstream rate limit window",
	}, []string{"upstream"})

	gateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataaccess_upstream_ratelimit_decisions_total",
		Help: "Gate decisions taken before upstream requests",
	}, []string{"upstream", "decision"})
)

// ErrBudgetExhausted is returned by Wait when the window does not reset
// before the caller's deadline.
var ErrBudgetExhausted = errors.New("upstream rate limit exhausted")

// Tracker keeps the rate limit state of one upstream in Redis.
type Tracker struct {
	redis      *redis.Client
	upstream   string
	thresholds Thresholds
	throttle   time.Duration
	logger     zerolog.Logger
}

// NewTracker creates a tracker for upstream. State is stored in the hash
// dataaccess:ratelimit:<upstream>.
func NewTracker(redisClient *redis.Client, upstream string, logger zerolog.Logger) *Tracker {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Tracker{
		redis:      redisClient,
		upstream:   upstream,
		thresholds: DefaultThresholds(),
		throttle:   time.Second,
		logger:     logger.With().Str("component", "ratelimit").Str("upstream", upstream).Logger(),
	}
}

// WithThresholds replaces the default thresholds.
func (t *Tracker) WithThresholds(th Thresholds) *Tracker {
	t.thresholds = th
	return t
}

// WithThrottleDelay sets how long a throttled request waits.
func (t *Tracker) WithThrottleDelay(d time.Duration) *Tracker {
	t.throttle = d
	return t
}

func (t *Tracker) key() string {
	return "dataaccess:ratelimit:" + t.upstream
}

// GetState reads the shared state. Missing state is returned as unknown.
func (t *Tracker) GetState(ctx context.Context) (State, error) {
	fields, err := t.redis.HGetAll(ctx, t.key()).Result()
	if err != nil {
		return State{}, fmt.Errorf("get rate limit state: %w", err)
	}
	if len(fields) == 0 {
		return State{}, nil
	}

	var s State
	if s.Remaining, err = strconv.Atoi(fields["remaining"]); err != nil {
		return State{}, fmt.Errorf("parse remaining: %w", err)
	}
	resetUnix, err := strconv.ParseInt(fields["reset_at"], 10, 64)
	if err != nil {
		return State{}, fmt.Errorf("parse reset: %w", err)
	}
	s.ResetAt = time.Unix(resetUnix, 0)
	if s.LastUpdate, err = time.Parse(time.RFC3339Nano, fields["last_update"]); err != nil {
		return State{}, fmt.Errorf("parse last update: %w", err)
	}
	s.Known = true
	return s, nil
}

// Observe records the budget advertised in a response. Responses without
// the headers are ignored.
func (t *Tracker) Observe(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}
	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}
	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	now := time.Now()
	resetAt := now.Add(time.Duration(resetSeconds) * time.Second)

	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, t.key(),
		"remaining", remain,
		"reset_at", resetAt.Unix(),
		"last_update", now.UTC().Format(time.RFC3339Nano),
	)
	// stale state must not outlive its window for long
	pipe.Expire(ctx, t.key(), time.Duration(resetSeconds)*time.Second+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	upstreamRemaining.WithLabelValues(t.upstream).Set(float64(remain))

	s := State{Remaining: remain, ResetAt: resetAt, LastUpdate: now, Known: true}
	switch s.Decide(t.thresholds) {
	case Block:
		t.logger.Error().Int("remaining", remain).Time("reset_at", resetAt).Msg("Upstream rate limit critical, requests will be blocked")
	case Throttle:
		t.logger.Warn().Int("remaining", remain).Time("reset_at", resetAt).Msg("Upstream rate limit low, requests will be throttled")
	default:
		t.logger.Debug().Int("remaining", remain).Time("reset_at", resetAt).Msg("Upstream rate limit state updated")
	}
	return nil
}

// Wait blocks until a request may be sent: immediately when healthy, after
// the throttle delay when low, and until the window resets when critical.
// It returns ErrBudgetExhausted when ctx ends before the reset.
func (t *Tracker) Wait(ctx context.Context) error {
	s, err := t.GetState(ctx)
	if err != nil {
		return err
	}

	decision := s.Decide(t.thresholds)
	gateDecisionsTotal.WithLabelValues(t.upstream, decision.String()).Inc()

	var delay time.Duration
	switch decision {
	case Allow:
		return nil
	case Throttle:
		delay = t.throttle
		t.logger.Warn().Int("remaining", s.Remaining).Dur("delay", delay).Msg("Throttling upstream request")
	case Block:
		delay = s.TimeUntilReset()
		t.logger.Error().Int("remaining", s.Remaining).Dur("wait_duration", delay).Msg("Blocking upstream request until rate limit resets")
	}

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay && decision == Block {
		return fmt.Errorf("%w: resets in %s", ErrBudgetExhausted, delay.Round(time.Second))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		if decision == Block {
			return fmt.Errorf("%w: %w", ErrBudgetExhausted, ctx.Err())
		}
		return ctx.Err()
	}
}

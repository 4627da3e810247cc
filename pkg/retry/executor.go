// Package retry runs units of work against pooled resources, retrying
// transient failures with a configurable backoff.
package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/dataaccess/pkg/fault"
	"github.com/Sternrassler/dataaccess/pkg/pool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Acquirer is the part of pool.Pool the executor needs.
type Acquirer[T any] interface {
	Acquire(ctx context.Context, timeout time.Duration) (*pool.Resource[T], error)
	Release(res *pool.Resource[T]) error
	Discard(res *pool.Resource[T]) error
}

// Classifier assigns a kind to an error returned by a unit of work.
type Classifier func(err error) fault.Kind

type settings struct {
	name     string
	classify Classifier
	discard  func(error) bool
	logger   zerolog.Logger
}

// Option customizes an Executor.
type Option func(*settings)

// WithName labels logs and metrics.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithClassifier sets how unclassified work errors are categorized.
// Without one, unclassified errors are never retried.
func WithClassifier(c Classifier) Option {
	return func(s *settings) { s.classify = c }
}

// WithDiscard sets which work errors mean the connection itself is broken
// and must be discarded instead of released.
func WithDiscard(fn func(error) bool) Option {
	return func(s *settings) { s.discard = fn }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// Executor runs work against resources borrowed from a pool.
type Executor[T any] struct {
	pool   Acquirer[T]
	policy Policy
	settings
}

// NewExecutor creates an executor over p.
func NewExecutor[T any](p Acquirer[T], policy Policy, opts ...Option) (*Executor[T], error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	s := settings{
		name:    "default",
		discard: isBadConn,
		logger:  log.With().Str("component", "retry").Logger(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	s.logger = s.logger.With().Str("executor", s.name).Logger()

	return &Executor[T]{pool: p, policy: policy, settings: s}, nil
}

// Policy returns the executor's retry policy.
func (e *Executor[T]) Policy() Policy {
	return e.policy
}

// Do runs work with a borrowed connection, retrying retryable failures.
// The connection is returned to the pool exactly once per attempt, also
// when work panics. After the last attempt the final error is returned
// wrapped with ErrRetryExhausted.
func (e *Executor[T]) Do(ctx context.Context, work func(ctx context.Context, conn T) error) error {
	var lastErr error

	for attempt := 0; attempt <= e.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			kind := fault.KindOf(lastErr)
			delay := e.policy.Delay(attempt)
			retriesTotal.WithLabelValues(e.name, string(kind)).Inc()
			retryBackoffSeconds.WithLabelValues(e.name).Observe(delay.Seconds())

			e.logger.Debug().
				Int("attempt", attempt).
				Str("error_kind", string(kind)).
				Dur("backoff", delay).
				Msg("Retrying operation after backoff")

			if err := sleep(ctx, delay); err != nil {
				e.logger.Warn().Int("attempt", attempt).Msg("Context cancelled during retry backoff")
				return fmt.Errorf("%w: %w (last error: %v)", ErrContextCancelled, err, lastErr)
			}
		}

		err := e.attempt(ctx, work)
		if err == nil {
			if attempt > 0 {
				e.logger.Info().Int("attempt", attempt).Msg("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !fault.IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		e.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", e.policy.MaxAttempts).
			Msg("Attempt failed")
	}

	kind := fault.KindOf(lastErr)
	retryExhaustedTotal.WithLabelValues(e.name, string(kind)).Inc()
	e.logger.Error().
		Err(lastErr).
		Str("error_kind", string(kind)).
		Int("attempts", e.policy.MaxAttempts+1).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, e.policy.MaxAttempts+1, lastErr)
}

// Execute is Do for work that produces a value.
func Execute[T, R any](ctx context.Context, e *Executor[T], work func(ctx context.Context, conn T) (R, error)) (R, error) {
	var out R
	err := e.Do(ctx, func(ctx context.Context, conn T) error {
		r, err := work(ctx, conn)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (e *Executor[T]) attempt(ctx context.Context, work func(ctx context.Context, conn T) error) (err error) {
	res, err := e.acquire(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			e.giveBack(res, true)
			panic(r)
		}
		e.giveBack(res, err != nil && e.discard != nil && e.discard(err))
	}()

	return e.classifyErr(work(ctx, res.Conn()))
}

// acquired is the outcome of a pool acquisition.
type acquired[T any] struct {
	res *pool.Resource[T]
	err error
}

// acquire races the pool against a timer of the attempt timeout. A resource
// that arrives after the race was lost goes straight back to the pool.
func (e *Executor[T]) acquire(ctx context.Context) (*pool.Resource[T], error) {
	timeout := e.policy.AttemptTimeout
	if timeout <= 0 {
		return e.pool.Acquire(ctx, 0)
	}

	ch := make(chan acquired[T], 1)
	go func() {
		res, err := e.pool.Acquire(ctx, timeout)
		ch <- acquired[T]{res: res, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.res, r.err
	case <-timer.C:
		go e.reclaim(ch)
		return nil, fault.Wrapf(fault.KindResourceTimeout, e.name, context.DeadlineExceeded,
			"no resource within %s", timeout)
	case <-ctx.Done():
		go e.reclaim(ch)
		return nil, fault.Wrap(fault.KindTimeout, e.name, ctx.Err())
	}
}

func (e *Executor[T]) reclaim(ch <-chan acquired[T]) {
	r := <-ch
	if r.res == nil {
		return
	}
	if err := e.pool.Release(r.res); err != nil {
		releaseFailuresTotal.WithLabelValues(e.name).Inc()
		e.logger.Error().Err(err).Str("resource_id", r.res.ID()).Msg("Failed to release late resource")
	}
}

// giveBack returns res to the pool. Failures are logged and never replace
// the attempt's own result.
func (e *Executor[T]) giveBack(res *pool.Resource[T], broken bool) {
	var err error
	if broken {
		err = e.pool.Discard(res)
	} else {
		err = e.pool.Release(res)
	}
	if err != nil {
		releaseFailuresTotal.WithLabelValues(e.name).Inc()
		e.logger.Error().
			Err(err).
			Str("resource_id", res.ID()).
			Bool("discard", broken).
			Msg("Failed to return resource to pool")
	}
}

// classifyErr leaves classified errors alone and runs the classifier on the
// rest. Unclassified errors stay KindInternal and are not retried.
func (e *Executor[T]) classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var fe *fault.Error
	if errors.As(err, &fe) || e.classify == nil {
		return err
	}
	return fault.Wrap(e.classify(err), e.name, err)
}

func isBadConn(err error) bool {
	return errors.Is(err, driver.ErrBadConn)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package pool implements a bounded pool of reusable backing-store
// connections with FIFO queuing when the pool is exhausted.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/dataaccess/pkg/fault"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotBorrowed is returned when a resource is released or discarded that
// is not currently lent out by the pool. Accepting it silently could let two
// callers share one connection.
var ErrNotBorrowed = errors.New("resource is not borrowed from this pool")

// Factory opens and closes the connections a pool hands out.
type Factory[T any] interface {
	Open(ctx context.Context) (T, error)
	Close(conn T) error
}

// Config holds the pool configuration.
type Config struct {
	// Name labels logs and metrics.
	Name string

	// Capacity is the maximum number of open connections.
	Capacity int
}

// Stats is a point-in-time snapshot of the pool counters.
type Stats struct {
	Active   int
	Idle     int
	Total    int
	Capacity int
	Waiting  int
}

// Resource is a pooled connection borrowed by exactly one caller at a time.
type Resource[T any] struct {
	id        string
	conn      T
	createdAt time.Time
	pool      *Pool[T]

	// guarded by pool.mu
	busy bool
}

// ID returns the resource identity.
func (r *Resource[T]) ID() string { return r.id }

// Conn returns the wrapped connection.
func (r *Resource[T]) Conn() T { return r.conn }

// CreatedAt returns when the connection was opened.
func (r *Resource[T]) CreatedAt() time.Time { return r.createdAt }

// grant is what a queued acquirer receives: a resource handed over by
// Release, a capacity slot freed by Discard, or a terminal error.
type grant[T any] struct {
	res  *Resource[T]
	slot bool
	err  error
}

type waiter[T any] struct {
	ch chan grant[T]
}

// Pool is a bounded set of lazily created connections.
type Pool[T any] struct {
	name     string
	capacity int
	factory  Factory[T]
	logger   zerolog.Logger

	mu      sync.Mutex
	idle    []*Resource[T]
	waiters []*waiter[T]
	total   int // open connections plus slots reserved for in-flight opens
	active  int
	closed  bool
	drained chan struct{}
}

// New creates a pool. No connection is opened until the first Acquire.
func New[T any](cfg Config, factory Factory[T], logger zerolog.Logger) (*Pool[T], error) {
	if factory == nil {
		return nil, fmt.Errorf("factory is required")
	}
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("capacity must be >= 1 (got %d)", cfg.Capacity)
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	p := &Pool[T]{
		name:     cfg.Name,
		capacity: cfg.Capacity,
		factory:  factory,
		logger:   logger.With().Str("pool", cfg.Name).Logger(),
		drained:  make(chan struct{}),
	}
	poolCapacity.WithLabelValues(p.name).Set(float64(cfg.Capacity))
	return p, nil
}

// Name returns the pool name.
func (p *Pool[T]) Name() string { return p.name }

// Acquire borrows a resource. It reuses an idle connection, opens a new one
// while under capacity, or waits in line for a release. It fails with
// fault.KindResourceTimeout when nothing becomes available within timeout
// (or before ctx ends) and with fault.KindPoolClosed after Shutdown.
// A timeout <= 0 waits for ctx only.
func (p *Pool[T]) Acquire(ctx context.Context, timeout time.Duration) (*Resource[T], error) {
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, p.closedErr()
	}
	if n := len(p.idle); n > 0 {
		res := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.lendLocked(res)
		p.mu.Unlock()
		p.observeAcquire(start)
		return res, nil
	}
	if p.total < p.capacity {
		p.total++
		p.updateGaugesLocked()
		p.mu.Unlock()
		return p.open(ctx, start)
	}

	w := &waiter[T]{ch: make(chan grant[T], 1)}
	p.waiters = append(p.waiters, w)
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.logger.Debug().Msg("Pool exhausted, waiting for release")

	select {
	case g := <-w.ch:
		return p.accept(ctx, g, start)
	case <-ctx.Done():
		p.mu.Lock()
		removed := p.removeWaiterLocked(w)
		p.mu.Unlock()
		if !removed {
			// A grant was sent concurrently with the deadline.
			p.giveBack(<-w.ch)
		}
		return nil, p.timeoutErr(ctx, timeout)
	}
}

// Release returns a borrowed resource. If callers are queued the resource
// is handed to the oldest one directly.
func (p *Pool[T]) Release(res *Resource[T]) error {
	if res == nil || res.pool != p {
		return p.misuse("release", res)
	}

	p.mu.Lock()
	if !res.busy {
		p.mu.Unlock()
		return p.misuse("release", res)
	}

	if p.closed {
		res.busy = false
		p.active--
		p.total--
		p.updateGaugesLocked()
		p.checkDrainedLocked()
		p.mu.Unlock()
		return p.closeConn(res)
	}

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.ch <- grant[T]{res: res}
		p.updateGaugesLocked()
		p.mu.Unlock()
		return nil
	}

	res.busy = false
	p.active--
	p.idle = append(p.idle, res)
	p.updateGaugesLocked()
	p.mu.Unlock()
	return nil
}

// Discard closes a borrowed resource that is no longer usable and frees its
// slot.
func (p *Pool[T]) Discard(res *Resource[T]) error {
	if res == nil || res.pool != p {
		return p.misuse("discard", res)
	}

	p.mu.Lock()
	if !res.busy {
		p.mu.Unlock()
		return p.misuse("discard", res)
	}
	res.busy = false
	p.active--
	p.freeSlotLocked()
	p.mu.Unlock()

	poolDiscardsTotal.WithLabelValues(p.name).Inc()
	p.logger.Warn().Str("resource_id", res.id).Msg("Discarding pooled resource")
	return p.closeConn(res)
}

// Stats returns the current counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Active:   p.active,
		Idle:     len(p.idle),
		Total:    p.total,
		Capacity: p.capacity,
		Waiting:  len(p.waiters),
	}
}

// Shutdown closes the pool. Queued acquires fail with fault.KindPoolClosed,
// idle connections are closed immediately and borrowed ones when they are
// released. Shutdown waits until every connection is closed or ctx ends.
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	var idle []*Resource[T]
	if !p.closed {
		p.closed = true
		for _, w := range p.waiters {
			w.ch <- grant[T]{err: p.closedErr()}
		}
		p.waiters = nil
		idle = p.idle
		p.idle = nil
		p.total -= len(idle)
		p.updateGaugesLocked()
		p.checkDrainedLocked()
	}
	drained := p.drained
	p.mu.Unlock()

	var errs []error
	for _, res := range idle {
		if err := p.closeConn(res); err != nil {
			errs = append(errs, err)
		}
	}

	p.logger.Info().Int("closed_idle", len(idle)).Msg("Pool shutting down")

	select {
	case <-drained:
	case <-ctx.Done():
		errs = append(errs, fault.Wrapf(fault.KindTimeout, "pool.shutdown", ctx.Err(),
			"%d resources still borrowed", p.Stats().Active))
	}
	return errors.Join(errs...)
}

func (p *Pool[T]) open(ctx context.Context, start time.Time) (*Resource[T], error) {
	conn, err := p.factory.Open(ctx)
	if err != nil {
		p.mu.Lock()
		p.freeSlotLocked()
		p.mu.Unlock()
		if ctx.Err() != nil {
			return nil, p.timeoutErr(ctx, 0)
		}
		p.logger.Warn().Err(err).Msg("Failed to open pooled resource")
		return nil, fault.Wrap(fault.KindTransientBackend, "pool.open", err)
	}

	res := &Resource[T]{
		id:        uuid.NewString(),
		conn:      conn,
		createdAt: time.Now(),
		pool:      p,
	}

	p.mu.Lock()
	if p.closed {
		p.total--
		p.updateGaugesLocked()
		p.checkDrainedLocked()
		p.mu.Unlock()
		_ = p.closeConn(res)
		return nil, p.closedErr()
	}
	p.lendLocked(res)
	p.mu.Unlock()

	p.logger.Debug().Str("resource_id", res.id).Msg("Opened pooled resource")
	p.observeAcquire(start)
	return res, nil
}

func (p *Pool[T]) accept(ctx context.Context, g grant[T], start time.Time) (*Resource[T], error) {
	switch {
	case g.err != nil:
		return nil, g.err
	case g.res != nil:
		p.observeAcquire(start)
		return g.res, nil
	default:
		return p.open(ctx, start)
	}
}

// giveBack undoes a grant that arrived after its acquirer gave up.
func (p *Pool[T]) giveBack(g grant[T]) {
	switch {
	case g.res != nil:
		if err := p.Release(g.res); err != nil {
			p.logger.Error().Err(err).Msg("Failed to return late grant")
		}
	case g.slot:
		p.mu.Lock()
		p.freeSlotLocked()
		p.mu.Unlock()
	}
}

func (p *Pool[T]) lendLocked(res *Resource[T]) {
	res.busy = true
	p.active++
	p.updateGaugesLocked()
}

// freeSlotLocked gives a capacity slot to the oldest waiter, or drops it.
func (p *Pool[T]) freeSlotLocked() {
	if !p.closed && len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.ch <- grant[T]{slot: true}
		p.updateGaugesLocked()
		return
	}
	p.total--
	p.updateGaugesLocked()
	p.checkDrainedLocked()
}

func (p *Pool[T]) removeWaiterLocked(w *waiter[T]) bool {
	for i, q := range p.waiters {
		if q == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.updateGaugesLocked()
			return true
		}
	}
	return false
}

func (p *Pool[T]) checkDrainedLocked() {
	if !p.closed || p.total > 0 {
		return
	}
	select {
	case <-p.drained:
	default:
		close(p.drained)
	}
}

func (p *Pool[T]) closeConn(res *Resource[T]) error {
	if err := p.factory.Close(res.conn); err != nil {
		p.logger.Warn().Err(err).Str("resource_id", res.id).Msg("Failed to close pooled resource")
		return fmt.Errorf("close resource %s: %w", res.id, err)
	}
	return nil
}

func (p *Pool[T]) misuse(op string, res *Resource[T]) error {
	id := ""
	if res != nil {
		id = res.id
	}
	poolMisuseTotal.WithLabelValues(p.name, op).Inc()
	p.logger.Error().Str("resource_id", id).Str("op", op).Msg("Rejected release of resource not borrowed from pool")
	return fault.Wrapf(fault.KindCallerInput, "pool."+op, ErrNotBorrowed, "resource %q", id)
}

func (p *Pool[T]) closedErr() error {
	return fault.Wrapf(fault.KindPoolClosed, "pool.acquire", nil, "pool %q is shut down", p.name)
}

func (p *Pool[T]) timeoutErr(ctx context.Context, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fault.Wrap(fault.KindTimeout, "pool.acquire", ctx.Err())
	}
	poolAcquireTimeoutsTotal.WithLabelValues(p.name).Inc()
	p.logger.Warn().Dur("timeout", timeout).Msg("Timed out waiting for pooled resource")
	return fault.Wrapf(fault.KindResourceTimeout, "pool.acquire", ctx.Err(),
		"no resource available in pool %q", p.name)
}

func (p *Pool[T]) observeAcquire(start time.Time) {
	poolAcquireDuration.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
}

func (p *Pool[T]) updateGaugesLocked() {
	poolResourcesActive.WithLabelValues(p.name).Set(float64(p.active))
	poolResourcesTotal.WithLabelValues(p.name).Set(float64(p.total))
	poolWaiters.WithLabelValues(p.name).Set(float64(len(p.waiters)))
}

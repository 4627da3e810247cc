package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/dataaccess/internal/testutil"
	"github.com/Sternrassler/dataaccess/pkg/fault"
	"github.com/Sternrassler/dataaccess/pkg/pool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingPool wraps a real pool and counts every call.
type countingPool struct {
	*pool.Pool[*testutil.FakeConn]
	acquires atomic.Int32
	releases atomic.Int32
	discards atomic.Int32
}

func (c *countingPool) Acquire(ctx context.Context, timeout time.Duration) (*pool.Resource[*testutil.FakeConn], error) {
	c.acquires.Add(1)
	return c.Pool.Acquire(ctx, timeout)
}

func (c *countingPool) Release(res *pool.Resource[*testutil.FakeConn]) error {
	c.releases.Add(1)
	return c.Pool.Release(res)
}

func (c *countingPool) Discard(res *pool.Resource[*testutil.FakeConn]) error {
	c.discards.Add(1)
	return c.Pool.Discard(res)
}

func newCountingPool(t *testing.T, capacity int) *countingPool {
	t.Helper()
	p, err := pool.New[*testutil.FakeConn](pool.Config{Name: t.Name(), Capacity: capacity}, &testutil.FakeFactory{}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return &countingPool{Pool: p}
}

func fastPolicy(retries int) Policy {
	return Policy{
		MaxAttempts:    retries,
		BaseDelay:      time.Millisecond,
		AttemptTimeout: time.Second,
		Backoff:        Linear,
	}
}

func newTestExecutor(t *testing.T, p Acquirer[*testutil.FakeConn], policy Policy, opts ...Option) *Executor[*testutil.FakeConn] {
	t.Helper()
	opts = append([]Option{WithName(t.Name()), WithLogger(zerolog.Nop())}, opts...)
	e, err := NewExecutor[*testutil.FakeConn](p, policy, opts...)
	require.NoError(t, err)
	return e
}

var errFlaky = errors.New("connection reset by peer")

func transientClassifier(err error) fault.Kind {
	if errors.Is(err, errFlaky) {
		return fault.KindTransientBackend
	}
	return fault.KindInternal
}

func TestNewExecutor_Validation(t *testing.T) {
	_, err := NewExecutor[*testutil.FakeConn](nil, DefaultPolicy())
	assert.EqualError(t, err, "pool is required")

	p := newCountingPool(t, 1)
	_, err = NewExecutor[*testutil.FakeConn](p, Policy{MaxAttempts: -1})
	assert.ErrorContains(t, err, "invalid retry policy")
}

func TestDo_Success(t *testing.T) {
	p := newCountingPool(t, 2)
	e := newTestExecutor(t, p, fastPolicy(3))

	var seen *testutil.FakeConn
	err := e.Do(context.Background(), func(ctx context.Context, conn *testutil.FakeConn) error {
		seen = conn
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, seen)

	assert.Equal(t, int32(1), p.acquires.Load())
	assert.Equal(t, int32(1), p.releases.Load())
	assert.Equal(t, 0, p.Stats().Active)
}

func TestDo_RetriesTransientUpToLimit(t *testing.T) {
	for _, retries := range []int{0, 1, 3} {
		t.Run("retries", func(t *testing.T) {
			p := newCountingPool(t, 1)
			e := newTestExecutor(t, p, fastPolicy(retries), WithClassifier(transientClassifier))

			var calls int
			err := e.Do(context.Background(), func(ctx context.Context, conn *testutil.FakeConn) error {
				calls++
				return errFlaky
			})

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRetryExhausted)
			assert.ErrorIs(t, err, errFlaky)
			assert.True(t, fault.Is(err, fault.KindTransientBackend))

			assert.Equal(t, retries+1, calls)
			assert.Equal(t, int32(retries+1), p.acquires.Load(), "one acquisition per attempt")
			assert.Equal(t, int32(retries+1), p.releases.Load(), "one release per acquisition")
			assert.Equal(t, 0, p.Stats().Active)
		})
	}
}

func TestDo_SucceedsAfterTransientFailure(t *testing.T) {
	p := newCountingPool(t, 1)
	e := newTestExecutor(t, p, fastPolicy(3), WithClassifier(transientClassifier))

	var calls int
	err := e.Do(context.Background(), func(ctx context.Context, conn *testutil.FakeConn) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int32(3), p.acquires.Load())
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	tests := []struct {
		name    string
		workErr error
		kind    fault.Kind
	}{
		{"caller input", fault.New(fault.KindCallerInput, "query", "syntax error"), fault.KindCallerInput},
		{"authorization", fault.New(fault.KindAuthorizationExpired, "fetch", "token revoked"), fault.KindAuthorizationExpired},
		{"unclassified", errors.New("boom"), fault.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newCountingPool(t, 1)
			e := newTestExecutor(t, p, fastPolicy(3))

			err := e.Do(context.Background(), func(ctx context.Context, conn *testutil.FakeConn) error {
				return tt.workErr
			})
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrRetryExhausted)
			assert.Equal(t, tt.kind, fault.KindOf(err))
			assert.Equal(t, int32(1), p.acquires.Load())
			assert.Equal(t, 0, p.Stats().Active)
		})
	}
}

func TestDo_PanicReleasesAndPropagates(t *testing.T) {
	p := newCountingPool(t, 1)
	e := newTestExecutor(t, p, fastPolicy(2))

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = e.Do(context.Background(), func(ctx context.Context, conn *testutil.FakeConn) error {
			panic("kaboom")
		})
	})

	assert.Equal(t, int32(1), p.acquires.Load())
	assert.Equal(t, int32(1), p.discards.Load(), "a connection that saw a panic is discarded")
	assert.Equal(t, int32(0), p.releases.Load())
	assert.Equal(t, 0, p.Stats().Active)
	assert.Equal(t, 0, p.Stats().Total)

	// the freed slot is usable again
	require.NoError(t, e.Do(context.Background(), func(ctx context.Context, conn *testutil.FakeConn) error { return nil }))
}

func TestDo_BadConnIsDiscarded(t *testing.T) {
	p := newCountingPool(t, 1)
	e := newTestExecutor(t, p, fastPolicy(1), WithClassifier(func(err error) fault.Kind {
		return fault.KindTransientBackend
	}))

	var conns []int
	err := e.Do(context.Background(), func(ctx context.Context, conn *testutil.FakeConn) error {
		conns = append(conns, conn.ID)
		if len(conns) == 1 {
			return driver.ErrBadConn
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.NotEqual(t, conns[0], conns[1], "retry runs on a fresh connection")
	assert.Equal(t, int32(1), p.discards.Load())
}

func TestDo_BusyPoolTimesOutAndRetries(t *testing.T) {
	p := newCountingPool(t, 1)
	policy := Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, AttemptTimeout: 30 * time.Millisecond}
	e := newTestExecutor(t, p, policy)

	held, err := p.Pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	err = e.Do(context.Background(), func(ctx context.Context, conn *testutil.FakeConn) error {
		t.Fatal("work must not run without a resource")
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.True(t, fault.Is(err, fault.KindResourceTimeout), "got %v", err)
	assert.Equal(t, int32(2), p.acquires.Load())

	require.NoError(t, p.Pool.Release(held))
	assert.Eventually(t, func() bool { return p.Stats().Active == 0 }, time.Second, time.Millisecond)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	p := newCountingPool(t, 1)
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Second, AttemptTimeout: time.Second}
	e := newTestExecutor(t, p, policy, WithClassifier(transientClassifier))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := e.Do(ctx, func(ctx context.Context, conn *testutil.FakeConn) error { return errFlaky })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContextCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), p.acquires.Load())
	assert.Equal(t, 0, p.Stats().Active)
}

// failingRelease reports an error from Release after actually releasing.
type failingRelease struct {
	*countingPool
}

func (f *failingRelease) Release(res *pool.Resource[*testutil.FakeConn]) error {
	_ = f.countingPool.Release(res)
	return errors.New("release bookkeeping failed")
}

func TestDo_ReleaseErrorDoesNotMaskResult(t *testing.T) {
	p := &failingRelease{countingPool: newCountingPool(t, 1)}
	e := newTestExecutor(t, p, fastPolicy(0))

	err := e.Do(context.Background(), func(ctx context.Context, conn *testutil.FakeConn) error { return nil })
	assert.NoError(t, err)

	workErr := fault.New(fault.KindCallerInput, "query", "bad input")
	err = e.Do(context.Background(), func(ctx context.Context, conn *testutil.FakeConn) error { return workErr })
	assert.ErrorIs(t, err, workErr)
}

func TestDo_ConcurrentCallersNeverShareConnections(t *testing.T) {
	p := newCountingPool(t, 2)
	e := newTestExecutor(t, p, Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, AttemptTimeout: 5 * time.Second})

	var wg sync.WaitGroup
	var shared atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Do(context.Background(), func(ctx context.Context, conn *testutil.FakeConn) error {
				if !conn.Enter() {
					shared.Add(1)
				}
				time.Sleep(time.Millisecond)
				conn.Leave()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), shared.Load())
	assert.Equal(t, 0, p.Stats().Active)
	assert.LessOrEqual(t, p.Stats().Total, 2)
}

func TestExecute_ReturnsValue(t *testing.T) {
	p := newCountingPool(t, 1)
	e := newTestExecutor(t, p, fastPolicy(1), WithClassifier(transientClassifier))

	var calls int
	got, err := Execute(context.Background(), e, func(ctx context.Context, conn *testutil.FakeConn) (int, error) {
		calls++
		if calls == 1 {
			return 0, errFlaky
		}
		return conn.ID * 10, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 10, got)

	got, err = Execute(context.Background(), e, func(ctx context.Context, conn *testutil.FakeConn) (int, error) {
		return 7, errors.New("failed")
	})
	require.Error(t, err)
	assert.Zero(t, got, "no value on failure")
}

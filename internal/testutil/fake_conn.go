package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// FakeConn is an in-memory connection that detects concurrent use.
type FakeConn struct {
	ID     int
	inUse  atomic.Bool
	closed atomic.Bool
}

// Enter marks the connection as used and reports false if someone else
// already holds it.
func (c *FakeConn) Enter() bool {
	return c.inUse.CompareAndSwap(false, true)
}

// Leave clears the in-use mark.
func (c *FakeConn) Leave() {
	c.inUse.Store(false)
}

// Closed reports whether the factory closed the connection.
func (c *FakeConn) Closed() bool {
	return c.closed.Load()
}

// FakeFactory opens FakeConns and counts calls.
type FakeFactory struct {
	mu      sync.Mutex
	next    int
	opened  int
	closed  int
	openErr error
	delay   time.Duration
}

// SetOpenError makes subsequent Open calls fail with err (nil to clear).
func (f *FakeFactory) SetOpenError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

// SetOpenDelay slows down Open to simulate connection setup.
func (f *FakeFactory) SetOpenDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Open implements pool.Factory.
func (f *FakeFactory) Open(ctx context.Context) (*FakeConn, error) {
	f.mu.Lock()
	err, delay := f.openErr, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.opened++
	return &FakeConn{ID: f.next}, nil
}

// Close implements pool.Factory.
func (f *FakeFactory) Close(conn *FakeConn) error {
	if conn == nil {
		return errors.New("nil conn")
	}
	if !conn.closed.CompareAndSwap(false, true) {
		return errors.New("conn closed twice")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// Opened returns how many connections were opened.
func (f *FakeFactory) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// ClosedCount returns how many connections were closed.
func (f *FakeFactory) ClosedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis connects to a local Redis and skips when none is running.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func headers(remaining, reset string) http.Header {
	h := http.Header{}
	if remaining != "" {
		h.Set(HeaderRemaining, remaining)
	}
	if reset != "" {
		h.Set(HeaderReset, reset)
	}
	return h
}

func TestNewTracker_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewTracker should panic with nil redis client")
		}
	}()
	NewTracker(nil, "api", zerolog.Nop())
}

func TestTracker_ObserveRejectsBadHeaders(t *testing.T) {
	// parsing fails before Redis is touched
	tracker := NewTracker(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "api", zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name    string
		headers http.Header
		wantErr bool
	}{
		{"no headers", headers("", ""), false},
		{"invalid remaining", headers("abc", "60"), true},
		{"missing reset", headers("10", ""), true},
		{"invalid reset", headers("10", "soon"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tracker.Observe(ctx, tt.headers)
			if (err != nil) != tt.wantErr {
				t.Errorf("Observe() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTracker_ObserveAndGetState(t *testing.T) {
	tracker := NewTracker(setupTestRedis(t), "api", zerolog.Nop())
	ctx := context.Background()

	s, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if s.Known {
		t.Fatal("empty Redis should yield unknown state")
	}

	if err := tracker.Observe(ctx, headers("75", "120")); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	s, err = tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !s.Known || s.Remaining != 75 {
		t.Errorf("state = %+v, want 75 remaining", s)
	}
	if d := s.TimeUntilReset(); d < 115*time.Second || d > 121*time.Second {
		t.Errorf("TimeUntilReset = %v, want ~120s", d)
	}
}

func TestTracker_WaitHealthyAndThrottled(t *testing.T) {
	tracker := NewTracker(setupTestRedis(t), "api", zerolog.Nop()).WithThrottleDelay(50 * time.Millisecond)
	ctx := context.Background()

	if err := tracker.Wait(ctx); err != nil {
		t.Fatalf("Wait() on unknown state = %v", err)
	}

	if err := tracker.Observe(ctx, headers("10", "60")); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	start := time.Now()
	if err := tracker.Wait(ctx); err != nil {
		t.Fatalf("Wait() when throttled = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("throttled Wait returned after %v", elapsed)
	}
}

func TestTracker_WaitBlockedFailsFastOnShortDeadline(t *testing.T) {
	tracker := NewTracker(setupTestRedis(t), "api", zerolog.Nop())

	if err := tracker.Observe(context.Background(), headers("1", "60")); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := tracker.Wait(ctx)
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("Wait() = %v, want ErrBudgetExhausted", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("Wait should not sleep when the reset is beyond the deadline")
	}
}

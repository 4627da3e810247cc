package retry

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Backoff computes the delay before the given retry attempt (attempt >= 1).
type Backoff func(attempt int, base time.Duration) time.Duration

// Linear waits base*attempt.
func Linear(attempt int, base time.Duration) time.Duration {
	return base * time.Duration(attempt)
}

// Exponential waits base*2^(attempt-1), capped at maxDelay when maxDelay > 0.
func Exponential(maxDelay time.Duration) Backoff {
	return func(attempt int, base time.Duration) time.Duration {
		d := saturate(float64(base) * math.Pow(2, float64(attempt-1)))
		if maxDelay > 0 && d > maxDelay {
			return maxDelay
		}
		return d
	}
}

// WithJitter spreads the delay of b by ±fraction to avoid thundering herds.
func WithJitter(b Backoff, fraction float64) Backoff {
	return func(attempt int, base time.Duration) time.Duration {
		d := b(attempt, base)
		return saturate(float64(d) * (1 - fraction + rand.Float64()*2*fraction))
	}
}

// saturate converts f to a Duration, clamping to [0, math.MaxInt64].
func saturate(f float64) time.Duration {
	switch {
	case f >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	case f <= 0 || math.IsNaN(f):
		return 0
	}
	return time.Duration(f)
}

// ParseBackoff resolves a curve name from configuration.
func ParseBackoff(name string, maxDelay time.Duration, jitter float64) (Backoff, error) {
	var b Backoff
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "linear":
		b = Linear
	case "exponential":
		b = Exponential(maxDelay)
	default:
		return nil, fmt.Errorf("unknown backoff curve %q", name)
	}
	if jitter > 0 {
		b = WithJitter(b, jitter)
	}
	return b, nil
}

// Policy describes how an operation is retried. A Policy is a value; share
// it freely.
type Policy struct {
	// MaxAttempts is the number of retries after the first attempt, so an
	// operation runs at most MaxAttempts+1 times.
	MaxAttempts int

	// BaseDelay feeds the backoff curve.
	BaseDelay time.Duration

	// AttemptTimeout bounds resource acquisition for each attempt.
	AttemptTimeout time.Duration

	// Backoff is the delay curve; nil means Linear.
	Backoff Backoff
}

// DefaultPolicy returns the development defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    1,
		BaseDelay:      200 * time.Millisecond,
		AttemptTimeout: 5 * time.Second,
		Backoff:        Linear,
	}
}

// PolicyForEnvironment returns the policy used in env. Production retries
// more patiently because its pool is small and contended.
func PolicyForEnvironment(env string) Policy {
	switch strings.ToLower(env) {
	case "production", "prod":
		return Policy{
			MaxAttempts:    3,
			BaseDelay:      1 * time.Second,
			AttemptTimeout: 10 * time.Second,
			Backoff:        Linear,
		}
	default:
		return DefaultPolicy()
	}
}

// Delay returns the wait before attempt (attempt >= 1).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	b := p.Backoff
	if b == nil {
		b = Linear
	}
	d := b(attempt, p.BaseDelay)
	if d < 0 {
		return 0
	}
	return d
}

// Validate rejects policies that cannot make progress.
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must be >= 0 (got %d)", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay must be >= 0 (got %s)", p.BaseDelay)
	}
	if p.AttemptTimeout < 0 {
		return fmt.Errorf("attempt timeout must be >= 0 (got %s)", p.AttemptTimeout)
	}
	return nil
}

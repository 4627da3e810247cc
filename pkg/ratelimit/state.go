// Package ratelimit tracks the request budget an upstream API advertises
// in its X-RateLimit-Remaining and X-RateLimit-Reset headers and gates page
// fetches on it. State lives in Redis so every process talking to the same
// upstream sees the same budget.
package ratelimit

import (
	"time"
)

// Response headers the tracker reads.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Thresholds decide when requests are throttled or blocked.
type Thresholds struct {
	// Critical blocks requests until the window resets when the remaining
	// budget falls below it.
	Critical int
	// Warning throttles requests below it.
	Warning int
	// Healthy marks the state healthy at or above it.
	Healthy int
}

// DefaultThresholds returns 5/20/50.
func DefaultThresholds() Thresholds {
	return Thresholds{Critical: 5, Warning: 20, Healthy: 50}
}

// State is the shared rate limit state of one upstream.
type State struct {
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	LastUpdate time.Time `json:"last_update"`
	Known      bool      `json:"known"`
}

// IsStale reports whether the state is older than maxAge.
func (s State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// TimeUntilReset returns the time left in the window, 0 once it passed.
func (s State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// Decision is what the tracker advises for the next request.
type Decision int

const (
	Allow Decision = iota
	Throttle
	Block
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Throttle:
		return "throttle"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// Decide applies th to s. Unknown state and an elapsed window allow.
func (s State) Decide(th Thresholds) Decision {
	if !s.Known || s.TimeUntilReset() == 0 {
		return Allow
	}
	switch {
	case s.Remaining < th.Critical:
		return Block
	case s.Remaining < th.Warning:
		return Throttle
	default:
		return Allow
	}
}

// IsHealthy reports whether the budget is at or above th.Healthy.
func (s State) IsHealthy(th Thresholds) bool {
	return !s.Known || s.Remaining >= th.Healthy
}

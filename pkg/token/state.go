package token

import (
	"time"

	"github.com/Sternrassler/dataaccess/pkg/credential"
)

// State is where a credential stands in its lifecycle.
type State int

const (
	// StateAbsent means nothing is stored.
	StateAbsent State = iota
	// StateValid means the access token can be used as is.
	StateValid
	// StateExpiring means the access token is within the refresh buffer of
	// its expiry (or past it) and a refresh token is available.
	StateExpiring
	// StateRefreshing means a refresh for the credential is in flight.
	StateRefreshing
	// StateInvalid means the user must authorize again.
	StateInvalid
)

// String returns the state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateValid:
		return "valid"
	case StateExpiring:
		return "expiring"
	case StateRefreshing:
		return "refreshing"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Classify determines the state of c at now. An access token inside the
// buffer is never Valid, and an unusable access token without a refresh
// token is Invalid.
func Classify(c credential.Credential, now time.Time, buffer time.Duration) State {
	switch {
	case c.IsZero():
		return StateAbsent
	case c.AccessToken != "" && !c.ExpiresWithin(now, buffer):
		return StateValid
	case c.RefreshToken == "":
		return StateInvalid
	default:
		return StateExpiring
	}
}

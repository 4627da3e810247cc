// Package fault defines the error taxonomy shared by the data-access layer.
//
// Every error that crosses a package boundary carries a Kind so callers can
// decide whether to retry, re-authorize, or map the failure to an HTTP status
// without inspecting error text.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	// KindResourceTimeout means no pooled resource became available in time.
	KindResourceTimeout Kind = "resource_timeout"

	// KindTransientBackend means the backing store reported a recoverable fault.
	KindTransientBackend Kind = "transient_backend"

	// KindCallerInput means the request itself is malformed.
	KindCallerInput Kind = "caller_input"

	// KindNotFound means the requested row does not exist.
	KindNotFound Kind = "not_found"

	// KindAuthorizationExpired means the upstream credential is unusable and
	// the user has to go through the authorization flow again.
	KindAuthorizationExpired Kind = "authorization_expired"

	// KindUpstreamPage means a single page fetch failed.
	KindUpstreamPage Kind = "upstream_page"

	// KindPoolClosed means the pool was shut down. Never retried.
	KindPoolClosed Kind = "pool_closed"

	// KindTimeout means the caller's overall deadline expired.
	KindTimeout Kind = "timeout"

	// KindInternal is the fallback for unclassified errors.
	KindInternal Kind = "internal"
)

// Error is a classified error with the operation that produced it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind without a cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap attaches a kind to err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf attaches a kind and a formatted message to err.
func Wrapf(kind Kind, op string, err error, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Bare context errors are reported as KindTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the failure is worth another attempt.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindResourceTimeout, KindTransientBackend:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a kind to the status a handler should answer with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindCallerInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthorizationExpired:
		return http.StatusUnauthorized
	case KindUpstreamPage:
		return http.StatusBadGateway
	case KindResourceTimeout, KindTransientBackend, KindPoolClosed:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

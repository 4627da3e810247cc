package retry

import "errors"

var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	// The final attempt's error is wrapped alongside it.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context ends during backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

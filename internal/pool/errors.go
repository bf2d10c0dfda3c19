// Package pool error definitions provide the typed failure surface callers
// see. Transient internal failures (a single validation miss, one failed
// creation attempt) are absorbed and retried; only exhaustion of retries,
// of the pool, or of the caller's timeout budget is surfaced.
package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrAcquireTimeout indicates the caller waited past the acquire timeout.
	// The condition is transient; callers may retry.
	ErrAcquireTimeout = errors.New("timed out waiting for a connection")

	// ErrPoolExhausted indicates the pool is at its current maximum with no
	// idle connections and no timeout was configured, so the acquire fails
	// fast instead of waiting indefinitely.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrPoolClosed indicates an operation on a closed pool.
	ErrPoolClosed = errors.New("connection pool is closed")
)

// CreationError reports that opening or warming up a physical connection
// failed after the bounded internal retry budget.
type CreationError struct {
	Attempts int   // creation attempts made before giving up
	Cause    error // last underlying failure
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("connection creation failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *CreationError) Unwrap() error {
	return e.Cause
}

// PrepareError reports a statement preparation failure on the caller's own
// query. It does not affect other cached statements.
type PrepareError struct {
	Query string
	Cause error
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("failed to prepare statement %q: %v", e.Query, e.Cause)
}

func (e *PrepareError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the caller can reasonably retry the operation
// that produced err.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAcquireTimeout)
}

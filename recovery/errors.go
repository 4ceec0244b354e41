// Package recovery is the failure-handling substrate for the ingestion
// pipeline: retry with backoff, circuit breaking, compensating transactions,
// checkpointing, and a dead-letter queue, all dispatched through a Manager.
package recovery

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy. Transport, rate-limit and
// persistence failures are retryable; validation and configuration failures
// fail fast; not-found is downgraded to an empty result by the caller.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindConfiguration     Kind = "configuration"
	KindTransport         Kind = "transport"
	KindRateLimitTimeout  Kind = "rate_limit_timeout"
	KindCircuitOpen       Kind = "circuit_open"
	KindDependencyMissing Kind = "dependency_missing"
	KindPersistence       Kind = "persistence"
	KindNotFound          Kind = "not_found"
	KindCancelled         Kind = "cancelled"
	KindUnknown           Kind = "unknown"
)

// Error attaches a Kind and the operation name to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name. A nil err returns nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef is E with a formatted message instead of a wrapped error.
func Ef(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf walks the error chain and returns the outermost recorded Kind.
// Context cancellation maps to KindCancelled even when unwrapped.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindUnknown
}

// IsRetryable reports whether the propagation policy allows retrying err.
// Unknown errors are retryable so transient failures aren't given up on early.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindRateLimitTimeout, KindPersistence, KindUnknown:
		return true
	}
	return false
}

// ErrCircuitOpen is returned by a breaker rejecting calls while open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy. Stores return these (wrapped with context); the HTTP
// layer maps them to responses and the scheduler uses IsRetriable to
// decide whether a failed job execution earns another attempt.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrTimeout    = errors.New("timed out")
	ErrCancelled  = errors.New("cancelled")
)

// TransportError marks a persistence or cache endpoint as unreachable.
// Transport failures are always retriable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err as a retriable transport failure.
func NewTransportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRetriable reports whether a failed operation may earn another
// attempt. Validation, not-found, conflict and cancellation are
// terminal; transport failures, timeouts and unclassified errors are
// retriable.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// ErrorClass buckets err into its taxonomy class, used as the label on
// the terminal-failure counter.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case IsTransport(err):
		return "transport"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal"
	}
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Validationf builds a wrapped validation error.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

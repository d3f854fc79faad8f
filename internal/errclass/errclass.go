// Package errclass classifies tool-call failures as transient (worth a retry)
// or permanent (fail fast). Network errors, timeouts and 5xx responses are
// transient; validation and backend-rejected operations are permanent.
package errclass

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf wraps a formatted error as retryable.
func Transientf(format string, args ...interface{}) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Permanentf wraps a formatted error as not retryable.
func Permanentf(format string, args ...interface{}) error {
	return &permanentError{err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err should be retried. Unclassified network
// and deadline errors count as transient; anything else unclassified is
// treated as permanent so unknown failures never loop.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t *transientError
	if errors.As(err, &t) {
		return true
	}
	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// IsPermanent reports whether err is explicitly non-retryable.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// FromStatus classifies an HTTP status code: 5xx and 429 are transient, other
// 4xx permanent.
func FromStatus(status int, err error) error {
	switch {
	case status >= 500 || status == 429:
		return Transient(err)
	case status >= 400:
		return Permanent(err)
	default:
		return err
	}
}

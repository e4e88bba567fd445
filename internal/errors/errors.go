// Package errors provides structured error types for the intake engine.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	// ErrConfiguration means the completion endpoint is not configured
	// (missing API key or base URL). Fatal for the feature, not retryable,
	// surfaced to operators rather than end users.
	ErrConfiguration = errors.New("completion endpoint not configured")

	// ErrInvalidMessage is the terminal error after a dialogue operation
	// exhausts its retry budget. Callers turn it into a generic
	// "assistant unavailable, try again" state.
	ErrInvalidMessage = errors.New("no valid assistant message produced")

	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrSessionBusy  = errors.New("intake session busy")
)

// TransportError represents a network-level or non-2xx failure from the
// completion endpoint. The response body is preserved for diagnostics even
// when it is not valid JSON.
type TransportError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("completion transport error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("completion transport error (status %d): %s", e.Status, truncate(e.Body, 200))
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError creates a transport error from an HTTP status and body.
func NewTransportError(status int, body string) *TransportError {
	return &TransportError{Status: status, Body: body}
}

// IsRetryable reports whether the error is transient and worth another
// attempt inside an operation's retry budget.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package models

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("requested resource not found")
var ErrForbidden = errors.New("user does not have permission to access this resource")
var ErrInvalidToken = errors.New("token not found or expired")

// ErrSessionExists is returned when reconciliation is started twice for the same intent.
// A timed-out or settled intent cannot be reconciled again; create a new intent instead.
var ErrSessionExists = errors.New("reconciliation session already exists for this intent")
var ErrSessionCancelled = errors.New("reconciliation session was cancelled")

// ErrNoMatchTimeout means the polling budget ran out without a terminal payment record.
// It is not a ProviderError; callers offer a manual check rather than a retry.
var ErrNoMatchTimeout = errors.New("no matching payment found before the polling budget ran out")

// ErrProviderUnreachable aborts a session after too many consecutive transport errors.
var ErrProviderUnreachable = errors.New("payment provider unreachable")

var ErrAmbiguousMatch = errors.New("more than one payment record strongly matches the intent")

// ValidationError is returned before any provider call is made. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// ProviderErrorKind tells callers whether a provider failure may be retried.
type ProviderErrorKind string

const (
	ProviderErrorTransient ProviderErrorKind = "transient"
	ProviderErrorPermanent ProviderErrorKind = "permanent"
)

// ProviderError wraps a failure reported by (or while reaching) the payment provider.
type ProviderError struct {
	Kind       ProviderErrorKind
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s (%s, status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether the error is safe to retry with backoff.
func (e *ProviderError) Transient() bool { return e.Kind == ProviderErrorTransient }

// IsTransient reports whether err is, or wraps, a transient ProviderError.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient()
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrorResponse is the JSON body returned for failed API calls.
type ErrorResponse struct {
	Message string `json:"message"`
}

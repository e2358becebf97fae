package models

import (
	"errors"
	"fmt"
	"time"
)

// TransientError is a retryable failure: HTTP 429, 5xx, or a dropped
// connection. RetryAfter is the server-supplied wait, zero when absent.
type TransientError struct {
	Op         string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient failure (http %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a client error or malformed response. It is never retried.
type PermanentError struct {
	Op         string
	StatusCode int
	Reason     string
	Err        error
}

func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: permanent failure (http %d): %s", e.Op, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%s: permanent failure: %s", e.Op, e.Reason)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// ValidationError rejects a write that would break a data-model invariant.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StoreError is a transaction or commit failure. The in-flight transaction
// has been rolled back when this is returned.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is, or wraps, a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStore reports whether err is, or wraps, a StoreError.
func IsStore(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// RetryAfterOf extracts a server-supplied retry delay from err, if any.
func RetryAfterOf(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

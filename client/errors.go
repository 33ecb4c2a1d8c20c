package client

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TransientError covers network failures and 5xx-class responses. The
// dispatcher retries these with backoff up to a bounded attempt count before
// rolling the mutation back.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient: %v", e.Err)
	}
	return fmt.Sprintf("transient: status %d", e.Status)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Retryable marks the error for the dispatcher's retry loop.
func (e *TransientError) Retryable() bool { return true }

// ValidationError is a non-retryable rejection. The mutation rolls back
// immediately and the message is surfaced verbatim.
type ValidationError struct {
	Status  int
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Message)
}

// ConflictError is not a failure: the server holds a newer version of the
// entity. Remote carries the server's current record so both sides can be
// handed to the conflict queue.
type ConflictError struct {
	EntityType string
	EntityID   string
	Remote     json.RawMessage
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s %s has a newer remote version", e.EntityType, e.EntityID)
}

// StaleReferenceError means the mutation's target no longer exists. The
// mutation rolls back and dangling local references are removed.
type StaleReferenceError struct {
	EntityType string
	EntityID   string
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("stale reference: %s %s no longer exists", e.EntityType, e.EntityID)
}

// RetryableError is implemented by errors the dispatcher may retry.
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var re RetryableError
	return errors.As(err, &re) && re.Retryable()
}

// Package errors provides the error taxonomy shared by the resilience
// components (circuit breaker, event store, connection manager) and
// classification helpers for retry decisions.
package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the store and transport layers.
var (
	// ErrStreamNotFound is returned when reading a stream that has never
	// been appended to and existence is required.
	ErrStreamNotFound = errors.New("event stream not found")

	// ErrSessionNotFound is returned when a session record is missing or expired.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAuthRejected signals that the remote side rejected the supplied
	// credential. It is never retried automatically; the caller must obtain
	// a fresh credential before reconnecting.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrInvalidVersionSequence is returned when appended events do not form
	// a contiguous version sequence on top of the current stream version.
	ErrInvalidVersionSequence = errors.New("event versions must be contiguous from current stream version")
)

// CircuitOpenError is returned when a circuit breaker rejects a call without
// invoking the protected action. Callers should treat it as "try later",
// not as a dependency failure.
type CircuitOpenError struct {
	// Name is the breaker that rejected the call.
	Name string
	// NextAttempt is the earliest time a probe call may be attempted.
	NextAttempt time.Time
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Name, e.NextAttempt.Format(time.RFC3339))
}

// ExecutionTimeoutError marks an action that exceeded the breaker's hard
// per-call timeout. The underlying context error is preserved for unwrap.
type ExecutionTimeoutError struct {
	Name    string
	Timeout time.Duration
}

// Error implements the error interface.
func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("circuit breaker %q: action timed out after %s", e.Name, e.Timeout)
}

// VersionConflictError is returned when an optimistic-concurrency append
// loses the race: the stream version moved between read and write. Callers
// should re-read the current version and retry with a corrected
// expectedVersion, or merge.
type VersionConflictError struct {
	StreamID        string
	ExpectedVersion uint64
	CurrentVersion  uint64
}

// Error implements the error interface.
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on stream %q: expected %d, current %d",
		e.StreamID, e.ExpectedVersion, e.CurrentVersion)
}

// IsCircuitOpen reports whether err is a circuit-open rejection.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}

// IsTimeout reports whether err is a breaker execution timeout.
func IsTimeout(err error) bool {
	var ete *ExecutionTimeoutError
	return errors.As(err, &ete) || errors.Is(err, context.DeadlineExceeded)
}

// IsConflict reports whether err is an optimistic-concurrency conflict.
func IsConflict(err error) bool {
	var vce *VersionConflictError
	return errors.As(err, &vce)
}

// IsAuthError reports whether err requires a fresh credential before any
// further connect attempt.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthRejected)
}

// IsRetryable reports whether the operation that produced err may be retried
// as-is. Circuit-open rejections and version conflicts are retryable after
// a delay or a re-read; auth rejections are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsAuthError(err) {
		return false
	}
	return IsCircuitOpen(err) || IsConflict(err) || IsTimeout(err)
}

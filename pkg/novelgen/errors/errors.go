// Package errors defines the error taxonomy shared by the generation core,
// the LLM backends and the configuration layer.
package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrRateLimited marks a backend rejection caused by request throttling.
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout marks a backend call that did not answer in time.
	ErrTimeout = errors.New("operation timed out")

	// ErrEmptyResponse marks a backend answer without any text.
	ErrEmptyResponse = errors.New("empty response")

	// ErrInvalidAPIKey marks missing or placeholder credentials.
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// =============================================================================
// Error Types
// =============================================================================

// ConfigurationError reports a missing or invalid static setting. Key is the
// dotted configuration key, e.g. "generation.max_sections".
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration: %s is required", e.Key)
	}
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Reason)
}

// AuthenticationError is returned by a backend whose credentials are rejected.
type AuthenticationError struct {
	Backend string
	Err     error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s backend: %v", e.Backend, e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// TransientGenerationError wraps a retryable backend failure such as a
// timeout, a rate limit or a temporary service error.
type TransientGenerationError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientGenerationError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("transient generation error (retry after %v): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("transient generation error: %v", e.Err)
}

func (e *TransientGenerationError) Unwrap() error {
	return e.Err
}

// FatalGenerationError wraps a backend failure that must not be retried.
type FatalGenerationError struct {
	Err error
}

func (e *FatalGenerationError) Error() string {
	return fmt.Sprintf("fatal generation error: %v", e.Err)
}

func (e *FatalGenerationError) Unwrap() error {
	return e.Err
}

// SectionAcceptanceError is raised when generated text keeps failing
// validation until the attempt budget is spent.
type SectionAcceptanceError struct {
	Index    int
	Attempts int
	Reason   string
}

func (e *SectionAcceptanceError) Error() string {
	return fmt.Sprintf("section %d rejected after %d attempts: %s", e.Index, e.Attempts, e.Reason)
}

// SectionFailure carries the context of the attempt that ended a run:
// the section index, how many attempts were made and the underlying cause.
type SectionFailure struct {
	Index     int
	Attempt   int
	Exhausted bool
	Cause     error
	Timestamp time.Time
}

func (e *SectionFailure) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("section %d failed after %d attempts: %v", e.Index, e.Attempt, e.Cause)
	}
	return fmt.Sprintf("section %d failed (attempt %d): %v", e.Index, e.Attempt, e.Cause)
}

func (e *SectionFailure) Unwrap() error {
	return e.Cause
}

// =============================================================================
// Constructors
// =============================================================================

// Transient wraps err as a retryable generation error.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientGenerationError{Err: err}
}

// Fatal wraps err as a non-retryable generation error.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalGenerationError{Err: err}
}

// MissingKey reports a required configuration key that has no value.
func MissingKey(key string) *ConfigurationError {
	return &ConfigurationError{Key: key}
}

// InvalidKey reports a configuration key holding an unusable value.
func InvalidKey(key, reason string) *ConfigurationError {
	return &ConfigurationError{Key: key, Reason: reason}
}

// =============================================================================
// Classification
// =============================================================================

// IsTransient reports whether err may succeed when the same call is repeated.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientGenerationError
	if errors.As(err, &transient) {
		return true
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}

// IsFatal reports whether err ends a run without retry. Authentication
// failures and cancellation are always fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fatal *FatalGenerationError
	if errors.As(err, &fatal) {
		return true
	}
	return IsAuthentication(err) || IsConfiguration(err) || errors.Is(err, context.Canceled)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsAuthentication reports whether err is an AuthenticationError.
func IsAuthentication(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

// RetryAfter returns the backend-suggested delay carried by err, if any.
func RetryAfter(err error) time.Duration {
	var transient *TransientGenerationError
	if errors.As(err, &transient) {
		return transient.RetryAfter
	}
	return 0
}

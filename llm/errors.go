package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrExhausted is returned when every provider in the fallback chain used
// its full attempt budget without success.
var ErrExhausted = errors.New("all providers exhausted")

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// ConfigError is a provider configuration problem, such as a missing API
// key. It is raised before any network call and aborts the whole run.
type ConfigError struct {
	err error
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.err
}

// NewConfigError wraps an error as a configuration error.
func NewConfigError(err error) error {
	return &ConfigError{err: err}
}

// ShapeError is a response that could not be parsed into the declared
// response shape. It is retried up to the attempt cap.
type ShapeError struct {
	err error
}

func (e *ShapeError) Error() string {
	return "response shape: " + e.err.Error()
}

func (e *ShapeError) Unwrap() error {
	return e.err
}

// NewShapeError wraps an error as a response shape error.
func NewShapeError(err error) error {
	return &ShapeError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
// Configuration errors are fatal.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal) || IsConfigError(err)
}

// IsConfigError returns true if the error is a configuration error.
func IsConfigError(err error) bool {
	var cfg *ConfigError
	return errors.As(err, &cfg)
}

// IsShapeError returns true if the error is a response shape error.
func IsShapeError(err error) bool {
	var shape *ShapeError
	return errors.As(err, &shape)
}

// IsRateLimited returns true if the error chain contains an HTTP 429.
func IsRateLimited(err error) bool {
	var status *StatusError
	return errors.As(err, &status) && status.StatusCode == 429
}

// IsRetryable is the default retry classification: transient transport
// failures and malformed responses are retried, everything else is not.
func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	return IsTransient(err) || IsShapeError(err)
}

// StatusError is a non-200 response from a provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("LLM API error (status %d): %s", e.StatusCode, e.Body)
}

// classifyTransportError classifies an error from the HTTP round trip.
// Resets, premature closes and attempt timeouts are transient. Cancellation
// of the caller's context is returned as is so it is never retried.
func classifyTransportError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return NewTransientError(fmt.Errorf("request interrupted: %w", err))
	}
	return NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
}

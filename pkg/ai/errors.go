// Package ai provides common types and utilities for model backends.
// It defines the error classification, retry configuration and helpers
// shared by the generator, tokenizer and end-of-utterance providers.
package ai

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Common error types used across model backends
var (
	// ErrRecoverable indicates a temporary failure that may succeed if retried.
	// Examples: connection refused while the inference server warms up, rate limiting.
	// Recommended action: retry with exponential backoff.
	ErrRecoverable = errors.New("recoverable provider error")

	// ErrFatal indicates a permanent failure that will not succeed if retried.
	// Examples: unknown model, malformed prompt, missing tokenizer file.
	// Recommended action: fail fast, do not retry.
	ErrFatal = errors.New("fatal provider error")
)

// RetryConfig configures retry behavior for recoverable errors
type RetryConfig struct {
	MaxRetries    int           // Maximum number of retry attempts
	InitialDelay  time.Duration // Initial delay before first retry
	MaxDelay      time.Duration // Maximum delay between retries
	BackoffFactor float64       // Exponential backoff multiplier
	JitterPercent float32       // Random jitter percentage (0.0-1.0)
}

// DefaultRetryConfig provides sensible defaults for opening generation streams
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      2 * time.Second,
	BackoffFactor: 2.0,
	JitterPercent: 0.1,
}

// IsRecoverable checks if an error is recoverable and should be retried
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

// IsFatal checks if an error is fatal and should not be retried
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// RetryableError wraps an underlying error with retry classification
type RetryableError struct {
	Underlying error
	Retryable  bool
	Message    string
}

func (e *RetryableError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Underlying.Error()
	}
	return e.Underlying.Error()
}

// Unwrap exposes both the classification sentinel and the underlying cause.
func (e *RetryableError) Unwrap() []error {
	if e.Retryable {
		return []error{ErrRecoverable, e.Underlying}
	}
	return []error{ErrFatal, e.Underlying}
}

// NewRecoverableError creates a recoverable error with context
func NewRecoverableError(underlying error, message string) error {
	return &RetryableError{
		Underlying: underlying,
		Retryable:  true,
		Message:    message,
	}
}

// NewFatalError creates a fatal error with context
func NewFatalError(underlying error, message string) error {
	return &RetryableError{
		Underlying: underlying,
		Retryable:  false,
		Message:    message,
	}
}

// Retry calls fn until it succeeds, returns a non-recoverable error, the
// retry budget is spent, or ctx is done.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	delay := cfg.InitialDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !IsRecoverable(err) || attempt >= cfg.MaxRetries {
			return err
		}

		wait := delay
		if cfg.JitterPercent > 0 {
			jitter := float64(wait) * float64(cfg.JitterPercent)
			wait += time.Duration((rand.Float64()*2 - 1) * jitter)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

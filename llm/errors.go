package llm

import (
	"errors"
	"regexp"
	"strconv"
	"time"
)

// Error types for classifying adapter errors.

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

// RateLimitError represents an upstream rate-limit rejection. RetryAfter is
// zero when the provider did not say how long to wait.
type RateLimitError struct {
	err        error
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return e.err.Error()
}

func (e *RateLimitError) Unwrap() error {
	return e.err
}

// NewRateLimitError wraps an error as an upstream rate-limit rejection.
func NewRateLimitError(err error, retryAfter time.Duration) error {
	return &RateLimitError{err: err, RetryAfter: retryAfter}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// IsRateLimit returns true if the error is an upstream rate-limit rejection.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

var (
	rateLimitPattern  = regexp.MustCompile(`(?i)rate limit|429|too many|quota`)
	transientPattern  = regexp.MustCompile(`(?i)timeout|connection|ECONNRESET|ENOTFOUND|5\d\d`)
	retryAfterPattern = regexp.MustCompile(`(?i)retry[- _]?after[:\s]+(\d+)`)
)

// Classify inspects an adapter error and rewraps untyped errors by message
// text. Errors already wrapped as transient, fatal or rate-limited pass
// through unchanged. Rate-limit text is a subset of transient text, so it is
// checked first.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) || IsFatal(err) || IsRateLimit(err) {
		return err
	}
	msg := err.Error()
	switch {
	case rateLimitPattern.MatchString(msg):
		return NewRateLimitError(err, ParseRetryAfter(msg))
	case transientPattern.MatchString(msg):
		return NewTransientError(err)
	default:
		return NewFatalError(err)
	}
}

// ParseRetryAfter extracts a Retry-After duration from free-form error text.
// The value is interpreted as seconds. Returns 0 when absent.
func ParseRetryAfter(msg string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}

package queue

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel categories for compile-queue failures. Typed errors wrap these so
// callers can match with errors.Is and still read the payload via errors.As.
var (
	ErrQueueFull    = errors.New("compile queue full")
	ErrQueueTimeout = errors.New("compile queue timeout")
	ErrQueueCleared = errors.New("compile queue cleared")
)

// FullError reports a synchronous rejection from a saturated queue.
type FullError struct {
	// CurrentSize is the queue depth at rejection time.
	CurrentSize int
}

func (e *FullError) Error() string {
	return fmt.Sprintf("compile queue full (%d pending)", e.CurrentSize)
}

func (e *FullError) Unwrap() error {
	return ErrQueueFull
}

// TimeoutError reports an entry expiring before processing started.
type TimeoutError struct {
	// WaitTime is how long the entry sat in the queue.
	WaitTime time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("compile queue timeout after %s", e.WaitTime)
}

func (e *TimeoutError) Unwrap() error {
	return ErrQueueTimeout
}

package orchestrator

import "errors"

// CriticalError aborts the whole run when critical-error policy is enabled:
// tasks not yet started are skipped, in-flight work settles, queues drain,
// and the first critical error is re-raised from Run.
type CriticalError struct {
	err error
}

func (e *CriticalError) Error() string {
	return e.err.Error()
}

func (e *CriticalError) Unwrap() error {
	return e.err
}

// NewCriticalError wraps an error as critical.
func NewCriticalError(err error) error {
	return &CriticalError{err: err}
}

// IsCritical returns true if the error is critical.
func IsCritical(err error) bool {
	var critical *CriticalError
	return errors.As(err, &critical)
}

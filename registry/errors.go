package registry

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a permanent failure: the registry has no such resource.
// It is never retried.
var ErrNotFound = errors.New("registry: not found")

// TransientError is returned once the retry budget is spent on rate limiting,
// server errors or network failures. Redelivering the work later may succeed.
type TransientError struct {
	URL        string
	StatusCode int
	Attempts   int
	Cause      error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("registry request %s failed after %d attempts: %v", e.URL, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("registry request %s failed after %d attempts: HTTP %d", e.URL, e.Attempts, e.StatusCode)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether err is a retryable registry failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

package scrape

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported is returned by a provider when asked to perform an
	// operation outside of its advertised capability set.
	ErrUnsupported = errors.New("operation is not supported by this provider")

	// ErrMissingParent indicates that a scrape could not proceed because the
	// parent entity (e.g. the show a season belongs to) has not yet been
	// resolved against any provider.
	ErrMissingParent = errors.New("parent entity has no resolved external identity")
)

// TransientError wraps a provider failure that is expected to succeed on a
// later attempt, such as a rate-limit response or an upstream outage. Jobs
// which fail with a transient error are retried by the queue.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient provider failure (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient provider failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a provider failure that will not succeed no matter how
// many times it is retried, such as a malformed request or an entity that the
// provider does not know about.
type PermanentError struct {
	Status int
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("permanent provider failure (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("permanent provider failure: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks the error as non-retryable for the queue.
func (e *PermanentError) Permanent() bool { return true }

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

package fetch

import (
	"errors"
	"fmt"
)

// ErrDisallowed is returned when robots.txt forbids fetching a URL.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// Error is a fetch failure after the retry policy gave up, or a failure that
// was never worth retrying.
type Error struct {
	URL       string
	Status    int // zero when no response was received
	Attempts  int
	Retryable bool // the last failure was transient
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d after %d attempt(s): %v", e.URL, e.Status, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s: after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusError is the cause recorded for non-2xx responses.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "unexpected status " + e.Status
}

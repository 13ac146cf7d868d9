package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth marks a rejected credential. Retrying cannot help; the
	// runner must be reconfigured.
	ErrAuth = errors.New("authentication rejected")

	// ErrSessionConflict is returned when another listener already
	// holds a session for this runner.
	ErrSessionConflict = errors.New("session already in use")

	// ErrLeaseConflict is returned when the job lease is held by
	// someone else. The job must not be executed.
	ErrLeaseConflict = errors.New("job lease conflict")

	// ErrNoSession is returned by operations requiring a session
	// before CreateSession succeeded.
	ErrNoSession = errors.New("no active session")
)

// StatusError carries a non-2xx response that maps to no sentinel.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// transient reports whether a status is worth retrying. Server errors
// and throttling are; everything else in the 4xx range is permanent.
func transient(statusCode int) bool {
	return statusCode >= 500 || statusCode == 429
}

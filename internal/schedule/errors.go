package schedule

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors shared across packages.
var (
	// ErrNotFound marks an absent object-store key or ledger entry.
	ErrNotFound = errors.New("not found")

	// ErrMissingTarget is returned when a fan-out is requested but no
	// execution target name is configured. Dispatch fails fast, before
	// any child is started.
	ErrMissingTarget = errors.New("execution target not configured")

	// ErrQualityGate marks a range whose aggregate error rate exceeded
	// the configured threshold.
	ErrQualityGate = errors.New("error rate above threshold")
)

// StatusError reports a page fetch that completed with a non-success HTTP
// status. Carrying the code lets the retry policy separate transient server
// trouble from pages that will never exist.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	if text := http.StatusText(e.Code); text != "" {
		return fmt.Sprintf("status %d %s", e.Code, text)
	}
	return fmt.Sprintf("status %d", e.Code)
}

// PollTimeoutError reports that polling an execution exceeded the caller's
// budget before the execution reached a terminal status. It is distinct from
// the execution itself finishing as FAILED or ABORTED.
type PollTimeoutError struct {
	ExecutionID string
	Waited      time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("execution %s still not terminal after %s", e.ExecutionID, e.Waited)
}

// IsPollTimeout reports whether err is a polling timeout.
func IsPollTimeout(err error) bool {
	var pt *PollTimeoutError
	return errors.As(err, &pt)
}

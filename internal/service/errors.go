package service

import (
	"errors"
	"fmt"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/entity"
)

var (
	// ErrNotFound covers both a missing job and a read by a caller without
	// access: the two are indistinguishable to the outside so existence
	// does not leak.
	ErrNotFound = errors.New("export job not found")

	// ErrAccessDenied is returned for mutating calls by a non-owner.
	ErrAccessDenied = errors.New("access denied")

	// ErrRetryLimitExceeded is returned when a retry would pass the cap.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")

	// ErrDesignNotFound is surfaced by the design collaborator at creation.
	ErrDesignNotFound = errors.New("design not found")
)

// InvalidTransitionError reports a state-machine violation, carrying the
// status the job was in and the event that was rejected.
type InvalidTransitionError struct {
	Status entity.JobStatus
	Event  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s job in status %q", e.Event, e.Status)
}

// ValidationError reports malformed creation or update parameters.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StorageError wraps a failure talking to the artifact store. The job row is
// left in place when deletion of its file fails, so cleanup can be retried.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("artifact storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

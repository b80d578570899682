package jobs

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no job record exists for an id.
var ErrNotFound = errors.New("job not found")

// ErrDuplicateID is returned when a record with the same id already exists.
var ErrDuplicateID = errors.New("duplicate job id")

// ValidationError rejects a submission before any record is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// QueueingError means the record was created but could not be enqueued.
// The record is marked failed so the job is never left invisible.
type QueueingError struct {
	JobID string
	Err   error
}

func (e *QueueingError) Error() string {
	return fmt.Sprintf("failed to enqueue job %s: %v", e.JobID, e.Err)
}

func (e *QueueingError) Unwrap() error { return e.Err }

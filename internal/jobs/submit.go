package jobs

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Pusher enqueues a job id for processing.
type Pusher interface {
	Push(ctx context.Context, id string) error
}

// SubmitRequest carries a validated upload into the submission service.
// AudioPath references the saved payload; the bytes themselves are never
// copied into the job record.
type SubmitRequest struct {
	RequestName string
	AudioPath   string
	SizeBytes   int64
	Options     Options
}

// Submitter creates job records and enqueues them. Submission completes in
// one store write plus one queue push, independent of audio length.
type Submitter struct {
	store    *Store
	queue    Pusher
	notifier *Notifier
}

// NewSubmitter creates a submission service.
func NewSubmitter(store *Store, queue Pusher, notifier *Notifier) *Submitter {
	return &Submitter{store: store, queue: queue, notifier: notifier}
}

// Submit validates the request, creates a queued record and pushes its id.
// If the push fails the record is marked failed rather than left invisible,
// and a QueueingError is returned.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if req.AudioPath == "" || req.SizeBytes == 0 {
		return nil, &ValidationError{Field: "file", Reason: "empty payload"}
	}
	if err := req.Options.Validate(); err != nil {
		return nil, err
	}

	job := &Job{
		ID:          uuid.New().String(),
		Status:      StatusQueued,
		Progress:    0,
		RequestName: req.RequestName,
		AudioPath:   req.AudioPath,
		Options:     req.Options,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := s.queue.Push(ctx, job.ID); err != nil {
		qerr := &QueueingError{JobID: job.ID, Err: err}
		now := time.Now().UTC()
		if _, uerr := s.store.Update(ctx, job.ID, func(j *Job) {
			j.Status = StatusFailed
			j.CompletedAt = &now
			j.Error = qerr.Error()
		}); uerr != nil {
			log.Printf("Failed to mark job %s as failed after enqueue error: %v", job.ID, uerr)
		}
		return nil, qerr
	}

	s.notifier.Publish(Update{JobID: job.ID, Status: StatusQueued})
	log.Printf("Job %s submitted (name: %s, %d bytes)", job.ID, req.RequestName, req.SizeBytes)
	return job, nil
}

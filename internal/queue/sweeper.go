package queue

import (
	"context"
	"log"
	"time"

	"github.com/cdflabs/stt-api/internal/jobs"
)

// Sweeper requeues jobs stuck in processing past a staleness threshold,
// which happens when a worker dies between claiming a job and writing its
// terminal state. Opt-in: deployments that prefer manual intervention
// simply never start it.
type Sweeper struct {
	store     *jobs.Store
	queue     *PendingQueue
	threshold time.Duration
	interval  time.Duration
}

// NewSweeper creates a sweeper that requeues jobs whose processing claim is
// older than threshold, checking every interval.
func NewSweeper(store *jobs.Store, queue *PendingQueue, threshold, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: store, queue: queue, threshold: threshold, interval: interval}
}

// Run sweeps periodically until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("Stale job sweeper started (threshold: %s, interval: %s)", s.threshold, s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Stale job sweeper stopped")
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				log.Printf("Sweeper: sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("Sweeper: requeued %d stale jobs", n)
			}
		}
	}
}

// Sweep requeues every stale processing job once and returns the count.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	processing, err := s.store.List(ctx, jobs.StatusProcessing, 500)
	if err != nil {
		return 0, err
	}

	requeued := 0
	cutoff := time.Now().Add(-s.threshold)

	for _, job := range processing {
		if job.StartedAt == nil || job.StartedAt.After(cutoff) {
			continue
		}

		// Re-check inside the record transaction: the worker may have
		// finished between the list and now.
		stale := false
		_, err := s.store.Update(ctx, job.ID, func(j *jobs.Job) {
			if j.Status != jobs.StatusProcessing || j.StartedAt == nil || j.StartedAt.After(cutoff) {
				return
			}
			stale = true
			j.Status = jobs.StatusQueued
			j.Progress = 0
			j.StartedAt = nil
		})
		if err != nil {
			log.Printf("Sweeper: reset of job %s failed: %v", job.ID, err)
			continue
		}
		if !stale {
			continue
		}

		if err := s.queue.Push(ctx, job.ID); err != nil {
			log.Printf("Sweeper: requeue of job %s failed: %v", job.ID, err)
			// Restore the stale claim so the next sweep sees the job
			// again; left as queued it would never be retried.
			if _, rerr := s.store.Update(ctx, job.ID, func(j *jobs.Job) {
				if j.Status == jobs.StatusQueued {
					j.Status = jobs.StatusProcessing
					j.StartedAt = job.StartedAt
					j.Progress = job.Progress
				}
			}); rerr != nil {
				log.Printf("Sweeper: restore of job %s failed: %v", job.ID, rerr)
			}
			continue
		}
		log.Printf("Sweeper: job %s was stale in processing, requeued", job.ID)
		requeued++
	}

	return requeued, nil
}

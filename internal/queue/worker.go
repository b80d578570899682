package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cdflabs/stt-api/internal/jobs"
	"github.com/cdflabs/stt-api/internal/transcription"
	"github.com/cdflabs/stt-api/internal/types"
)

// TranscriptSink persists a completed transcript outside the job record.
type TranscriptSink interface {
	SaveTranscript(requestName, jobID string, result *types.TranscriptionResult) (string, error)
}

// Archiver mirrors a completed transcript to remote storage.
type Archiver interface {
	Upload(requestName, jobID string, result *types.TranscriptionResult) (string, error)
}

// WorkerConfig tunes the worker loop.
type WorkerConfig struct {
	// PopTimeout bounds each blocking dequeue attempt. Default: 5s.
	PopTimeout time.Duration
	// TerminalRetries bounds attempts to persist a terminal state before
	// the job is left observably stuck in processing. Default: 5.
	TerminalRetries int
	// Sink and Archive are optional transcript destinations.
	Sink    TranscriptSink
	Archive Archiver
}

func (c *WorkerConfig) defaults() {
	if c.PopTimeout <= 0 {
		c.PopTimeout = 5 * time.Second
	}
	if c.TerminalRetries <= 0 {
		c.TerminalRetries = 5
	}
}

// Worker claims one job at a time from the pending queue, runs the engine
// under the exclusivity gate and writes the terminal state. Only the worker
// moves a job out of queued; engine failures become failed records, never
// loop crashes.
type Worker struct {
	store    *jobs.Store
	queue    *PendingQueue
	engine   transcription.Engine
	gate     *Gate
	notifier *jobs.Notifier
	cfg      WorkerConfig
}

// NewWorker creates a worker. Workers sharing an accelerator must share
// the same gate.
func NewWorker(store *jobs.Store, queue *PendingQueue, engine transcription.Engine, gate *Gate, notifier *jobs.Notifier, cfg WorkerConfig) *Worker {
	cfg.defaults()
	return &Worker{
		store:    store,
		queue:    queue,
		engine:   engine,
		gate:     gate,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Run processes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log.Println("Worker started, waiting for jobs...")

	for {
		id, err := w.queue.Pop(ctx, w.cfg.PopTimeout)
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Println("Worker shutting down...")
			return
		}
		if err != nil {
			log.Printf("Worker: dequeue error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		w.process(ctx, id)
	}
}

// process runs one claimed job to a terminal state.
func (w *Worker) process(ctx context.Context, id string) {
	var audioPath string
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Worker: PANIC processing job %s: %v\n%s", id, r, string(debug.Stack()))
			w.finish(id, func(j *jobs.Job) {
				setFailed(j, fmt.Sprintf("worker panic: %v", r))
			})
			w.removeTempFile(audioPath)
		}
	}()

	// The id is already off the queue, so the processing transition must be
	// persisted before any real work: record + queue together encode the
	// claim.
	now := time.Now().UTC()
	job, err := w.store.Update(ctx, id, func(j *jobs.Job) {
		j.Status = jobs.StatusProcessing
		j.StartedAt = &now
		if j.Progress < 10 {
			j.Progress = 10
		}
	})
	if errors.Is(err, jobs.ErrNotFound) {
		log.Printf("Worker: job %s dequeued but record missing, skipping", id)
		return
	}
	if err != nil {
		log.Printf("Worker: failed to claim job %s: %v", id, err)
		return
	}
	audioPath = job.AudioPath
	w.notifier.Publish(jobs.Update{JobID: id, Status: jobs.StatusProcessing, Progress: job.Progress})
	log.Printf("Worker: processing job %s (name: %s)", id, job.RequestName)

	req := transcription.Request{
		AudioPath:         job.AudioPath,
		Language:          job.Options.Language,
		EnableDiarization: job.Options.EnableDiarization,
		MinSpeakers:       job.Options.MinSpeakers,
		MaxSpeakers:       job.Options.MaxSpeakers,
	}

	start := time.Now()
	result, err := w.invoke(ctx, id, req)
	if err != nil {
		log.Printf("Worker: job %s failed: %v", id, err)
		w.finish(id, func(j *jobs.Job) {
			setFailed(j, err.Error())
		})
		w.removeTempFile(job.AudioPath)
		w.notifier.Publish(jobs.Update{JobID: id, Status: jobs.StatusFailed})
		return
	}

	result.ProcessingTime = time.Since(start).Seconds()
	result.WordCount = len(strings.Fields(result.Text))

	w.export(job, result)

	w.finish(id, func(j *jobs.Job) {
		now := time.Now().UTC()
		j.Status = jobs.StatusCompleted
		j.Progress = 100
		j.CompletedAt = &now
		j.Result = result
		j.Error = ""
	})
	w.removeTempFile(job.AudioPath)
	w.notifier.Publish(jobs.Update{JobID: id, Status: jobs.StatusCompleted, Progress: 100})
	log.Printf("Worker: job %s completed (duration: %.2fs, processing: %.2fs)",
		id, result.Duration, result.ProcessingTime)
}

// invoke runs the engine call under the exclusivity gate. Nothing else
// happens while the gate is held.
func (w *Worker) invoke(ctx context.Context, id string, req transcription.Request) (*types.TranscriptionResult, error) {
	if err := w.gate.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("waiting for engine: %w", err)
	}
	defer w.gate.Release()

	return w.engine.Transcribe(ctx, req, func(p int) {
		w.reportProgress(id, p)
	})
}

// reportProgress records a coarse progress checkpoint. Best effort and
// monotone: an out-of-order checkpoint never lowers progress.
func (w *Worker) reportProgress(id string, p int) {
	job, err := w.store.Update(context.Background(), id, func(j *jobs.Job) {
		if j.Status == jobs.StatusProcessing && p > j.Progress {
			j.Progress = p
		}
	})
	if err != nil {
		log.Printf("Worker: progress update for job %s failed: %v", id, err)
		return
	}
	w.notifier.Publish(jobs.Update{JobID: id, Status: job.Status, Progress: job.Progress})
}

// export writes the transcript to the configured local and remote
// destinations. Failures are logged, never fatal: the job record itself
// carries the result.
func (w *Worker) export(job *jobs.Job, result *types.TranscriptionResult) {
	if w.cfg.Sink != nil {
		path, err := w.cfg.Sink.SaveTranscript(job.RequestName, job.ID, result)
		if err != nil {
			log.Printf("Worker: local transcript save failed for job %s: %v", job.ID, err)
		} else {
			log.Printf("Worker: transcript saved to %s", path)
		}
	}

	if w.cfg.Archive != nil {
		var (
			url string
			err error
		)
		for attempt := 1; attempt <= 3; attempt++ {
			url, err = w.cfg.Archive.Upload(job.RequestName, job.ID, result)
			if err == nil {
				log.Printf("Worker: transcript archived for job %s: %s", job.ID, url)
				break
			}
			log.Printf("Worker: archive upload attempt %d/3 failed for job %s: %v", attempt, job.ID, err)
			if attempt < 3 {
				time.Sleep(time.Duration(attempt*attempt) * time.Second)
			}
		}
	}
}

// finish persists a terminal state with bounded backoff. Uses a background
// context so shutdown cannot drop a terminal write. If all attempts fail the
// job stays in processing, which queue stats and logs make diagnosable.
func (w *Worker) finish(id string, mutate func(*jobs.Job)) {
	var err error
	for attempt := 1; attempt <= w.cfg.TerminalRetries; attempt++ {
		_, err = w.store.Update(context.Background(), id, mutate)
		if err == nil || errors.Is(err, jobs.ErrNotFound) {
			return
		}
		log.Printf("Worker: terminal write attempt %d/%d for job %s failed: %v",
			attempt, w.cfg.TerminalRetries, id, err)
		if attempt < w.cfg.TerminalRetries {
			time.Sleep(time.Duration(attempt*attempt) * 250 * time.Millisecond)
		}
	}
	log.Printf("Worker: giving up on terminal write for job %s, record left in processing: %v", id, err)
}

func setFailed(j *jobs.Job, msg string) {
	now := time.Now().UTC()
	j.Status = jobs.StatusFailed
	j.CompletedAt = &now
	j.Error = msg
	j.Result = nil
}

// removeTempFile deletes the claimed job's audio payload.
func (w *Worker) removeTempFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("Worker: failed to remove temp file %s: %v", path, err)
	}
}

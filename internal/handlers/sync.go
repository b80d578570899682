package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/cdflabs/stt-api/internal/jobs"
)

// SyncHandler implements the synchronous transcription endpoint as a thin
// composition over the async primitives: submit, wait for a terminal
// state, return the result inline.
type SyncHandler struct {
	submitter *jobs.Submitter
	store     *jobs.Store
	notifier  *jobs.Notifier
	tempDir   string
	maxSizeMB int
	maxWait   time.Duration
}

// NewSyncHandler creates the synchronous transcription handler.
func NewSyncHandler(submitter *jobs.Submitter, store *jobs.Store, notifier *jobs.Notifier, tempDir string, maxSizeMB int, maxWait time.Duration) *SyncHandler {
	return &SyncHandler{
		submitter: submitter,
		store:     store,
		notifier:  notifier,
		tempDir:   tempDir,
		maxSizeMB: maxSizeMB,
		maxWait:   maxWait,
	}
}

// Handle processes POST /transcribe.
func (h *SyncHandler) Handle(c *fiber.Ctx) error {
	req, err := buildSubmitRequest(c, h.tempDir, h.maxSizeMB)
	if req == nil {
		return err
	}

	job, err := h.submitter.Submit(c.Context(), *req)
	if err != nil {
		return submitError(c, err)
	}

	final, err := h.waitTerminal(c.Context(), job.ID)
	if err != nil {
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
			"error":  "Transcription timed out, poll the job instead",
			"code":   "ERR_TIMEOUT",
			"job_id": job.ID,
		})
	}

	if final.Status == jobs.StatusFailed {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":  final.Error,
			"code":   "ERR_ENGINE",
			"job_id": final.ID,
		})
	}
	return c.JSON(final.Result)
}

// waitTerminal blocks until the job reaches a terminal state, maxWait
// elapses or the request is gone. Notifier updates wake it early; a slow
// ticker covers dropped updates so the store stays the source of truth.
func (h *SyncHandler) waitTerminal(ctx context.Context, id string) (*jobs.Job, error) {
	updates, cancel := h.notifier.Subscribe(id)
	defer cancel()

	deadline := time.NewTimer(h.maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		job, err := h.store.Get(ctx, id)
		if err == nil && job.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-updates:
		case <-ticker.C:
		case <-deadline.C:
			return nil, context.DeadlineExceeded
		}
	}
}

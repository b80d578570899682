package handlers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/cdflabs/stt-api/internal/jobs"
)

// WatchHandler streams live status updates for one job over a WebSocket.
// Polling GET /jobs/:id remains the contract; this stream is additive and
// closes itself once the job is terminal.
type WatchHandler struct {
	store    *jobs.Store
	notifier *jobs.Notifier
}

// NewWatchHandler creates the job watch handler.
func NewWatchHandler(store *jobs.Store, notifier *jobs.Notifier) *WatchHandler {
	return &WatchHandler{store: store, notifier: notifier}
}

// Handle serves GET /ws/jobs/:id.
func (h *WatchHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	id := c.Params("id")
	job, err := h.store.Get(context.Background(), id)
	if errors.Is(err, jobs.ErrNotFound) {
		c.WriteJSON(map[string]string{"error": "Job not found"})
		return
	}
	if err != nil {
		log.Printf("Watch: store read for job %s failed: %v", id, err)
		c.WriteJSON(map[string]string{"error": "Store unavailable"})
		return
	}

	updates, cancel := h.notifier.Subscribe(id)
	defer cancel()

	// Initial snapshot; a job already terminal gets the full record at once.
	if h.send(c, job) {
		return
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case u := <-updates:
			if !u.Terminal() {
				if err := c.WriteJSON(u); err != nil {
					return
				}
				continue
			}
		case <-ticker.C:
			// Dropped updates are recovered from the store.
		}

		job, err := h.store.Get(context.Background(), id)
		if err != nil {
			log.Printf("Watch: store read for job %s failed: %v", id, err)
			return
		}
		if h.send(c, job) {
			return
		}
	}
}

// send writes the current job view and reports whether the stream is done.
func (h *WatchHandler) send(c *websocket.Conn, job *jobs.Job) bool {
	if job.Terminal() {
		c.WriteJSON(job)
		return true
	}
	err := c.WriteJSON(jobs.Update{JobID: job.ID, Status: job.Status, Progress: job.Progress})
	return err != nil
}

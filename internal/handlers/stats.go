package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/cdflabs/stt-api/internal/jobs"
	"github.com/cdflabs/stt-api/internal/queue"
	"github.com/cdflabs/stt-api/internal/transcription"
)

// StatsHandler reports queue depth and store liveness.
type StatsHandler struct {
	queue *queue.PendingQueue
	store *jobs.Store
}

// NewStatsHandler creates the queue health handler.
func NewStatsHandler(q *queue.PendingQueue, store *jobs.Store) *StatsHandler {
	return &StatsHandler{queue: q, store: store}
}

// QueueStats processes GET /queue/stats. queue_length is approximate under
// concurrent push/pop; store_healthy is an independent round-trip probe.
func (h *StatsHandler) QueueStats(c *fiber.Ctx) error {
	length, err := h.queue.Len(c.Context())
	if err != nil {
		log.Printf("Queue length probe failed: %v", err)
		length = -1
	}

	healthy := h.store.Ping(c.Context()) == nil

	return c.JSON(fiber.Map{
		"queue_length":  length,
		"store_healthy": healthy,
	})
}

// Health processes GET /health.
func Health(modelInfo map[string]any) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":     "healthy",
			"version":    "1.0.0",
			"model_info": modelInfo,
		})
	}
}

// Languages processes GET /languages.
func Languages(c *fiber.Ctx) error {
	langs := transcription.SupportedLanguages()
	return c.JSON(fiber.Map{
		"languages": langs,
		"count":     len(langs),
	})
}

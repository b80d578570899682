package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/cdflabs/stt-api/internal/jobs"
)

// StatusHandler serves the read-only polling endpoints. It never mutates
// job state and is safe to call concurrently with the worker.
type StatusHandler struct {
	store *jobs.Store
}

// NewStatusHandler creates the status query handler.
func NewStatusHandler(store *jobs.Store) *StatusHandler {
	return &StatusHandler{store: store}
}

// GetJob processes GET /jobs/:id.
func (h *StatusHandler) GetJob(c *fiber.Ctx) error {
	job, err := h.store.Get(c.Context(), c.Params("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
			"code":  "ERR_NOT_FOUND",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_STORE",
		})
	}
	return c.JSON(job)
}

// ListJobs processes GET /jobs?status=&limit=.
func (h *StatusHandler) ListJobs(c *fiber.Ctx) error {
	status := c.Query("status")
	if status != "" && !jobs.ValidStatus(status) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown status filter",
			"code":  "ERR_VALIDATION",
		})
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
				"code":  "ERR_VALIDATION",
			})
		}
		limit = n
	}
	if limit > 200 {
		limit = 200
	}

	list, err := h.store.List(c.Context(), status, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_STORE",
		})
	}
	if list == nil {
		list = []*jobs.Job{}
	}

	return c.JSON(fiber.Map{
		"jobs":  list,
		"count": len(list),
	})
}

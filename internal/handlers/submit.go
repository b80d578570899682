// Package handlers contains the fiber HTTP handlers. They validate input
// and translate between HTTP and the job services; all job state flows
// through the store and queue, never through handler memory.
package handlers

import (
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"path/filepath"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/cdflabs/stt-api/internal/jobs"
	"github.com/cdflabs/stt-api/internal/transcription"
)

// AsyncHandler accepts audio uploads and returns a job id immediately.
// The response time depends on the store and queue only, never on audio
// length.
type AsyncHandler struct {
	submitter *jobs.Submitter
	tempDir   string
	maxSizeMB int
}

// NewAsyncHandler creates the async submission handler.
func NewAsyncHandler(submitter *jobs.Submitter, tempDir string, maxSizeMB int) *AsyncHandler {
	return &AsyncHandler{submitter: submitter, tempDir: tempDir, maxSizeMB: maxSizeMB}
}

// Handle processes POST /transcribe/async.
func (h *AsyncHandler) Handle(c *fiber.Ctx) error {
	req, err := buildSubmitRequest(c, h.tempDir, h.maxSizeMB)
	if req == nil {
		return err
	}

	job, err := h.submitter.Submit(c.Context(), *req)
	if err != nil {
		return submitError(c, err)
	}

	return c.JSON(fiber.Map{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "File uploaded successfully, transcription queued",
	})
}

// buildSubmitRequest validates the multipart form and saves the payload to
// the temp directory. A nil request means the rejection response has
// already been written; the error is then whatever writing it returned and
// must be passed through, not treated as success.
func buildSubmitRequest(c *fiber.Ctx, tempDir string, maxSizeMB int) (*jobs.SubmitRequest, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No file uploaded",
			"code":  "ERR_NO_FILE",
		})
	}
	if file.Size == 0 {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Empty file",
			"code":  "ERR_EMPTY_FILE",
		})
	}
	maxSize := int64(maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large (max %dMB)", maxSizeMB),
			"code":  "ERR_FILE_TOO_LARGE",
		})
	}
	if !transcription.ValidateAudioFormat(file.Filename) {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported audio format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}

	options, err := parseOptions(c)
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_VALIDATION",
		})
	}

	tempPath, err := saveUpload(c, file, tempDir)
	if err != nil {
		log.Printf("Failed to save uploaded file: %v", err)
		return nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save file",
			"code":  "ERR_SAVE_FAILED",
		})
	}

	requestName := c.FormValue("name")
	if requestName == "" {
		requestName = file.Filename
	}

	return &jobs.SubmitRequest{
		RequestName: requestName,
		AudioPath:   tempPath,
		SizeBytes:   file.Size,
		Options:     options,
	}, nil
}

// parseOptions reads the optional transcription parameters from the form.
func parseOptions(c *fiber.Ctx) (jobs.Options, error) {
	var options jobs.Options

	options.Language = c.FormValue("language")
	if options.Language != "" && !transcription.IsSupportedLanguage(options.Language) {
		return options, &jobs.ValidationError{Field: "language", Reason: "unsupported language code"}
	}

	if v := c.FormValue("enable_diarization"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return options, &jobs.ValidationError{Field: "enable_diarization", Reason: "must be a boolean"}
		}
		options.EnableDiarization = b
	}

	for _, field := range []struct {
		name string
		dst  *int
	}{
		{"min_speakers", &options.MinSpeakers},
		{"max_speakers", &options.MaxSpeakers},
	} {
		if v := c.FormValue(field.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return options, &jobs.ValidationError{Field: field.name, Reason: "must be a positive integer"}
			}
			*field.dst = n
		}
	}

	return options, options.Validate()
}

func saveUpload(c *fiber.Ctx, file *multipart.FileHeader, tempDir string) (string, error) {
	tempPath := filepath.Join(tempDir, fmt.Sprintf("%s%s", uuid.New().String(), filepath.Ext(file.Filename)))
	if err := c.SaveFile(file, tempPath); err != nil {
		return "", err
	}
	return tempPath, nil
}

func submitError(c *fiber.Ctx, err error) error {
	var verr *jobs.ValidationError
	if errors.As(err, &verr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": verr.Error(),
			"code":  "ERR_VALIDATION",
		})
	}
	var qerr *jobs.QueueingError
	if errors.As(err, &qerr) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":  "Failed to enqueue job",
			"code":   "ERR_QUEUE",
			"job_id": qerr.JobID,
		})
	}
	log.Printf("Submission failed: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Submission failed",
		"code":  "ERR_INTERNAL",
	})
}

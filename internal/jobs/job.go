// Package jobs holds the job record model, its durable store and the
// submission service. A job is created once, mutated in place through
// status transitions and never deleted while a client may still poll it.
package jobs

import (
	"time"

	"github.com/cdflabs/stt-api/internal/types"
)

// Job status values
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Options are the per-job transcription parameters. Each field is
// independently optional; zero values mean "unset".
type Options struct {
	Language          string `json:"language,omitempty"`
	EnableDiarization bool   `json:"enable_diarization,omitempty"`
	MinSpeakers       int    `json:"min_speakers,omitempty"`
	MaxSpeakers       int    `json:"max_speakers,omitempty"`
}

// Validate checks each option against its own domain.
func (o Options) Validate() error {
	if len(o.Language) > 8 {
		return &ValidationError{Field: "language", Reason: "language code too long"}
	}
	if o.MinSpeakers < 0 {
		return &ValidationError{Field: "min_speakers", Reason: "must not be negative"}
	}
	if o.MaxSpeakers < 0 {
		return &ValidationError{Field: "max_speakers", Reason: "must not be negative"}
	}
	if o.MinSpeakers > 0 && o.MaxSpeakers > 0 && o.MinSpeakers > o.MaxSpeakers {
		return &ValidationError{Field: "min_speakers", Reason: "min_speakers cannot exceed max_speakers"}
	}
	return nil
}

// Job is one submitted unit of transcription work and its tracked lifecycle.
// Result and Error are mutually exclusive and only populated in a terminal
// status.
type Job struct {
	ID          string                     `json:"job_id"`
	Status      string                     `json:"status"`
	Progress    int                        `json:"progress"`
	RequestName string                     `json:"request_name,omitempty"`
	AudioPath   string                     `json:"-"`
	Options     Options                    `json:"options"`
	CreatedAt   time.Time                  `json:"created_at"`
	StartedAt   *time.Time                 `json:"started_at,omitempty"`
	CompletedAt *time.Time                 `json:"completed_at,omitempty"`
	Result      *types.TranscriptionResult `json:"result,omitempty"`
	Error       string                     `json:"error,omitempty"`
}

// Terminal reports whether the job has reached an absorbing state.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// ValidStatus reports whether s is one of the four known job statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

package transcription

import (
	"context"

	"github.com/cdflabs/stt-api/internal/types"
)

// Request carries one audio reference and its transcription options into
// an engine invocation.
type Request struct {
	AudioPath         string
	Language          string
	EnableDiarization bool
	MinSpeakers       int
	MaxSpeakers       int
}

// Engine transcribes a single audio file. Implementations are assumed to
// need exclusive use of the accelerator; callers serialize invocations.
// The progress callback is best effort and reports coarse checkpoints in
// the 0-100 range.
type Engine interface {
	Transcribe(ctx context.Context, req Request, progress func(int)) (*types.TranscriptionResult, error)
}

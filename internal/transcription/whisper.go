package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cdflabs/stt-api/internal/types"
)

// Progress checkpoints reported during a transcription run. Coarse on
// purpose: the CLI gives no continuous signal.
const (
	progressNormalized  = 25
	progressTranscribed = 80
	progressDiarized    = 95
)

// WhisperEngine runs Whisper through its Python CLI. One instance per
// process; invocations are serialized by the caller because the model
// owns the accelerator for the duration of a run.
type WhisperEngine struct {
	model             string
	command           string
	device            string
	threads           int
	tempDir           string
	diarizationScript string
}

// WhisperOptions configures the engine.
type WhisperOptions struct {
	Model             string // tiny, base, small, medium, large
	Command           string // interpreter running the whisper module
	Device            string
	Threads           int
	TempDir           string
	DiarizationScript string // optional helper producing speaker turns
}

// NewWhisperEngine creates a CLI-backed engine. Whisper availability is
// verified on first transcription, not at startup.
func NewWhisperEngine(opts WhisperOptions) *WhisperEngine {
	if opts.Model == "" {
		opts.Model = "small"
	}
	if opts.Command == "" {
		opts.Command = "python"
	}
	if opts.TempDir == "" {
		opts.TempDir = "temp"
	}

	log.Printf("Initializing Whisper engine: model=%s, device=%s, threads=%d",
		opts.Model, opts.Device, opts.Threads)

	return &WhisperEngine{
		model:             opts.Model,
		command:           opts.Command,
		device:            opts.Device,
		threads:           opts.Threads,
		tempDir:           opts.TempDir,
		diarizationScript: opts.DiarizationScript,
	}
}

// Transcribe normalizes the audio, runs Whisper and optionally diarizes.
func (e *WhisperEngine) Transcribe(ctx context.Context, req Request, progress func(int)) (*types.TranscriptionResult, error) {
	if progress == nil {
		progress = func(int) {}
	}

	normalizedPath, err := NormalizeAudio(e.tempDir, req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("audio normalization failed: %w", err)
	}
	defer os.Remove(normalizedPath)
	progress(progressNormalized)

	outputDir, err := os.MkdirTemp(e.tempDir, "whisper_output_")
	if err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	defer os.RemoveAll(outputDir)

	args := []string{
		"-m", "whisper",
		normalizedPath,
		"--model", e.model,
		"--output_dir", outputDir,
		"--output_format", "json",
		"--fp16", "False",
	}
	if req.Language != "" {
		args = append(args, "--language", req.Language)
	}
	if e.threads > 0 {
		args = append(args, "--threads", strconv.Itoa(e.threads))
	}

	cmd := exec.CommandContext(ctx, e.command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %v\noutput: %s", err, string(output))
	}

	baseName := strings.TrimSuffix(filepath.Base(normalizedPath), filepath.Ext(normalizedPath))
	jsonData, err := os.ReadFile(filepath.Join(outputDir, baseName+".json"))
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}

	result, err := parseWhisperOutput(jsonData)
	if err != nil {
		return nil, err
	}
	result.Model = e.model
	progress(progressTranscribed)

	if req.EnableDiarization {
		turns, err := e.diarize(ctx, normalizedPath, req.MinSpeakers, req.MaxSpeakers)
		if err != nil {
			return nil, fmt.Errorf("diarization failed: %w", err)
		}
		result.Diarization = &types.Diarization{
			Speakers: assignSpeakers(result.Segments, turns),
		}
		progress(progressDiarized)
	}

	log.Printf("Transcription complete: %d segments, %.2fs duration, language=%s",
		len(result.Segments), result.Duration, result.Language)
	return result, nil
}

// Info describes the engine configuration for health reporting.
func (e *WhisperEngine) Info() map[string]any {
	return map[string]any{
		"model":   e.model,
		"device":  e.device,
		"threads": e.threads,
	}
}

// whisperOutput matches the Whisper CLI's JSON output format.
type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func parseWhisperOutput(data []byte) (*types.TranscriptionResult, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse whisper JSON: %w", err)
	}

	segments := make([]types.Segment, len(out.Segments))
	for i, seg := range out.Segments {
		segments[i] = types.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		}
	}

	// Duration is the end of the last segment; the CLI reports nothing better.
	var duration float64
	if len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}

	return &types.TranscriptionResult{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
		Duration: duration,
		Segments: segments,
	}, nil
}

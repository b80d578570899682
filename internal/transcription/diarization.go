package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/cdflabs/stt-api/internal/types"
)

// ErrDiarizationUnavailable means no diarization helper is configured.
var ErrDiarizationUnavailable = errors.New("diarization not configured")

// speakerTurn is one interval during which a single speaker talks.
type speakerTurn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// diarizationOutput matches the helper script's JSON output.
type diarizationOutput struct {
	Turns []speakerTurn `json:"turns"`
}

// diarize runs the external diarization helper and returns speaker turns.
func (e *WhisperEngine) diarize(ctx context.Context, audioPath string, minSpeakers, maxSpeakers int) ([]speakerTurn, error) {
	if e.diarizationScript == "" {
		return nil, ErrDiarizationUnavailable
	}

	args := []string{e.diarizationScript, audioPath, "--output-format", "json"}
	if minSpeakers > 0 {
		args = append(args, "--min-speakers", strconv.Itoa(minSpeakers))
	}
	if maxSpeakers > 0 {
		args = append(args, "--max-speakers", strconv.Itoa(maxSpeakers))
	}

	cmd := exec.CommandContext(ctx, e.command, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("diarization helper failed: %w", err)
	}

	var out diarizationOutput
	if err := json.Unmarshal(output, &out); err != nil {
		return nil, fmt.Errorf("parse diarization JSON: %w", err)
	}
	return out.Turns, nil
}

// assignSpeakers labels each segment with the speaker whose turn overlaps
// it the most and returns the distinct speakers in order of appearance.
func assignSpeakers(segments []types.Segment, turns []speakerTurn) []string {
	var speakers []string
	seen := make(map[string]bool)

	for i := range segments {
		best := ""
		bestOverlap := 0.0
		for _, turn := range turns {
			o := overlap(segments[i].Start, segments[i].End, turn.Start, turn.End)
			if o > bestOverlap {
				bestOverlap = o
				best = turn.Speaker
			}
		}
		segments[i].Speaker = best
		if best != "" && !seen[best] {
			seen[best] = true
			speakers = append(speakers, best)
		}
	}

	return speakers
}

func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return end - start
}

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cdflabs/stt-api/internal/types"
)

// LocalStore writes completed transcripts to the local filesystem in dated
// directories. The job record stays the canonical copy of the result; these
// files exist for humans and downstream tooling.
type LocalStore struct {
	outputDir string
}

// NewLocalStore creates a local transcript store.
func NewLocalStore(outputDir string) *LocalStore {
	return &LocalStore{outputDir: outputDir}
}

// SaveTranscript saves the transcript text and metadata JSON to disk and
// returns the text file path.
func (ls *LocalStore) SaveTranscript(requestName, jobID string, result *types.TranscriptionResult) (string, error) {
	now := time.Now()
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("create date directory: %w", err)
	}

	timestamp := now.Format("20060102_150405")
	baseFilename := fmt.Sprintf("%s_%s", timestamp, SanitizeFilename(requestName))

	txtPath := filepath.Join(dateDir, baseFilename+".txt")
	metaPath := filepath.Join(dateDir, baseFilename+"_meta.json")

	if err := os.WriteFile(txtPath, []byte(result.Text), 0644); err != nil {
		return "", fmt.Errorf("save transcript: %w", err)
	}

	metadata := map[string]any{
		"job_id":           jobID,
		"request_name":     requestName,
		"language":         result.Language,
		"duration_seconds": result.Duration,
		"word_count":       result.WordCount,
		"model":            result.Model,
		"created_at":       now,
		"segments":         result.Segments,
		"local_path":       txtPath,
	}
	if result.Diarization != nil {
		metadata["speakers"] = result.Diarization.Speakers
	}

	metaJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, metaJSON, 0644); err != nil {
		return "", fmt.Errorf("save metadata: %w", err)
	}

	return txtPath, nil
}

// SanitizeFilename replaces characters unusable in filenames and bounds
// the length.
func SanitizeFilename(name string) string {
	if name == "" {
		return "untitled"
	}
	result := name
	for _, c := range []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"} {
		result = strings.ReplaceAll(result, c, "_")
	}
	if len(result) > 100 {
		result = result[:100]
	}
	return result
}

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/cdflabs/stt-api/internal/handlers"
	"github.com/cdflabs/stt-api/internal/jobs"
	"github.com/cdflabs/stt-api/internal/queue"
	"github.com/cdflabs/stt-api/internal/transcription"
	"github.com/cdflabs/stt-api/internal/types"
)

// instantEngine completes every request immediately.
type instantEngine struct{}

func (instantEngine) Transcribe(ctx context.Context, req transcription.Request, progress func(int)) (*types.TranscriptionResult, error) {
	return &types.TranscriptionResult{
		Text:     "three seconds of silence",
		Language: "en",
		Duration: 3.0,
		Segments: []types.Segment{{Start: 0, End: 3, Text: "three seconds of silence"}},
	}, nil
}

type env struct {
	app      *fiber.App
	store    *jobs.Store
	queue    *queue.PendingQueue
	notifier *jobs.Notifier
}

// newEnv wires the handlers the way cmd/server does, against a throwaway
// database. withWorker starts one worker with an instant engine.
func newEnv(t *testing.T, withWorker bool) *env {
	t.Helper()

	db, err := jobs.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := jobs.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	pending, err := queue.NewPendingQueue(db, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	notifier := jobs.NewNotifier()
	submitter := jobs.NewSubmitter(store, pending, notifier)
	tempDir := t.TempDir()

	if withWorker {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		w := queue.NewWorker(store, pending, instantEngine{}, queue.NewGate(), notifier,
			queue.WorkerConfig{PopTimeout: 50 * time.Millisecond})
		go w.Run(ctx)
	}

	app := fiber.New()
	app.Post("/transcribe", handlers.NewSyncHandler(submitter, store, notifier, tempDir, 10, 10*time.Second).Handle)
	app.Post("/transcribe/async", handlers.NewAsyncHandler(submitter, tempDir, 10).Handle)
	app.Get("/jobs", handlers.NewStatusHandler(store).ListJobs)
	app.Get("/jobs/:id", handlers.NewStatusHandler(store).GetJob)
	app.Get("/queue/stats", handlers.NewStatsHandler(pending, store).QueueStats)
	app.Get("/health", handlers.Health(map[string]any{"model": "stub"}))
	app.Get("/languages", handlers.Languages)

	return &env{app: app, store: store, queue: pending, notifier: notifier}
}

// multipartRequest builds a multipart POST. An empty filename omits the
// file part entirely.
func multipartRequest(t *testing.T, url, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(content)
	}
	for k, v := range fields {
		w.WriteField(k, v)
	}
	w.Close()

	req, err := http.NewRequest(http.MethodPost, url, &body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode %q: %v", string(raw), err)
	}
	return m
}

func TestAsyncSubmitReturnsJobID(t *testing.T) {
	e := newEnv(t, false)

	req := multipartRequest(t, "/transcribe/async", "clip.wav", []byte("RIFFdata"), nil)
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	jobID, _ := body["job_id"].(string)
	if jobID == "" {
		t.Fatal("no job_id in response")
	}
	if body["status"] != jobs.StatusQueued {
		t.Fatalf("status = %v, want queued", body["status"])
	}

	// The record is pollable immediately.
	getReq, _ := http.NewRequest(http.MethodGet, "/jobs/"+jobID, nil)
	getResp, err := e.app.Test(getReq, -1)
	if err != nil {
		t.Fatal(err)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("poll status = %d", getResp.StatusCode)
	}
	record := decodeBody(t, getResp)
	if record["status"] != jobs.StatusQueued {
		t.Fatalf("record status = %v", record["status"])
	}
	if _, present := record["result"]; present {
		t.Fatal("result present on a queued job")
	}
}

func TestAsyncSubmitWithOptions(t *testing.T) {
	e := newEnv(t, false)

	req := multipartRequest(t, "/transcribe/async", "clip.mp3", []byte("audio"), map[string]string{
		"language":           "es",
		"enable_diarization": "true",
		"min_speakers":       "2",
		"max_speakers":       "4",
	})
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	stored, err := e.store.Get(context.Background(), body["job_id"].(string))
	if err != nil {
		t.Fatal(err)
	}
	if stored.Options.Language != "es" || !stored.Options.EnableDiarization {
		t.Fatalf("options = %+v", stored.Options)
	}
	if stored.Options.MinSpeakers != 2 || stored.Options.MaxSpeakers != 4 {
		t.Fatalf("speaker bounds = %+v", stored.Options)
	}
}

func TestAsyncSubmitRejectsMissingFile(t *testing.T) {
	e := newEnv(t, false)

	req := multipartRequest(t, "/transcribe/async", "", nil, map[string]string{"language": "en"})
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if code := decodeBody(t, resp)["code"]; code != "ERR_NO_FILE" {
		t.Fatalf("code = %v", code)
	}
}

func TestAsyncSubmitRejectsUnsupportedFormat(t *testing.T) {
	e := newEnv(t, false)

	req := multipartRequest(t, "/transcribe/async", "notes.txt", []byte("text"), nil)
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if code := decodeBody(t, resp)["code"]; code != "ERR_INVALID_FORMAT" {
		t.Fatalf("code = %v", code)
	}
}

func TestAsyncSubmitRejectsBadSpeakerBounds(t *testing.T) {
	e := newEnv(t, false)

	req := multipartRequest(t, "/transcribe/async", "clip.wav", []byte("audio"), map[string]string{
		"min_speakers": "3",
		"max_speakers": "2",
	})
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	// No record may be created before validation passes.
	list, err := e.store.List(context.Background(), "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("%d records created by a rejected submission", len(list))
	}
}

func TestAsyncSubmitRejectsBadBool(t *testing.T) {
	e := newEnv(t, false)

	req := multipartRequest(t, "/transcribe/async", "clip.wav", []byte("audio"), map[string]string{
		"enable_diarization": "maybe",
	})
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetJobNotFound(t *testing.T) {
	e := newEnv(t, false)

	req, _ := http.NewRequest(http.MethodGet, "/jobs/no-such-id", nil)
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListJobsAndFilters(t *testing.T) {
	e := newEnv(t, false)

	for _, name := range []string{"one.wav", "two.wav"} {
		req := multipartRequest(t, "/transcribe/async", name, []byte("audio"), nil)
		if resp, err := e.app.Test(req, -1); err != nil || resp.StatusCode != http.StatusOK {
			t.Fatalf("submit %s failed", name)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, "/jobs", nil)
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if body := decodeBody(t, resp); body["count"].(float64) != 2 {
		t.Fatalf("count = %v, want 2", body["count"])
	}

	req, _ = http.NewRequest(http.MethodGet, "/jobs?status=completed", nil)
	resp, err = e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if body := decodeBody(t, resp); body["count"].(float64) != 0 {
		t.Fatalf("completed count = %v, want 0", body["count"])
	}

	req, _ = http.NewRequest(http.MethodGet, "/jobs?status=bogus", nil)
	resp, err = e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus filter status = %d, want 400", resp.StatusCode)
	}
}

func TestQueueStatsReflectPendingJobs(t *testing.T) {
	e := newEnv(t, false)

	req, _ := http.NewRequest(http.MethodGet, "/queue/stats", nil)
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if body["queue_length"].(float64) != 0 {
		t.Fatalf("initial queue_length = %v", body["queue_length"])
	}
	if body["store_healthy"] != true {
		t.Fatal("store_healthy = false")
	}

	submit := multipartRequest(t, "/transcribe/async", "clip.wav", []byte("audio"), nil)
	if _, err := e.app.Test(submit, -1); err != nil {
		t.Fatal(err)
	}

	req, _ = http.NewRequest(http.MethodGet, "/queue/stats", nil)
	resp, err = e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if body := decodeBody(t, resp); body["queue_length"].(float64) != 1 {
		t.Fatalf("queue_length = %v, want 1", body["queue_length"])
	}
}

func TestSyncTranscribeReturnsResultInline(t *testing.T) {
	e := newEnv(t, true)

	req := multipartRequest(t, "/transcribe", "silence.wav", []byte("RIFFsilence"), map[string]string{
		"enable_diarization": "false",
	})
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if _, ok := body["text"].(string); !ok {
		t.Fatalf("no text in result: %v", body)
	}
	if body["duration"].(float64) != 3.0 {
		t.Fatalf("duration = %v, want 3.0", body["duration"])
	}
}

func TestHealthAndLanguages(t *testing.T) {
	e := newEnv(t, false)

	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if body := decodeBody(t, resp); body["status"] != "healthy" {
		t.Fatalf("health = %v", body["status"])
	}

	req, _ = http.NewRequest(http.MethodGet, "/languages", nil)
	resp, err = e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if body := decodeBody(t, resp); body["count"].(float64) < 90 {
		t.Fatalf("languages count = %v", body["count"])
	}
}

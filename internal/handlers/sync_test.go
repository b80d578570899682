package handlers

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cdflabs/stt-api/internal/jobs"
)

func TestWaitTerminalStopsWhenRequestGone(t *testing.T) {
	db, err := jobs.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := jobs.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Create(context.Background(), &jobs.Job{
		ID:        "j1",
		Status:    jobs.StatusQueued,
		AudioPath: "temp/j1.wav",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	h := NewSyncHandler(nil, store, jobs.NewNotifier(), t.TempDir(), 10, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = h.waitTerminal(ctx, "j1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	// The wait must end with the request, not with maxWait.
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("wait held for %s after cancellation", elapsed)
	}
}

package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakePruner struct {
	calls int
	age   time.Duration
}

func (f *fakePruner) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	f.calls++
	f.age = age
	return 3, nil
}

func TestCleanOldFilesRemovesAgedFiles(t *testing.T) {
	dir := t.TempDir()

	oldFile := filepath.Join(dir, "stale.wav")
	if err := os.WriteFile(oldFile, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldFile, past, past); err != nil {
		t.Fatal(err)
	}

	freshFile := filepath.Join(dir, "fresh.wav")
	if err := os.WriteFile(freshFile, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewScheduler(dir, 60, 24, 0, nil)
	s.cleanOldFiles()

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Fatal("stale file survived cleanup")
	}
	if _, err := os.Stat(freshFile); err != nil {
		t.Fatal("fresh file was deleted")
	}
}

func TestPruneJobsUsesConfiguredTTL(t *testing.T) {
	pruner := &fakePruner{}
	s := NewScheduler(t.TempDir(), 60, 24, 7*24*time.Hour, pruner)

	s.pruneJobs()

	if pruner.calls != 1 {
		t.Fatalf("pruner called %d times, want 1", pruner.calls)
	}
	if pruner.age != 7*24*time.Hour {
		t.Fatalf("pruner age = %s", pruner.age)
	}
}

func TestPruneJobsSkippedWithoutPruner(t *testing.T) {
	s := NewScheduler(t.TempDir(), 60, 24, time.Hour, nil)
	s.pruneJobs() // must not panic
}

func TestEnsureTempDirExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "temp")
	if err := EnsureTempDirExists(dir); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatal("temp dir not created")
	}
}

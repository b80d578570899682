// Package cleanup removes aged temp files and evicts old terminal job
// records, keeping disk usage and store size bounded.
package cleanup

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"
)

// JobPruner evicts terminal job records older than a retention age.
type JobPruner interface {
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Scheduler periodically sweeps the temp directory and the job store.
type Scheduler struct {
	tempDir         string
	intervalMinutes int
	maxAgeHours     int
	jobTTL          time.Duration
	pruner          JobPruner
	stopChan        chan struct{}
}

// NewScheduler creates a cleanup scheduler. pruner may be nil to skip job
// record eviction.
func NewScheduler(tempDir string, intervalMinutes, maxAgeHours int, jobTTL time.Duration, pruner JobPruner) *Scheduler {
	return &Scheduler{
		tempDir:         tempDir,
		intervalMinutes: intervalMinutes,
		maxAgeHours:     maxAgeHours,
		jobTTL:          jobTTL,
		pruner:          pruner,
		stopChan:        make(chan struct{}),
	}
}

// Start begins the cleanup scheduler
func (s *Scheduler) Start() {
	// Run initial cleanup on startup
	log.Println("Running initial cleanup...")
	s.run()

	ticker := time.NewTicker(time.Duration(s.intervalMinutes) * time.Minute)

	go func() {
		for {
			select {
			case <-ticker.C:
				s.run()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Cleanup scheduler started (interval: %dm, temp max age: %dh, job ttl: %s)",
		s.intervalMinutes, s.maxAgeHours, s.jobTTL)
}

// Stop stops the cleanup scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
	log.Println("Cleanup scheduler stopped")
}

func (s *Scheduler) run() {
	s.cleanOldFiles()
	s.pruneJobs()
}

// pruneJobs evicts terminal job records past their retention window.
func (s *Scheduler) pruneJobs() {
	if s.pruner == nil || s.jobTTL <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.pruner.DeleteOlderThan(ctx, s.jobTTL)
	if err != nil {
		log.Printf("Job record eviction failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Evicted %d old job records", n)
	}
}

// cleanOldFiles removes files older than maxAgeHours from temp directory
func (s *Scheduler) cleanOldFiles() {
	now := time.Now()
	maxAge := time.Duration(s.maxAgeHours) * time.Hour

	var deletedCount int
	var deletedSize int64

	err := filepath.Walk(s.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}
		if info.IsDir() {
			return nil
		}

		age := now.Sub(info.ModTime())
		if age > maxAge {
			size := info.Size()
			if err := os.Remove(path); err != nil {
				log.Printf("Failed to delete old file %s: %v", path, err)
			} else {
				deletedCount++
				deletedSize += size
			}
		}

		return nil
	})

	if err != nil {
		log.Printf("Error during cleanup: %v", err)
	}

	if deletedCount > 0 {
		log.Printf("Cleanup complete: %d files deleted, %.2fMB freed",
			deletedCount, float64(deletedSize)/(1024*1024))
	}
}

// EnsureTempDirExists creates the temp directory if it doesn't exist
func EnsureTempDirExists(tempDir string) error {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return err
	}
	log.Printf("Temp directory ready: %s", tempDir)
	return nil
}

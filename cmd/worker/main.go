// Standalone worker process: drains the pending queue against one
// accelerator. Run instead of the server's embedded worker when the API
// and the transcription host are separate processes.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cdflabs/stt-api/internal/cleanup"
	"github.com/cdflabs/stt-api/internal/config"
	"github.com/cdflabs/stt-api/internal/jobs"
	"github.com/cdflabs/stt-api/internal/queue"
	"github.com/cdflabs/stt-api/internal/storage"
	"github.com/cdflabs/stt-api/internal/transcription"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cleanup.EnsureTempDirExists(cfg.Storage.TempDir); err != nil {
		log.Fatalf("Failed to create temp directory: %v", err)
	}
	if err := os.MkdirAll(cfg.Storage.OutputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	db, err := jobs.OpenDB(cfg.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	store, err := jobs.NewStore(db)
	if err != nil {
		log.Fatalf("Failed to initialize job store: %v", err)
	}

	pending, err := queue.NewPendingQueue(db, time.Duration(cfg.Worker.PollIntervalMS)*time.Millisecond)
	if err != nil {
		log.Fatalf("Failed to initialize pending queue: %v", err)
	}

	engine := transcription.NewWhisperEngine(transcription.WhisperOptions{
		Model:             cfg.Whisper.Model,
		Command:           cfg.Whisper.Command,
		Device:            cfg.Whisper.Device,
		Threads:           cfg.Whisper.Threads,
		TempDir:           cfg.Storage.TempDir,
		DiarizationScript: cfg.Whisper.DiarizationScript,
	})

	localStore := storage.NewLocalStore(cfg.Storage.OutputDir)

	var archive queue.Archiver
	if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
		drive, err := storage.NewDriveArchive(
			cfg.GoogleDrive.CredentialsFile,
			cfg.GoogleDrive.TokenFile,
			cfg.GoogleDrive.FolderName,
		)
		if err != nil {
			log.Printf("WARNING: Google Drive not available: %v", err)
		} else {
			archive = drive
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	gate := queue.NewGate()
	workerCfg := queue.WorkerConfig{
		PopTimeout:      time.Duration(cfg.Worker.PopTimeoutSeconds) * time.Second,
		TerminalRetries: cfg.Worker.TerminalRetries,
		Sink:            localStore,
		Archive:         archive,
	}

	notifier := jobs.NewNotifier()
	for i := 0; i < cfg.Worker.Count; i++ {
		w := queue.NewWorker(store, pending, engine, gate, notifier, workerCfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	if cfg.Worker.StaleRequeueMinutes > 0 {
		sweeper := queue.NewSweeper(store, pending,
			time.Duration(cfg.Worker.StaleRequeueMinutes)*time.Minute, time.Minute)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper.Run(ctx)
		}()
	}

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	sig := <-sigint
	log.Printf("Received signal %v, shutting down...", sig)

	stop()
	wg.Wait()
	log.Println("Worker stopped")
}

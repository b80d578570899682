package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/cdflabs/stt-api/internal/cleanup"
	"github.com/cdflabs/stt-api/internal/config"
	"github.com/cdflabs/stt-api/internal/handlers"
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

	// Custom logger setup
	logBuffer := &LogBuffer{lines: make([]string, 0, 1000)}
	log.SetOutput(io.MultiWriter(os.Stdout, logBuffer))

	log.Println("Initializing components...")

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

	notifier := jobs.NewNotifier()
	submitter := jobs.NewSubmitter(store, pending, notifier)

	engine := transcription.NewWhisperEngine(transcription.WhisperOptions{
		Model:             cfg.Whisper.Model,
		Command:           cfg.Whisper.Command,
		Device:            cfg.Whisper.Device,
		Threads:           cfg.Whisper.Threads,
		TempDir:           cfg.Storage.TempDir,
		DiarizationScript: cfg.Whisper.DiarizationScript,
	})

	localStore := storage.NewLocalStore(cfg.Storage.OutputDir)

	// Google Drive archive (optional - may fail if credentials not set up)
	var archive queue.Archiver
	if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
		drive, err := storage.NewDriveArchive(
			cfg.GoogleDrive.CredentialsFile,
			cfg.GoogleDrive.TokenFile,
			cfg.GoogleDrive.FolderName,
		)
		if err != nil {
			log.Printf("WARNING: Google Drive not available: %v", err)
			log.Println("Transcripts will only be saved locally")
		} else {
			log.Println("Google Drive archive enabled")
			archive = drive
		}
	} else {
		log.Println("Google Drive credentials not found - saving locally only")
	}

	ctx, stop := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	if cfg.Worker.Embedded {
		gate := queue.NewGate()
		workerCfg := queue.WorkerConfig{
			PopTimeout:      time.Duration(cfg.Worker.PopTimeoutSeconds) * time.Second,
			TerminalRetries: cfg.Worker.TerminalRetries,
			Sink:            localStore,
			Archive:         archive,
		}
		for i := 0; i < cfg.Worker.Count; i++ {
			w := queue.NewWorker(store, pending, engine, gate, notifier, workerCfg)
			workers.Add(1)
			go func() {
				defer workers.Done()
				w.Run(ctx)
			}()
		}

		if cfg.Worker.StaleRequeueMinutes > 0 {
			sweeper := queue.NewSweeper(store, pending,
				time.Duration(cfg.Worker.StaleRequeueMinutes)*time.Minute, time.Minute)
			workers.Add(1)
			go func() {
				defer workers.Done()
				sweeper.Run(ctx)
			}()
		}
	} else {
		log.Println("Embedded worker disabled - run cmd/worker separately")
	}

	cleanupScheduler := cleanup.NewScheduler(
		cfg.Storage.TempDir,
		cfg.Cleanup.IntervalMinutes,
		cfg.Cleanup.MaxAgeHours,
		time.Duration(cfg.Cleanup.JobTTLHours)*time.Hour,
		store,
	)
	cleanupScheduler.Start()
	defer cleanupScheduler.Stop()

	app := fiber.New(fiber.Config{
		BodyLimit: cfg.Limits.MaxFileSizeMB * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	asyncHandler := handlers.NewAsyncHandler(submitter, cfg.Storage.TempDir, cfg.Limits.MaxFileSizeMB)
	syncHandler := handlers.NewSyncHandler(submitter, store, notifier,
		cfg.Storage.TempDir, cfg.Limits.MaxFileSizeMB,
		time.Duration(cfg.Limits.SyncWaitMinutes)*time.Minute)
	statusHandler := handlers.NewStatusHandler(store)
	statsHandler := handlers.NewStatsHandler(pending, store)
	watchHandler := handlers.NewWatchHandler(store, notifier)

	app.Get("/health", handlers.Health(engine.Info()))
	app.Get("/languages", handlers.Languages)

	app.Post("/transcribe", syncHandler.Handle)
	app.Post("/transcribe/async", asyncHandler.Handle)

	app.Get("/jobs", statusHandler.ListJobs)
	app.Get("/jobs/:id", statusHandler.GetJob)
	app.Get("/queue/stats", statsHandler.QueueStats)

	app.Get("/ws/jobs/:id", websocket.New(watchHandler.Handle))

	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.GetLogs(),
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	log.Println("Endpoints:")
	log.Println("   POST /transcribe        - Synchronous transcription")
	log.Println("   POST /transcribe/async  - Submit transcription job")
	log.Println("   GET  /jobs/:id          - Poll job status")
	log.Println("   GET  /jobs              - List jobs")
	log.Println("   GET  /queue/stats       - Queue health")
	log.Println("   GET  /ws/jobs/:id       - Live job status stream")
	log.Println("   GET  /languages         - Supported languages")
	log.Println("   GET  /logs              - View server logs")
	log.Println("   GET  /health            - Health check")

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		app.Shutdown()
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	stop()
	workers.Wait()
}

// LogBuffer captures logs in memory
type LogBuffer struct {
	lines []string
	mu    sync.Mutex
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, string(p))

	// Keep last 1000 lines
	if len(lb.lines) > 1000 {
		lb.lines = lb.lines[len(lb.lines)-1000:]
	}

	return len(p), nil
}

func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}

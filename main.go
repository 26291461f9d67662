package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"

	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/config"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/handlers"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/archive"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/job"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/metrics"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/ratelimit"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/sweeper"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/worker"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/wshub"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg := config.New()

	logLevel := parseLogLevel(cfg.LogLevel)
	logger, err := logging.New("orcaslicer-script-runner", &logging.Config{
		Level:         logLevel,
		OutputFormat:  "json",
		EnableMetrics: true,
		SampleRate:    1.0,
		Output:        os.Stdout,
	})
	if err != nil {
		log.Fatalf("could not initialize logger: %v", err)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		logger.Error("could not create upload directory", slog.Any("error", err))
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		logger.Error("could not create output directory", slog.Any("error", err))
		os.Exit(1)
	}

	hub := wshub.New(logger)
	registry := job.NewRegistry(hub)

	var arc *archive.Archive
	if cfg.ArchiveEnabled() {
		arc, err = archive.New(archive.Config{
			Endpoint:  cfg.MinIOEndpoint,
			Bucket:    cfg.MinIOBucket,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Secure:    cfg.MinIOSecure,
		})
		if err != nil {
			logger.Error("could not initialize output archive", slog.Any("error", err))
			os.Exit(1)
		}
		if err := arc.EnsureBucket(context.Background()); err != nil {
			logger.Warn("could not ensure archive bucket exists", slog.Any("error", err))
		}
	} else {
		arc, _ = archive.New(archive.Config{})
	}

	pool := worker.New(worker.Config{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		ProcessingTimeout: time.Duration(cfg.ProcessingTimeoutSeconds) * time.Second,
	}, registry, arc, logger)

	sweep := sweeper.New(
		cfg.UploadDir, cfg.OutputDir,
		time.Duration(cfg.FileRetentionHours)*time.Hour,
		time.Duration(cfg.CleanupIntervalMinutes)*time.Minute,
		logger,
	)
	sweep.Start()

	collector := metrics.NewCollector()

	limiter := ratelimit.New(ratelimit.Config{
		Rate:  cfg.RateLimitRPS,
		Burst: cfg.RateLimitBurst,
	})
	adaptiveLimiter := ratelimit.NewAdaptive(limiter, pool, time.Minute)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			adaptiveLimiter.Adjust()
		}
	}()

	h := handlers.New(cfg, registry, pool, arc, hub, collector, limiter, sweep, logger)

	app := fiber.New(fiber.Config{
		BodyLimit:         int(cfg.MaxUploadSize) + 1024*1024,
		StreamRequestBody: true,
		ReadTimeout:       300 * time.Second,
		WriteTimeout:      300 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorHandler:      logging.ErrorHandler(logger),
	})

	app.Use(logging.FiberMiddleware(logger))
	app.Use(logging.RecoveryMiddleware(logger))

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-API-Key,X-Request-ID,X-Correlation-ID",
	}))

	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))

	app.Use(func(c *fiber.Ctx) error {
		collector.RecordRequest()
		err := c.Next()
		if err != nil {
			collector.RecordError()
		}
		return err
	})

	if cfg.Env == "development" {
		app.Use(pprof.New())
	}

	api := app.Group("/api/v1", h.RequireAPIKey, h.RateLimitAPI)
	api.Post("/upload", h.RateLimitUpload, h.Upload)
	api.Get("/status/:id", h.Status)
	api.Get("/download/:id", h.Download)
	api.Post("/cancel/:id", h.Cancel)
	api.Get("/health", h.HealthCheck)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs", websocket.New(h.JobEvents))

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down gracefully")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(ctx); err != nil {
			logger.Error("error during server shutdown", slog.Any("error", err))
		}

		if err := pool.Shutdown(25 * time.Second); err != nil {
			logger.Error("error during worker pool shutdown", slog.Any("error", err))
		}

		sweep.Stop()
		logger.Info("graceful shutdown complete")
		os.Exit(0)
	}()

	addr := cfg.Host + ":" + cfg.Port
	logger.Info("server starting", slog.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		logger.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package handlers implements the HTTP surface of the job processing
// service: upload submission, job status/cancellation/download, the job
// event websocket, and the health/detailed-health endpoint.
package handlers

import (
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/config"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/archive"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/job"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/metrics"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/ratelimit"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/sweeper"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/worker"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/wshub"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/pkg/logging"
)

// Handlers holds every dependency the HTTP layer needs. Nothing here owns
// its own goroutines or state beyond what its constructor is given.
type Handlers struct {
	cfg       *config.Config
	registry  *job.Registry
	pool      *worker.Pool
	archiver  *archive.Archive
	hub       *wshub.Hub
	collector *metrics.Collector
	limiter   *ratelimit.Limiter
	sweeper   *sweeper.Sweeper
	logger    *logging.ServiceLogger
	startTime time.Time
}

// New wires the handlers to their collaborators.
func New(
	cfg *config.Config,
	registry *job.Registry,
	pool *worker.Pool,
	archiver *archive.Archive,
	hub *wshub.Hub,
	collector *metrics.Collector,
	limiter *ratelimit.Limiter,
	sw *sweeper.Sweeper,
	logger *logging.ServiceLogger,
) *Handlers {
	return &Handlers{
		cfg:       cfg,
		registry:  registry,
		pool:      pool,
		archiver:  archiver,
		hub:       hub,
		collector: collector,
		limiter:   limiter,
		sweeper:   sw,
		logger:    logger,
		startTime: time.Now(),
	}
}

// HealthCheck answers GET /api/v1/health. The bare call is always
// {status:"healthy"}; ?detailed=true adds process/host/worker-pool/sweeper
// observability without changing that base contract.
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	if c.Query("detailed") != "true" {
		return c.JSON(fiber.Map{"status": "healthy"})
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	body := fiber.Map{
		"status":  "healthy",
		"version": config.GetVersion(),
		"uptime":  time.Since(h.startTime).String(),
		"process": fiber.Map{
			"goroutines":    runtime.NumGoroutine(),
			"heap_alloc_mb": memStats.Alloc / 1024 / 1024,
			"heap_sys_mb":   memStats.Sys / 1024 / 1024,
			"num_gc":        memStats.NumGC,
		},
		"host":          metrics.CollectHostStats(c.UserContext()),
		"requests":      h.collector.Snapshot(),
		"jobs_by_state": h.registry.Count(),
		"worker_pool":   h.pool.GetStats(),
		"sweeper":       h.sweeper.LastReport(),
		"rate_limiter":  h.limiter.Stats(),
		"event_hub": fiber.Map{
			"clients": h.hub.ClientCount(),
			"dropped": h.hub.Dropped(),
		},
		"archive_enabled": h.archiver.Enabled(),
	}

	return c.JSON(body)
}

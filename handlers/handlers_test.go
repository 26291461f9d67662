package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/config"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/archive"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/job"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/metrics"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/ratelimit"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/sweeper"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/worker"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/wshub"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/pkg/logging"

	"github.com/gofiber/fiber/v2"
)

func newTestHandlers(t *testing.T) (*Handlers, *config.Config) {
	t.Helper()

	cfg := &config.Config{
		UploadDir:                t.TempDir(),
		OutputDir:                t.TempDir(),
		MaxUploadSize:            10 * 1024 * 1024,
		AllowedExtensions:        []string{".gcode", ".gco", ".g"},
		FileRetentionHours:       24,
		ProcessingTimeoutSeconds: 5,
		MaxConcurrentJobs:        2,
		CleanupIntervalMinutes:   60,
		RateLimitRPS:             100,
		RateLimitBurst:           100,
		APIKeyHeader:             "X-API-Key",
	}

	logger, err := logging.New("handlers-test", logging.DefaultConfig())
	require.NoError(t, err)

	hub := wshub.New(logger)
	registry := job.NewRegistry(hub)
	arc, err := archive.New(archive.Config{})
	require.NoError(t, err)

	pool := worker.New(worker.Config{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		ProcessingTimeout: 5e9,
	}, registry, arc, logger)

	sw := sweeper.New(cfg.UploadDir, cfg.OutputDir, 24*3600e9, 3600e9, logger)
	collector := metrics.NewCollector()
	limiter := ratelimit.New(ratelimit.Config{Rate: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst})

	return New(cfg, registry, pool, arc, hub, collector, limiter, sw, logger), cfg
}

func TestHealthCheck_BareCallIsMinimal(t *testing.T) {
	h, _ := newTestHandlers(t)
	app := fiber.New()
	app.Get("/api/v1/health", h.HealthCheck)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, map[string]interface{}{"status": "healthy"}, body)
}

func TestHealthCheck_DetailedIncludesWorkerPoolStats(t *testing.T) {
	h, _ := newTestHandlers(t)
	app := fiber.New()
	app.Get("/api/v1/health", h.HealthCheck)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health?detailed=true", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body, "worker_pool")
}

func newMultipartGcodeRequest(t *testing.T, fieldName, filename, content string) *http.Request {
	t.Helper()
	return newMultipartGcodeRequestWithFields(t, fieldName, filename, content, nil)
}

func newMultipartGcodeRequestWithFields(t *testing.T, fieldName, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fieldName, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

package handlers

import (
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/job"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/pkg/logging"
)

const sampleGcode = "G1 X0 Y0 E1 F1200\nM104 S200\n;comment: generated\nG1 X10 Y10\n"

func newUploadTestApp(t *testing.T) (*fiber.App, *Handlers) {
	h, _ := newTestHandlers(t)
	app := fiber.New(fiber.Config{ErrorHandler: logging.ErrorHandler(h.logger)})
	app.Post("/api/v1/upload", h.Upload)
	app.Get("/api/v1/status/:id", h.Status)
	app.Get("/api/v1/download/:id", h.Download)
	app.Post("/api/v1/cancel/:id", h.Cancel)
	return app, h
}

func TestUpload_AcceptsValidGcode(t *testing.T) {
	app, _ := newUploadTestApp(t)
	req := newMultipartGcodeRequest(t, "file", "part.gcode", sampleGcode)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
}

func TestUpload_RejectsDisallowedExtension(t *testing.T) {
	app, _ := newUploadTestApp(t)
	req := newMultipartGcodeRequest(t, "file", "part.txt", sampleGcode)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.NotEqual(t, fiber.StatusCreated, resp.StatusCode)
}

func TestUpload_RejectsPathTraversalFilename(t *testing.T) {
	app, h := newUploadTestApp(t)
	req := newMultipartGcodeRequest(t, "file", "../../etc/passwd.gcode", sampleGcode)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	entries, err := os.ReadDir(h.cfg.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no file should be persisted for a rejected traversal filename")
}

func TestUpload_RejectsEmptyFile(t *testing.T) {
	app, _ := newUploadTestApp(t)
	req := newMultipartGcodeRequest(t, "file", "part.gcode", "")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestUpload_RejectsNonGcodeContent(t *testing.T) {
	app, _ := newUploadTestApp(t)
	req := newMultipartGcodeRequest(t, "file", "part.gcode", strings.Repeat("not gcode at all\n", 5))

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestUpload_RejectsOutOfRangePriority(t *testing.T) {
	app, _ := newUploadTestApp(t)
	req := newMultipartGcodeRequestWithFields(t, "file", "part.gcode", sampleGcode, map[string]string{
		"priority": "7",
	})

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
}

func TestStatus_UnknownJobReturnsNotFound(t *testing.T) {
	app, _ := newUploadTestApp(t)

	req, err := http.NewRequest(http.MethodGet, "/api/v1/status/does-not-exist", nil)
	require.NoError(t, err)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestCancel_PendingJobTransitionsToCancelled(t *testing.T) {
	app, h := newUploadTestApp(t)

	j := &job.Job{ID: "cancel-me", OriginalFilename: "part.gcode"}
	h.registry.Register(j)

	req, err := http.NewRequest(http.MethodPost, "/api/v1/cancel/cancel-me", nil)
	require.NoError(t, err)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	time.Sleep(10 * time.Millisecond)
	got, ok := h.registry.Get("cancel-me")
	require.True(t, ok)
	assert.Equal(t, job.StateCancelled, got.Snapshot().State)
}

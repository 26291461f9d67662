package handlers

import (
	"os"

	"github.com/gofiber/fiber/v2"

	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/filestore"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/job"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/pkg/logging"
)

// Status answers GET /api/v1/status/:id.
func (h *Handlers) Status(c *fiber.Ctx) error {
	id := c.Params("id")
	j, ok := h.registry.Get(id)
	if !ok {
		return logging.ErrJobNotFound(id)
	}

	snap := j.Snapshot()
	return c.JSON(fiber.Map{
		"job_id":               snap.ID,
		"filename":             snap.OriginalFilename,
		"status":               snap.State,
		"priority":             snap.Priority,
		"start_at_layer":       snap.StartAtLayer,
		"extrusion_multiplier": snap.ExtrusionMultiplier,
		"bytes_processed":      snap.BytesProcessed,
		"created_at":           snap.CreatedAt,
		"updated_at":           snap.UpdatedAt,
		"error":                snap.ErrorMessage,
	})
}

// Download answers GET /api/v1/download/:id: it streams the processed
// output file, then best-effort deletes the original upload once the
// response has been committed.
func (h *Handlers) Download(c *fiber.Ctx) error {
	id := c.Params("id")
	j, ok := h.registry.Get(id)
	if !ok {
		return logging.ErrJobNotFound(id)
	}

	snap := j.Snapshot()
	if snap.State != job.StateCompleted {
		return logging.ErrOutputNotReady(id, string(snap.State))
	}

	if _, err := os.Stat(snap.OutputPath); err != nil {
		return logging.ErrJobNotFound(id)
	}

	c.Set(fiber.HeaderContentType, "text/plain")
	if err := c.SendFile(snap.OutputPath); err != nil {
		return logging.ErrInternal("could not send output file", err)
	}

	filestore.Delete(snap.UploadPath)
	return nil
}

// Cancel answers POST /api/v1/cancel/:id.
func (h *Handlers) Cancel(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.registry.RequestCancel(id); err != nil {
		return err
	}

	j, _ := h.registry.Get(id)
	snap := j.Snapshot()
	return c.JSON(fiber.Map{
		"job_id": snap.ID,
		"status": snap.State,
	})
}

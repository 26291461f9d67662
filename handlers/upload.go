package handlers

import (
	"mime"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/filestore"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/job"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/pkg/logging"
)

const (
	defaultStartAtLayer        = 3
	defaultExtrusionMultiplier = 1.05
	defaultPriority            = 1

	minExtrusionMultiplier = 1.0
	maxExtrusionMultiplier = 1.2
)

// Upload answers POST /api/v1/upload: it captures the multipart file to the
// upload directory, validates it, registers a job in StatePending, and
// submits it to the worker pool. It never blocks on job processing.
func (h *Handlers) Upload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return logging.ErrValidation("file", "multipart field \"file\" is required")
	}

	// The multipart reader reduces the filename to its base name, so the raw
	// value is taken from the part's Content-Disposition header.
	rawFilename := fileHeader.Filename
	if _, params, err := mime.ParseMediaType(fileHeader.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		rawFilename = params["filename"]
	}
	if err := filestore.ValidateFilename(rawFilename); err != nil {
		return logging.ErrInvalidFilename(fileHeader.Filename)
	}

	if err := filestore.ValidateExtension(fileHeader.Filename, h.cfg.AllowedExtensions); err != nil {
		return logging.ErrUnsupportedExtension(fileHeader.Filename)
	}

	startAtLayer, extrusionMultiplier, priority, err := parseUploadParams(c)
	if err != nil {
		return err
	}

	jobID := uuid.New().String()
	uploadPath := filestore.UploadPath(h.cfg.UploadDir, jobID, fileHeader.Filename)
	outputPath := filestore.OutputPath(h.cfg.OutputDir, jobID, fileHeader.Filename)

	src, err := fileHeader.Open()
	if err != nil {
		return logging.ErrInternal("could not open uploaded file", err)
	}
	defer src.Close()

	captureStart := time.Now()
	result, err := filestore.CaptureUpload(src, uploadPath, h.cfg.MaxUploadSize)
	if err != nil {
		if tooLarge, ok := err.(*filestore.ErrTooLarge); ok {
			return logging.ErrTooLarge(tooLarge.MaxBytes)
		}
		return logging.ErrInternal("could not capture upload", err)
	}
	captureDuration := time.Since(captureStart)

	if result.BytesWritten == 0 {
		filestore.Delete(uploadPath)
		return logging.ErrEmptyFile(fileHeader.Filename)
	}

	if !filestore.SniffGcode(result.Head) {
		filestore.Delete(uploadPath)
		return logging.ErrValidation("file", "file content does not look like g-code")
	}

	j := &job.Job{
		ID:                  jobID,
		OriginalFilename:    fileHeader.Filename,
		UploadPath:          uploadPath,
		OutputPath:          outputPath,
		Priority:            priority,
		ExtrusionMultiplier: extrusionMultiplier,
		StartAtLayer:        startAtLayer,
		BytesProcessed:      0,
	}
	h.registry.Register(j)

	if err := h.pool.Submit(j); err != nil {
		h.registry.Transition(jobID, job.StateFailed, "could not enqueue job: "+err.Error())
		return err
	}

	h.collector.RecordUpload(result.BytesWritten, captureDuration)

	snap := j.Snapshot()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"job_id":     snap.ID,
		"filename":   snap.OriginalFilename,
		"file_size":  result.BytesWritten,
		"created_at": snap.CreatedAt,
		"status":     snap.State,
		"message":    "job accepted for processing",
	})
}

func parseUploadParams(c *fiber.Ctx) (startAtLayer int, extrusionMultiplier float64, priority int, err error) {
	startAtLayer = defaultStartAtLayer
	if raw := c.FormValue("start_at_layer"); raw != "" {
		startAtLayer, err = strconv.Atoi(raw)
		if err != nil || startAtLayer < 0 {
			return 0, 0, 0, logging.ErrParameterOutOfRange("start_at_layer", "must be an integer >= 0")
		}
	}

	extrusionMultiplier = defaultExtrusionMultiplier
	if raw := c.FormValue("extrusion_multiplier"); raw != "" {
		extrusionMultiplier, err = strconv.ParseFloat(raw, 64)
		if err != nil || extrusionMultiplier < minExtrusionMultiplier || extrusionMultiplier > maxExtrusionMultiplier {
			return 0, 0, 0, logging.ErrParameterOutOfRange("extrusion_multiplier", "must be between 1.0 and 1.2")
		}
	}

	priority = defaultPriority
	if raw := c.FormValue("priority"); raw != "" {
		priority, err = strconv.Atoi(raw)
		if err != nil || priority < 0 || priority > 2 {
			return 0, 0, 0, logging.ErrParameterOutOfRange("priority", "must be 0, 1, or 2")
		}
	}

	return startAtLayer, extrusionMultiplier, priority, nil
}

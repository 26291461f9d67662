package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/pkg/logging"
)

// RateLimitUpload gates POST /api/v1/upload with the per-IP limiter.
func (h *Handlers) RateLimitUpload(c *fiber.Ctx) error {
	if !h.limiter.AllowUpload(c.IP()) {
		return logging.ErrRateLimit(h.cfg.RateLimitBurst, "1s")
	}
	return c.Next()
}

// RateLimitAPI gates every other route with the general API limiter.
func (h *Handlers) RateLimitAPI(c *fiber.Ctx) error {
	if !h.limiter.AllowAPI() {
		return logging.ErrRateLimit(20, "1s")
	}
	return c.Next()
}

// RequireAPIKey enforces the optional API key comparison. It is a no-op
// (always allows) when cfg.APIKey is unset — the key check is a policy
// overlay, not a required part of the architecture.
func (h *Handlers) RequireAPIKey(c *fiber.Ctx) error {
	if h.cfg.APIKey == "" {
		return c.Next()
	}
	if c.Get(h.cfg.APIKeyHeader) != h.cfg.APIKey {
		return logging.NewError(logging.ErrCodeUnauthorized, "invalid or missing API key")
	}
	return c.Next()
}

package handlers

import (
	"github.com/gofiber/websocket/v2"
)

// JobEvents upgrades GET /ws/jobs to a websocket and services it for the
// connection's lifetime via the job event hub.
func (h *Handlers) JobEvents(c *websocket.Conn) {
	h.hub.HandleConnection(c)
}

// Package wshub implements the Job Event Hub: a best-effort websocket
// broadcaster of job lifecycle transitions. It never blocks a publisher on a
// slow subscriber — a full per-client buffer drops the event and increments
// a counter instead.
package wshub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofiber/websocket/v2"

	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/job"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/pkg/logging"
)

// clientBuffer bounds how many un-delivered events a single slow subscriber
// can accumulate before the hub starts dropping for it specifically.
const clientBuffer = 32

// Hub fans job.Event out to every connected websocket client. It implements
// job.Publisher so the registry can depend on it without importing this
// package.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
	dropped int64
	logger  *slog.Logger
}

// New creates an empty hub.
func New(logger *logging.ServiceLogger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]chan []byte),
		logger:  logger.ForEventHub(),
	}
}

// Publish implements job.Publisher. It never blocks: a client whose buffer
// is full simply misses this event.
func (h *Hub) Publish(e job.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.logger.Warn("could not marshal job event", slog.Any("error", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.clients {
		select {
		case ch <- payload:
		default:
			atomic.AddInt64(&h.dropped, 1)
		}
	}
}

// Dropped returns the cumulative count of events dropped for slow clients.
func (h *Hub) Dropped() int64 {
	return atomic.LoadInt64(&h.dropped)
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleConnection services one websocket client for the lifetime of the
// connection: a writer goroutine drains its buffer to the socket while the
// blocking read loop here detects disconnection.
func (h *Hub) HandleConnection(c *websocket.Conn) {
	ch := make(chan []byte, clientBuffer)

	h.mu.Lock()
	h.clients[c] = ch
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(ch)
		<-done
		c.Close()
	}()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

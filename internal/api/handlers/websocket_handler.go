package handlers

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/boletin/backend/internal/admin"
	"github.com/boletin/backend/internal/metrics"
	"github.com/boletin/backend/internal/storage/models"
	"github.com/boletin/backend/pkg/logger"
)

const (
	EventDataUpdated   = "data_updated"
	EventDataConfirmed = "data_confirmed"
	EventLoadFailed    = "load_failed"

	clientBuffer = 16
	writeTimeout = 10 * time.Second
)

// Event is pushed to administrators after every sheet load.
type Event struct {
	Type      string           `json:"type"`
	Load      models.LoadEvent `json:"load"`
	Timestamp time.Time        `json:"timestamp"`
}

// WebSocketHandler fans load events out to connected administrators. Slow
// clients lose events instead of blocking loads.
type WebSocketHandler struct {
	sessions *admin.SessionManager

	mu      sync.RWMutex
	clients map[chan Event]struct{}
}

func NewWebSocketHandler(sessions *admin.SessionManager) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		clients:  make(map[chan Event]struct{}),
	}
}

// Upgrade admits websocket upgrades carrying a valid admin token.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if !h.sessions.Valid(admin.TokenFrom(c)) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unauthorized",
		})
	}
	return c.Next()
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	events, unsubscribe := h.subscribe()
	defer func() {
		unsubscribe()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev := <-events:
			_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.WriteJSON(ev); err != nil {
				logger.Warn("Failed to write WebSocket event", zap.Error(err))
				return
			}
		}
	}
}

// OnLoad turns a load outcome into an event for every client.
func (h *WebSocketHandler) OnLoad(load models.LoadEvent) {
	ev := Event{Load: load, Timestamp: time.Now()}
	switch load.Status {
	case models.LoadSucceeded:
		ev.Type = EventDataUpdated
	case models.LoadUnchanged:
		ev.Type = EventDataConfirmed
	default:
		ev.Type = EventLoadFailed
	}
	h.Broadcast(ev)
}

func (h *WebSocketHandler) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			logger.Warn("Dropping event for slow WebSocket client", zap.String("type", ev.Type))
		}
	}
}

func (h *WebSocketHandler) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, clientBuffer)

	h.mu.Lock()
	h.clients[ch] = struct{}{}
	metrics.WebSocketClients.Set(float64(len(h.clients)))
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.clients, ch)
		metrics.WebSocketClients.Set(float64(len(h.clients)))
		h.mu.Unlock()
	}
}

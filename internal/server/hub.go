package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/telemetry"
)

// sendBufferSize bounds queued outbound frames per connection. A connection
// that falls this far behind is evicted rather than silently losing events.
const sendBufferSize = 256

// Hub fans out session events to the connections subscribed to each
// session. Publish is called from session actors, so it never blocks: a
// subscriber whose buffer is full is evicted and must rejoin to receive a
// fresh snapshot.
type Hub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		logger:   logger,
		sessions: make(map[string]map[*client]struct{}),
	}
	_, _ = telemetry.Meter("council/gateway").Int64ObservableGauge("council.gateway.subscribers",
		metric.WithDescription("Session subscriptions held by realtime connections"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(h.Subscribers()))
			return nil
		}),
	)
	return h
}

// Publish implements council.Publisher. Events without a session id are
// replies addressed to one client and are ignored here.
func (h *Hub) Publish(ev model.Event) {
	sessionID := ev.SessionID()
	if sessionID == "" {
		return
	}
	frame, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("hub: marshal event", "type", ev.Type, "session_id", sessionID, "error", err)
		return
	}

	var evicted []*client
	h.mu.RLock()
	for c := range h.sessions[sessionID] {
		if !c.trySend(frame) {
			evicted = append(evicted, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range evicted {
		h.logger.Warn("hub: subscriber buffer full, disconnecting",
			"conn_id", c.id, "session_id", sessionID, "event", ev.Type)
		h.Drop(c)
		c.kick()
	}
}

// Subscribe adds c to sessionID's subscribers.
func (h *Hub) Subscribe(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.sessions[sessionID]
	if !ok {
		subs = make(map[*client]struct{})
		h.sessions[sessionID] = subs
	}
	subs[c] = struct{}{}
}

// Unsubscribe removes c from sessionID's subscribers.
func (h *Hub) Unsubscribe(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sessionID, c)
}

// Drop removes c from every session.
func (h *Hub) Drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID := range h.sessions {
		h.removeLocked(sessionID, c)
	}
}

func (h *Hub) removeLocked(sessionID string, c *client) {
	subs, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.sessions, sessionID)
	}
}

// Subscribers returns the total number of session subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.sessions {
		n += len(subs)
	}
	return n
}

// subscribed reports whether c is subscribed to sessionID.
func (h *Hub) subscribed(sessionID string, c *client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[sessionID][c]
	return ok
}

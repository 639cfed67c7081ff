package realtime

import (
	"sync"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/metrics"
	"go.uber.org/zap"
)

// Connection is one live client channel registered with the hub.
type Connection interface {
	ID() string
	// Send queues a frame for the client without blocking.
	Send(frame []byte) error
	Close()
}

// HubConfig describes the optional collaborators of a Hub.
type HubConfig struct {
	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

// Hub fans events out to every registered connection. Delivery is best effort: there is no
// replay, and a connection whose send fails is dropped.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]Connection

	// publishMu serializes fan-out so every connection sees events in publish order.
	publishMu sync.Mutex

	logger  *zap.Logger
	metrics *metrics.Recorder
}

// NewHub constructs an empty hub.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[string]Connection),
		logger:      logger,
		metrics:     cfg.Metrics,
	}
}

// Register adds a connection to the live set.
func (h *Hub) Register(conn Connection) {
	if conn == nil {
		return
	}
	h.mu.Lock()
	h.connections[conn.ID()] = conn
	count := len(h.connections)
	h.mu.Unlock()

	h.metrics.HubConnections(count)
	h.logger.Debug("realtime connection registered", zap.String("connection_id", conn.ID()), zap.Int("connections", count))
}

// Unregister removes and closes a connection. Removing an absent connection is a no-op.
func (h *Hub) Unregister(conn Connection) {
	if conn == nil {
		return
	}
	h.mu.Lock()
	current, ok := h.connections[conn.ID()]
	if ok && current == conn {
		delete(h.connections, conn.ID())
	}
	count := len(h.connections)
	h.mu.Unlock()

	if !ok || current != conn {
		return
	}
	conn.Close()
	h.metrics.HubConnections(count)
	h.logger.Debug("realtime connection unregistered", zap.String("connection_id", conn.ID()), zap.Int("connections", count))
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Publish serializes the event once and hands it to every live connection. It never fails.
func (h *Hub) Publish(event Event) {
	if event == nil {
		return
	}
	frame, err := Encode(event)
	if err != nil {
		h.logger.Error("realtime event encoding failed", zap.String("kind", string(event.Kind())), zap.Error(err))
		return
	}
	h.Broadcast(event.Kind(), frame)
}

// Broadcast fans an already encoded frame out to the live set.
func (h *Hub) Broadcast(kind EventKind, frame []byte) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.metrics.HubEvent(string(kind))

	h.mu.RLock()
	targets := make([]Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.Send(frame); err != nil {
			h.logger.Warn("realtime send failed; dropping connection",
				zap.String("connection_id", conn.ID()),
				zap.String("kind", string(kind)),
				zap.Error(err))
			h.metrics.HubDrop()
			h.Unregister(conn)
		}
	}
}

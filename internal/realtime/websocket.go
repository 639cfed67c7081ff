package realtime

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultSendQueueSize = 32
	defaultWriteWait     = 10 * time.Second
	defaultPongWait      = 60 * time.Second
	maxInboundFrameBytes = 4096
)

var (
	// ErrConnectionClosed is returned by Send after the client went away.
	ErrConnectionClosed = errors.New("realtime: connection closed")
	// ErrSendQueueFull is returned by Send when the client is not draining its queue.
	ErrSendQueueFull = errors.New("realtime: send queue full")
)

// WebSocketConfig configures the upgrade endpoint.
type WebSocketConfig struct {
	AllowedOrigins []string
	SendQueueSize  int
	WriteWait      time.Duration
	PongWait       time.Duration
	Logger         *zap.Logger
}

// WebSocketHandler upgrades HTTP requests and registers the resulting clients with a hub.
type WebSocketHandler struct {
	hub       *Hub
	upgrader  websocket.Upgrader
	queueSize int
	writeWait time.Duration
	pongWait  time.Duration
	logger    *zap.Logger
}

// NewWebSocketHandler builds the upgrade endpoint for hub.
func NewWebSocketHandler(hub *Hub, cfg WebSocketConfig) *WebSocketHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	queueSize := cfg.SendQueueSize
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	writeWait := cfg.WriteWait
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	pongWait := cfg.PongWait
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	origins := append([]string(nil), cfg.AllowedOrigins...)
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(origins, r.Header.Get("Origin"))
			},
		},
		queueSize: queueSize,
		writeWait: writeWait,
		pongWait:  pongWait,
		logger:    logger,
	}
}

// Serve upgrades the request and blocks until the client disconnects.
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	client := &Client{
		id:        uuid.NewString(),
		userID:    userID,
		conn:      conn,
		send:      make(chan []byte, h.queueSize),
		done:      make(chan struct{}),
		writeWait: h.writeWait,
		pongWait:  h.pongWait,
	}
	h.hub.Register(client)
	h.logger.Info("realtime client connected", zap.String("connection_id", client.id), zap.String("user_id", userID))

	go client.writePump(h.hub)
	client.readPump(h.hub)

	h.logger.Info("realtime client disconnected", zap.String("connection_id", client.id), zap.String("user_id", userID))
	return nil
}

// Client is a gorilla/websocket connection with a bounded outbound queue.
type Client struct {
	id        string
	userID    string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	writeWait time.Duration
	pongWait  time.Duration
}

// ID returns the connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Send queues a frame; a full queue means the client is too slow and gets dropped by the hub.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendQueueFull
	}
}

// Close tears the socket down; safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Clients never send application frames; reading only services control frames and detects close.
func (c *Client) readPump(hub *Hub) {
	defer hub.Unregister(c)

	c.conn.SetReadLimit(maxInboundFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump(hub *Hub) {
	ticker := time.NewTicker(c.pongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				hub.Unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				hub.Unregister(c)
				return
			}
		}
	}
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, candidate := range allowed {
		if candidate == "*" || strings.EqualFold(strings.TrimRight(candidate, "/"), parsed.Scheme+"://"+parsed.Host) {
			return true
		}
	}
	return false
}

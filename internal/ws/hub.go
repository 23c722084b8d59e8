// Package ws pushes aggregator snapshots to dashboard clients over
// WebSocket. Clients get the current snapshot on connect and a new one on
// every change (pending transition, result replacement, refresh flag).
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/statusgrid/internal/aggregator"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before dropping the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBufSize = 8
)


// Source is what the hub needs from the aggregator.
type Source interface {
	Snapshot(ctx context.Context) (aggregator.Snapshot, error)
	Subscribe() (<-chan aggregator.Snapshot, func())
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub fans snapshots out to every connected client.
type Hub struct {
	src    Source
	view   func(aggregator.Snapshot) any
	logger *zap.Logger

	updates     <-chan aggregator.Snapshot
	unsubscribe func()
	upgrader    websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Option configures a Hub.
type Option func(*Hub)

// WithAllowedOrigins restricts which browser origins may open a socket.
// Entries use the ALLOWED_ORIGINS syntax: "*" allows any origin and one
// "*" inside an entry matches any run of characters
// ("https://*.example.com"). Without this option only same-host origins
// are accepted. Requests without an Origin header are not browsers and
// are always accepted.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = originChecker(origins)
	}
}

// New creates a hub. view shapes the snapshot for the wire; nil sends the
// snapshot as is.
func New(src Source, view func(aggregator.Snapshot) any, logger *zap.Logger, opts ...Option) *Hub {
	if view == nil {
		view = func(s aggregator.Snapshot) any { return s }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		src:    src,
		view:   view,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(nil),
		},
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.updates, h.unsubscribe = src.Subscribe()
	return h
}

// Run forwards every snapshot change to the clients until ctx is done,
// then disconnects them. The subscription is taken in New, so changes made
// before Run starts are not lost.
func (h *Hub) Run(ctx context.Context) error {
	defer h.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return h.closeAll()
		case snap, ok := <-h.updates:
			if !ok {
				return h.closeAll()
			}
			if data, err := h.encode(snap); err == nil {
				h.broadcast(data)
			}
		}
	}
}

// ServeHTTP upgrades the connection and serves the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		h.logger.Debug("ws_upgrade_rejected", zap.String("origin", r.Header.Get("Origin")), zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBufSize)}
	h.register(c)
	defer h.unregister(c)

	if snap, err := h.src.Snapshot(r.Context()); err == nil {
		if data, err := h.encode(snap); err == nil {
			h.enqueue(c, data)
		}
	}

	go c.writePump()
	c.readPump()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) encode(snap aggregator.Snapshot) ([]byte, error) {
	b, err := json.Marshal(Message{Event: "snapshot", Data: h.view(snap)})
	if err != nil {
		h.logger.Warn("ws_encode_error", zap.Error(err))
	}
	return b, err
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("ws_client_connected", zap.String("remote", c.conn.RemoteAddr().String()))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) enqueue(c *client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		select {
		case c.send <- data:
		default:
		}
	}
}

func (h *Hub) broadcast(data []byte) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Info("ws_client_dropped", zap.String("reason", "send buffer full"))
		h.unregister(c)
	}
}

func (h *Hub) closeAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var err error
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
		err = multierr.Append(err, c.conn.SetReadDeadline(time.Now()))
	}
	return err
}

// writePump forwards queued messages and sends pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles control frames and notices disconnects.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/roastlive/roastlive/internal/events"
)

// Client represents a connected overlay/UI consumer.
type Client struct {
	id        int64
	sessionID string
	conn      *websocket.Conn
	send      chan events.Event
}

// Hub manages overlay websocket clients and fans session events out to them.
// Delivery is fire-and-forget: a consumer that cannot keep up loses events,
// the engine never blocks on it.
type Hub struct {
	mu       sync.RWMutex
	clients  map[int64]*Client
	sessions map[string]map[int64]*Client
	nextID   int64
	logger   *slog.Logger
	metrics  *Metrics
}

func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	return &Hub{
		clients:  make(map[int64]*Client),
		sessions: make(map[string]map[int64]*Client),
		logger:   logger,
		metrics:  metrics,
	}
}

// Serve upgrades the request and streams the session's events until the
// consumer disconnects. Token validation happens in the HTTP layer.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("ws accept", "err", err)
		return
	}

	client := h.register(sessionID, conn)
	defer h.unregister(client)

	if h.metrics != nil {
		h.metrics.IncrWSConn()
		defer h.metrics.DecrWSConn()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writePump(ctx, client)
	h.readPump(ctx, client)
}

// Forward drains a session event subscription into the hub. Exits when the
// channel closes (session teardown).
func (h *Hub) Forward(sessionID string, ch <-chan events.Event) {
	for ev := range ch {
		h.broadcast(sessionID, ev)
	}
}

func (h *Hub) broadcast(sessionID string, ev events.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.sessions[sessionID] {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("overlay send buffer full", "client", c.id, "session", sessionID)
		}
	}
}

func (h *Hub) register(sessionID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	c := &Client{
		id:        h.nextID,
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan events.Event, 64),
	}
	h.clients[c.id] = c
	if _, ok := h.sessions[sessionID]; !ok {
		h.sessions[sessionID] = make(map[int64]*Client)
	}
	h.sessions[sessionID][c.id] = c
	return c
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	if group, ok := h.sessions[c.sessionID]; ok {
		delete(group, c.id)
		if len(group) == 0 {
			delete(h.sessions, c.sessionID)
		}
	}
}

func (h *Hub) readPump(ctx context.Context, c *Client) {
	defer func() {
		if err := c.conn.CloseNow(); err != nil {
			h.logger.Debug("close conn", "err", err)
		}
	}()
	// Overlay consumers are read-only; inbound frames are drained and dropped.
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(ctx context.Context, c *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, c.conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Package ws pushes entity status snapshots to connected browsers so progress
// can be watched without polling.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"enricher/internal/domain"
	"enricher/internal/infra"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 32
)

// Event is one status update pushed to clients.
type Event struct {
	Type          string `json:"type"`
	EntityID      string `json:"entity_id"`
	Status        string `json:"status"`
	StatusMessage string `json:"status_message"`
	ImageCount    int    `json:"image_count"`
	UpdatedAt     string `json:"updated_at"`
}

// Hub fans entity updates out to every connected websocket client. Slow
// clients get disconnected rather than blocking the broadcast path.
type Hub struct {
	logger   infra.Logger
	upgrader websocket.Upgrader
	onCount  func(int)

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// NewHub constructs a hub. CheckOrigin accepts all origins; the router's CORS
// policy is the trust boundary. onCount, when non-nil, is called with the
// client count after every connect and disconnect.
func NewHub(logger infra.Logger, onCount func(int)) *Hub {
	return &Hub{
		logger:  logger,
		onCount: onCount,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Publish is a store listener; hook it up with store.Subscribe.
func (h *Hub) Publish(e domain.Entity) {
	event := Event{
		Type:          "entity_update",
		EntityID:      e.ID,
		Status:        string(e.Status),
		StatusMessage: e.StatusMessage,
		ImageCount:    e.ImageCount,
		UpdatedAt:     e.UpdatedAt.UTC().Format(time.RFC3339),
	}
	evicted := false
	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- event:
		default:
			delete(h.clients, c)
			close(c.send)
			evicted = true
		}
	}
	h.mu.Unlock()
	if evicted {
		h.notifyCount()
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws: upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan Event, sendBufferSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.notifyCount()

	go h.writeLoop(c)
	h.readLoop(c)
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for event := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(event); err != nil {
			h.drop(c)
			return
		}
	}
}

// readLoop discards inbound frames; it exists to notice disconnects.
func (h *Hub) readLoop(c *client) {
	defer c.conn.Close()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.notifyCount()
}

func (h *Hub) notifyCount() {
	if h.onCount == nil {
		return
	}
	h.onCount(h.ClientCount())
}

package introspect

import (
	"sync"

	"github.com/google/uuid"

	"github.com/brineshore/kadnet/internal/transportlog"
)

// Client is one connected admin websocket consumer of the event feed.
type Client struct {
	ID   uuid.UUID
	Send chan []byte
	hub  *Hub
}

// Hub fans out Events to every connected Client (teacher's
// internal/websocket/hub.go Hub, stripped of per-server identity,
// database last-seen bookkeeping, and the unicast path this feed has no
// use for: every client gets every event).
type Hub struct {
	clientsMu sync.RWMutex
	clients   map[uuid.UUID]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
}

// NewHub creates an empty Hub. Call Run in its own goroutine before any
// client registers.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
	}
}

// Run services register/unregister/broadcast until ctx-like stop is
// unnecessary: the hub has no natural shutdown point short of process
// exit, matching the teacher's Hub.Run (runs for the process lifetime).
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clientsMu.Lock()
			h.clients[c.ID] = c
			h.clientsMu.Unlock()
			transportlog.Printf("introspect: client connected %s (%d total)", c.ID, len(h.clients))

		case c := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[c.ID]; ok {
				delete(h.clients, c.ID)
				close(c.Send)
			}
			total := len(h.clients)
			h.clientsMu.Unlock()
			transportlog.Printf("introspect: client disconnected %s (%d total)", c.ID, total)

		case data := <-h.broadcast:
			h.clientsMu.RLock()
			for _, c := range h.clients {
				select {
				case c.Send <- data:
				default:
					// Slow consumer; drop it rather than block the feed for
					// everyone else (teacher's broadcastMessage does the same).
					go func(c *Client) { h.unregister <- c }(c)
				}
			}
			h.clientsMu.RUnlock()
		}
	}
}

// Broadcast enqueues data for delivery to every connected client.
func (h *Hub) Broadcast(data []byte) {
	h.broadcast <- data
}

// ClientCount reports the number of connected clients, exposed for the
// admin HTTP surface's /peers endpoint.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

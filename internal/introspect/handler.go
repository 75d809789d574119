package introspect

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/brineshore/kadnet/internal/transportlog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same open CheckOrigin as the teacher's handler.go: this is an
	// admin surface meant to be reachable from a local dashboard, not a
	// browser-facing API that needs origin locking.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades GET /events requests to a websocket connection
// subscribed to hub's broadcast feed.
type Handler struct {
	hub *Hub
}

// NewHandler creates a Handler serving hub's event feed.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		transportlog.Printf("introspect: upgrade failed: %v", err)
		return
	}

	client := &Client{ID: uuid.New(), Send: make(chan []byte, 256), hub: h.hub}
	h.hub.register <- client

	go client.writePump(conn)
	go client.readPump(conn)
}

package introspect

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/brineshore/kadnet/internal/transportlog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 90 * time.Second
	pingPeriod = 30 * time.Second
)

// readPump drains and discards inbound frames (this feed is output-only;
// the teacher's readPump dispatches commands, ours just needs the pong
// deadline reset and close detection), then unregisters on disconnect.
func (c *Client) readPump(conn *websocket.Conn) {
	defer func() {
		c.hub.unregister <- c
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pumps queued Events to the client and sends periodic pings,
// same shape as the teacher's client.go writePump.
func (c *Client) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				transportlog.Printf("introspect: write failed for %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

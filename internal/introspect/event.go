// Package introspect is a small websocket broadcaster for transport-core
// lifecycle events — an operator-facing feed, not a DHT-protocol
// concern, so it lives outside internal/transport and only observes it.
//
// Grounded on the teacher's internal/websocket/hub.go: the same
// register/unregister/broadcast channel trio run from one goroutine
// (Hub.Run), the same per-client buffered Send channel with a
// drop-and-disconnect policy when it fills up, and the same
// ping/pong keepalive pump pair (client.go's writePump/readPump).
// Instead of broadcasting UI activity events to authenticated site
// clients, it broadcasts transport lifecycle events to any admin
// websocket client that connects.
package introspect

import (
	"encoding/json"
	"time"

	"github.com/brineshore/kadnet/internal/peer"
	"github.com/brineshore/kadnet/internal/transport"
)

// Event is the JSON payload broadcast to every connected client.
type Event struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"` // "peer_failed" | "peer_recovered" | "strategy_selected" | "relay_session"
	TraceID string    `json:"traceId,omitempty"`
	Command string    `json:"command,omitempty"`
	Verdict string    `json:"verdict,omitempty"`
	Peer    string    `json:"peer,omitempty"`
	Relay   string    `json:"relay,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

func (e Event) marshal() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		// Event is a flat struct of JSON-safe fields; Marshal cannot fail.
		return []byte(`{"kind":"marshal_error"}`)
	}
	return data
}

func peerEventToEvent(ev transport.PeerEvent) Event {
	kind := "peer_failed"
	if !ev.Failed {
		kind = "peer_recovered"
	}
	return Event{Time: time.Now(), Kind: kind, Peer: peerString(ev.Peer)}
}

func lifecycleEventToEvent(ev transport.LifecycleEvent) Event {
	out := Event{
		Time:    time.Now(),
		Kind:    ev.Kind,
		TraceID: ev.TraceID,
		Detail:  ev.Detail,
	}
	out.Command = ev.Command.String()
	if ev.Kind == "strategy_selected" {
		out.Verdict = ev.Verdict.String()
	}
	if ev.Relay.TCPPort != 0 || ev.Relay.UDPPort != 0 {
		out.Relay = ev.Relay.String()
	}
	return out
}

func peerString(p peer.Address) string {
	return p.Primary.String()
}

// Subscribe wires a Hub up to a Transport's peer-status and lifecycle
// listeners, translating both into Events the Hub broadcasts to every
// connected client. Call once per Transport/Hub pair at startup.
func Subscribe(hub *Hub, t *transport.Transport) {
	t.AddPeerStatusListener(func(ev transport.PeerEvent) {
		hub.Broadcast(peerEventToEvent(ev).marshal())
	})
	t.AddLifecycleListener(func(ev transport.LifecycleEvent) {
		hub.Broadcast(lifecycleEventToEvent(ev).marshal())
	})
}

// Package transport implements the transport core's orchestration layer:
// the direct sender, the RCON and relay-fallback and hole-punch
// orchestrators, and the peer-status reporter (spec §4.2-§4.5, §4.10).
// It ties together internal/message, internal/peer, internal/registry,
// internal/channelpool, internal/strategy, internal/sign, and
// internal/rcon (the relay-side back-dial broker) into the single entry
// point collaborators call: Send.
package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brineshore/kadnet/internal/channelpool"
	"github.com/brineshore/kadnet/internal/message"
	"github.com/brineshore/kadnet/internal/peer"
	"github.com/brineshore/kadnet/internal/rcon"
	"github.com/brineshore/kadnet/internal/registry"
	"github.com/brineshore/kadnet/internal/sign"
	"github.com/brineshore/kadnet/internal/strategy"
	"github.com/brineshore/kadnet/internal/transporterr"
	"github.com/brineshore/kadnet/internal/transportlog"
)

// Config holds the timeout and fan-out knobs spec §5 calls out as having
// defaults: connect timeout (~5s), idle timeout (TCP 5s / UDP 2s), and
// the hole-punch candidate-port count (default 3).
type Config struct {
	ConnectTimeout time.Duration
	IdleTCP        time.Duration
	IdleUDP        time.Duration
	HolePunchN     int
}

// DefaultConfig returns the defaults named in spec §5.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		IdleTCP:        5 * time.Second,
		IdleUDP:        2 * time.Second,
		HolePunchN:     3,
	}
}

// PeerEvent is delivered to peer-status listeners on send failure or
// recovery (spec §4.10).
type PeerEvent struct {
	Peer   peer.Address
	Failed bool
}

// LifecycleEvent reports an observable transport-core event to operator
// tooling (internal/introspect) without participating in message
// delivery itself: which strategy a send resolved to, and which relay
// answered a relay-fallback attempt.
type LifecycleEvent struct {
	TraceID  string
	Kind     string // "strategy_selected" | "relay_session"
	Command  message.Command
	Verdict  strategy.Verdict
	Relay    peer.SocketAddress
	Detail   string
}

// Transport is the transport core. One instance is created per local
// node identity and shared by every outbound send and inbound dispatch.
type Transport struct {
	cfg    Config
	pool   *channelpool.Pool
	reg    *registry.Registry
	local  peer.Address
	signer sign.Factory

	idCounter uint32

	listenersMu sync.RWMutex
	listeners   []func(PeerEvent)

	lifecycleMu        sync.RWMutex
	lifecycleListeners []func(LifecycleEvent)

	strategyCounts [4]int64 // indexed by strategy.Verdict, exposed via StrategyCounts

	broker *rcon.Broker // non-nil only when this node also acts as a relay
}

// StrategyCounts reports how many sends have resolved to each
// strategy.Verdict so far, keyed by its String() form. Exposed for the
// admin HTTP surface's /metrics endpoint.
func (t *Transport) StrategyCounts() map[string]int64 {
	out := make(map[string]int64, len(t.strategyCounts))
	for v := strategy.Direct; v <= strategy.HolePunch; v++ {
		out[v.String()] = atomic.LoadInt64(&t.strategyCounts[v])
	}
	return out
}

// SetBroker enables this node to act as a relay for other peers: inbound
// RCON requests addressed to a peer registered with broker get a
// back-dial request issued on their control connection (spec §4.3 step
// 4, relay side).
func (t *Transport) SetBroker(b *rcon.Broker) { t.broker = b }

// New constructs a Transport for the given local identity.
func New(local peer.Address, pool *channelpool.Pool, reg *registry.Registry, signer sign.Factory, cfg Config) *Transport {
	return &Transport{
		cfg:    cfg,
		pool:   pool,
		reg:    reg,
		local:  local,
		signer: signer,
	}
}

// NextMessageID returns a process-unique message id, satisfying spec §3
// invariant iii for freshly built requests (hole-punch duplicates get
// their own ids via this same counter).
func (t *Transport) NextMessageID() uint32 {
	return atomic.AddUint32(&t.idCounter, 1)
}

// Registry exposes the pending-response registry to collaborators (spec
// §6: "Access to the pending-registry (cachedRequests())").
func (t *Transport) Registry() *registry.Registry { return t.reg }

// Pool exposes the channel pool, e.g. for admin-surface stats.
func (t *Transport) Pool() *channelpool.Pool { return t.pool }

// Local returns the local peer identity this Transport sends as.
func (t *Transport) Local() peer.Address { return t.local }

// AddPeerStatusListener registers fn to be called on every peer-status
// event (spec §6: "Ability to register/unregister peer-status
// listeners").
func (t *Transport) AddPeerStatusListener(fn func(PeerEvent)) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	t.listeners = append(t.listeners, fn)
}

func (t *Transport) notifyPeerFailed(p peer.Address) {
	if p.Flags.Relayed {
		// spec §4.2 step 2: suppress the notification for relayed
		// recipients, since a relay-path failure doesn't mean the peer
		// itself is down.
		return
	}
	t.emit(PeerEvent{Peer: p, Failed: true})
}

func (t *Transport) emit(ev PeerEvent) {
	t.listenersMu.RLock()
	listeners := append([]func(PeerEvent){}, t.listeners...)
	t.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// AddLifecycleListener registers fn to be called on every LifecycleEvent,
// used by internal/introspect's websocket broadcaster to feed an
// operator dashboard (spec.md has no notion of this; it is outside the
// core's own delivery path).
func (t *Transport) AddLifecycleListener(fn func(LifecycleEvent)) {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()
	t.lifecycleListeners = append(t.lifecycleListeners, fn)
}

func (t *Transport) emitLifecycle(ev LifecycleEvent) {
	t.lifecycleMu.RLock()
	listeners := append([]func(LifecycleEvent){}, t.lifecycleListeners...)
	t.lifecycleMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// SendOptions configures one Send call.
type SendOptions struct {
	// ExpectReply marks this as a request awaiting a correlated response
	// rather than a fire-and-forget message (spec §4.2 step 6).
	ExpectReply bool
	// Existing reuses a live, caller-owned PeerConnection instead of
	// borrowing a fresh channel from the pool (spec §4.2 step 3). Its
	// channel outlives this one completion and is never closed here.
	Existing *channelpool.PeerConnection
	// OneShotChannel is an already-open Channel this send should use and
	// own for its lifetime (an inbound RCON back-dial, a hole-punch
	// duplicate's dedicated UDP socket). Closed on terminal, but never
	// pool-released since it was never pool-acquired by this send.
	OneShotChannel *channelpool.Channel
}

// Send is the single entry point collaborators use to deliver a
// prepared Message (spec §6: sendTCP/sendUDP). It selects a strategy via
// internal/strategy and dispatches to the matching orchestrator.
func (t *Transport) Send(ctx context.Context, msg message.Message, opts SendOptions) (*registry.ResponseCompletion, error) {
	completion := registry.NewCompletion(msg)

	verdict, err := strategy.SelectWithGuard(msg.Recipient.Flags, t.local.Flags, msg.Command, msg.Flags.UDP)
	if err != nil {
		completion.CompleteFailed(transporterr.AsError(err))
		return completion, err
	}

	atomic.AddInt64(&t.strategyCounts[verdict], 1)

	transportlog.Printf("transport: send id=%d command=%d verdict=%s", msg.ID, msg.Command, verdict)
	t.emitLifecycle(LifecycleEvent{
		TraceID: completion.TraceID,
		Kind:    "strategy_selected",
		Command: msg.Command,
		Verdict: verdict,
	})

	switch verdict {
	case strategy.Direct:
		t.runDirect(ctx, completion, msg.Recipient.Primary, msg.Flags.UDP, opts)
	case strategy.RCON:
		t.runRCON(ctx, completion, opts)
	case strategy.Relay:
		t.runRelay(ctx, completion, opts)
	case strategy.HolePunch:
		t.runHolePunch(ctx, completion)
	}
	return completion, nil
}

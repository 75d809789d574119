package transport

import (
	"context"
	"encoding/hex"

	"github.com/brineshore/kadnet/internal/channelpool"
	"github.com/brineshore/kadnet/internal/message"
	"github.com/brineshore/kadnet/internal/peer"
	"github.com/brineshore/kadnet/internal/registry"
	"github.com/brineshore/kadnet/internal/strategy"
	"github.com/brineshore/kadnet/internal/transporterr"
	"github.com/brineshore/kadnet/internal/transportlog"
)

func hexPeerID(id [20]byte) string { return hex.EncodeToString(id[:]) }

// runRCON implements the reverse-connection orchestrator (spec §4.3):
// ask one of the recipient's relays to have the recipient dial back out
// to us, then wait for that back-dial to arrive and deliver the
// original message over it.
func (t *Transport) runRCON(ctx context.Context, completion *registry.ResponseCompletion, opts SendOptions) {
	if completion.IsTerminal() {
		return
	}

	recipient := completion.Request.Recipient
	relaySocket, ok := strategy.ChooseRelay(recipient.Relays(), t.local.PeerID, 0)
	if !ok {
		completion.CompleteFailed(transporterr.New(transporterr.KindRelayUnavailable, "recipient advertises no relay", nil))
		return
	}

	// Step 2: cache the original request so the dispatcher can find it
	// again when the back-dial arrives carrying this message's id.
	t.reg.CacheRCON(completion)
	completion.AddCancelFunc(func() { t.reg.TakeRCON(completion.Request.ID) })

	// Step 1: build the RCON request addressed to the chosen relay,
	// copying sender/version/keepAlive from the original.
	rconMsg := message.Message{
		ID:        t.NextMessageID(),
		Version:   completion.Request.Version,
		Sender:    completion.Request.Sender,
		Recipient: peer.New(recipient.PeerID, relaySocket, peer.Flags{}),
		Command:   message.CommandRCON,
		Type:      message.TypeRequest1,
		Flags:     message.Flags{KeepAlive: true},
		Integers:  []int32{int32(completion.Request.ID)},
	}
	rconCompletion := registry.NewCompletion(rconMsg)

	// Step 3: send the RCON message, TCP, keepAlive, and wait for OK.
	t.transmit(ctx, rconCompletion, relaySocket, false, SendOptions{ExpectReply: true})

	rconCompletion.OnTerminal(func(o registry.Outcome) {
		if o.State == registry.OK && o.Reply.Type == message.TypeOK {
			// Relay confirmed; the back-dial is handled by
			// handleBackdial (via DispatchInbound) once the recipient connects.
			transportlog.Printf("rcon: relay %s confirmed for message %d", relaySocket, completion.Request.ID)
			return
		}

		t.reg.TakeRCON(completion.Request.ID)

		if o.Err != nil && o.Err.Kind == transporterr.KindDenied {
			// Step 5: DENIED is fatal, no retry on another relay.
			completion.CompleteFailed(o.Err)
			return
		}
		completion.CompleteFailed(transporterr.New(transporterr.KindConnect, "rcon request failed", o.Err))
	})
}

// handleBackdial consults the RCON cache for first.ID and, if found,
// hands the original message off to ch for the normal send/reply-
// correlation path (spec §4.3 step 4). Orphan back-dials (no matching
// cache entry, e.g. the original already timed out) are closed. Called
// from DispatchInbound once it has read the connection's first frame.
func (t *Transport) handleBackdial(ctx context.Context, ch *channelpool.Channel, first message.Message) bool {
	original, ok := t.reg.TakeRCON(first.ID)
	if !ok {
		return false
	}

	t.transmit(ctx, original, original.Request.Recipient.Primary, false, SendOptions{
		ExpectReply:    true,
		OneShotChannel: ch,
	})
	return true
}

// handleRelayRequest services an inbound RCON request addressed to this
// node acting as a relay (spec §4.3, relay side): it asks the target
// peer, if registered with this node's Broker, to dial back out to the
// requester carrying the original message id, then replies OK or
// DENIED/ERROR on the control channel the request arrived on.
func (t *Transport) handleRelayRequest(ch *channelpool.Channel, req message.Message) {
	reply := message.Message{
		ID:        req.ID,
		Version:   req.Version,
		Sender:    t.local,
		Recipient: req.Sender,
		Command:   message.CommandRCON,
	}

	if t.broker == nil || len(req.Integers) == 0 {
		reply.Type = message.TypeDenied
		ch.Write(reply)
		ch.Close()
		return
	}

	targetIDHex := hexPeerID(req.Recipient.PeerID)
	originalID := uint32(req.Integers[0])
	requesterAddr := req.Sender.Primary.TCPAddr()

	if err := t.broker.RequestBackdial(targetIDHex, requesterAddr, originalID); err != nil {
		transportlog.Printf("rcon: relay request for %s failed: %v", targetIDHex, err)
		reply.Type = message.TypeDenied
	} else {
		reply.Type = message.TypeOK
	}
	ch.Write(reply)
}

package transport

import (
	"context"

	"github.com/brineshore/kadnet/internal/channelpool"
	"github.com/brineshore/kadnet/internal/message"
)

// DispatchInbound services one freshly accepted inbound connection whose
// purpose isn't known until its first frame arrives: a normal PING/
// NEIGHBOR request addressed to this node, an RCON request asking this
// node (acting as a relay) to broker a back-dial, or a back-dial itself
// arriving in response to an RCON request this node issued earlier.
// Collaborators' accept loops call this for every inbound TCP connection;
// kadnetd's UDP path decodes datagrams itself and does not call it.
func (t *Transport) DispatchInbound(ctx context.Context, ch *channelpool.Channel, onRequest func(message.Message, *channelpool.Channel)) {
	first, err := ch.ReadOne()
	if err != nil {
		ch.Close()
		return
	}

	switch {
	case first.Command == message.CommandRCON && first.Type == message.TypeRequest1 && t.broker != nil:
		t.handleRelayRequest(ch, first)
		return
	case t.handleBackdial(ctx, ch, first):
		return
	case t.reg.Deliver(first):
		// A reply to an in-flight request arrived on a channel whose
		// own read loop hadn't started yet; deliver it and keep reading
		// this channel for any further correlated frames.
		go ch.ReadLoop(func(m message.Message) { t.reg.Deliver(m) }, nil)
		return
	default:
		if onRequest != nil {
			onRequest(first, ch)
			return
		}
		ch.Close()
	}
}

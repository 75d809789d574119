package transport

import (
	"context"

	"github.com/brineshore/kadnet/internal/message"
	"github.com/brineshore/kadnet/internal/peer"
	"github.com/brineshore/kadnet/internal/registry"
	"github.com/brineshore/kadnet/internal/transporterr"
)

// runRelay implements the relay-fallback orchestrator (spec §4.4): probe
// every advertised relay in parallel, send through whichever answers
// first, and on failure drop that relay and retry the remaining ones.
func (t *Transport) runRelay(ctx context.Context, completion *registry.ResponseCompletion, opts SendOptions) {
	if completion.IsTerminal() {
		return
	}
	t.attemptRelay(ctx, completion, opts, completion.Request.Recipient)
}

func (t *Transport) attemptRelay(ctx context.Context, completion *registry.ResponseCompletion, opts SendOptions, recipient peer.Address) {
	if completion.IsTerminal() {
		return
	}
	if !recipient.HasRelay() {
		completion.CompleteFailed(transporterr.New(transporterr.KindRelayUnavailable, "no relays left to try", nil))
		return
	}

	winner, ok := t.pingRelays(ctx, recipient.Relays())
	if !ok {
		completion.CompleteFailed(transporterr.New(transporterr.KindRelayUnavailable, "no relay answered", nil))
		return
	}

	t.emitLifecycle(LifecycleEvent{
		TraceID: completion.TraceID,
		Kind:    "relay_session",
		Command: completion.Request.Command,
		Relay:   winner,
		Detail:  "relay answered ping, bridging attempt",
	})

	// Step 2: overwrite the recipient's primary socket with the relay's,
	// marked relayed, so the wire bytes reflect where this hop actually
	// goes.
	relayed := recipient.WithPrimary(winner).WithFlags(peer.Flags{Relayed: true})
	attemptMsg := completion.Request
	attemptMsg.Recipient = relayed
	attemptCompletion := registry.NewCompletion(attemptMsg)

	t.transmit(ctx, attemptCompletion, winner, completion.Request.Flags.UDP, SendOptions{ExpectReply: opts.ExpectReply})

	attemptCompletion.OnTerminal(func(o registry.Outcome) {
		switch o.State {
		case registry.OK:
			completion.CompleteOK(o.Reply)
		case registry.Cancelled:
			completion.Cancel()
		default:
			if o.Err != nil && o.Err.Kind == transporterr.KindDenied {
				// Step 4: DENIED is terminal, no retry.
				completion.CompleteFailed(o.Err)
				return
			}
			// Step 4: drop the failed relay and recurse onto the rest.
			t.attemptRelay(ctx, completion, opts, recipient.WithoutRelay(winner))
		}
	})
}

// pingRelays issues a PING to every relay in parallel and returns the
// first one to answer OK, cancelling the rest (spec §4.4: "equivalent to
// a fork-join that completes on the first success").
func (t *Transport) pingRelays(ctx context.Context, relays []peer.SocketAddress) (peer.SocketAddress, bool) {
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		sock peer.SocketAddress
		ok   bool
	}
	results := make(chan result, len(relays))

	for _, r := range relays {
		r := r
		go func() {
			pingMsg := message.Message{
				ID:        t.NextMessageID(),
				Version:   1,
				Sender:    t.local,
				Recipient: peer.New([20]byte{}, r, peer.Flags{}),
				Command:   message.CommandPing,
				Type:      message.TypeRequest1,
			}
			c := registry.NewCompletion(pingMsg)
			t.transmit(pingCtx, c, r, false, SendOptions{ExpectReply: true})
			<-c.Done()
			results <- result{sock: r, ok: c.Outcome().State == registry.OK}
		}()
	}

	for i := 0; i < len(relays); i++ {
		res := <-results
		if res.ok {
			return res.sock, true
		}
	}
	return peer.SocketAddress{}, false
}

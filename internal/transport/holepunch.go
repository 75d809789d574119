package transport

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/brineshore/kadnet/internal/channelpool"
	"github.com/brineshore/kadnet/internal/message"
	"github.com/brineshore/kadnet/internal/peer"
	"github.com/brineshore/kadnet/internal/registry"
	"github.com/brineshore/kadnet/internal/strategy"
	"github.com/brineshore/kadnet/internal/transporterr"
)

// runHolePunch implements the hole-punch orchestrator (spec §4.5),
// triggered only for UDP DIRECT_DATA where both sides are relayed: ask a
// relay to broker a port exchange, then fire one duplicate datagram per
// returned port pair and resolve on the first matching reply.
func (t *Transport) runHolePunch(ctx context.Context, completion *registry.ResponseCompletion) {
	if completion.IsTerminal() {
		return
	}

	recipient := completion.Request.Recipient
	relaySocket, ok := strategy.ChooseRelay(recipient.Relays(), t.local.PeerID, 0)
	if !ok {
		completion.CompleteFailed(transporterr.New(transporterr.KindRelayUnavailable, "recipient advertises no relay", nil))
		return
	}

	n := t.cfg.HolePunchN
	if n <= 0 {
		n = 3
	}
	candidatePorts, err := reserveCandidatePorts(n)
	if err != nil {
		completion.CompleteFailed(transporterr.New(transporterr.KindChannelCreation, "reserve hole-punch candidate ports", err))
		return
	}

	holepMsg := message.Message{
		ID:       t.NextMessageID(),
		Version:  completion.Request.Version,
		Sender:   t.local,
		Command:  message.CommandHolep,
		Type:     message.TypeRequest1,
		Flags:    message.Flags{UDP: true},
		Integers: candidatePorts,
	}
	holepCompletion := registry.NewCompletion(holepMsg)
	t.transmit(ctx, holepCompletion, relaySocket, true, SendOptions{ExpectReply: true})

	holepCompletion.OnTerminal(func(o registry.Outcome) {
		if o.State != registry.OK || o.Reply.Type != message.TypeOK {
			completion.CompleteFailed(transporterr.New(transporterr.KindRelayUnavailable, "relay did not confirm hole punch", o.Err))
			return
		}
		if o.Reply.Command != message.CommandHolep {
			completion.CompleteFailed(transporterr.New(transporterr.KindHolePunchMalformed, "wrong command in hole punch reply", nil))
			return
		}
		pairs := o.Reply.Integers
		if len(pairs)%2 != 0 {
			completion.CompleteFailed(transporterr.New(transporterr.KindHolePunchMalformed, "odd port list", nil))
			return
		}
		t.fireHolePunchDuplicates(ctx, completion, pairs)
	})
}

// reserveCandidatePorts picks n ephemeral UDP ports by briefly binding
// and releasing them (spec §4.5 step 1: "append N local candidate UDP
// port numbers"). The brief release-then-rebind window is an accepted
// simplification: a concurrent bind to the same port between release
// and reuse would surface as a later dial failure on that one pair,
// which the CountDownLatch-equivalent logic in step 5 already tolerates.
func reserveCandidatePorts(n int) ([]int32, error) {
	ports := make([]int32, 0, n)
	for i := 0; i < n; i++ {
		ln, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
		if err != nil {
			return nil, err
		}
		port := ln.LocalAddr().(*net.UDPAddr).Port
		ln.Close()
		ports = append(ports, int32(port))
	}
	return ports, nil
}

// fireHolePunchDuplicates implements spec §4.5 steps 4-5: one duplicate
// per port pair, each on its own reserved local port, resolving the
// overall completion OK on the first matching reply.
func (t *Transport) fireHolePunchDuplicates(ctx context.Context, completion *registry.ResponseCompletion, pairs []int32) {
	pairCount := len(pairs) / 2
	if pairCount == 0 {
		completion.CompleteFailed(transporterr.New(transporterr.KindHolePunchMalformed, "empty port list", nil))
		return
	}

	remaining := int32(pairCount)
	targetIP := completion.Request.Recipient.Primary.IP

	for i := 0; i < pairCount; i++ {
		localPort := int(pairs[2*i])
		remotePort := int(pairs[2*i+1])
		go t.sendHolePunchDuplicate(ctx, completion, targetIP, localPort, remotePort, &remaining)
	}
}

func (t *Transport) sendHolePunchDuplicate(ctx context.Context, completion *registry.ResponseCompletion, targetIP net.IP, localPort, remotePort int, remaining *int32) {
	fail := func() {
		if atomic.AddInt32(remaining, -1) == 0 && !completion.IsTerminal() {
			completion.CompleteFailed(transporterr.New(transporterr.KindConnect, "no hole-punch duplicate succeeded", nil))
		}
	}

	local := ":" + strconv.Itoa(localPort)
	remote := net.JoinHostPort(targetIP.String(), strconv.Itoa(remotePort))
	ch, err := channelpool.DialUDP(ctx, local, remote)
	if err != nil {
		fail()
		return
	}

	// Step 4: duplicate the original message with NAT/relay-reflecting
	// ports rewritten and all relay flags cleared — this duplicate goes
	// straight over the punched hole, not through a relay.
	dup := completion.Request.Duplicate(t.NextMessageID())
	dup.Sender = dup.Sender.WithPrimary(peer.NewSocketAddress(dup.Sender.Primary.IP, -1, localPort)).WithFlags(peer.Flags{})
	dup.Recipient = dup.Recipient.WithPrimary(peer.NewSocketAddress(targetIP, -1, remotePort)).WithFlags(peer.Flags{})

	dupCompletion := registry.NewCompletion(dup)
	t.transmit(ctx, dupCompletion, dup.Recipient.Primary, true, SendOptions{ExpectReply: true, OneShotChannel: ch})

	dupCompletion.OnTerminal(func(o registry.Outcome) {
		if o.State == registry.OK && o.Reply.Command == dup.Command {
			if !completion.IsTerminal() {
				completion.CompleteOK(o.Reply)
				return
			}
			// Already resolved by an earlier duplicate; this is just
			// another successful punch, counted down for logging only.
			atomic.AddInt32(remaining, -1)
			return
		}
		fail()
	})
}

package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brineshore/kadnet/internal/channelpool"
	"github.com/brineshore/kadnet/internal/message"
	"github.com/brineshore/kadnet/internal/peer"
	"github.com/brineshore/kadnet/internal/registry"
	"github.com/brineshore/kadnet/internal/sign"
)

func newTestTransport(t *testing.T) (*Transport, peer.Address) {
	t.Helper()
	var id [20]byte
	id[0] = 1
	local := peer.New(id, peer.NewSocketAddress(net.ParseIP("127.0.0.1"), 0, 0), peer.Flags{})

	pool := channelpool.NewPool(16, 16)
	reg := registry.New()
	tr := New(local, pool, reg, sign.NoopFactory{}, Config{
		ConnectTimeout: time.Second,
		IdleTCP:        time.Second,
		IdleUDP:        time.Second,
		HolePunchN:     3,
	})
	return tr, local
}

// echoOKServer accepts one TCP connection and answers every inbound
// frame with a TypeOK reply carrying the same id, until the connection
// closes.
func echoOKServer(t *testing.T, ln net.Listener) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		ch := channelpool.WrapTCP(conn)
		defer ch.Close()
		for {
			m, err := ch.ReadOne()
			if err != nil {
				return
			}
			reply := m
			reply.Type = message.TypeOK
			if err := ch.Write(reply); err != nil {
				return
			}
		}
	}()
}

func TestSend_Direct_TCP_ResolvesOK(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	echoOKServer(t, ln)

	tr, local := newTestTransport(t)
	port := ln.Addr().(*net.TCPAddr).Port

	var recipientID [20]byte
	recipientID[0] = 2
	recipient := peer.New(recipientID, peer.NewSocketAddress(net.ParseIP("127.0.0.1"), port, port), peer.Flags{})

	msg := message.Message{
		ID:        tr.NextMessageID(),
		Sender:    local,
		Recipient: recipient,
		Command:   message.CommandPing,
		Type:      message.TypeRequest1,
	}

	completion, err := tr.Send(context.Background(), msg, SendOptions{ExpectReply: true})
	require.NoError(t, err)

	select {
	case <-completion.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	assert.Equal(t, registry.OK, completion.State())
	assert.Equal(t, message.TypeOK, completion.Outcome().Reply.Type)
}

func TestSend_Direct_ConnectFailure_NotifiesPeerStatusListener(t *testing.T) {
	tr, local := newTestTransport(t)

	var events []PeerEvent
	tr.AddPeerStatusListener(func(ev PeerEvent) { events = append(events, ev) })

	var recipientID [20]byte
	recipientID[0] = 3
	// Port 1 is reserved and never accepts connections on a loopback
	// address, so dialing it fails immediately.
	recipient := peer.New(recipientID, peer.NewSocketAddress(net.ParseIP("127.0.0.1"), 1, 1), peer.Flags{})

	msg := message.Message{
		ID:        tr.NextMessageID(),
		Sender:    local,
		Recipient: recipient,
		Command:   message.CommandPing,
		Type:      message.TypeRequest1,
	}

	completion, err := tr.Send(context.Background(), msg, SendOptions{ExpectReply: true})
	require.NoError(t, err)

	select {
	case <-completion.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	assert.Equal(t, registry.Failed, completion.State())
	require.Len(t, events, 1)
	assert.True(t, events[0].Failed)
}

func TestSend_Direct_RelayedRecipientFailure_SuppressesPeerStatusEvent(t *testing.T) {
	tr, local := newTestTransport(t)

	var events []PeerEvent
	tr.AddPeerStatusListener(func(ev PeerEvent) { events = append(events, ev) })

	var recipientID [20]byte
	recipientID[0] = 4
	recipient := peer.New(recipientID, peer.NewSocketAddress(net.ParseIP("127.0.0.1"), 1, 1), peer.Flags{Relayed: true})

	msg := message.Message{
		ID:        tr.NextMessageID(),
		Sender:    local,
		Recipient: recipient,
		Command:   message.CommandDirectData,
		Type:      message.TypeRequest1,
	}

	// Force the direct path regardless of strategy selection, the same
	// way the relay-fallback orchestrator calls transmit directly.
	completion := registry.NewCompletion(msg)
	tr.runDirect(context.Background(), completion, recipient.Primary, false, SendOptions{ExpectReply: true})

	select {
	case <-completion.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	assert.Equal(t, registry.Failed, completion.State())
	assert.Empty(t, events, "a relayed recipient's direct-path failure must not report the peer itself as down")
}

func TestSend_RecordsStrategyCountAndLifecycleEvent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	echoOKServer(t, ln)

	tr, local := newTestTransport(t)
	port := ln.Addr().(*net.TCPAddr).Port

	var events []LifecycleEvent
	tr.AddLifecycleListener(func(ev LifecycleEvent) { events = append(events, ev) })

	var recipientID [20]byte
	recipientID[0] = 5
	recipient := peer.New(recipientID, peer.NewSocketAddress(net.ParseIP("127.0.0.1"), port, port), peer.Flags{})

	msg := message.Message{
		ID:        tr.NextMessageID(),
		Sender:    local,
		Recipient: recipient,
		Command:   message.CommandPing,
		Type:      message.TypeRequest1,
	}

	completion, err := tr.Send(context.Background(), msg, SendOptions{ExpectReply: true})
	require.NoError(t, err)
	<-completion.Done()

	counts := tr.StrategyCounts()
	assert.Equal(t, int64(1), counts["DIRECT"])

	require.NotEmpty(t, events)
	assert.Equal(t, "strategy_selected", events[0].Kind)
	assert.Equal(t, completion.TraceID, events[0].TraceID)
}

package rcon

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_RequestBackdial_UnregisteredPeerErrors(t *testing.T) {
	b := NewBroker()
	err := b.RequestBackdial("deadbeef", "127.0.0.1:9", 1)
	require.Error(t, err)
	var notRegistered *ErrNotRegistered
	require.ErrorAs(t, err, &notRegistered)
}

func TestBroker_ClientConn_RegisterAndBackdialRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	b := NewBroker()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go b.HandleControlConn(conn)
		}
	}()

	backdials := make(chan struct {
		addr string
		id   uint32
	}, 1)
	client := NewClientConn(ln.Addr().String(), "cafebabe", func(requesterAddr string, messageID uint32) {
		backdials <- struct {
			addr string
			id   uint32
		}{requesterAddr, messageID}
	})
	defer client.Stop()

	require.Eventually(t, func() bool {
		for _, id := range b.RegisteredPeers() {
			if id == "cafebabe" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, b.RequestBackdial("cafebabe", "127.0.0.1:4000", 42))

	select {
	case got := <-backdials:
		assert.Equal(t, "127.0.0.1:4000", got.addr)
		assert.Equal(t, uint32(42), got.id)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for backdial callback")
	}
}

func TestBroker_Unregister_OnControlConnClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	b := NewBroker()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		b.HandleControlConn(conn)
	}()

	client := NewClientConn(ln.Addr().String(), "feedface", nil)

	require.Eventually(t, func() bool {
		return len(b.RegisteredPeers()) == 1
	}, 2*time.Second, 20*time.Millisecond)

	client.Stop()

	require.Eventually(t, func() bool {
		return len(b.RegisteredPeers()) == 0
	}, 2*time.Second, 20*time.Millisecond)
}

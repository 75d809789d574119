package channelpool

import (
	"context"
	"time"

	"github.com/brineshore/kadnet/internal/message"
	"github.com/brineshore/kadnet/internal/peer"
)

// PeerConnection is a TCP Channel kept open across multiple sends to the
// same peer, with its own heartbeat ticker (spec §5: "PeerConnection
// objects are owned by their creator... reused across sends; heartbeat
// handlers keep them alive").
//
// Grounded on the teacher's internal/rcon/client.go control connection:
// one persistent dial, a ticker-driven keepalive loop, and a single
// dispatch goroutine reading frames and routing them by type.
type PeerConnection struct {
	Peer    peer.Address
	Channel *Channel

	stopHeartbeat chan struct{}
}

// OpenPeerConnection dials p's primary TCP address and starts a heartbeat
// loop that writes a CommandPing every interval until Close is called or
// a ping write fails. ctx bounds only the dial. release returns the slot
// acquired from pool.
func OpenPeerConnection(ctx context.Context, pool *Pool, p peer.Address, interval time.Duration, nextID func() uint32, local peer.Address) (*PeerConnection, Release, error) {
	release, err := pool.AcquireTCP()
	if err != nil {
		return nil, nil, err
	}

	ch, err := DialTCP(ctx, p.Primary.TCPAddr())
	if err != nil {
		release()
		return nil, nil, err
	}

	pc := &PeerConnection{
		Peer:          p,
		Channel:       ch,
		stopHeartbeat: make(chan struct{}),
	}
	if interval > 0 {
		go pc.heartbeatLoop(interval, nextID, local)
	}
	return pc, release, nil
}

func (pc *PeerConnection) heartbeatLoop(interval time.Duration, nextID func() uint32, local peer.Address) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-pc.stopHeartbeat:
			return
		case <-ticker.C:
			ping := message.Message{
				ID:        nextID(),
				Version:   1,
				Sender:    local,
				Recipient: pc.Peer,
				Command:   message.CommandPing,
				Type:      message.TypeRequest1,
			}
			if err := pc.Channel.Write(ping); err != nil {
				return
			}
		}
	}
}

// Close stops the heartbeat loop and closes the underlying channel.
// Idempotent via Channel.Close's own guard.
func (pc *PeerConnection) Close() error {
	select {
	case <-pc.stopHeartbeat:
	default:
		close(pc.stopHeartbeat)
	}
	return pc.Channel.Close()
}

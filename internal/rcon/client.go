package rcon

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/brineshore/kadnet/internal/transportlog"
)

// ClientConn maintains one peer's long-lived registration with a relay:
// dial, send RCON-REGISTER, then loop sending RCON-PING on an interval
// and reacting to RCON-BACKDIAL requests from the relay.
//
// Grounded on the teacher's internal/relay client.go controlLoop: a
// single persistent dial with ticker-driven keepalive and automatic
// reconnect-with-backoff on failure.
type ClientConn struct {
	relayAddr string
	peerIDHex string
	onBackdial func(requesterAddr string, messageID uint32)

	cancel context.CancelFunc
}

// NewClientConn starts registering peerIDHex with the relay at
// relayAddr in the background, invoking onBackdial whenever the relay
// asks this peer to dial back to a requester.
func NewClientConn(relayAddr, peerIDHex string, onBackdial func(requesterAddr string, messageID uint32)) *ClientConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &ClientConn{relayAddr: relayAddr, peerIDHex: peerIDHex, onBackdial: onBackdial, cancel: cancel}
	go c.runWithReconnect(ctx)
	return c
}

// Stop ends the registration loop; the relay will forget this peer once
// its read on the control connection fails.
func (c *ClientConn) Stop() {
	c.cancel()
}

func (c *ClientConn) runWithReconnect(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := c.runOnce(ctx); err != nil {
			transportlog.Printf("rcon: control connection to %s failed: %v (retry in %s)", c.relayAddr, err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *ClientConn) runOnce(ctx context.Context) error {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", c.relayAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	if err := writeLine(w, "%s %s", CmdRegister, c.peerIDHex); err != nil {
		return err
	}
	conn.SetReadDeadline(time.Now().Add(ControlReadTimeout))
	reply, err := readLine(r)
	if err != nil {
		return err
	}
	if cmd, _ := splitCommand(reply); cmd != CmdOK {
		return &ErrNotRegistered{PeerIDHex: c.peerIDHex}
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(ControlWriteTimeout))
				if writeLine(w, CmdPing) != nil {
					return
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(ControlReadTimeout))
		line, err := readLine(r)
		if err != nil {
			return err
		}
		cmd, args := splitCommand(line)
		switch cmd {
		case CmdPong:
		case CmdBackdial:
			if len(args) == 2 {
				var messageID uint32
				if _, err := fmt.Sscanf(args[1], "%d", &messageID); err == nil && c.onBackdial != nil {
					go c.onBackdial(args[0], messageID)
				}
			}
		}
	}
}

package rcon

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/brineshore/kadnet/internal/transportlog"
)

// registration tracks one peer's long-lived control connection, kept
// open the same way the teacher's relay server tracked a seeder's
// control connection for the lifetime of its registration.
type registration struct {
	peerIDHex string
	conn      net.Conn
	w         *bufio.Writer
	mu        sync.Mutex // serializes writes to conn
}

// Broker is the relay-side counterpart of the RCON orchestrator: it
// accepts control connections from peers willing to be relayed, and on
// RequestBackdial asks the registered peer to open a new outbound
// connection back to a requester, carrying the pending message id as the
// first frame so the requester's dispatcher can correlate it (spec
// §4.3 step 4).
type Broker struct {
	mu    sync.RWMutex
	peers map[string]*registration
}

// NewBroker creates an empty relay broker.
func NewBroker() *Broker {
	return &Broker{peers: make(map[string]*registration)}
}

// HandleControlConn services one inbound control connection until it
// closes. Run in its own goroutine per accepted connection.
func (b *Broker) HandleControlConn(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	conn.SetReadDeadline(time.Now().Add(ControlReadTimeout))
	line, err := readLine(r)
	if err != nil {
		return
	}
	cmd, args := splitCommand(line)
	if cmd != CmdRegister || len(args) != 1 {
		writeLine(w, "%s bad registration", CmdError)
		return
	}

	reg := &registration{peerIDHex: args[0], conn: conn, w: w}
	b.register(reg)
	defer b.unregister(reg.peerIDHex)

	writeLine(w, CmdOK)
	transportlog.Printf("rcon: peer %s registered as relay client", reg.peerIDHex)

	for {
		conn.SetReadDeadline(time.Now().Add(ControlReadTimeout))
		line, err := readLine(r)
		if err != nil {
			transportlog.Printf("rcon: control connection for %s closed: %v", reg.peerIDHex, err)
			return
		}
		cmd, _ := splitCommand(line)
		if cmd == CmdPing {
			reg.writeLocked(CmdPong)
		}
	}
}

func (r *registration) writeLocked(format string, args ...interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn.SetWriteDeadline(time.Now().Add(ControlWriteTimeout))
	return writeLine(r.w, format, args...)
}

func (b *Broker) register(reg *registration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[reg.peerIDHex] = reg
}

func (b *Broker) unregister(peerIDHex string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, peerIDHex)
}

// ErrNotRegistered is returned by RequestBackdial when the target peer
// has no open control connection through this broker.
type ErrNotRegistered struct{ PeerIDHex string }

func (e *ErrNotRegistered) Error() string {
	return fmt.Sprintf("rcon: peer %s is not registered with this relay", e.PeerIDHex)
}

// RequestBackdial instructs the registered peer identified by peerIDHex
// to dial requesterAddr and present messageID as the first frame,
// implementing the relay's half of spec §4.3 step 4. It does not wait
// for the back-dial to land; the requester's own transport dispatches
// that inbound connection once it arrives.
func (b *Broker) RequestBackdial(peerIDHex, requesterAddr string, messageID uint32) error {
	b.mu.RLock()
	reg, ok := b.peers[peerIDHex]
	b.mu.RUnlock()
	if !ok {
		return &ErrNotRegistered{PeerIDHex: peerIDHex}
	}
	return reg.writeLocked("%s %s %d", CmdBackdial, requesterAddr, messageID)
}

// RegisteredPeers reports the peer ids currently holding an open control
// connection.
func (b *Broker) RegisteredPeers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.peers))
	for id := range b.peers {
		out = append(out, id)
	}
	return out
}

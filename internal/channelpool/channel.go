package channelpool

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/brineshore/kadnet/internal/message"
	"github.com/brineshore/kadnet/internal/transporterr"
	"github.com/brineshore/kadnet/internal/watchdog"
)

// Kind distinguishes the two wire framings a Channel may use (spec §2
// "wire framing"): UDP channels encode a single datagram per Message, TCP
// channels prefix each Message with a 4-byte length.
type Kind int

const (
	TCP Kind = iota
	UDP
)

func (k Kind) String() string {
	if k == UDP {
		return "udp"
	}
	return "tcp"
}

// maxUDPDatagram bounds the read buffer for a single incoming datagram.
const maxUDPDatagram = 65507

// Channel wraps one net.Conn (TCP stream or connected UDP socket — both
// satisfy net.Conn, so a single Write/ReadLoop implementation serves
// both, differing only in framing) with the idle watchdog and the
// serialized-write mutex the spec requires for reused connections (spec
// §5: "writes to the same PeerConnection are serialized").
//
// Grounded on the teacher's internal/rcon/dialer.go bufferedConn (the
// bufio wrapping that preserves bytes already read during a handshake)
// and internal/rcon/server.go's optimizeTCPConn (nodelay/keepalive
// tuning applied here to every TCP-kind channel).
type Channel struct {
	Kind Kind
	Conn net.Conn

	reader *bufio.Reader // TCP only

	writeMu sync.Mutex
	wd      *watchdog.Watchdog

	closeOnce sync.Once
	closed    chan struct{}
}

func newChannel(kind Kind, conn net.Conn) *Channel {
	c := &Channel{
		Kind:   kind,
		Conn:   conn,
		closed: make(chan struct{}),
	}
	if kind == TCP {
		c.reader = bufio.NewReader(conn)
		optimizeTCPConn(conn)
	}
	return c
}

// optimizeTCPConn applies the same socket tuning the teacher's relay
// server used on data connections, generalized to every TCP channel this
// transport core opens.
func optimizeTCPConn(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	tc.SetNoDelay(true)
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(30 * time.Second)
}

// DialTCP opens a TCP channel to addr, bounded by ctx.
func DialTCP(ctx context.Context, addr string) (*Channel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, transporterr.New(transporterr.KindConnect, fmt.Sprintf("dial tcp %s", addr), err)
	}
	return newChannel(TCP, conn), nil
}

// DialUDP opens a connected UDP socket to addr; a connected UDP socket
// only Read()s datagrams that actually arrive from addr, which is the
// request/response pairing the direct sender and hole-punch orchestrator
// rely on. localAddr may be empty for an ephemeral local port, or set to
// pin the local port a hole-punch attempt binds.
func DialUDP(ctx context.Context, localAddr, remoteAddr string) (*Channel, error) {
	d := net.Dialer{}
	if localAddr != "" {
		local, err := net.ResolveUDPAddr("udp", localAddr)
		if err != nil {
			return nil, transporterr.New(transporterr.KindChannelCreation, "resolve local udp addr", err)
		}
		d.LocalAddr = local
	}
	conn, err := d.DialContext(ctx, "udp", remoteAddr)
	if err != nil {
		return nil, transporterr.New(transporterr.KindConnect, fmt.Sprintf("dial udp %s", remoteAddr), err)
	}
	return newChannel(UDP, conn), nil
}

// WrapTCP adapts an already-accepted TCP connection (inbound RCON
// back-dial, inbound direct connection) into a Channel.
func WrapTCP(conn net.Conn) *Channel {
	return newChannel(TCP, conn)
}

// WrapUDP adapts an already-open UDP socket into a Channel. Write sends
// with conn.Write, so conn must be a connected socket for writes to reach
// a peer; an unconnected listening socket cannot reply through it.
func WrapUDP(conn net.Conn) *Channel {
	return newChannel(UDP, conn)
}

// ArmWatchdog attaches an idle watchdog that calls onIdle if no Write or
// successful read occurs within idle (spec §4.6). A Channel with no
// watchdog armed never times out on its own.
func (c *Channel) ArmWatchdog(idle time.Duration, onIdle func()) {
	c.wd = watchdog.New(idle, onIdle)
}

// Write encodes m using the channel's framing and writes it, resetting
// the idle watchdog on success.
func (c *Channel) Write(m message.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var werr error
	if c.Kind == TCP {
		werr = message.WriteStream(c.Conn, m)
	} else {
		var payload []byte
		payload, werr = message.EncodeDatagram(m)
		if werr == nil {
			_, werr = c.Conn.Write(payload)
		}
	}
	if werr != nil {
		return transporterr.New(transporterr.KindWrite, "write to channel", werr)
	}
	if c.wd != nil {
		c.wd.Reset()
	}
	return nil
}

// ReadLoop blocks reading frames off the channel until it closes or a
// read error occurs, invoking onMessage for each decoded Message and
// onError (once) when the loop exits abnormally. Callers run it in its
// own goroutine.
func (c *Channel) ReadLoop(onMessage func(message.Message), onError func(error)) {
	for {
		var m message.Message
		var err error
		if c.Kind == TCP {
			m, err = message.ReadStream(c.reader)
		} else {
			m, err = c.readDatagram()
		}
		if err != nil {
			select {
			case <-c.closed:
			default:
				if onError != nil {
					onError(err)
				}
			}
			return
		}
		if c.wd != nil {
			c.wd.Reset()
		}
		onMessage(m)
	}
}

// ReadOne blocks for exactly one frame, used where a caller must inspect
// a single inbound message before deciding how to handle the rest of the
// channel's lifetime (the RCON orchestrator reading the id off a fresh
// back-dial connection before handing the channel to the dispatcher).
func (c *Channel) ReadOne() (message.Message, error) {
	if c.Kind == TCP {
		return message.ReadStream(c.reader)
	}
	return c.readDatagram()
}

func (c *Channel) readDatagram() (message.Message, error) {
	buf := make([]byte, maxUDPDatagram)
	n, err := c.Conn.Read(buf)
	if err != nil {
		return message.Message{}, err
	}
	return message.DecodeDatagram(buf[:n])
}

// Close shuts down the underlying connection and watchdog. Idempotent.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.wd != nil {
			c.wd.Stop()
		}
		err = c.Conn.Close()
	})
	return err
}

// Package message defines the wire message (spec §3, §6) and the two
// framers that encode/decode it: a single-datagram UDP variant and a
// length-prefixed, cumulating TCP stream variant. Grounded on the shape
// of the teacher's relay wire protocol (internal/rcon/protocol.go's
// SendMessage/ReadMessage pair: one write-side helper, one read-side
// helper that knows how to find a complete frame), generalized from a
// newline-delimited text protocol to spec.md's binary header+TLV grammar.
package message

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/brineshore/kadnet/internal/peer"
)

// Command identifies the message types the transport core must recognize
// (spec §6); any other byte value is opaque and passed through untouched.
type Command byte

const (
	CommandPing       Command = 1
	CommandNeighbor   Command = 2
	CommandDirectData Command = 3
	CommandRCON       Command = 4
	CommandHolep      Command = 5
)

func (c Command) String() string {
	switch c {
	case CommandPing:
		return "PING"
	case CommandNeighbor:
		return "NEIGHBOR"
	case CommandDirectData:
		return "DIRECT_DATA"
	case CommandRCON:
		return "RCON"
	case CommandHolep:
		return "HOLEP"
	default:
		return fmt.Sprintf("COMMAND(%d)", byte(c))
	}
}

// Type is the message's request/response discriminator (spec §6).
type Type byte

const (
	TypeRequest1 Type = 1
	TypeRequest2 Type = 2
	TypeRequest3 Type = 3
	TypeRequest4 Type = 4
	TypeOK       Type = 5
	TypeDenied   Type = 6
	TypeNotFound Type = 7
	TypeException Type = 8
)

// Flags are per-message boolean switches carried in the header.
type Flags struct {
	UDP       bool
	KeepAlive bool
}

// Message is the application-level request/response unit the transport
// core moves (spec §3). It is mutable until first sent; orchestrators that
// need to resend a variant (retries, hole-punch duplicates) call Duplicate
// to get an independent copy with its own messageId and buffer cursors.
type Message struct {
	ID        uint32
	Version   uint16
	Sender    peer.Address
	Recipient peer.Address
	Command   Command
	Type      Type
	Flags     Flags

	Integers []int32  // e.g. hole-punch candidate ports
	Buffers  [][]byte // payload buffers; duplicated independently on Duplicate
	Payload  map[string][]byte

	Signature []byte // detached signature over header+payload, if signed
}

// Duplicate returns a deep copy of m with a fresh message id and
// independent buffer cursors (spec invariant iii: hole-punch duplicates
// reuse command+type but get their own ids). Callers then mutate the copy's
// Sender/Recipient/Integers as needed (e.g. hole-punch port rewrites).
func (m Message) Duplicate(newID uint32) Message {
	cp := m
	cp.ID = newID

	cp.Integers = append([]int32(nil), m.Integers...)

	cp.Buffers = make([][]byte, len(m.Buffers))
	for i, b := range m.Buffers {
		buf := make([]byte, len(b))
		copy(buf, b)
		cp.Buffers[i] = buf
	}

	cp.Payload = make(map[string][]byte, len(m.Payload))
	for k, v := range m.Payload {
		buf := make([]byte, len(v))
		copy(buf, v)
		cp.Payload[k] = buf
	}

	cp.Signature = append([]byte(nil), m.Signature...)
	return cp
}

// ErrShortBuffer is returned by DecodeDatagram when the datagram is too
// small to contain a full header.
var ErrShortBuffer = errors.New("message: datagram shorter than fixed header")

const fixedHeaderSize = 4 /*id*/ + 2 /*version*/ + 1 /*command*/ + 1 /*type*/ + 1 /*flags*/

// EncodeDatagram encodes m as a single UDP datagram payload.
func EncodeDatagram(m Message) ([]byte, error) {
	var buf []byte
	buf = appendHeader(buf, m)
	buf = appendBody(buf, m)
	return buf, nil
}

// DecodeDatagram decodes a single UDP datagram payload into a Message.
func DecodeDatagram(b []byte) (Message, error) {
	if len(b) < fixedHeaderSize {
		return Message{}, ErrShortBuffer
	}
	m, rest, err := readHeader(b)
	if err != nil {
		return Message{}, err
	}
	if err := readBody(rest, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// WriteStream writes m to w as a length-prefixed TCP frame: a 4-byte
// big-endian length followed by the same header+body layout DecodeDatagram
// understands.
func WriteStream(w io.Writer, m Message) error {
	var body []byte
	body = appendHeader(body, m)
	body = appendBody(body, m)

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("message: write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("message: write frame body: %w", err)
	}
	return nil
}

// MaxFrameSize bounds a single TCP frame's declared length, guarding
// ReadStream against a corrupt or malicious length prefix causing an
// unbounded allocation.
const MaxFrameSize = 16 << 20 // 16MiB

// ReadStream cumulates inbound bytes from r until one full length-prefixed
// frame is available, then decodes it. It is safe to call repeatedly on the
// same *bufio.Reader to read a stream of frames (the reader retains any
// bytes buffered past the current frame).
func ReadStream(r *bufio.Reader) (Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Message{}, fmt.Errorf("message: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > MaxFrameSize {
		return Message{}, fmt.Errorf("message: frame size %d exceeds max %d", n, MaxFrameSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("message: read frame body: %w", err)
	}

	m, rest, err := readHeader(body)
	if err != nil {
		return Message{}, err
	}
	if err := readBody(rest, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

func appendHeader(buf []byte, m Message) []byte {
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], m.ID)
	buf = append(buf, id[:]...)

	var version [2]byte
	binary.BigEndian.PutUint16(version[:], m.Version)
	buf = append(buf, version[:]...)

	buf = append(buf, byte(m.Command), byte(m.Type), encodeFlags(m.Flags))
	return buf
}

func readHeader(b []byte) (Message, []byte, error) {
	if len(b) < fixedHeaderSize {
		return Message{}, nil, ErrShortBuffer
	}
	m := Message{
		ID:      binary.BigEndian.Uint32(b[0:4]),
		Version: binary.BigEndian.Uint16(b[4:6]),
		Command: Command(b[6]),
		Type:    Type(b[7]),
		Flags:   decodeFlags(b[8]),
	}
	return m, b[fixedHeaderSize:], nil
}

func encodeFlags(f Flags) byte {
	var b byte
	if f.UDP {
		b |= 1 << 0
	}
	if f.KeepAlive {
		b |= 1 << 1
	}
	return b
}

func decodeFlags(b byte) Flags {
	return Flags{
		UDP:       b&(1<<0) != 0,
		KeepAlive: b&(1<<1) != 0,
	}
}

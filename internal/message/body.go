package message

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/brineshore/kadnet/internal/peer"
)

// appendBody serializes the variable-length portion of a Message: sender,
// recipient, integer list, buffer list, payload map, and detached
// signature, in that fixed order.
func appendBody(buf []byte, m Message) []byte {
	buf = appendAddress(buf, m.Sender)
	buf = appendAddress(buf, m.Recipient)
	buf = appendIntegers(buf, m.Integers)
	buf = appendBuffers(buf, m.Buffers)
	buf = appendPayload(buf, m.Payload)
	buf = appendBlob(buf, m.Signature)
	return buf
}

func readBody(b []byte, m *Message) error {
	sender, b, err := readAddress(b)
	if err != nil {
		return fmt.Errorf("message: sender: %w", err)
	}
	m.Sender = sender

	recipient, b, err := readAddress(b)
	if err != nil {
		return fmt.Errorf("message: recipient: %w", err)
	}
	m.Recipient = recipient

	integers, b, err := readIntegers(b)
	if err != nil {
		return fmt.Errorf("message: integers: %w", err)
	}
	m.Integers = integers

	buffers, b, err := readBuffers(b)
	if err != nil {
		return fmt.Errorf("message: buffers: %w", err)
	}
	m.Buffers = buffers

	payload, b, err := readPayload(b)
	if err != nil {
		return fmt.Errorf("message: payload: %w", err)
	}
	m.Payload = payload

	sig, _, err := readBlob(b)
	if err != nil {
		return fmt.Errorf("message: signature: %w", err)
	}
	m.Signature = sig

	return nil
}

// appendAddress serializes a peer.Address as: 20-byte id, 1 byte IP-is-v6,
// 16-byte (v6) or 4-byte (v4) primary IP, 2+2 byte primary ports, 1 byte
// flags, 2-byte relay count, then that many relay sockets (same IP+port
// layout, no per-relay flags).
func appendAddress(buf []byte, a peer.Address) []byte {
	buf = append(buf, a.PeerID[:]...)
	buf = appendSocket(buf, a.Primary)
	buf = append(buf, encodeAddressFlags(a.Flags))

	relays := a.Relays()
	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(relays)))
	buf = append(buf, count[:]...)
	for _, r := range relays {
		buf = appendSocket(buf, r)
	}
	return buf
}

func readAddress(b []byte) (peer.Address, []byte, error) {
	if len(b) < 20 {
		return peer.Address{}, nil, ErrShortBuffer
	}
	var id [20]byte
	copy(id[:], b[:20])
	b = b[20:]

	primary, b, err := readSocket(b)
	if err != nil {
		return peer.Address{}, nil, err
	}

	if len(b) < 1 {
		return peer.Address{}, nil, ErrShortBuffer
	}
	flags := decodeAddressFlags(b[0])
	b = b[1:]

	if len(b) < 2 {
		return peer.Address{}, nil, ErrShortBuffer
	}
	relayCount := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]

	relays := make([]peer.SocketAddress, 0, relayCount)
	for i := 0; i < relayCount; i++ {
		var r peer.SocketAddress
		var err error
		r, b, err = readSocket(b)
		if err != nil {
			return peer.Address{}, nil, err
		}
		relays = append(relays, r)
	}

	addr := peer.New(id, primary, flags).WithRelays(relays)
	return addr, b, nil
}

func appendSocket(buf []byte, s peer.SocketAddress) []byte {
	ip4 := s.IP.To4()
	if ip4 != nil {
		buf = append(buf, 0)
		buf = append(buf, ip4...)
	} else {
		buf = append(buf, 1)
		ip16 := s.IP.To16()
		if ip16 == nil {
			ip16 = make(net.IP, 16)
		}
		buf = append(buf, ip16...)
	}
	var ports [4]byte
	binary.BigEndian.PutUint16(ports[0:2], uint16(s.TCPPort))
	binary.BigEndian.PutUint16(ports[2:4], uint16(s.UDPPort))
	buf = append(buf, ports[:]...)
	return buf
}

func readSocket(b []byte) (peer.SocketAddress, []byte, error) {
	if len(b) < 1 {
		return peer.SocketAddress{}, nil, ErrShortBuffer
	}
	isV6 := b[0] == 1
	b = b[1:]

	ipLen := 4
	if isV6 {
		ipLen = 16
	}
	if len(b) < ipLen+4 {
		return peer.SocketAddress{}, nil, ErrShortBuffer
	}
	ip := make(net.IP, ipLen)
	copy(ip, b[:ipLen])
	b = b[ipLen:]

	tcpPort := int(binary.BigEndian.Uint16(b[0:2]))
	udpPort := int(binary.BigEndian.Uint16(b[2:4]))
	b = b[4:]

	return peer.NewSocketAddress(ip, tcpPort, udpPort), b, nil
}

func encodeAddressFlags(f peer.Flags) byte {
	var b byte
	if f.FirewalledTCP {
		b |= 1 << 0
	}
	if f.FirewalledUDP {
		b |= 1 << 1
	}
	if f.Relayed {
		b |= 1 << 2
	}
	return b
}

func decodeAddressFlags(b byte) peer.Flags {
	return peer.Flags{
		FirewalledTCP: b&(1<<0) != 0,
		FirewalledUDP: b&(1<<1) != 0,
		Relayed:       b&(1<<2) != 0,
	}
}

func appendIntegers(buf []byte, ints []int32) []byte {
	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(ints)))
	buf = append(buf, count[:]...)
	for _, v := range ints {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		buf = append(buf, b[:]...)
	}
	return buf
}

func readIntegers(b []byte) ([]int32, []byte, error) {
	if len(b) < 2 {
		return nil, nil, ErrShortBuffer
	}
	count := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]

	if len(b) < count*4 {
		return nil, nil, ErrShortBuffer
	}
	ints := make([]int32, count)
	for i := 0; i < count; i++ {
		ints[i] = int32(binary.BigEndian.Uint32(b[i*4 : i*4+4]))
	}
	return ints, b[count*4:], nil
}

func appendBuffers(buf []byte, buffers [][]byte) []byte {
	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(buffers)))
	buf = append(buf, count[:]...)
	for _, bb := range buffers {
		buf = appendBlob(buf, bb)
	}
	return buf
}

func readBuffers(b []byte) ([][]byte, []byte, error) {
	if len(b) < 2 {
		return nil, nil, ErrShortBuffer
	}
	count := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]

	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		var blob []byte
		var err error
		blob, b, err = readBlob(b)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, blob)
	}
	return out, b, nil
}

func appendPayload(buf []byte, payload map[string][]byte) []byte {
	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(payload)))
	buf = append(buf, count[:]...)
	for k, v := range payload {
		buf = appendBlob(buf, []byte(k))
		buf = appendBlob(buf, v)
	}
	return buf
}

func readPayload(b []byte) (map[string][]byte, []byte, error) {
	if len(b) < 2 {
		return nil, nil, ErrShortBuffer
	}
	count := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]

	out := make(map[string][]byte, count)
	for i := 0; i < count; i++ {
		var key, val []byte
		var err error
		key, b, err = readBlob(b)
		if err != nil {
			return nil, nil, err
		}
		val, b, err = readBlob(b)
		if err != nil {
			return nil, nil, err
		}
		out[string(key)] = val
	}
	return out, b, nil
}

func appendBlob(buf []byte, blob []byte) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(blob)))
	buf = append(buf, length[:]...)
	buf = append(buf, blob...)
	return buf
}

func readBlob(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, ErrShortBuffer
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, ErrShortBuffer
	}
	blob := make([]byte, n)
	copy(blob, b[:n])
	return blob, b[n:], nil
}

package message

import (
	"bufio"
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brineshore/kadnet/internal/peer"
)

func sampleMessage() Message {
	var senderID, recipientID [20]byte
	senderID[0] = 0xAA
	recipientID[0] = 0xBB

	sender := peer.New(senderID, peer.NewSocketAddress(net.ParseIP("10.0.0.1"), 6881, 6882), peer.Flags{FirewalledTCP: true})
	recipient := peer.New(recipientID, peer.NewSocketAddress(net.ParseIP("::1"), 7000, 7001), peer.Flags{Relayed: true}).
		WithRelays([]peer.SocketAddress{peer.NewSocketAddress(net.ParseIP("10.0.0.9"), 9000, 9001)})

	return Message{
		ID:        42,
		Version:   1,
		Sender:    sender,
		Recipient: recipient,
		Command:   CommandNeighbor,
		Type:      TypeRequest1,
		Flags:     Flags{UDP: true, KeepAlive: true},
		Integers:  []int32{1, -2, 3},
		Buffers:   [][]byte{[]byte("one"), {}, []byte("three")},
		Payload:   map[string][]byte{"k": []byte("v")},
		Signature: []byte("sig-bytes"),
	}
}

func TestEncodeDecodeDatagramRoundTrip(t *testing.T) {
	m := sampleMessage()

	payload, err := EncodeDatagram(m)
	require.NoError(t, err)

	got, err := DecodeDatagram(payload)
	require.NoError(t, err)

	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Version, got.Version)
	assert.Equal(t, m.Command, got.Command)
	assert.Equal(t, m.Type, got.Type)
	assert.Equal(t, m.Flags, got.Flags)
	assert.Equal(t, m.Integers, got.Integers)
	assert.Equal(t, m.Buffers, got.Buffers)
	assert.Equal(t, m.Payload, got.Payload)
	assert.Equal(t, m.Signature, got.Signature)

	assert.Equal(t, m.Sender.PeerID, got.Sender.PeerID)
	assert.True(t, m.Sender.Primary.IP.Equal(got.Sender.Primary.IP))
	assert.Equal(t, m.Sender.Flags, got.Sender.Flags)

	assert.Equal(t, m.Recipient.PeerID, got.Recipient.PeerID)
	require.Len(t, got.Recipient.Relays(), 1)
	assert.True(t, m.Recipient.Relays()[0].IP.Equal(got.Recipient.Relays()[0].IP))
}

func TestDecodeDatagram_ShortBuffer(t *testing.T) {
	_, err := DecodeDatagram([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestWriteReadStream_MultipleFrames(t *testing.T) {
	a := sampleMessage()
	b := sampleMessage()
	b.ID = 43
	b.Command = CommandPing

	var buf bytes.Buffer
	require.NoError(t, WriteStream(&buf, a))
	require.NoError(t, WriteStream(&buf, b))

	r := bufio.NewReader(&buf)

	got1, err := ReadStream(r)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got1.ID)

	got2, err := ReadStream(r)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got2.ID)
	assert.Equal(t, CommandPing, got2.Command)
}

func TestReadStream_RejectsOversizedFrame(t *testing.T) {
	var lenPrefix [4]byte
	var tooBig uint32 = MaxFrameSize + 1
	lenPrefix[0] = byte(tooBig >> 24)
	lenPrefix[1] = byte(tooBig >> 16)
	lenPrefix[2] = byte(tooBig >> 8)
	lenPrefix[3] = byte(tooBig)

	r := bufio.NewReader(bytes.NewReader(lenPrefix[:]))
	_, err := ReadStream(r)
	assert.Error(t, err)
}

func TestDuplicate_AssignsNewIDAndDeepCopiesBuffers(t *testing.T) {
	m := sampleMessage()
	dup := m.Duplicate(99)

	assert.Equal(t, uint32(99), dup.ID)
	assert.NotEqual(t, m.ID, dup.ID)

	dup.Buffers[0][0] = 'X'
	assert.NotEqual(t, m.Buffers[0][0], dup.Buffers[0][0])

	dup.Payload["k"][0] = 'X'
	assert.NotEqual(t, m.Payload["k"][0], dup.Payload["k"][0])
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "PING", CommandPing.String())
	assert.Equal(t, "COMMAND(200)", Command(200).String())
}

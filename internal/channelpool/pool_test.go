package channelpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brineshore/kadnet/internal/transporterr"
)

func TestPool_AcquireExhaustionAndRelease(t *testing.T) {
	p := NewPool(1, 1)

	release, err := p.AcquireTCP()
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stats().TCPInUse)

	_, err = p.AcquireTCP()
	require.Error(t, err)
	kind, ok := transporterr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, transporterr.KindChannelCreation, kind)

	release()
	assert.Equal(t, 0, p.Stats().TCPInUse)

	_, err = p.AcquireTCP()
	assert.NoError(t, err)
}

func TestPool_TCPAndUDPSlotsAreIndependent(t *testing.T) {
	p := NewPool(1, 1)

	tcpRelease, err := p.AcquireTCP()
	require.NoError(t, err)
	defer tcpRelease()

	udpRelease, err := p.AcquireUDP()
	require.NoError(t, err)
	defer udpRelease()

	stats := p.Stats()
	assert.Equal(t, 1, stats.TCPInUse)
	assert.Equal(t, 1, stats.UDPInUse)
}

package tracker

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brineshore/kadnet/internal/peer"
)

func TestBloomFilter_NoFalseNegatives(t *testing.T) {
	f := NewBloomFilter(4096, 7)

	var ids [][20]byte
	for i := 0; i < 50; i++ {
		var id [20]byte
		id[0] = byte(i)
		ids = append(ids, id)
		f.Add(id)
	}

	for _, id := range ids {
		assert.True(t, f.Contains(id))
	}

	var neverAdded [20]byte
	neverAdded[19] = 0xff
	_ = f.Contains(neverAdded) // false positives are allowed, just must not panic
}

func TestTracker_AddAndGet_ExcludesViaBloomFilter(t *testing.T) {
	tr := New(time.Minute)
	key := Key{Location: "L", Domain: "D"}

	var peerA, peerB [20]byte
	peerA[0] = 1
	peerB[0] = 2
	addrA := peer.New(peerA, peer.NewSocketAddress(net.ParseIP("127.0.0.1"), 1000, 1000), peer.Flags{})
	addrB := peer.New(peerB, peer.NewSocketAddress(net.ParseIP("127.0.0.1"), 2000, 2000), peer.Flags{})

	tr.Add(key, peerA, addrA)
	tr.Add(key, peerB, addrB)

	all := tr.Get(key, nil)
	assert.Len(t, all, 2)

	exclude := NewBloomFilter(4096, 7)
	exclude.Add(peerA)

	filtered := tr.Get(key, exclude)
	require.Len(t, filtered, 1)
	_, hasB := filtered[peerB]
	assert.True(t, hasB)
}

func TestTracker_EntriesExpireAfterTTL(t *testing.T) {
	tr := New(20 * time.Millisecond)
	key := Key{Location: "L", Domain: "D"}

	var peerA [20]byte
	peerA[0] = 1
	tr.Add(key, peerA, peer.New(peerA, peer.NewSocketAddress(net.ParseIP("127.0.0.1"), 1000, 1000), peer.Flags{}))

	assert.Equal(t, 1, tr.Size(key))

	require.Eventually(t, func() bool {
		return tr.Size(key) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestTracker_UnknownKeyReturnsEmpty(t *testing.T) {
	tr := New(time.Minute)
	assert.Empty(t, tr.Get(Key{Location: "nope", Domain: "nope"}, nil))
	assert.Equal(t, 0, tr.Size(Key{Location: "nope", Domain: "nope"}))
}

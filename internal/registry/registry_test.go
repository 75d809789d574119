package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brineshore/kadnet/internal/message"
	"github.com/brineshore/kadnet/internal/transporterr"
)

func TestRegister_RejectsDuplicateID(t *testing.T) {
	r := New()
	first := NewCompletion(message.Message{ID: 7})
	second := NewCompletion(message.Message{ID: 7})

	require.NoError(t, r.Register(first))
	err := r.Register(second)
	require.Error(t, err)
	var dup *ErrDuplicateID
	assert.ErrorAs(t, err, &dup)
	assert.Equal(t, uint32(7), dup.ID)
}

func TestDeliver_ResolvesExactlyOneWaiter(t *testing.T) {
	r := New()
	c := NewCompletion(message.Message{ID: 3})
	require.NoError(t, r.Register(c))

	reply := message.Message{ID: 3, Type: message.TypeOK}
	assert.True(t, r.Deliver(reply))
	assert.True(t, c.IsTerminal())
	assert.Equal(t, OK, c.State())

	// Entry removed before resolving: a second delivery for the same id
	// finds nothing.
	assert.False(t, r.Deliver(reply))
	assert.Equal(t, 0, r.Len())
}

func TestDeliver_UnknownIDReturnsFalse(t *testing.T) {
	r := New()
	assert.False(t, r.Deliver(message.Message{ID: 999}))
}

func TestDeliver_DeniedReplyResolvesFailedNotOK(t *testing.T) {
	r := New()
	c := NewCompletion(message.Message{ID: 4})
	require.NoError(t, r.Register(c))

	assert.True(t, r.Deliver(message.Message{ID: 4, Type: message.TypeDenied}))
	assert.Equal(t, Failed, c.State())
	require.NotNil(t, c.Outcome().Err)
	assert.Equal(t, transporterr.KindDenied, c.Outcome().Err.Kind)
}

func TestUnregister_RemovesEntry(t *testing.T) {
	r := New()
	c := NewCompletion(message.Message{ID: 5})
	require.NoError(t, r.Register(c))
	assert.Equal(t, 1, r.Len())

	r.Unregister(5)
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Deliver(message.Message{ID: 5}))
}

func TestCacheRCON_LRUEviction(t *testing.T) {
	r := NewWithRCONCacheSize(2)

	a := NewCompletion(message.Message{ID: 1})
	b := NewCompletion(message.Message{ID: 2})
	cc := NewCompletion(message.Message{ID: 3})

	r.CacheRCON(a)
	r.CacheRCON(b)
	assert.Equal(t, 2, r.RCONCacheLen())

	// touch 1 so it becomes most-recently-used, then inserting 3 should
	// evict 2, the least-recently-used entry.
	r.CacheRCON(a)
	r.CacheRCON(cc)

	assert.Equal(t, 2, r.RCONCacheLen())
	_, ok := r.TakeRCON(2)
	assert.False(t, ok, "least-recently-used entry should have been evicted")

	_, ok = r.TakeRCON(1)
	assert.True(t, ok)
	_, ok = r.TakeRCON(3)
	assert.True(t, ok)
}

func TestTakeRCON_RemovesEntry(t *testing.T) {
	r := New()
	original := NewCompletion(message.Message{ID: 42})
	r.CacheRCON(original)

	got, ok := r.TakeRCON(42)
	require.True(t, ok)
	assert.Equal(t, original, got)

	_, ok = r.TakeRCON(42)
	assert.False(t, ok)
}

func TestCachedRequests_ReflectsCurrentCache(t *testing.T) {
	r := New()
	r.CacheRCON(NewCompletion(message.Message{ID: 1, Command: message.CommandRCON}))
	r.CacheRCON(NewCompletion(message.Message{ID: 2, Command: message.CommandRCON}))

	reqs := r.CachedRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, message.CommandRCON, reqs[1].Command)
}

func TestShutdown_ResolvesAllPendingAsFailed(t *testing.T) {
	r := New()
	a := NewCompletion(message.Message{ID: 1})
	b := NewCompletion(message.Message{ID: 2})
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	r.Shutdown(transporterr.New(transporterr.KindCancelled, "shutting down", nil))

	assert.Equal(t, Failed, a.State())
	assert.Equal(t, Failed, b.State())
	assert.Equal(t, 0, r.Len())
}

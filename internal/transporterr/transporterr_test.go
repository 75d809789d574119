package transporterr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_UnwrapAndMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := New(KindConnect, "dial tcp 1.2.3.4:80", cause)

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "Connect")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestError_Is_MatchesOnKindOnly(t *testing.T) {
	a := New(KindDenied, "first", nil)
	b := New(KindDenied, "second", errors.New("different cause"))
	assert.True(t, errors.Is(a, b))

	c := New(KindConnect, "first", nil)
	assert.False(t, errors.Is(a, c))
}

func TestKindOf(t *testing.T) {
	err := New(KindIdleTimeout, "idle", nil)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindIdleTimeout, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestAsError_WrapsPlainError(t *testing.T) {
	plain := errors.New("boom")
	wrapped := AsError(plain)
	assert.Equal(t, KindConnect, wrapped.Kind)
	assert.Equal(t, plain, wrapped.Cause)

	already := New(KindDenied, "denied", nil)
	assert.Same(t, already, AsError(already))
}

func TestIsExpectedRace(t *testing.T) {
	assert.True(t, IsExpectedRace(New(KindCancelled, "cancelled", nil)))
	assert.False(t, IsExpectedRace(New(KindConnect, "connect", nil)))
	assert.False(t, IsExpectedRace(errors.New("plain")))
}

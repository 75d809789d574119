package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchRelayList_SeedsCurrentContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relays.txt")
	require.NoError(t, os.WriteFile(path, []byte("1.2.3.4:9000\n# comment\n\n5.6.7.8:9001\n"), 0644))

	w, err := WatchRelayList(path)
	require.NoError(t, err)
	defer w.Stop()

	assert.Equal(t, []string{"1.2.3.4:9000", "5.6.7.8:9001"}, w.Relays())
}

func TestWatchRelayList_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relays.txt")
	require.NoError(t, os.WriteFile(path, []byte("1.2.3.4:9000\n"), 0644))

	w, err := WatchRelayList(path)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("9.9.9.9:1000\n"), 0644))

	require.Eventually(t, func() bool {
		relays := w.Relays()
		return len(relays) == 1 && relays[0] == "9.9.9.9:1000"
	}, 2*time.Second, 20*time.Millisecond)
}

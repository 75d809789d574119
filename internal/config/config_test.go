package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.ListenIP)
	assert.Equal(t, 10868, cfg.TCPPort)
	assert.Equal(t, 3, cfg.HolePunchN)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "", cfg.SigningKeyFile)
}

func TestLoad_FileSetsSigningKeyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kadnet.config")
	keyPath := filepath.Join(dir, "node.key")
	require.NoError(t, os.WriteFile(path, []byte("signing_key_file="+keyPath+"\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, keyPath, cfg.SigningKeyFile)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kadnet.config")
	contents := "# comment\n\nlisten_ip=127.0.0.1\ntcp_port=7000\nrelays=1.2.3.4:9000, 5.6.7.8:9001\nholepunch_n=5\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.ListenIP)
	assert.Equal(t, 7000, cfg.TCPPort)
	assert.Equal(t, 5, cfg.HolePunchN)
	assert.Equal(t, []string{"1.2.3.4:9000", "5.6.7.8:9001"}, cfg.Relays)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.config"))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.ListenIP)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kadnet.config")
	require.NoError(t, os.WriteFile(path, []byte("tcp_port=7000\n"), 0644))

	t.Setenv("TCP_PORT", "8000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.TCPPort)
}

func TestLoad_RejectsInvalidListenIP(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kadnet.config")
	require.NoError(t, os.WriteFile(path, []byte("listen_ip=not-an-ip\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsNonPositiveHolePunchN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kadnet.config")
	require.NoError(t, os.WriteFile(path, []byte("holepunch_n=0\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsMalformedRelayAddress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kadnet.config")
	require.NoError(t, os.WriteFile(path, []byte("relays=not-a-host-port\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_DurationKeysParsedAsMilliseconds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kadnet.config")
	require.NoError(t, os.WriteFile(path, []byte("connect_timeout_ms=1500\nidle_udp_ms=250\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.ConnectTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.IdleUDP)
}

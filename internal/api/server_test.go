package api

import (
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brineshore/kadnet/internal/channelpool"
	"github.com/brineshore/kadnet/internal/introspect"
	"github.com/brineshore/kadnet/internal/peer"
	"github.com/brineshore/kadnet/internal/registry"
	"github.com/brineshore/kadnet/internal/sign"
	"github.com/brineshore/kadnet/internal/transport"
)

func newTestServer(t *testing.T, hub *introspect.Hub) (*Server, peer.Address) {
	t.Helper()
	var id [20]byte
	id[0] = 1
	local := peer.New(id, peer.NewSocketAddress(net.ParseIP("127.0.0.1"), 0, 0), peer.Flags{})

	tr := transport.New(local, channelpool.NewPool(4, 4), registry.New(), sign.NoopFactory{}, transport.Config{
		ConnectTimeout: time.Second,
		IdleTCP:        time.Second,
		IdleUDP:        time.Second,
		HolePunchN:     3,
	})
	return NewServer(tr, hub, 0), local
}

func TestHandleStatus_ReportsLocalPeerHex(t *testing.T) {
	s, local := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, hex.EncodeToString(local.PeerID[:]), resp.LocalPeer)
}

func TestHandlePeers_ReportsPoolAndRegistryOccupancy(t *testing.T) {
	hub := introspect.NewHub()
	go hub.Run()
	s, _ := newTestServer(t, hub)

	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp PeersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.PendingCompletions)
	assert.Equal(t, 4, resp.ChannelPool.TCPCapacity)
	assert.Equal(t, 0, resp.IntrospectClients)
}

func TestHandleMetrics_ReportsStrategyCounts(t *testing.T) {
	s, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp MetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp.StrategyCounts)
}

func TestCorsMiddleware_HandlesPreflightWithoutCallingHandler(t *testing.T) {
	s, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"
)

// StatusResponse reports coarse liveness for the /status endpoint.
type StatusResponse struct {
	Status    string    `json:"status"`
	Time      time.Time `json:"time"`
	LocalPeer string    `json:"localPeer"`
}

// PeersResponse reports registry/pool occupancy the teacher's handlers
// would have reported as server/torrent counts.
type PeersResponse struct {
	PendingCompletions int                   `json:"pendingCompletions"`
	CachedRCON         int                   `json:"cachedRCON"`
	ChannelPool        channelpoolStatsView  `json:"channelPool"`
	IntrospectClients  int                   `json:"introspectClients,omitempty"`
}

type channelpoolStatsView struct {
	TCPInUse     int `json:"tcpInUse"`
	TCPCapacity  int `json:"tcpCapacity"`
	UDPInUse     int `json:"udpInUse"`
	UDPCapacity  int `json:"udpCapacity"`
}

// MetricsResponse reports per-strategy send counters.
type MetricsResponse struct {
	StrategyCounts map[string]int64 `json:"strategyCounts"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	local := s.t.Local()
	respondJSON(w, http.StatusOK, StatusResponse{
		Status:    "ok",
		Time:      time.Now(),
		LocalPeer: hex.EncodeToString(local.PeerID[:]),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	stats := s.t.Pool().Stats()
	resp := PeersResponse{
		PendingCompletions: s.t.Registry().Len(),
		CachedRCON:         s.t.Registry().RCONCacheLen(),
		ChannelPool: channelpoolStatsView{
			TCPInUse:    stats.TCPInUse,
			TCPCapacity: stats.TCPCapacity,
			UDPInUse:    stats.UDPInUse,
			UDPCapacity: stats.UDPCapacity,
		},
	}
	if s.hub != nil {
		resp.IntrospectClients = s.hub.ClientCount()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, MetricsResponse{StrategyCounts: s.t.StrategyCounts()})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

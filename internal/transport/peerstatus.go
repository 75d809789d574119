package transport

import "github.com/brineshore/kadnet/internal/peer"

// NotifyPeerRecovered lets a collaborator (e.g. a routing table that
// just got a fresh PING reply through some other path) tell peer-status
// listeners a peer is reachable again, clearing any suspect mark set by
// an earlier notifyPeerFailed (spec §2 component 10: "so routing tables
// can mark the peer suspect" — the converse un-mark is symmetric).
func (t *Transport) NotifyPeerRecovered(p peer.Address) {
	t.emit(PeerEvent{Peer: p, Failed: false})
}

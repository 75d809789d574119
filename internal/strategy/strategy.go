// Package strategy implements the send-strategy selector (spec §4.1): a
// pure function of recipient/sender flags and message command that picks
// one of DIRECT, RCON, RELAY, or HOLE-PUNCH, plus the deterministic
// relay tie-break used when a recipient advertises more than one relay.
//
// Grounded on the teacher's internal/relay (now internal/rcon) dialer
// choosing between a direct dial and a relay-assisted connect based on
// the target's advertised reachability; generalized here into an
// explicit four-way pure decision instead of an implicit fallback chain,
// per spec §4.1's "pure function" framing.
package strategy

import (
	"math/rand"

	"github.com/brineshore/kadnet/internal/message"
	"github.com/brineshore/kadnet/internal/peer"
	"github.com/brineshore/kadnet/internal/transporterr"
)

// Verdict is the strategy selected for one send attempt.
type Verdict int

const (
	Direct Verdict = iota
	RCON
	Relay
	HolePunch
)

func (v Verdict) String() string {
	switch v {
	case Direct:
		return "DIRECT"
	case RCON:
		return "RCON"
	case Relay:
		return "RELAY"
	case HolePunch:
		return "HOLE-PUNCH"
	default:
		return "UNKNOWN"
	}
}

// Select picks a strategy from the recipient and local (sender) flags,
// the message command, and whether this send is over UDP. It is a pure
// function: the same inputs always yield the same verdict (spec §8
// idempotence property).
func Select(recipient, local peer.Flags, cmd message.Command, isUDP bool) (Verdict, error) {
	if !recipient.Relayed {
		return Direct, nil
	}

	if isUDP && local.Relayed && cmd == message.CommandDirectData {
		return HolePunch, nil
	}

	if !local.Relayed {
		if isUDP {
			return Relay, nil
		}
		return RCON, nil
	}

	if isUDP {
		return Relay, nil
	}

	// Both relayed, TCP, not a hole-punch-eligible DIRECT_DATA: RCON needs
	// a reachable sender for the recipient to dial back to, and with both
	// sides relayed there is no such address, so this falls through to
	// RELAY unconditionally (spec §4.1 rule 4).
	return Relay, nil
}

// SelectWithGuard wraps Select with the spec's UDP+RCON rejection: a
// caller that already knows it must use RCON (e.g. the RCON orchestrator
// re-deriving the verdict) but is sending over UDP gets InvalidStrategy
// rather than a silently wrong frame on the wire.
func SelectWithGuard(recipient, local peer.Flags, cmd message.Command, isUDP bool) (Verdict, error) {
	v, err := Select(recipient, local, cmd, isUDP)
	if err != nil {
		return v, err
	}
	if isUDP && v == RCON {
		return v, transporterr.New(transporterr.KindInvalidStrategy, "udp message selected rcon", nil)
	}
	return v, nil
}

// ChooseRelay deterministically picks one of the recipient's advertised
// relays for a given attempt number, seeded from the local peer id so
// repeated runs with the same inputs pick the same relay (spec §4.1 tie
// break: "seeded deterministically from the local peerId").
func ChooseRelay(relays []peer.SocketAddress, localPeerID [20]byte, attempt int) (peer.SocketAddress, bool) {
	if len(relays) == 0 {
		return peer.SocketAddress{}, false
	}
	if len(relays) == 1 {
		return relays[0], true
	}
	seed := seedFromPeerID(localPeerID, attempt)
	r := rand.New(rand.NewSource(seed))
	return relays[r.Intn(len(relays))], true
}

func seedFromPeerID(peerID [20]byte, attempt int) int64 {
	var seed int64
	for _, b := range peerID {
		seed = seed*31 + int64(b)
	}
	return seed + int64(attempt)
}

// Package peer holds the transport core's peer-descriptor value types
// (spec §3). PeerAddress and PeerSocketAddress are immutable; every
// mutation produces a copy via a builder method, mirroring the
// copy-on-write style the teacher's relay dialer uses for its directly-
// reachable/NAT peer caches rather than mutating shared state in place.
package peer

import (
	"net"
	"strconv"
)

// SocketAddress is an immutable ip:port pair used both as a peer's primary
// address and as an entry in its relay list.
type SocketAddress struct {
	IP      net.IP
	TCPPort int
	UDPPort int
}

// NewSocketAddress builds a SocketAddress.
func NewSocketAddress(ip net.IP, tcpPort, udpPort int) SocketAddress {
	return SocketAddress{IP: ip, TCPPort: tcpPort, UDPPort: udpPort}
}

// TCPAddr renders the TCP (ip:port) form used by net.Dial.
func (s SocketAddress) TCPAddr() string {
	return net.JoinHostPort(s.IP.String(), strconv.Itoa(s.TCPPort))
}

// UDPAddr renders the UDP (ip:port) form used by net.Dial.
func (s SocketAddress) UDPAddr() string {
	return net.JoinHostPort(s.IP.String(), strconv.Itoa(s.UDPPort))
}

func (s SocketAddress) String() string {
	return s.TCPAddr()
}

// Equal reports whether s and o refer to the same ip:port pair.
// SocketAddress embeds a net.IP (a slice), so it cannot use == directly.
func (s SocketAddress) Equal(o SocketAddress) bool {
	return s.IP.Equal(o.IP) && s.TCPPort == o.TCPPort && s.UDPPort == o.UDPPort
}

// Flags captures a recipient's reachability state (spec §3).
type Flags struct {
	FirewalledTCP bool
	FirewalledUDP bool
	Relayed       bool
}

// Address is the immutable peer descriptor carried by every send (spec §3).
// Builders (WithRelays, WithFlags, ...) return modified copies; nothing ever
// mutates an Address's fields in place, so a descriptor handed to one send
// can be safely reused by another concurrently.
type Address struct {
	PeerID  [20]byte // 160-bit Kademlia id
	Primary SocketAddress
	Flags   Flags
	relays  []SocketAddress // copy-on-write; never mutated after construction
}

// New builds an Address with no relays.
func New(peerID [20]byte, primary SocketAddress, flags Flags) Address {
	return Address{PeerID: peerID, Primary: primary, Flags: flags}
}

// Relays returns the peer's relay list. The returned slice must not be
// mutated by the caller; use WithRelays to change it.
func (a Address) Relays() []SocketAddress {
	return a.relays
}

// WithRelays returns a copy of a with its relay list replaced.
func (a Address) WithRelays(relays []SocketAddress) Address {
	cp := a
	cp.relays = append([]SocketAddress(nil), relays...)
	return cp
}

// WithoutRelay returns a copy of a with the given relay removed. Used by the
// relay-fallback orchestrator (spec §4.4) to drop a relay that failed before
// recursing onto the remaining ones.
func (a Address) WithoutRelay(failed SocketAddress) Address {
	kept := make([]SocketAddress, 0, len(a.relays))
	for _, r := range a.relays {
		if !r.Equal(failed) {
			kept = append(kept, r)
		}
	}
	return a.WithRelays(kept)
}

// WithFlags returns a copy of a with its flags replaced.
func (a Address) WithFlags(flags Flags) Address {
	cp := a
	cp.Flags = flags
	return cp
}

// WithPrimary returns a copy of a with its primary socket replaced. Used
// by the relay-fallback orchestrator (spec §4.4 step 2) to reflect a
// recipient's descriptor onto the relay socket that answered, with
// Relayed set on the returned copy's Flags by the caller.
func (a Address) WithPrimary(primary SocketAddress) Address {
	cp := a
	cp.Primary = primary
	return cp
}

// HasRelay reports whether a carries at least one relay socket address.
// The strategy selector looks at flags only and does not check relays; a
// relayed recipient with no relays fails later, in the RCON, relay or
// hole-punch orchestrator, with KindRelayUnavailable.
func (a Address) HasRelay() bool {
	return len(a.relays) > 0
}

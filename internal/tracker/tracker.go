package tracker

import (
	"sync"
	"time"

	"github.com/brineshore/kadnet/internal/peer"
)

// Key identifies one tracker bucket by location key and domain key
// (spec §8 S1: "location key L ... and domain key D").
type Key struct {
	Location string
	Domain   string
}

type entry struct {
	peerID  [20]byte
	addr    peer.Address
	storeAt time.Time
}

// Tracker is an in-memory location/domain-keyed store of advertised peer
// addresses with per-entry TTL expiry (spec §8 S3).
type Tracker struct {
	ttl time.Duration

	mu      sync.Mutex
	buckets map[Key][]entry
}

// New creates a Tracker whose entries expire ttl after being stored.
func New(ttl time.Duration) *Tracker {
	return &Tracker{ttl: ttl, buckets: make(map[Key][]entry)}
}

// Add records that peerID is reachable at addr under (location, domain)
// (spec §8 S1: "B's pending tracker storage contains A's peerId under
// (L,D)").
func (t *Tracker) Add(key Key, peerID [20]byte, addr peer.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets[key] = append(t.buckets[key], entry{peerID: peerID, addr: addr, storeAt: time.Now()})
}

// Get returns the live (non-expired) entries for key whose peer id is
// not flagged by exclude, keyed by peer id for easy round-trip checking
// (spec §8 S2: "OK with empty data map" when the requester excludes
// itself).
func (t *Tracker) Get(key Key, exclude *BloomFilter) map[[20]byte]peer.Address {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := t.evictLocked(key)
	out := make(map[[20]byte]peer.Address, len(live))
	for _, e := range live {
		if exclude != nil && exclude.Contains(e.peerID) {
			continue
		}
		out[e.peerID] = e.addr
	}
	return out
}

// Size reports the number of live entries for key, used directly by
// spec §8 S3's TTL assertions without needing a Bloom filter.
func (t *Tracker) Size(key Key) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.evictLocked(key))
}

// evictLocked drops expired entries for key and returns the survivors.
// Callers must hold t.mu.
func (t *Tracker) evictLocked(key Key) []entry {
	entries := t.buckets[key]
	if len(entries) == 0 {
		return nil
	}
	cutoff := time.Now().Add(-t.ttl)
	live := entries[:0:0]
	for _, e := range entries {
		if e.storeAt.After(cutoff) {
			live = append(live, e)
		}
	}
	t.buckets[key] = live
	return live
}

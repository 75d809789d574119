// Package tracker is a test fixture for the location/domain-key tracker
// storage spec §8 scenarios S1-S4 exercise from outside the transport
// core proper (spec §1 explicit non-goal: "a tracker/Bloom-filter
// storage engine" is not part of the core itself, but the scenarios that
// cite it need a concrete implementation to run against).
//
// Grounded on github.com/bits-and-blooms/bitset, an indirect dependency
// of the dveeden-tiflow example already present in the pack's module
// graph: BloomFilter here is a thin k-hash wrapper over a bitset.BitSet,
// the same shape that library's own consumers build on top of it.
package tracker

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/bits-and-blooms/bitset"
)

// BloomFilter is a fixed-size, fixed-k Bloom filter over 20-byte peer
// ids, sized the way spec §8 S1 calls for ("Bloom filter of size 4096
// bits/1000 items").
type BloomFilter struct {
	bits *bitset.BitSet
	k    uint
}

// NewBloomFilter creates a filter with bits slots and k hash functions.
// k=0 picks a reasonable default (7) for the 4096-bit/1000-item ratio
// spec §8 S1 uses.
func NewBloomFilter(bits uint, k uint) *BloomFilter {
	if k == 0 {
		k = 7
	}
	return &BloomFilter{bits: bitset.New(bits), k: k}
}

// Add inserts id into the filter.
func (f *BloomFilter) Add(id [20]byte) {
	for i := uint(0); i < f.k; i++ {
		f.bits.Set(f.slot(id, i))
	}
}

// Contains reports whether id may be a member (false positives possible,
// false negatives never).
func (f *BloomFilter) Contains(id [20]byte) bool {
	for i := uint(0); i < f.k; i++ {
		if !f.bits.Test(f.slot(id, i)) {
			return false
		}
	}
	return true
}

func (f *BloomFilter) slot(id [20]byte, seed uint) uint {
	h := fnv.New64a()
	h.Write(id[:])
	var seedBuf [8]byte
	binary.BigEndian.PutUint64(seedBuf[:], uint64(seed))
	h.Write(seedBuf[:])
	return uint(h.Sum64() % uint64(f.bits.Len()))
}

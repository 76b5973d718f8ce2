// Package scheduler computes the deterministic slot-to-producer
// mapping for the active witness set (spec §4.5), reseeded whenever
// the active set changes.
//
// Grounded on the teacher's pkg/consensus LeaderElector interface
// (pkg/consensus/types.go: "LeaderOf(view) NodeID"), replacing its
// single round-robin/BFT view counter with the spec's seeded shuffle
// over a fixed-size active set and a 128-bit recent-slots-filled
// participation bitfield.
package scheduler

import (
	"encoding/binary"

	"github.com/ledgerforge/chain/pkg/types"
)

// Seed constants: fractional bits of sqrt(2) and sqrt(3), per spec §4.5.
const (
	sqrt2Bits uint64 = 0x6a09e667f3bcc908
	sqrt3Bits uint64 = 0xbb67ae8584caa73b
)

// Schedule is a shuffled permutation of the active witness set plus
// the slot-participation bitfield.
type Schedule struct {
	active []types.ID
	order  []int // order[i] = index into active for rotation slot i

	// RecentSlotsFilled is a 128-bit bitfield (two uint64 words, word[0]
	// holding the most recent 64 slots) recording hit/miss per slot.
	RecentSlotsFilled [2]uint64
}

// New reseeds the schedule from the active set and the head block id,
// per spec §4.5: "reseeded deterministically from two constants ...
// XORed with the head-block id."
func New(active []types.ID, headBlockID [32]byte) *Schedule {
	s := &Schedule{active: append([]types.ID(nil), active...)}
	if len(active) == 0 {
		return s
	}
	seed := sqrt2Bits ^ sqrt3Bits ^ binary.BigEndian.Uint64(headBlockID[:8]) ^ binary.BigEndian.Uint64(headBlockID[8:16])
	s.order = fisherYates(len(active), seed)
	return s
}

// fisherYates produces a deterministic shuffle of [0,n) seeded by a
// splitmix64 stream derived from seed.
func fisherYates(n int, seed uint64) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	rng := splitmix64{state: seed}
	for i := n - 1; i > 0; i-- {
		j := int(rng.next() % uint64(i+1))
		order[i], order[j] = order[j], order[i]
	}
	return order
}

type splitmix64 struct{ state uint64 }

func (s *splitmix64) next() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	z = z ^ (z >> 31)
	return z
}

// WitnessForSlot maps slot i to active[order[i mod len(active)]], per
// spec §4.5. Callers number slots from the Unix epoch
// (i = t / block_interval), not from genesis.
func (s *Schedule) WitnessForSlot(slot int64) (types.ID, bool) {
	if len(s.active) == 0 {
		return types.ID{}, false
	}
	idx := s.order[int(slot%int64(len(s.active)))]
	return s.active[idx], true
}

// RecordSlot marks slot as filled (produced) or missed, shifting the
// 128-bit bitfield by one and setting bit 0 to hit.
func (s *Schedule) RecordSlot(hit bool) {
	carry := s.RecentSlotsFilled[0] >> 63
	s.RecentSlotsFilled[0] <<= 1
	s.RecentSlotsFilled[1] = (s.RecentSlotsFilled[1] << 1) | carry
	if hit {
		s.RecentSlotsFilled[0] |= 1
	}
}

// ParticipationRate returns hits per 10000 slots over the tracked
// 128-slot window (spec scenario 1: "witness_participation_rate == 10000").
func (s *Schedule) ParticipationRate() int64 {
	hits := popcount64(s.RecentSlotsFilled[0]) + popcount64(s.RecentSlotsFilled[1])
	return int64(hits) * 10000 / 128
}

func popcount64(v uint64) int {
	count := 0
	for v != 0 {
		v &= v - 1
		count++
	}
	return count
}

// Active returns the scheduled set, in election order (not rotation order).
func (s *Schedule) Active() []types.ID { return append([]types.ID(nil), s.active...) }

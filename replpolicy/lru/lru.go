// Package lru implements a recency-based ReplPolicy over the
// arbitrary, possibly cross-set candidate slices the skew and VCL
// arrays hand it: a plain per-line timestamp counter, oldest
// timestamp wins, ties broken by the candidate's position in the
// slice.
package lru

import (
	"github.com/sarchlab/cachearray/mem"
	"github.com/sarchlab/cachearray/replpolicy"
)

// Policy is a recency-ordered ReplPolicy. The zero value is ready to
// use; it grows its timestamp table lazily as line ids are seen.
type Policy struct {
	clock     uint64
	timestamp []uint64
}

// New creates a Policy sized for numLines ids. Sizing up front avoids
// the grow-on-touch path on the hot access path; a Policy used with
// ids beyond numLines still works, reallocating each time a larger id
// is first updated or replaced.
func New(numLines uint32) *Policy {
	return &Policy{timestamp: make([]uint64, numLines)}
}

func (p *Policy) ensure(lineID uint32) {
	if int(lineID) >= len(p.timestamp) {
		grown := make([]uint64, lineID+1)
		copy(grown, p.timestamp)
		p.timestamp = grown
	}
}

// Update bumps lineID's recency to "now".
func (p *Policy) Update(lineID uint32, _ *mem.Req) {
	p.ensure(lineID)
	p.clock++
	p.timestamp[lineID] = p.clock
}

// Replaced zeroes lineID's recency so a freshly-evicted (and not yet
// reused) slot reads as maximally stale.
func (p *Policy) Replaced(lineID uint32) {
	p.ensure(lineID)
	p.timestamp[lineID] = 0
}

// RankCands returns the candidate with the smallest timestamp,
// preferring never-touched (timestamp 0) candidates without needing
// to know which candidates are actually invalid — an unused line id
// has timestamp 0 by construction.
func (p *Policy) RankCands(_ *mem.Req, cands []uint32) uint32 {
	best := cands[0]
	bestTime := p.timestampOf(best)

	for _, c := range cands[1:] {
		t := p.timestampOf(c)
		if t < bestTime {
			best, bestTime = c, t
		}
	}

	return best
}

func (p *Policy) timestampOf(lineID uint32) uint64 {
	if int(lineID) >= len(p.timestamp) {
		return 0
	}

	return p.timestamp[lineID]
}

// VCLPolicy wraps Policy with the way-size filtering VCL sub-line
// demotion needs: Rank only considers candidates whose way offers at
// least size bytes, among ways below maxWay.
type VCLPolicy struct {
	*Policy
	waySizes []uint8
	assoc    uint32
}

// NewVCL creates a VCLPolicy. waySizes is indexed by way (not by line
// id); assoc is the number of ways per set, used to recover a
// candidate's way index from its line id.
func NewVCL(numLines uint32, waySizes []uint8, assoc uint32) *VCLPolicy {
	return &VCLPolicy{
		Policy:   New(numLines),
		waySizes: waySizes,
		assoc:    assoc,
	}
}

// Rank returns, among cands whose way index is below maxWay and whose
// waySizes[way] >= size, the one with the smallest recency. Panics if
// no candidate qualifies. vcl demotion only removes already-claimed
// ways from cands before calling Rank, so a run longer than every
// remaining way's size reaches this panic.
func (p *VCLPolicy) Rank(
	_ *mem.Req, cands []uint32, size uint8, maxWay uint32,
) uint32 {
	var best uint32
	var bestTime uint64
	found := false

	for _, c := range cands {
		way := c % p.assoc
		if way >= maxWay || p.waySizes[way] < size {
			continue
		}

		t := p.timestampOf(c)
		if !found || t < bestTime {
			best, bestTime, found = c, t, true
		}
	}

	if !found {
		panic("lru: no candidate way large enough for demoted run")
	}

	return best
}

var _ replpolicy.ReplPolicy = (*Policy)(nil)
var _ replpolicy.VCLPolicy = (*VCLPolicy)(nil)

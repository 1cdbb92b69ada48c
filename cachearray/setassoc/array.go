// Package setassoc implements the classical S×W set-associative
// CacheArray: numLines lines split into numSets sets of assoc ways
// each, with a pluggable hash family and replacement policy.
package setassoc

import (
	"fmt"

	"github.com/sarchlab/cachearray/accessmask"
	"github.com/sarchlab/cachearray/cachearray"
	"github.com/sarchlab/cachearray/hashfamily"
	"github.com/sarchlab/cachearray/mem"
	"github.com/sarchlab/cachearray/replpolicy"
)

// Entry is a set-associative line entry.
type Entry struct {
	Addr       mem.Address
	AvailCycle mem.Cycle
	StartCycle mem.Cycle
	Prefetch   bool
	PC         uint64
	AccessMask uint64
}

// Array is a set-associative CacheArray.
type Array struct {
	entries []Entry
	policy  replpolicy.ReplPolicy
	hash    hashfamily.HashFamily

	numLines uint32
	assoc    uint32
	numSets  uint32
	setMask  uint32

	stats cachearray.Stats
}

// New builds a set-associative array of numLines lines split into
// ways-per-set assoc. numLines/assoc must be a power of two.
func New(
	numLines, assoc uint32, policy replpolicy.ReplPolicy, hash hashfamily.HashFamily,
) *Array {
	if assoc == 0 || numLines%assoc != 0 {
		panic(fmt.Errorf("setassoc: numLines %d not a multiple of assoc %d", numLines, assoc))
	}

	numSets := numLines / assoc
	if numSets&(numSets-1) != 0 {
		panic(fmt.Errorf("setassoc: must have a power-of-two number of sets, got %d", numSets))
	}

	a := &Array{
		entries:  make([]Entry, numLines),
		policy:   policy,
		hash:     hash,
		numLines: numLines,
		assoc:    assoc,
		numSets:  numSets,
		setMask:  numSets - 1,
	}

	return a
}

func (a *Array) setOf(lineAddr mem.Address) uint32 {
	return uint32(a.hash.Hash(0, lineAddr)) & a.setMask
}

// Lookup implements cachearray.CacheArray.
func (a *Array) Lookup(
	lineAddr mem.Address, req *mem.Req, updateReplacement bool,
) (int32, mem.Cycle) {
	first := a.setOf(lineAddr) * a.assoc

	if req != nil && mem.IsHWPrefetch(req) {
		a.stats.PrefAccesses++
	}

	for id := first; id < first+a.assoc; id++ {
		e := &a.entries[id]
		if e.Addr != lineAddr {
			continue
		}

		if req == nil || req.Prefetch() {
			return int32(id), e.AvailCycle
		}

		if mem.IsHWPrefetch(req) {
			a.stats.PrefInCache++
		}

		if updateReplacement && !req.Prefetch() {
			a.policy.Update(id, req)
		}

		if req.Size > 0 {
			base := lineAddr << mem.LineBits
			offset := uint8(req.VAddr - base)
			e.AccessMask = uint64(accessmask.SetAccessed(
				accessmask.Mask(e.AccessMask), offset, offset+uint8(req.Size),
			))
		}

		availCycle := a.reconcileAvailability(e, req)

		if mem.IsDemandLoad(req) {
			a.stats.HitDelayCycles += uint64(availCycle - req.Cycle)
		}

		return int32(id), availCycle
	}

	if req != nil && mem.IsHWPrefetch(req) {
		a.stats.PrefNotInCache++
	}

	return cachearray.FullMiss, 0
}

// reconcileAvailability reconciles a matched entry's in-flight fill
// against the current request and returns the availability cycle the
// caller should use.
func (a *Array) reconcileAvailability(e *Entry, req *mem.Req) mem.Cycle {
	if req.Cycle >= e.AvailCycle {
		availCycle := req.Cycle

		if e.Prefetch && mem.IsDemandLoad(req) {
			a.stats.PrefHits++
			a.stats.PrefSavedCyc += uint64(e.AvailCycle - e.StartCycle)
			e.Prefetch = false
		} else if e.Prefetch && mem.IsHWPrefetch(req) {
			a.stats.PrefHitPref++
		}

		return availCycle
	}

	var availCycle mem.Cycle
	if req.Cycle < e.StartCycle {
		availCycle = e.AvailCycle - (e.StartCycle - req.Cycle)
		e.AvailCycle = availCycle
		e.StartCycle = req.Cycle

		if mem.IsDemandLoad(req) {
			a.stats.PrefInaccurateOOO++
		}
	} else {
		availCycle = e.AvailCycle
	}

	if e.Prefetch && mem.IsDemandLoad(req) {
		a.stats.PrefLateMiss++
		a.stats.PrefTotalLateCyc += uint64(availCycle - req.Cycle)
		a.stats.PrefSavedCyc += uint64(req.Cycle - e.StartCycle)

		if mem.IsHWPrefetch(req) {
			a.stats.PrefHitPref++
		}

		e.Prefetch = false
	} else if e.Prefetch && mem.IsHWPrefetch(req) {
		a.stats.PrefHitPref++
	}

	return availCycle
}

// Preinsert implements cachearray.CacheArray.
func (a *Array) Preinsert(lineAddr mem.Address, req *mem.Req) (uint32, mem.Address) {
	first := a.setOf(lineAddr) * a.assoc

	cands := make([]uint32, a.assoc)
	for i := range cands {
		cands[i] = first + uint32(i)
	}

	candidate := a.policy.RankCands(req, cands)

	return candidate, a.entries[candidate].Addr
}

// Postinsert implements cachearray.CacheArray.
func (a *Array) Postinsert(
	lineAddr mem.Address, req *mem.Req, candidate uint32, respCycle mem.Cycle,
) {
	e := &a.entries[candidate]

	cachearray.CreditEviction(&a.stats, e.AccessMask)
	e.AccessMask = 0

	a.policy.Replaced(candidate)

	if mem.IsHWPrefetch(req) {
		a.stats.PrefPostInsert++
	}

	if e.Prefetch {
		a.stats.PrefEarlyMiss++
		if mem.IsHWPrefetch(req) {
			a.stats.PrefReplacePref++
		}
	}

	e.Prefetch = mem.IsHWPrefetch(req)
	e.Addr = lineAddr
	e.AvailCycle = respCycle
	e.StartCycle = req.Cycle
	e.PC = req.PC
	e.AccessMask = 0

	a.policy.Update(candidate, req)
}

// Stats implements cachearray.CacheArray.
func (a *Array) Stats() cachearray.Stats {
	return a.stats
}

// Reset implements cachearray.CacheArray.
func (a *Array) Reset() {
	for i := range a.entries {
		a.entries[i] = Entry{}
	}

	a.stats = cachearray.Stats{}
}

// SetID returns the set a line address is homed to, and the assoc-
// sized slot range within entries that set occupies. Exposed for
// tests asserting the set-homing property.
func (a *Array) SetID(lineAddr mem.Address) (set uint32, first, limit uint32) {
	set = a.setOf(lineAddr)
	first = set * a.assoc

	return set, first, first + a.assoc
}

var _ cachearray.CacheArray = (*Array)(nil)

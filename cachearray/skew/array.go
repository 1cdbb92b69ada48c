// Package skew implements the skew-associative ("Z") CacheArray: W
// independent hashes index one shared pool of lines, and eviction
// explores a BFS tree of reachable slots up to a candidate budget,
// producing a relocation chain applied atomically at insert time.
package skew

import (
	"fmt"

	"github.com/sarchlab/cachearray/accessmask"
	"github.com/sarchlab/cachearray/cachearray"
	"github.com/sarchlab/cachearray/hashfamily"
	"github.com/sarchlab/cachearray/mem"
	"github.com/sarchlab/cachearray/replpolicy"
)

// Entry is a skew-array line entry, indexed by lineId (not position).
type Entry struct {
	Addr       mem.Address
	AvailCycle mem.Cycle
	StartCycle mem.Cycle
	Prefetch   bool
	PC         uint64
	AccessMask uint64
}

// cand is one node of the BFS candidate tree built during Preinsert.
// parent is an index into the same candidate buffer, or -1 at a seed.
type cand struct {
	pos    uint32
	lineID uint32
	parent int32
}

// Array is a skew-associative ("Z") CacheArray.
type Array struct {
	entries     []Entry  // data storage, indexed by lineId
	lookupArray []uint32 // physical position -> lineId

	policy replpolicy.ReplPolicy
	hash   hashfamily.HashFamily

	numLines uint32
	ways     uint32
	numSets  uint32
	setMask  uint32
	cands    uint32 // candidate budget

	// pending holds the swap chain computed by a not-yet-finalized
	// Preinsert, keyed by the victim lineId it will hand to
	// Postinsert. Several misses may be mid-flight at once as long as
	// each one's Preinsert/Postinsert pair is not interleaved with
	// another's on the same victim id.
	pending map[uint32][]uint32

	stats cachearray.Stats
}

// New builds a skew-associative array of numLines lines split across
// ways hash functions, searching up to candBudget BFS candidates per
// eviction. numLines/ways must be a power of two.
func New(
	numLines, ways, candBudget uint32,
	policy replpolicy.ReplPolicy, hash hashfamily.HashFamily,
) *Array {
	if ways < 2 {
		panic(fmt.Errorf("skew: ways must be >= 2, got %d", ways))
	}
	if candBudget < ways {
		panic(fmt.Errorf("skew: candidate budget %d below ways %d", candBudget, ways))
	}
	if numLines%ways != 0 {
		panic(fmt.Errorf("skew: numLines %d not a multiple of ways %d", numLines, ways))
	}

	numSets := numLines / ways
	if numSets&(numSets-1) != 0 {
		panic(fmt.Errorf("skew: must have a power-of-two number of sets, got %d", numSets))
	}

	lookupArray := make([]uint32, numLines)
	for i := range lookupArray {
		lookupArray[i] = uint32(i)
	}

	return &Array{
		entries:     make([]Entry, numLines),
		lookupArray: lookupArray,
		policy:      policy,
		hash:        hash,
		numLines:    numLines,
		ways:        ways,
		numSets:     numSets,
		setMask:     numSets - 1,
		cands:       candBudget,
		pending:     make(map[uint32][]uint32),
	}
}

func (a *Array) positionOf(way uint32, addr mem.Address) uint32 {
	return way*a.numSets + uint32(a.hash.Hash(way, addr))&a.setMask
}

// Lookup implements cachearray.CacheArray.
func (a *Array) Lookup(
	lineAddr mem.Address, req *mem.Req, updateReplacement bool,
) (int32, mem.Cycle) {
	if lineAddr == 0 {
		panic("skew: lookup called with lineAddr == 0")
	}

	if req != nil && mem.IsHWPrefetch(req) {
		a.stats.PrefAccesses++
	}

	for w := uint32(0); w < a.ways; w++ {
		pos := a.positionOf(w, lineAddr)
		lineID := a.lookupArray[pos]
		e := &a.entries[lineID]

		if e.Addr != lineAddr {
			continue
		}

		if req == nil || req.Prefetch() {
			return int32(lineID), e.AvailCycle
		}

		if mem.IsHWPrefetch(req) {
			a.stats.PrefInCache++
		}

		if updateReplacement && !req.Prefetch() {
			a.policy.Update(lineID, req)
		}

		if req.Size > 0 {
			base := lineAddr << mem.LineBits
			offset := uint8(req.VAddr - base)
			e.AccessMask = uint64(accessmask.SetAccessed(
				accessmask.Mask(e.AccessMask), offset, offset+uint8(req.Size),
			))
		}

		availCycle := reconcileAvailability(&a.stats, e, req)

		if mem.IsDemandLoad(req) {
			a.stats.HitDelayCycles += uint64(availCycle - req.Cycle)
		}

		return int32(lineID), availCycle
	}

	if req != nil && mem.IsHWPrefetch(req) {
		a.stats.PrefNotInCache++
	}

	return cachearray.FullMiss, 0
}

// reconcileAvailability is identical to setassoc's: reconciling a
// matched entry's in-flight fill against the current request does
// not vary by array organization.
func reconcileAvailability(stats *cachearray.Stats, e *Entry, req *mem.Req) mem.Cycle {
	if req.Cycle >= e.AvailCycle {
		availCycle := req.Cycle

		if e.Prefetch && mem.IsDemandLoad(req) {
			stats.PrefHits++
			stats.PrefSavedCyc += uint64(e.AvailCycle - e.StartCycle)
			e.Prefetch = false
		} else if e.Prefetch && mem.IsHWPrefetch(req) {
			stats.PrefHitPref++
		}

		return availCycle
	}

	var availCycle mem.Cycle
	if req.Cycle < e.StartCycle {
		availCycle = e.AvailCycle - (e.StartCycle - req.Cycle)
		e.AvailCycle = availCycle
		e.StartCycle = req.Cycle

		if mem.IsDemandLoad(req) {
			stats.PrefInaccurateOOO++
		}
	} else {
		availCycle = e.AvailCycle
	}

	if e.Prefetch && mem.IsDemandLoad(req) {
		stats.PrefLateMiss++
		stats.PrefTotalLateCyc += uint64(availCycle - req.Cycle)
		stats.PrefSavedCyc += uint64(req.Cycle - e.StartCycle)

		if mem.IsHWPrefetch(req) {
			stats.PrefHitPref++
		}

		e.Prefetch = false
	} else if e.Prefetch && mem.IsHWPrefetch(req) {
		stats.PrefHitPref++
	}

	return availCycle
}

// Preinsert implements cachearray.CacheArray. It runs a BFS over the
// candidate tree reachable from lineAddr's seed positions and stashes
// the resulting swap chain for the matching Postinsert to apply.
func (a *Array) Preinsert(lineAddr mem.Address, req *mem.Req) (uint32, mem.Address) {
	buf := make([]cand, 0, a.cands+a.ways)
	allValid := true

	for w := uint32(0); w < a.ways; w++ {
		pos := a.positionOf(w, lineAddr)
		lineID := a.lookupArray[pos]
		buf = append(buf, cand{pos: pos, lineID: lineID, parent: -1})
		allValid = allValid && a.entries[lineID].Addr != 0
	}

	numCandidates := a.ways
	fringe := uint32(0)
	steps := uint32(0)

	for numCandidates < a.cands && allValid {
		steps++
		if steps > a.cands+a.ways {
			panic("skew: BFS candidate expansion did not terminate")
		}

		fringeID := buf[fringe].lineID
		fringeAddr := a.entries[fringeID].Addr
		if fringeAddr == 0 {
			panic("skew: BFS expanded from an invalid fringe candidate")
		}

		for w := uint32(0); w < a.ways; w++ {
			pos := a.positionOf(w, fringeAddr)
			lineID := a.lookupArray[pos]
			if lineID == fringeID {
				continue // self-loop: revisiting the node we expanded from
			}

			buf = append(buf, cand{pos: pos, lineID: lineID, parent: int32(fringe)})
			numCandidates++
			allValid = allValid && a.entries[lineID].Addr != 0
		}

		fringe++
	}

	if numCandidates > a.cands {
		numCandidates = a.cands
	}
	buf = buf[:numCandidates]

	lineIDs := make([]uint32, len(buf))
	for i, c := range buf {
		lineIDs[i] = c.lineID
	}

	victim := a.policy.RankCands(req, lineIDs)

	minIdx := -1
	for i, c := range buf {
		if c.lineID == victim {
			minIdx = i
			break
		}
	}
	if minIdx < 0 {
		panic("skew: replacement policy returned a candidate outside the set it was given")
	}

	var swapArray []uint32
	for idx := int32(minIdx); idx >= 0; idx = buf[idx].parent {
		swapArray = append(swapArray, buf[idx].pos)
	}

	a.pending[victim] = swapArray

	return victim, a.entries[victim].Addr
}

// Postinsert implements cachearray.CacheArray: it applies the swap
// chain computed by Preinsert, then finalizes the victim's entry.
func (a *Array) Postinsert(
	lineAddr mem.Address, req *mem.Req, victimID uint32, respCycle mem.Cycle,
) {
	swapArray, ok := a.pending[victimID]
	if !ok {
		panic(fmt.Errorf("skew: postinsert for lineId %d with no matching preinsert", victimID))
	}
	delete(a.pending, victimID)

	for i := 0; i < len(swapArray)-1; i++ {
		a.lookupArray[swapArray[i]] = a.lookupArray[swapArray[i+1]]
	}
	a.lookupArray[swapArray[len(swapArray)-1]] = victimID
	a.stats.Swaps += uint64(len(swapArray) - 1)

	e := &a.entries[victimID]

	cachearray.CreditEviction(&a.stats, e.AccessMask)
	e.AccessMask = 0

	a.policy.Replaced(victimID)

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

	a.policy.Update(victimID, req)
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
	for i := range a.lookupArray {
		a.lookupArray[i] = uint32(i)
	}

	a.pending = make(map[uint32][]uint32)
	a.stats = cachearray.Stats{}
}

var _ cachearray.CacheArray = (*Array)(nil)

// Package vcl implements the Variable-Cache-Line CacheArray: a subset
// of ways ("buffer ways") hold full 64-byte lines in FIFO rotation,
// and on eviction a buffer line's access footprint is demoted into
// one or more sub-line ways sized to the footprint's contiguous runs.
//
// VCL is, physically, a set-associative array whose ways carry
// variable extents; inserting a line is a caller-driven four-stage
// sequence (Preinsert/PreinsertDemotion/Postinsert/PostinsertDemotion)
// so the demoted sub-line ways can be chosen and finalized alongside
// the buffer-way insert they originate from.
package vcl

import (
	"fmt"
	"sort"

	"github.com/sarchlab/cachearray/accessmask"
	"github.com/sarchlab/cachearray/cachearray"
	"github.com/sarchlab/cachearray/hashfamily"
	"github.com/sarchlab/cachearray/mem"
	"github.com/sarchlab/cachearray/replpolicy"
)

// Entry is a VCL line entry: the set-assoc fields plus the sub-line
// extent and buffer-way FIFO counter.
type Entry struct {
	Addr        mem.Address
	AvailCycle  mem.Cycle
	StartCycle  mem.Cycle
	Prefetch    bool
	PC          uint64
	AccessMask  uint64
	StartOffset uint8
	BlockSize   uint8
	FifoCtr     uint8
}

func (e *Entry) endOffset() uint8 {
	if e.BlockSize == 0 {
		return e.StartOffset
	}

	return e.StartOffset + e.BlockSize - 1
}

// Array is a VCL CacheArray. Buffer ways must be the assoc's
// highest-indexed ways (sorted, contiguous): non-buffer ways then
// occupy the contiguous range [0, assoc-len(bufferWays)), which is
// what the replacement policy's way/maxWay arithmetic assumes.
type Array struct {
	entries    []Entry
	waySizes   []uint8
	bufferWays []uint32

	policy replpolicy.VCLPolicy
	hash   hashfamily.HashFamily

	numLines uint32
	assoc    uint32
	numSets  uint32
	setMask  uint32
	maxWay   uint32 // assoc - len(bufferWays)

	stats cachearray.Stats
}

// New builds a VCL array. waySizes is indexed by way and gives each
// way's maximum sub-line extent in bytes; bufferWays names the ways
// that act as full-line FIFO buffers.
func New(
	numLines uint32, waySizes []uint8, bufferWays []uint32,
	policy replpolicy.VCLPolicy, hash hashfamily.HashFamily,
) *Array {
	assoc := uint32(len(waySizes))
	if assoc == 0 || numLines%assoc != 0 {
		panic(fmt.Errorf("vcl: numLines %d not a multiple of len(waySizes) %d", numLines, assoc))
	}

	numSets := numLines / assoc
	if numSets&(numSets-1) != 0 {
		panic(fmt.Errorf("vcl: must have a power-of-two number of sets, got %d", numSets))
	}

	if len(bufferWays) == 0 || uint32(len(bufferWays)) >= assoc {
		panic(fmt.Errorf("vcl: bufferWays must be non-empty and smaller than assoc %d", assoc))
	}

	sorted := append([]uint32(nil), bufferWays...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	maxWay := assoc - uint32(len(sorted))
	for i, w := range sorted {
		if w >= assoc {
			panic(fmt.Errorf("vcl: buffer way %d out of range for assoc %d", w, assoc))
		}
		if w != maxWay+uint32(i) {
			panic(fmt.Errorf("vcl: buffer ways must be the trailing %d way indices", len(sorted)))
		}
	}

	a := &Array{
		entries:    make([]Entry, numLines),
		waySizes:   waySizes,
		bufferWays: sorted,
		policy:     policy,
		hash:       hash,
		numLines:   numLines,
		assoc:      assoc,
		numSets:    numSets,
		setMask:    numSets - 1,
		maxWay:     maxWay,
	}

	for set := uint32(0); set < numSets; set++ {
		first := set * assoc
		for i, w := range sorted {
			a.entries[first+w].FifoCtr = uint8(i)
		}
	}

	return a
}

func (a *Array) setOf(lineAddr mem.Address) uint32 {
	return uint32(a.hash.Hash(0, lineAddr)) & a.setMask
}

// LookupOutOfRange is VCL's rich lookup: on a resident-but-wrong-range
// match it reports OutOfRangeMiss on the primary channel and the
// matched id via prevID.
func (a *Array) LookupOutOfRange(
	lineAddr mem.Address, req *mem.Req, updateReplacement bool,
) (id int32, availCycle mem.Cycle, prevID int32) {
	first := a.setOf(lineAddr) * a.assoc

	if req != nil && mem.IsHWPrefetch(req) {
		a.stats.PrefAccesses++
	}

	for slot := first; slot < first+a.assoc; slot++ {
		e := &a.entries[slot]
		if e.Addr != lineAddr {
			continue
		}

		if req == nil || req.Prefetch() {
			return int32(slot), e.AvailCycle, -1
		}

		if mem.IsHWPrefetch(req) {
			a.stats.PrefInCache++
		}

		if updateReplacement && !req.Prefetch() {
			a.policy.Update(slot, req)
		}

		base := lineAddr << mem.LineBits
		offset := uint8(req.VAddr - base)

		if req.Size > 0 {
			e.AccessMask = uint64(accessmask.SetAccessed(
				accessmask.Mask(e.AccessMask), offset, offset+uint8(req.Size),
			))
		}

		inRange := req.Size == 0 ||
			(offset >= e.StartOffset && offset+uint8(req.Size) <= e.StartOffset+e.BlockSize)

		if !inRange {
			return cachearray.OutOfRangeMiss, 0, int32(slot)
		}

		avail := reconcileAvailability(&a.stats, e, req)

		if mem.IsDemandLoad(req) {
			a.stats.HitDelayCycles += uint64(avail - req.Cycle)
		}

		return int32(slot), avail, -1
	}

	if req != nil && mem.IsHWPrefetch(req) {
		a.stats.PrefNotInCache++
	}

	return cachearray.FullMiss, 0, -1
}

// Lookup implements cachearray.CacheArray by discarding the
// out-of-range secondary channel; callers needing it call
// LookupOutOfRange directly.
func (a *Array) Lookup(
	lineAddr mem.Address, req *mem.Req, updateReplacement bool,
) (int32, mem.Cycle) {
	id, avail, _ := a.LookupOutOfRange(lineAddr, req, updateReplacement)

	return id, avail
}

func reconcileAvailability(stats *cachearray.Stats, e *Entry, req *mem.Req) mem.Cycle {
	if req.Cycle >= e.AvailCycle {
		avail := req.Cycle

		if e.Prefetch && mem.IsDemandLoad(req) {
			stats.PrefHits++
			stats.PrefSavedCyc += uint64(e.AvailCycle - e.StartCycle)
			e.Prefetch = false
		} else if e.Prefetch && mem.IsHWPrefetch(req) {
			stats.PrefHitPref++
		}

		return avail
	}

	var avail mem.Cycle
	if req.Cycle < e.StartCycle {
		avail = e.AvailCycle - (e.StartCycle - req.Cycle)
		e.AvailCycle = avail
		e.StartCycle = req.Cycle

		if mem.IsDemandLoad(req) {
			stats.PrefInaccurateOOO++
		}
	} else {
		avail = e.AvailCycle
	}

	if e.Prefetch && mem.IsDemandLoad(req) {
		stats.PrefLateMiss++
		stats.PrefTotalLateCyc += uint64(avail - req.Cycle)
		stats.PrefSavedCyc += uint64(req.Cycle - e.StartCycle)

		if mem.IsHWPrefetch(req) {
			stats.PrefHitPref++
		}

		e.Prefetch = false
	} else if e.Prefetch && mem.IsHWPrefetch(req) {
		stats.PrefHitPref++
	}

	return avail
}

// Preinsert implements cachearray.CacheArray: stage 1, selecting the
// buffer way due for FIFO replacement in lineAddr's set. The returned
// address is the line currently occupying that buffer slot. That line
// is demoted by PreinsertDemotion if its access mask is nonzero, and
// discarded otherwise.
func (a *Array) Preinsert(lineAddr mem.Address, req *mem.Req) (uint32, mem.Address) {
	set := a.setOf(lineAddr)
	victim := a.selectBufferVictim(set)

	return victim, a.entries[victim].Addr
}

func (a *Array) selectBufferVictim(set uint32) uint32 {
	first := set * a.assoc

	victim := uint32(0)
	found := false

	for _, w := range a.bufferWays {
		id := first + w
		if a.entries[id].FifoCtr == 0 && !found {
			victim = id
			found = true
		}
	}

	if !found {
		panic("vcl: no buffer way is due for replacement")
	}

	for _, w := range a.bufferWays {
		id := first + w
		if id == victim {
			a.entries[id].FifoCtr = uint8(len(a.bufferWays) - 1)
		} else {
			a.entries[id].FifoCtr--
		}
	}

	return victim
}

// PreinsertDemotion is stage 2: it decomposes the outgoing buffer
// entry's access mask into runs and ranks a non-buffer way for each,
// largest run first, never double-claiming a way within one demotion
// batch.
func (a *Array) PreinsertDemotion(
	bufferVictimID uint32, req *mem.Req,
) []cachearray.ReplacementCandidate {
	mask := a.entries[bufferVictimID].AccessMask
	if mask == 0 {
		return nil
	}

	runs := accessmask.Runs(accessmask.Mask(mask))
	sort.SliceStable(runs, func(i, j int) bool {
		return (runs[i].Hi - runs[i].Lo) > (runs[j].Hi - runs[j].Lo)
	})

	first := bufferVictimID - bufferVictimID%a.assoc

	allWays := make([]uint32, a.maxWay)
	for i := uint32(0); i < a.maxWay; i++ {
		allWays[i] = first + i
	}

	claimed := make(map[uint32]bool, len(runs))
	out := make([]cachearray.ReplacementCandidate, 0, len(runs))

	for _, r := range runs {
		size := r.Hi - r.Lo + 1

		avail := make([]uint32, 0, len(allWays))
		for _, id := range allWays {
			if !claimed[id] {
				avail = append(avail, id)
			}
		}
		if len(avail) == 0 {
			panic("vcl: demotion ran out of eligible ways for an access run")
		}

		targetID := a.policy.Rank(req, avail, size, a.maxWay)
		claimed[targetID] = true

		chosenSize := size
		if way := a.waySizes[targetID%a.assoc]; way > chosenSize {
			chosenSize = way
		}

		start := r.Lo
		if uint16(start)+uint16(chosenSize) > 64 {
			start = 64 - chosenSize
		}
		end := start + chosenSize - 1

		out = append(out, cachearray.ReplacementCandidate{
			ArrayIdx:    targetID,
			WriteBack:   a.entries[targetID].Addr,
			StartOffset: start,
			EndOffset:   end,
			AccessMask:  a.entries[targetID].AccessMask,
		})
	}

	return out
}

// Postinsert implements cachearray.CacheArray: stage 3, writing the
// newly-fetched full line into the buffer slot chosen by Preinsert.
func (a *Array) Postinsert(
	lineAddr mem.Address, req *mem.Req, victimID uint32, respCycle mem.Cycle,
) {
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
	e.StartOffset = 0
	e.BlockSize = mem.LineSize

	a.policy.Update(victimID, req)
}

// PostinsertDemotion is stage 4: it writes outgoingAddr (the address
// Preinsert reported as occupying the buffer slot before Postinsert
// overwrote it) into each sub-line way PreinsertDemotion chose.
func (a *Array) PostinsertDemotion(
	outgoingAddr mem.Address, req *mem.Req,
	cands []cachearray.ReplacementCandidate, respCycle mem.Cycle,
) {
	for _, c := range cands {
		e := &a.entries[c.ArrayIdx]

		cachearray.CreditEviction(&a.stats, e.AccessMask)
		e.AccessMask = 0

		a.policy.Replaced(c.ArrayIdx)

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
		e.Addr = outgoingAddr
		e.AvailCycle = respCycle
		e.StartCycle = req.Cycle
		e.PC = req.PC
		e.AccessMask = 0
		e.StartOffset = c.StartOffset
		e.BlockSize = c.EndOffset - c.StartOffset + 1

		a.policy.Update(c.ArrayIdx, req)
	}
}

// Entries returns the current residents of lineAddr's home set,
// optionally invalidating them. Used by upper layers to migrate
// entries after an OutOfRangeMiss.
func (a *Array) Entries(lineAddr mem.Address, invalidate bool) []cachearray.ReplacementCandidate {
	first := a.setOf(lineAddr) * a.assoc

	out := make([]cachearray.ReplacementCandidate, a.assoc)
	for i := uint32(0); i < a.assoc; i++ {
		id := first + i
		e := &a.entries[id]

		out[i] = cachearray.ReplacementCandidate{
			ArrayIdx:    id,
			WriteBack:   e.Addr,
			StartOffset: e.StartOffset,
			EndOffset:   e.endOffset(),
			AccessMask:  e.AccessMask,
		}

		if invalidate {
			cachearray.CreditEviction(&a.stats, e.AccessMask)
			a.policy.Replaced(id)
			*e = Entry{}
		}
	}

	if invalidate {
		for i, w := range a.bufferWays {
			a.entries[first+w].FifoCtr = uint8(i)
		}
	}

	return out
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

	for set := uint32(0); set < a.numSets; set++ {
		first := set * a.assoc
		for i, w := range a.bufferWays {
			a.entries[first+w].FifoCtr = uint8(i)
		}
	}

	a.stats = cachearray.Stats{}
}

var _ cachearray.CacheArray = (*Array)(nil)

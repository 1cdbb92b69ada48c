// Package cachearray defines the shared CacheArray contract that the
// set-associative, skew, and VCL array organizations implement, plus
// the statistics surface they all publish.
package cachearray

import "github.com/sarchlab/cachearray/mem"

// Sentinel lookup outcomes.
const (
	FullMiss       int32 = -1
	OutOfRangeMiss int32 = -2
)

// CacheArray is the uniform lookup/preinsert/postinsert contract
// every array organization implements. Operations on a miss are
// invoked in order: lookup (miss) -> preinsert -> postinsert, with
// arbitrary intervening lookups on other addresses permitted between
// preinsert and postinsert for the same miss.
type CacheArray interface {
	// Lookup returns a line id on hit, FullMiss on miss, and the
	// availability cycle the caller should use. updateReplacement
	// gates whether a hit notifies the replacement policy.
	Lookup(
		lineAddr mem.Address, req *mem.Req, updateReplacement bool,
	) (id int32, availCycle mem.Cycle)

	// Preinsert runs the replacement policy over the candidates for
	// lineAddr and returns the victim id plus the address currently
	// held there (for the caller to drive eviction/writeback). It
	// performs no mutation of line storage.
	Preinsert(lineAddr mem.Address, req *mem.Req) (victimID uint32, wbAddr mem.Address)

	// Postinsert finalizes the insert chosen by a prior Preinsert.
	Postinsert(lineAddr mem.Address, req *mem.Req, victimID uint32, respCycle mem.Cycle)

	// Stats returns a value copy of the named counters/histogram this
	// array has accumulated.
	Stats() Stats

	// Reset invalidates every line and zeroes the array's statistics.
	// The replacement policy's state is not reset.
	Reset()
}

// ReplacementCandidate is the tuple preinsert produces and postinsert
// consumes. For non-VCL arrays StartOffset/EndOffset are always 0/63.
type ReplacementCandidate struct {
	ArrayIdx    uint32
	WriteBack   mem.Address
	StartOffset uint8
	EndOffset   uint8
	AccessMask  uint64
}

// Stats is the named counter/histogram surface every array
// implementation publishes. CacheLineUsedBytes is indexed by
// accessed-run length (bucket 0 is unused; valid buckets are [1, 64]).
type Stats struct {
	PrefHits           uint64
	PrefEarlyMiss      uint64
	PrefLateMiss       uint64
	PrefTotalLateCyc   uint64
	PrefSavedCyc       uint64
	PrefInCache        uint64
	PrefNotInCache     uint64
	PrefPostInsert     uint64
	PrefReplacePref    uint64
	PrefHitPref        uint64
	PrefAccesses       uint64
	PrefInaccurateOOO  uint64
	HitDelayCycles     uint64
	CacheLineUsedBytes [65]uint64

	// Swaps is only meaningful for the skew array.
	Swaps uint64
	// PrefOutOfBoundsMiss is published for the VCL array, but no array
	// in this module increments it, so it always reads 0.
	PrefOutOfBoundsMiss uint64
}

// CreditEviction decomposes a retiring line's access mask into runs
// and credits one CacheLineUsedBytes observation per run length.
// Exported for use by the setassoc/skew/vcl packages, each of which
// owns its own Stats value.
func CreditEviction(s *Stats, mask uint64) {
	if mask == 0 {
		return
	}

	for b := 0; b < 64; {
		if mask&(1<<uint(b)) == 0 {
			b++
			continue
		}

		start := b
		for b < 64 && mask&(1<<uint(b)) != 0 {
			b++
		}

		s.CacheLineUsedBytes[b-start]++
	}
}

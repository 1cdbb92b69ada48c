// Package cc declares the coherence-controller contract the
// cache-array core calls outward into. CC is an external collaborator:
// the core invokes these methods but does not interpret their return
// values beyond propagating respCycle.
package cc

import "github.com/sarchlab/cachearray/mem"

// CC is the coherence controller a cache component wires its array
// to. Implementations live outside this module.
type CC interface {
	StartAccess(req *mem.Req) (skip bool)
	EndAccess(req *mem.Req)
	ShouldAllocate(req *mem.Req) bool
	IsValid(lineID uint32) bool
	ProcessAccess(req *mem.Req, lineID uint32, respCycle mem.Cycle) mem.Cycle
	ProcessEviction(
		req *mem.Req, wbAddr mem.Address, lineID uint32, respCycle mem.Cycle,
	) mem.Cycle
}

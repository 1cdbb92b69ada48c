// Package replpolicy declares the replacement-policy contract the
// cache-array core calls into. The core imposes no policy semantics;
// it only guarantees the update/replaced callbacks bracket every
// insertion and that rankCands/rank are called with exactly the
// candidate set a given array organization produces.
package replpolicy

import "github.com/sarchlab/cachearray/mem"

// ReplPolicy ranks a set of line-id candidates for eviction and
// receives access/replacement notifications. cands is the candidate
// set; rankCands must return one of its elements.
type ReplPolicy interface {
	// Update records an observed access to lineID.
	Update(lineID uint32, req *mem.Req)
	// Replaced resets any per-line state lineID is about to lose.
	Replaced(lineID uint32)
	// RankCands chooses a victim among cands.
	RankCands(req *mem.Req, cands []uint32) uint32
}

// VCLPolicy extends ReplPolicy with the VCL-specific ranking used
// during sub-line demotion: Rank additionally receives the minimum
// way size a candidate must offer and the highest way index eligible
// (buffer ways are excluded by construction).
type VCLPolicy interface {
	ReplPolicy
	Rank(req *mem.Req, cands []uint32, size uint8, maxWay uint32) uint32
}

// Package mem defines the request and address types consumed by the
// cache-array core: an address type, a request descriptor, and the
// request-type/flag vocabulary needed to classify an access.
package mem

// LineBits is the log2 of the cache line size. The core fixes the line
// size at 64 bytes, matching AccessMask's 64-bit width.
const LineBits = 6

// LineSize is the number of bytes in a cache line.
const LineSize = 1 << LineBits

// Address is a physical byte address.
type Address uint64

// LineAddr shifts a byte address down into a line address.
func (a Address) LineAddr() Address {
	return a >> LineBits
}

// Cycle is a monotonically-non-decreasing simulation time unit.
type Cycle uint64

// ReqType classifies a memory access.
type ReqType int

// The request types the core distinguishes. Only GETS and GETX notify
// the replacement policy on a hit (see UpdatesReplacement); PUTS/PUTX
// are still looked up and inserted like any other request when the
// trace replayer passes them to an array.
const (
	GETS ReqType = iota
	GETX
	PUTS
	PUTX
)

// Flags is a bitset of request modifiers.
type Flags uint32

// Request modifier bits.
const (
	FlagPrefetch       Flags = 1 << 0
	FlagSpeculative    Flags = 1 << 1
	FlagSWSpeculative  Flags = 1 << 2
)

// Req is the per-access descriptor the core consumes. It is owned by
// the caller; the array never retains a reference to it past the call
// that received it.
type Req struct {
	LineAddr Address
	VAddr    Address
	Size     uint64
	Cycle    Cycle
	PC       uint64
	Type     ReqType
	Flags    Flags

	// Skip is a nonzero prefetch-skip: the request should not mutate
	// replacement state on this cache level. Kept as a distinct field
	// from Flags because it gates lookup's side effects rather than
	// classifying the access.
	Skip uint32
}

// Prefetch reports the nonzero-skip condition described above: a
// lookup against a request in this state returns the hit id with no
// side effects.
func (r *Req) Prefetch() bool {
	if r == nil {
		return false
	}

	return r.Skip != 0
}

// IsHWPrefetch reports a hardware prefetch: PREFETCH set and
// SW_SPECULATIVE clear.
func IsHWPrefetch(r *Req) bool {
	if r == nil {
		return false
	}

	return r.Flags&FlagPrefetch != 0 && r.Flags&FlagSWSpeculative == 0
}

// IsDemandLoad reports a non-prefetch load: GETS and PREFETCH clear.
func IsDemandLoad(r *Req) bool {
	if r == nil {
		return false
	}

	return r.Type == GETS && r.Flags&FlagPrefetch == 0
}

// UpdatesReplacement reports whether this request type should notify
// the replacement policy on a hit. Only demand-style loads and stores
// do.
func (r *Req) UpdatesReplacement() bool {
	return r.Type == GETS || r.Type == GETX
}

// Package hashfamily provides the HashFamily contract the cache-array
// core uses to map a line address to a set index: a one-method
// interface plus a couple of concrete, constructor-built
// implementations.
package hashfamily

import "github.com/sarchlab/cachearray/mem"

// HashFamily produces, for a given way selector, a pure permutation of
// line addresses. Set-associative arrays only ever call way 0; skew
// arrays call every way in [0, ways) and require the resulting indices
// to be statistically independent modulo numSets.
type HashFamily interface {
	Hash(way uint32, addr mem.Address) uint64
}

// Multiplicative is a HashFamily built from per-way odd multipliers
// followed by a xorshift-style avalanche. It is the default family:
// cheap, branch-free, and independent enough across ways for the skew
// array's BFS to explore distinct candidate sets per way.
type Multiplicative struct {
	multipliers []uint64
}

// NewMultiplicative builds a Multiplicative family with numWays
// distinct odd multipliers derived from a seed. Any numWays >= 1 is
// accepted; set-associative callers only ever exercise way 0.
func NewMultiplicative(seed uint64, numWays uint32) *Multiplicative {
	if seed == 0 {
		seed = 0x9e3779b97f4a7c15
	}

	h := &Multiplicative{multipliers: make([]uint64, numWays)}
	state := seed

	for w := uint32(0); w < numWays; w++ {
		state = splitmix64(state)
		h.multipliers[w] = state | 1 // force odd
	}

	return h
}

// Hash returns a pure function of (way, addr).
func (h *Multiplicative) Hash(way uint32, addr mem.Address) uint64 {
	m := h.multipliers[way]
	x := uint64(addr) * m

	// avalanche so low bits (commonly masked by setMask) mix in high
	// bits of the multiplication.
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33

	return x
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	z := x
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb

	return z ^ (z >> 31)
}

// XorFold is a simpler HashFamily: it folds the address with a per-way
// rotation constant. It is cheaper than Multiplicative and useful for
// tests that want a predictable, hand-traceable hash. Unlike
// Multiplicative it is not a permutation: an address and its bitwise
// complement hash to the same value.
type XorFold struct {
	rotations []uint32
}

// NewXorFold builds an XorFold family with a distinct rotation amount
// per way.
func NewXorFold(numWays uint32) *XorFold {
	h := &XorFold{rotations: make([]uint32, numWays)}
	for w := uint32(0); w < numWays; w++ {
		h.rotations[w] = (w*17 + 1) % 63
	}

	return h
}

// Hash rotates addr by the way's rotation amount and xor-folds it.
func (h *XorFold) Hash(way uint32, addr mem.Address) uint64 {
	r := h.rotations[way]
	x := uint64(addr)
	rotated := (x << r) | (x >> (64 - r))

	return rotated ^ x
}

package skew

import (
	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cachearray/cachearray"
	"github.com/sarchlab/cachearray/mem"
	"github.com/sarchlab/cachearray/replpolicy/lru"
)

// identityHash ignores way; positionOf still separates ways into
// disjoint numSets-sized bands, so this is enough to drive deliberate
// slot collisions in tests.
type identityHash struct{}

func (identityHash) Hash(_ uint32, addr mem.Address) uint64 { return uint64(addr) }

func insert(array *Array, lineAddr mem.Address, cycle mem.Cycle) (victim uint32, wbAddr mem.Address) {
	req := &mem.Req{LineAddr: lineAddr, Cycle: cycle, Type: mem.GETS}
	victim, wbAddr = array.Preinsert(lineAddr, req)
	array.Postinsert(lineAddr, req, victim, cycle+1)

	return victim, wbAddr
}

var _ = ginkgo.Describe("Array", func() {
	ginkgo.It("should reject fewer than 2 ways", func() {
		Expect(func() { New(4, 1, 4, lru.New(4), identityHash{}) }).To(Panic())
	})

	ginkgo.It("should reject a candidate budget smaller than ways", func() {
		Expect(func() { New(4, 2, 1, lru.New(4), identityHash{}) }).To(Panic())
	})

	ginkgo.It("should miss on an empty array", func() {
		array := New(4, 2, 2, lru.New(4), identityHash{})
		id, _ := array.Lookup(1, &mem.Req{LineAddr: 1, Cycle: 0, Type: mem.GETS}, true)
		Expect(id).To(Equal(cachearray.FullMiss))
	})

	ginkgo.It("should hit after an insert", func() {
		array := New(4, 2, 2, lru.New(4), identityHash{})
		victim, _ := insert(array, 1, 10)

		id, avail := array.Lookup(1, &mem.Req{LineAddr: 1, Cycle: 20, Type: mem.GETS}, true)
		Expect(id).To(Equal(int32(victim)))
		Expect(avail).To(Equal(mem.Cycle(20)))
	})

	ginkgo.It("should evict something when both slots for a pool are full", func() {
		array := New(4, 2, 2, lru.New(4), identityHash{})

		// Odd addresses 1, 3 map to the same two-slot pool under
		// identityHash (positions 1 and 3).
		insert(array, 1, 1)
		insert(array, 3, 2)

		victim, wbAddr := array.Preinsert(5, &mem.Req{LineAddr: 5, Cycle: 3, Type: mem.GETS})
		Expect(wbAddr).To(BeElementOf(mem.Address(1), mem.Address(3)))

		req := &mem.Req{LineAddr: 5, Cycle: 3, Type: mem.GETS}
		array.Postinsert(5, req, victim, 4)

		id, _ := array.Lookup(5, &mem.Req{LineAddr: 5, Cycle: 5, Type: mem.GETS}, true)
		Expect(id).NotTo(Equal(cachearray.FullMiss))
	})

	ginkgo.It("should panic if postinsert is called without a matching preinsert", func() {
		array := New(4, 2, 2, lru.New(4), identityHash{})
		Expect(func() {
			array.Postinsert(1, &mem.Req{LineAddr: 1, Cycle: 1, Type: mem.GETS}, 99, 2)
		}).To(Panic())
	})

	ginkgo.It("should search a wider candidate budget and keep the last inserted line resident", func() {
		array := New(8, 2, 6, lru.New(8), identityHash{})

		var last mem.Address
		for i, addr := range []mem.Address{1, 3, 5, 7, 9, 11} {
			Expect(func() { insert(array, addr, mem.Cycle(i)) }).NotTo(Panic())
			last = addr
		}

		id, _ := array.Lookup(last, &mem.Req{LineAddr: last, Cycle: 20, Type: mem.GETS}, true)
		Expect(id).NotTo(Equal(cachearray.FullMiss))
	})

	ginkgo.It("should reset all state", func() {
		array := New(4, 2, 2, lru.New(4), identityHash{})
		insert(array, 1, 1)

		array.Reset()

		id, _ := array.Lookup(1, &mem.Req{LineAddr: 1, Cycle: 2, Type: mem.GETS}, true)
		Expect(id).To(Equal(cachearray.FullMiss))
		Expect(array.Stats()).To(Equal(cachearray.Stats{}))
		Expect(array.pending).To(BeEmpty())
	})
})

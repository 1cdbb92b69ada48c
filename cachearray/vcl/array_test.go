package vcl

import (
	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cachearray/cachearray"
	"github.com/sarchlab/cachearray/mem"
	"github.com/sarchlab/cachearray/replpolicy/lru"
)

type identityHash struct{}

func (identityHash) Hash(_ uint32, addr mem.Address) uint64 { return uint64(addr) }

func newTestArray() *Array {
	waySizes := []uint8{16, 16, 64, 64}
	bufferWays := []uint32{2, 3}
	policy := lru.NewVCL(8, waySizes, 4)

	return New(8, waySizes, bufferWays, policy, identityHash{})
}

var _ = ginkgo.Describe("Array", func() {
	ginkgo.It("should reject non-trailing buffer ways", func() {
		waySizes := []uint8{16, 16, 64, 64}
		policy := lru.NewVCL(8, waySizes, 4)

		Expect(func() {
			New(8, waySizes, []uint32{0, 1}, policy, identityHash{})
		}).To(Panic())
	})

	ginkgo.It("should miss on an empty array", func() {
		array := newTestArray()
		id, _, _ := array.LookupOutOfRange(2, &mem.Req{LineAddr: 2, Cycle: 0, Type: mem.GETS}, true)
		Expect(id).To(Equal(cachearray.FullMiss))
	})

	ginkgo.It("should insert into the first due buffer way", func() {
		array := newTestArray()

		req := &mem.Req{LineAddr: 2, Cycle: 1, Type: mem.GETS}
		victim, wbAddr := array.Preinsert(2, req)
		Expect(victim).To(Equal(uint32(2)))
		Expect(wbAddr).To(Equal(mem.Address(0)))

		demotion := array.PreinsertDemotion(victim, req)
		Expect(demotion).To(BeNil())

		array.Postinsert(2, req, victim, 5)
		array.PostinsertDemotion(wbAddr, req, demotion, 5)

		id, avail, _ := array.LookupOutOfRange(2, &mem.Req{LineAddr: 2, Cycle: 6, Type: mem.GETS}, true)
		Expect(id).To(Equal(int32(2)))
		Expect(avail).To(Equal(mem.Cycle(6)))
	})

	ginkgo.It("should rotate buffer-way FIFO victims and demote an evicted line's footprint", func() {
		array := newTestArray()

		// 1. fill buffer way 2 with line address 2.
		req1 := &mem.Req{LineAddr: 2, Cycle: 1, Type: mem.GETS}
		v1, wb1 := array.Preinsert(2, req1)
		Expect(v1).To(Equal(uint32(2)))
		demotion1 := array.PreinsertDemotion(v1, req1)
		array.Postinsert(2, req1, v1, 5)
		array.PostinsertDemotion(wb1, req1, demotion1, 5)

		// 2. touch bytes [4, 12) of line 2, building an 8-byte run.
		touch := &mem.Req{LineAddr: 2, VAddr: 132, Size: 8, Cycle: 10, Type: mem.GETS}
		id, _, _ := array.LookupOutOfRange(2, touch, true)
		Expect(id).To(Equal(int32(2)))

		// 3. fill buffer way 3 with line address 6, rotating the FIFO
		// back to way 2.
		req2 := &mem.Req{LineAddr: 6, Cycle: 11, Type: mem.GETS}
		v2, _ := array.Preinsert(6, req2)
		Expect(v2).To(Equal(uint32(3)))
		array.Postinsert(6, req2, v2, 15)

		// 4. evict way 2 again (line address 2), demoting its 8-byte
		// run into a non-buffer way sized at least 8 bytes.
		req3 := &mem.Req{LineAddr: 10, Cycle: 16, Type: mem.GETS}
		v3, wb3 := array.Preinsert(10, req3)
		Expect(v3).To(Equal(uint32(2)))
		Expect(wb3).To(Equal(mem.Address(2)))

		demotion := array.PreinsertDemotion(v3, req3)
		Expect(demotion).To(HaveLen(1))
		Expect(demotion[0].ArrayIdx).To(Equal(uint32(0)))
		Expect(demotion[0].StartOffset).To(Equal(uint8(4)))
		Expect(demotion[0].EndOffset).To(Equal(uint8(19))) // sized up to way 0's 16 bytes

		array.Postinsert(10, req3, v3, 20)
		array.PostinsertDemotion(wb3, req3, demotion, 20)

		// line address 2's [4, 20) byte range now lives in way 0.
		inRange := &mem.Req{LineAddr: 2, VAddr: 128 + 4, Size: 8, Cycle: 21, Type: mem.GETS}
		id, _, _ = array.LookupOutOfRange(2, inRange, true)
		Expect(id).To(Equal(int32(0)))

		outOfRange := &mem.Req{LineAddr: 2, VAddr: 128 + 25, Size: 4, Cycle: 22, Type: mem.GETS}
		id, _, prevID := array.LookupOutOfRange(2, outOfRange, true)
		Expect(id).To(Equal(cachearray.OutOfRangeMiss))
		Expect(prevID).To(Equal(int32(0)))
	})

	ginkgo.It("should stay in range for any offset while a line is still in its buffer way", func() {
		array := newTestArray()

		req := &mem.Req{LineAddr: 2, Cycle: 1, Type: mem.GETS}
		v, _ := array.Preinsert(2, req)
		array.Postinsert(2, req, v, 5)

		// The buffer way holds the full 64-byte line, so every offset
		// is in range; OutOfRangeMiss only ever fires against a
		// sub-line way.
		id, _, _ := array.LookupOutOfRange(2, &mem.Req{LineAddr: 2, VAddr: 128 + 40, Size: 4, Cycle: 7, Type: mem.GETS}, true)
		Expect(id).NotTo(Equal(cachearray.OutOfRangeMiss))
	})

	ginkgo.It("should reset FIFO counters and state", func() {
		array := newTestArray()
		req := &mem.Req{LineAddr: 2, Cycle: 1, Type: mem.GETS}
		v, _ := array.Preinsert(2, req)
		array.Postinsert(2, req, v, 5)

		array.Reset()

		id, _, _ := array.LookupOutOfRange(2, &mem.Req{LineAddr: 2, Cycle: 6, Type: mem.GETS}, true)
		Expect(id).To(Equal(cachearray.FullMiss))

		victim, _ := array.Preinsert(2, req)
		Expect(victim).To(Equal(uint32(2)))
	})

	ginkgo.It("should snapshot and invalidate a set through Entries", func() {
		array := newTestArray()
		req := &mem.Req{LineAddr: 2, Cycle: 1, Type: mem.GETS}
		v, _ := array.Preinsert(2, req)
		array.Postinsert(2, req, v, 5)

		entries := array.Entries(2, true)
		Expect(entries).To(HaveLen(4))

		id, _, _ := array.LookupOutOfRange(2, &mem.Req{LineAddr: 2, Cycle: 6, Type: mem.GETS}, true)
		Expect(id).To(Equal(cachearray.FullMiss))
	})
})

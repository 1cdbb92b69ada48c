package setassoc

import (
	gomock "go.uber.org/mock/gomock"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cachearray/cachearray"
	"github.com/sarchlab/cachearray/mem"
	"github.com/sarchlab/cachearray/replpolicy/lru"
)

// identityHash is a HashFamily whose way-0 hash is the address itself,
// so tests can predict set placement by hand.
type identityHash struct{}

func (identityHash) Hash(_ uint32, addr mem.Address) uint64 { return uint64(addr) }

var _ = ginkgo.Describe("Array", func() {
	var (
		array *Array
	)

	ginkgo.BeforeEach(func() {
		array = New(16, 4, lru.New(16), identityHash{})
	})

	ginkgo.It("should miss on an empty array", func() {
		id, _ := array.Lookup(1, &mem.Req{LineAddr: 1, Cycle: 0, Type: mem.GETS}, true)
		Expect(id).To(Equal(cachearray.FullMiss))
	})

	ginkgo.It("should home a line address to a single set", func() {
		set, first, limit := array.SetID(5)
		Expect(set).To(Equal(uint32(5) & array.setMask))
		Expect(limit - first).To(Equal(uint32(4)))
	})

	ginkgo.It("should hit after an insert", func() {
		req := &mem.Req{LineAddr: 1, Cycle: 10, Type: mem.GETS}

		victim, _ := array.Preinsert(1, req)
		array.Postinsert(1, req, victim, 15)

		id, avail := array.Lookup(1, &mem.Req{LineAddr: 1, Cycle: 20, Type: mem.GETS}, true)
		Expect(id).To(Equal(int32(victim)))
		Expect(avail).To(Equal(mem.Cycle(20)))
	})

	ginkgo.It("should return the fill-in-progress availability cycle before it completes", func() {
		req := &mem.Req{LineAddr: 1, Cycle: 10, Type: mem.GETS}
		victim, _ := array.Preinsert(1, req)
		array.Postinsert(1, req, victim, 15)

		_, avail := array.Lookup(1, &mem.Req{LineAddr: 1, Cycle: 12, Type: mem.GETS}, true)
		Expect(avail).To(Equal(mem.Cycle(15)))
	})

	ginkgo.It("should credit a demand hit against an outstanding prefetch", func() {
		pref := &mem.Req{LineAddr: 1, Cycle: 10, Type: mem.GETS, Flags: mem.FlagPrefetch, Skip: 0}
		victim, _ := array.Preinsert(1, pref)
		array.Postinsert(1, pref, victim, 20)

		demand := &mem.Req{LineAddr: 1, Cycle: 25, Type: mem.GETS}
		array.Lookup(1, demand, true)

		Expect(array.Stats().PrefHits).To(Equal(uint64(1)))
	})

	ginkgo.It("should count a late prefetch as PrefLateMiss", func() {
		pref := &mem.Req{LineAddr: 1, Cycle: 10, Type: mem.GETS, Flags: mem.FlagPrefetch}
		victim, _ := array.Preinsert(1, pref)
		array.Postinsert(1, pref, victim, 30)

		demand := &mem.Req{LineAddr: 1, Cycle: 15, Type: mem.GETS}
		id, avail := array.Lookup(1, demand, true)

		Expect(id).NotTo(Equal(cachearray.FullMiss))
		Expect(avail).To(Equal(mem.Cycle(30)))
		Expect(array.Stats().PrefLateMiss).To(Equal(uint64(1)))
	})

	ginkgo.It("should not let a bare lookup mutate replacement state", func() {
		skip := &mem.Req{LineAddr: 1, Cycle: 1, Skip: 1}
		id, _ := array.Lookup(1, skip, true)
		Expect(id).To(Equal(cachearray.FullMiss))

		// Fill set 1 so line address 1 is the LRU line.
		for i, addr := range []mem.Address{1, 17, 33, 49} {
			r := &mem.Req{LineAddr: addr, Cycle: mem.Cycle(i + 1), Type: mem.GETS}
			v, _ := array.Preinsert(addr, r)
			array.Postinsert(addr, r, v, r.Cycle+1)
		}

		// A skip-flagged hit must not refresh line address 1's recency.
		skipHit := &mem.Req{LineAddr: 1, Cycle: 10, Type: mem.GETS, Skip: 1}
		id, _ = array.Lookup(1, skipHit, true)
		Expect(id).NotTo(Equal(cachearray.FullMiss))

		_, wbAddr := array.Preinsert(65, &mem.Req{LineAddr: 65, Cycle: 11, Type: mem.GETS})
		Expect(wbAddr).To(Equal(mem.Address(1)))
	})

	ginkgo.It("should evict the LRU candidate within the set", func() {
		req0 := &mem.Req{LineAddr: 1, Cycle: 1, Type: mem.GETS}
		req1 := &mem.Req{LineAddr: 17, Cycle: 2, Type: mem.GETS} // same set: 1 & 3 == 17 & 3
		req2 := &mem.Req{LineAddr: 33, Cycle: 3, Type: mem.GETS}
		req3 := &mem.Req{LineAddr: 49, Cycle: 4, Type: mem.GETS}

		for _, r := range []*mem.Req{req0, req1, req2, req3} {
			v, _ := array.Preinsert(r.LineAddr, r)
			array.Postinsert(r.LineAddr, r, v, r.Cycle+1)
		}

		// One more miss in the same set should evict line address 1
		// (oldest recency).
		req4 := &mem.Req{LineAddr: 65, Cycle: 5, Type: mem.GETS}
		victim, wbAddr := array.Preinsert(req4.LineAddr, req4)
		Expect(wbAddr).To(Equal(mem.Address(1)))
		array.Postinsert(req4.LineAddr, req4, victim, 6)

		id, _ := array.Lookup(1, &mem.Req{LineAddr: 1, Cycle: 7, Type: mem.GETS}, true)
		Expect(id).To(Equal(cachearray.FullMiss))
	})

	ginkgo.It("should hand preinsert exactly the set's candidate ids to the policy", func() {
		mockCtrl := gomock.NewController(ginkgo.GinkgoT())
		defer mockCtrl.Finish()

		policy := newMockReplPolicy(mockCtrl)
		mocked := New(16, 4, policy, identityHash{})

		set, first, _ := mocked.SetID(9)
		req := &mem.Req{LineAddr: 9, Cycle: 1, Type: mem.GETS}

		policy.EXPECT().
			RankCands(req, []uint32{first, first + 1, first + 2, first + 3}).
			Return(first + 2)
		policy.EXPECT().Replaced(first + 2)
		policy.EXPECT().Update(first+2, req)

		victim, _ := mocked.Preinsert(9, req)
		Expect(victim).To(Equal(first + 2))
		Expect(set).To(Equal(uint32(9) & mocked.setMask))

		mocked.Postinsert(9, req, victim, 5)
	})

	ginkgo.It("should reset all state", func() {
		req := &mem.Req{LineAddr: 1, Cycle: 1, Type: mem.GETS}
		victim, _ := array.Preinsert(1, req)
		array.Postinsert(1, req, victim, 2)

		array.Reset()

		id, _ := array.Lookup(1, &mem.Req{LineAddr: 1, Cycle: 3, Type: mem.GETS}, true)
		Expect(id).To(Equal(cachearray.FullMiss))
		Expect(array.Stats()).To(Equal(cachearray.Stats{}))
	})
})

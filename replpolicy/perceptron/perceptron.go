// Package perceptron implements a learned reuse-prediction ReplPolicy
// based on "Perceptron Learning for Reuse Prediction" (MICRO 2016):
// six feature tables vote, from an address-as-PC-proxy feature
// extraction, on whether a line will be reused before its next
// eviction, and the policy prefers evicting candidates it predicts
// dead. Training is driven off Update; Replaced only resets per-line
// state.
package perceptron

import (
	"log"

	"github.com/sarchlab/cachearray/mem"
	"github.com/sarchlab/cachearray/replpolicy"
)

const (
	numTables   = 6
	tableSize   = 256
	threshold   = 3  // tau, MICRO 2016
	theta       = 68 // training threshold
	learnRate   = 1
)

// Policy predicts, per candidate, whether it will be reused before
// its next eviction, and prefers evicting candidates predicted dead.
type Policy struct {
	featureTables [numTables][]int32

	accesses  []uint32 // per-line id access count since last install
	predicted []bool   // per-line id: predicted "no reuse" at install time

	totalPredictions   int64
	correctPredictions int64
}

// New creates a Policy sized for numLines ids.
func New(numLines uint32) *Policy {
	p := &Policy{
		accesses:  make([]uint32, numLines),
		predicted: make([]bool, numLines),
	}

	for i := 0; i < numTables; i++ {
		p.featureTables[i] = make([]int32, tableSize)
	}

	log.Printf(
		"perceptron: initialized threshold=%d theta=%d learnRate=%d tables=%dx%d",
		threshold, theta, learnRate, numTables, tableSize,
	)

	return p
}

func (p *Policy) ensure(lineID uint32) {
	if int(lineID) < len(p.accesses) {
		return
	}

	accesses := make([]uint32, lineID+1)
	copy(accesses, p.accesses)
	p.accesses = accesses

	predicted := make([]bool, lineID+1)
	copy(predicted, p.predicted)
	p.predicted = predicted
}

// extractFeatures derives six 6-bit features from a line address,
// using the address itself as a proxy for the PC the paper's scheme
// was designed around.
func extractFeatures(addr mem.Address) [numTables]uint32 {
	a := uint64(addr)

	return [numTables]uint32{
		uint32((a >> 6) & 0x3F),
		uint32((a >> 7) & 0x3F),
		uint32((a >> 8) & 0x3F),
		uint32((a >> 9) & 0x3F),
		uint32((a >> 12) & 0x3F),
		uint32((a >> 15) & 0x3F),
	}
}

func (p *Policy) tableIndex(feature uint32, addr mem.Address) uint32 {
	hashed := hash8(uint64(feature)) & 0xFF
	addrBits := uint32(addr & 0xFF)

	return (hashed ^ addrBits) % tableSize
}

func (p *Policy) predictionSum(features [numTables]uint32, addr mem.Address) int32 {
	sum := int32(0)
	for i := 0; i < numTables; i++ {
		sum += p.featureTables[i][p.tableIndex(features[i], addr)]
	}

	return sum
}

// Update records an access to lineID. The first Update after a
// Replaced (or after construction) is the install; later ones signal
// reuse. Every Update with a non-nil req trains the feature tables,
// counting the line as reused once it has been accessed more than once
// since its install.
func (p *Policy) Update(lineID uint32, req *mem.Req) {
	p.ensure(lineID)
	p.accesses[lineID]++

	if req == nil {
		return
	}

	features := extractFeatures(req.LineAddr)
	reused := p.accesses[lineID] > 1
	p.train(features, req.LineAddr, p.predicted[lineID], reused)
}

// Replaced resets lineID's per-line bookkeeping (access count and
// install-time prediction). It does not train the feature tables on
// the evicted line's outcome.
func (p *Policy) Replaced(lineID uint32) {
	p.ensure(lineID)
	p.accesses[lineID] = 0
	p.predicted[lineID] = false
}

// RankCands makes one reuse prediction for the incoming request's
// line address (the policy does not see each candidate's resident
// address), returns the candidate with the highest candidateSum, and
// records the prediction against that victim slot, which the incoming
// line will occupy.
func (p *Policy) RankCands(req *mem.Req, cands []uint32) uint32 {
	features := extractFeatures(req.LineAddr)
	sum := p.predictionSum(features, req.LineAddr)
	predictNoReuse := sum >= threshold

	p.totalPredictions++

	best := cands[0]
	bestSum := p.candidateSum(best)

	for _, c := range cands[1:] {
		s := p.candidateSum(c)
		if s > bestSum {
			best, bestSum = c, s
		}
	}

	p.ensure(best)
	p.predicted[best] = predictNoReuse

	if p.totalPredictions%100 == 0 {
		log.Printf(
			"perceptron: prediction #%d addr=0x%x sum=%d threshold=%d noReuse=%t",
			p.totalPredictions, req.LineAddr, sum, threshold, predictNoReuse,
		)
	}

	return best
}

// candidateSum scores a resident candidate by how long it has gone
// unused, biased so that candidates the perceptron predicted dead at
// install time outrank merely-old ones.
func (p *Policy) candidateSum(lineID uint32) int32 {
	p.ensure(lineID)

	idle := int32(p.totalPredictions) - int32(p.accesses[lineID])
	if p.predicted[lineID] {
		idle += theta
	}

	return idle
}

func (p *Policy) train(
	features [numTables]uint32, addr mem.Address, predicted, actual bool,
) {
	sum := p.predictionSum(features, addr)
	if predicted != actual || abs32(sum) < theta {
		for i := 0; i < numTables; i++ {
			idx := p.tableIndex(features[i], addr)
			if actual {
				p.featureTables[i][idx] = max32(-32, p.featureTables[i][idx]-learnRate)
			} else {
				p.featureTables[i][idx] = min32(31, p.featureTables[i][idx]+learnRate)
			}
		}
	}

	if predicted == actual {
		p.correctPredictions++
	}
}

// Accuracy returns the running fraction of correct reuse predictions.
func (p *Policy) Accuracy() float64 {
	if p.totalPredictions == 0 {
		return 0
	}

	return float64(p.correctPredictions) / float64(p.totalPredictions)
}

func hash8(value uint64) uint32 {
	hash := uint32(0x811c9dc5)
	for i := 0; i < 8; i++ {
		hash ^= uint32(value & 0xFF)
		hash *= 0x01000193
		value >>= 8
	}

	return hash & 0xFF
}

func abs32(x int32) int32 {
	if x < 0 {
		return -x
	}

	return x
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}

	return b
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}

	return b
}

var _ replpolicy.ReplPolicy = (*Policy)(nil)

// Package runner drives a parsed trace through a constructed cache
// array, one access at a time, and reports the resulting statistics.
// It does not implement a coherence protocol, only the array core a
// coherence controller would sit on top of.
package runner

import (
	"fmt"

	"github.com/sarchlab/cachearray/cachearray"
	"github.com/sarchlab/cachearray/cachearray/setassoc"
	"github.com/sarchlab/cachearray/cachearray/skew"
	"github.com/sarchlab/cachearray/cachearray/vcl"
	"github.com/sarchlab/cachearray/cmd/cachesim/internal/trace"
	"github.com/sarchlab/cachearray/hashfamily"
	"github.com/sarchlab/cachearray/mem"
	"github.com/sarchlab/cachearray/replpolicy"
	"github.com/sarchlab/cachearray/replpolicy/lru"
	"github.com/sarchlab/cachearray/replpolicy/perceptron"
	"github.com/sarchlab/cachearray/stats"
)

// Config describes the array to build and the trace to run against
// it.
type Config struct {
	ArrayKind  string // "setassoc", "skew", or "vcl"
	PolicyKind string // "lru" or "perceptron"
	NumLines   uint32
	Assoc      uint32 // ways (setassoc/vcl) or skew ways
	CandBudget uint32 // skew only

	Accesses []trace.Access

	Sink      stats.Sink
	ArrayName string
}

const fillLatency mem.Cycle = 1

// Run replays cfg.Accesses against the configured array and returns
// its final statistics.
func Run(cfg Config) (cachearray.Stats, error) {
	array, err := Build(cfg)
	if err != nil {
		return cachearray.Stats{}, err
	}

	return RunArray(array, cfg)
}

// Build constructs the array cfg describes without replaying anything
// against it, so a caller can register it with a monitor before the
// trace runs.
func Build(cfg Config) (cachearray.CacheArray, error) {
	return build(cfg)
}

// RunArray replays cfg.Accesses against an already-built array and
// returns its final statistics.
func RunArray(array cachearray.CacheArray, cfg Config) (cachearray.Stats, error) {
	for _, acc := range cfg.Accesses {
		req := &mem.Req{
			LineAddr: acc.Addr.LineAddr(),
			VAddr:    acc.Addr,
			Size:     acc.Size,
			Cycle:    acc.Cycle,
			PC:       acc.PC,
			Type:     acc.Type,
			Flags:    acc.Flags,
		}

		replay(array, req)

		if cfg.Sink != nil {
			cfg.Sink.Write(stats.Snapshot{
				Array: cfg.ArrayName,
				Cycle: uint64(acc.Cycle),
				Stats: array.Stats(),
			})
		}
	}

	if cfg.Sink != nil {
		cfg.Sink.Flush()
	}

	return array.Stats(), nil
}

func build(cfg Config) (cachearray.CacheArray, error) {
	hash := hashfamily.NewMultiplicative(0, cfg.Assoc)

	switch cfg.ArrayKind {
	case "setassoc":
		policy, err := basePolicy(cfg.PolicyKind, cfg.NumLines)
		if err != nil {
			return nil, err
		}

		return setassoc.New(cfg.NumLines, cfg.Assoc, policy, hash), nil

	case "skew":
		policy, err := basePolicy(cfg.PolicyKind, cfg.NumLines)
		if err != nil {
			return nil, err
		}

		candBudget := cfg.CandBudget
		if candBudget < cfg.Assoc {
			candBudget = cfg.Assoc
		}

		skewHash := hashfamily.NewMultiplicative(0, cfg.Assoc)

		return skew.New(cfg.NumLines, cfg.Assoc, candBudget, policy, skewHash), nil

	case "vcl":
		waySizes := make([]uint8, cfg.Assoc)
		bufferWays := uint32(cfg.Assoc) / 4
		if bufferWays == 0 {
			bufferWays = 1
		}

		for w := uint32(0); w < cfg.Assoc; w++ {
			if w >= cfg.Assoc-bufferWays {
				waySizes[w] = mem.LineSize
			} else {
				waySizes[w] = 16
			}
		}

		buffers := make([]uint32, bufferWays)
		for i := uint32(0); i < bufferWays; i++ {
			buffers[i] = cfg.Assoc - bufferWays + i
		}

		policy := lru.NewVCL(cfg.NumLines, waySizes, cfg.Assoc)

		return vcl.New(cfg.NumLines, waySizes, buffers, policy, hash), nil

	default:
		return nil, fmt.Errorf("runner: unknown array kind %q", cfg.ArrayKind)
	}
}

func basePolicy(kind string, numLines uint32) (replpolicy.ReplPolicy, error) {
	switch kind {
	case "", "lru":
		return lru.New(numLines), nil
	case "perceptron":
		return perceptron.New(numLines), nil
	default:
		return nil, fmt.Errorf("runner: unknown policy kind %q", kind)
	}
}

// replay drives one access through lookup/preinsert/postinsert, the
// orchestration a coherence controller's access path would perform
// around the array core (minus coherence itself).
func replay(array cachearray.CacheArray, req *mem.Req) {
	if v, ok := array.(*vcl.Array); ok {
		replayVCL(v, req)
		return
	}

	id, availCycle := array.Lookup(req.LineAddr, req, req.UpdatesReplacement())
	if id != cachearray.FullMiss {
		_ = availCycle
		return
	}

	victimID, _ := array.Preinsert(req.LineAddr, req)
	respCycle := req.Cycle + fillLatency
	array.Postinsert(req.LineAddr, req, victimID, respCycle)
}

func replayVCL(array *vcl.Array, req *mem.Req) {
	id, _, prevID := array.LookupOutOfRange(req.LineAddr, req, req.UpdatesReplacement())

	switch id {
	case cachearray.FullMiss:
		insertVCL(array, req)
	case cachearray.OutOfRangeMiss:
		array.Entries(req.LineAddr, false)
		_ = prevID
		insertVCL(array, req)
	}
}

// insertVCL runs VCL's four insert stages in order. Preinsert picks
// the buffer slot and reports the line address leaving it;
// PreinsertDemotion plans sub-line slots for that line from the slot's
// access mask, so it runs before Postinsert clears the mask; Postinsert
// writes the incoming line into the buffer slot (by id); and
// PostinsertDemotion writes the outgoing line address into the
// planned sub-line slots.
func insertVCL(array *vcl.Array, req *mem.Req) {
	bufferVictim, outgoingAddr := array.Preinsert(req.LineAddr, req)
	demotion := array.PreinsertDemotion(bufferVictim, req)

	respCycle := req.Cycle + fillLatency

	array.Postinsert(req.LineAddr, req, bufferVictim, respCycle)
	array.PostinsertDemotion(outgoingAddr, req, demotion, respCycle)
}

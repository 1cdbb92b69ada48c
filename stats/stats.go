// Package stats defines the statistics-sink contract the cache-array
// core's counters are exported through, plus CSV and SQLite backends.
// A Sink is a small Init/Write/Flush surface, and a snapshot is a flat
// row rather than a nested aggregate tree — aggregation into a tree is
// left to whatever reads the sink's output.
package stats

import "github.com/sarchlab/cachearray/cachearray"

// Snapshot is one array's statistics at a point in simulated time,
// tagged with the array's name so a sink serving several arrays can
// tell them apart.
type Snapshot struct {
	Array string
	Cycle uint64
	Stats cachearray.Stats
}

// Sink receives snapshots pushed by a simulation driver. Drivers are
// expected to call Init once, Write per snapshot, and Flush (or rely
// on an atexit hook) to guarantee buffered rows are not lost.
type Sink interface {
	Init()
	Write(snap Snapshot)
	Flush()
}

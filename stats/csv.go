package stats

import (
	"fmt"
	"os"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// CSVWriter is a Sink that buffers snapshots and flushes them to a
// CSV file.
type CSVWriter struct {
	path string
	file *os.File

	snapshots  []Snapshot
	bufferSize int
}

// NewCSVWriter creates a CSVWriter. An empty path generates a unique
// one at Init time.
func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{
		path:       path,
		bufferSize: 1000,
	}
}

// Init creates the destination file, writing the header row. Panics
// if the file already exists, so a run never silently clobbers a
// prior one's export.
func (w *CSVWriter) Init() {
	if w.path == "" {
		w.path = "cachearray_stats_" + xid.New().String()
	}

	filename := w.path + ".csv"
	if _, err := os.Stat(filename); err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	file, err := os.Create(filename)
	if err != nil {
		panic(err)
	}
	w.file = file

	// CacheLineUsedBytes is a 65-bucket histogram, not a flat column;
	// it stays out of this row shape and is still reachable via
	// Stats() and the monitor's /api/array/{name}/stats endpoint.
	fmt.Fprintf(file,
		"Array, Cycle, PrefHits, PrefEarlyMiss, PrefLateMiss, PrefTotalLateCyc, "+
			"PrefSavedCyc, PrefInCache, PrefNotInCache, PrefPostInsert, "+
			"PrefReplacePref, PrefHitPref, PrefAccesses, PrefInaccurateOOO, "+
			"HitDelayCycles, Swaps, PrefOutOfBoundsMiss\n")

	atexit.Register(func() {
		w.Flush()
		if err := w.file.Close(); err != nil {
			panic(err)
		}
	})
}

// Write implements Sink.
func (w *CSVWriter) Write(snap Snapshot) {
	w.snapshots = append(w.snapshots, snap)
	if len(w.snapshots) >= w.bufferSize {
		w.Flush()
	}
}

// Flush implements Sink.
func (w *CSVWriter) Flush() {
	for _, snap := range w.snapshots {
		s := snap.Stats
		fmt.Fprintf(w.file, "%s, %d, %d, %d, %d, %d, %d, %d, %d, %d, %d, %d, %d, %d, %d, %d, %d\n",
			snap.Array, snap.Cycle,
			s.PrefHits, s.PrefEarlyMiss, s.PrefLateMiss, s.PrefTotalLateCyc,
			s.PrefSavedCyc, s.PrefInCache, s.PrefNotInCache, s.PrefPostInsert,
			s.PrefReplacePref, s.PrefHitPref, s.PrefAccesses, s.PrefInaccurateOOO,
			s.HitDelayCycles, s.Swaps, s.PrefOutOfBoundsMiss,
		)
	}

	w.snapshots = nil
}

var _ Sink = (*CSVWriter)(nil)

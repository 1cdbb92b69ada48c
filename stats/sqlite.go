package stats

import (
	"database/sql"
	"fmt"
	"os"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// SQLiteWriter is a Sink that batches snapshots into a SQLite
// database, one row per Snapshot in a single array_stats table.
type SQLiteWriter struct {
	*sql.DB
	statement *sql.Stmt

	dbName    string
	buffered  []Snapshot
	batchSize int
}

// NewSQLiteWriter creates a SQLiteWriter. An empty path generates a
// unique one at Init time.
func NewSQLiteWriter(path string) *SQLiteWriter {
	w := &SQLiteWriter{
		dbName:    path,
		batchSize: 100000,
	}

	atexit.Register(func() { w.Flush() })

	return w
}

// Init implements Sink: it opens the database, creates the table,
// and prepares the insert statement.
func (w *SQLiteWriter) Init() {
	if w.dbName == "" {
		w.dbName = "cachearray_stats_" + xid.New().String()
	}

	filename := w.dbName + ".sqlite3"
	if _, err := os.Stat(filename); err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}
	w.DB = db

	// CacheLineUsedBytes (a 65-bucket histogram) has no column here;
	// it is still reachable via Stats() and the monitor's
	// /api/array/{name}/stats endpoint.
	w.mustExecute(`
		CREATE TABLE array_stats (
			array               VARCHAR(200) NOT NULL,
			cycle               INTEGER NOT NULL,
			pref_hits           INTEGER,
			pref_early_miss     INTEGER,
			pref_late_miss      INTEGER,
			pref_total_late_cyc INTEGER,
			pref_saved_cyc      INTEGER,
			pref_in_cache       INTEGER,
			pref_not_in_cache   INTEGER,
			pref_post_insert    INTEGER,
			pref_replace_pref   INTEGER,
			pref_hit_pref       INTEGER,
			pref_accesses       INTEGER,
			pref_inaccurate_ooo INTEGER,
			hit_delay_cycles    INTEGER,
			swaps               INTEGER,
			pref_oob_miss       INTEGER
		);
	`)
	w.mustExecute(`CREATE INDEX array_stats_array_index ON array_stats (array);`)
	w.mustExecute(`CREATE INDEX array_stats_cycle_index ON array_stats (cycle);`)

	stmt, err := w.Prepare(`
		INSERT INTO array_stats VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		panic(err)
	}
	w.statement = stmt
}

// Write implements Sink.
func (w *SQLiteWriter) Write(snap Snapshot) {
	w.buffered = append(w.buffered, snap)
	if len(w.buffered) >= w.batchSize {
		w.Flush()
	}
}

// Flush implements Sink.
func (w *SQLiteWriter) Flush() {
	if len(w.buffered) == 0 {
		return
	}

	w.mustExecute("BEGIN TRANSACTION")
	for _, snap := range w.buffered {
		s := snap.Stats
		_, err := w.statement.Exec(
			snap.Array, snap.Cycle,
			s.PrefHits, s.PrefEarlyMiss, s.PrefLateMiss, s.PrefTotalLateCyc,
			s.PrefSavedCyc, s.PrefInCache, s.PrefNotInCache, s.PrefPostInsert,
			s.PrefReplacePref, s.PrefHitPref, s.PrefAccesses, s.PrefInaccurateOOO,
			s.HitDelayCycles, s.Swaps, s.PrefOutOfBoundsMiss,
		)
		if err != nil {
			panic(err)
		}
	}
	w.mustExecute("COMMIT TRANSACTION")

	w.buffered = nil
}

func (w *SQLiteWriter) mustExecute(query string) sql.Result {
	res, err := w.Exec(query)
	if err != nil {
		panic(fmt.Errorf("failed to execute %q: %w", query, err))
	}

	return res
}

var _ Sink = (*SQLiteWriter)(nil)

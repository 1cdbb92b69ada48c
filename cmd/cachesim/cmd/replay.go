package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarchlab/cachearray/cmd/cachesim/internal/runner"
	"github.com/sarchlab/cachearray/cmd/cachesim/internal/trace"
	"github.com/sarchlab/cachearray/monitor"
	"github.com/sarchlab/cachearray/stats"
)

var replayFlags struct {
	tracePath   string
	arrayKind   string
	policyKind  string
	numLines    uint32
	assoc       uint32
	candBudget  uint32
	sinkKind    string
	sinkPath    string
	monitorPort int
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a CSV trace against a cache array and print its statistics.",
	Run:   runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	f := replayCmd.Flags()
	f.StringVar(&replayFlags.tracePath, "trace", "", "path to a CSV trace file (required)")
	f.StringVar(&replayFlags.arrayKind, "array", "setassoc", "array organization: setassoc, skew, or vcl")
	f.StringVar(&replayFlags.policyKind, "policy", "lru", "replacement policy: lru or perceptron")
	f.Uint32Var(&replayFlags.numLines, "lines", 1024, "number of lines")
	f.Uint32Var(&replayFlags.assoc, "assoc", 8, "ways per set (or skew ways)")
	f.Uint32Var(&replayFlags.candBudget, "cands", 32, "BFS candidate budget (skew only)")
	f.StringVar(&replayFlags.sinkKind, "stats", "", "statistics sink: csv, sqlite, or empty for none")
	f.StringVar(&replayFlags.sinkPath, "stats-out", "", "statistics sink output path (auto-generated if empty)")
	f.IntVar(&replayFlags.monitorPort, "monitor-port", 0, "start an HTTP monitor on this port (0 to disable)")

	if err := replayCmd.MarkFlagRequired("trace"); err != nil {
		log.Fatalf("cachesim: %v", err)
	}
}

func runReplay(_ *cobra.Command, _ []string) {
	file, err := os.Open(replayFlags.tracePath)
	if err != nil {
		log.Fatalf("cachesim: %v", err)
	}
	defer file.Close()

	accesses, err := trace.Read(file)
	if err != nil {
		log.Fatalf("cachesim: %v", err)
	}

	var sink stats.Sink
	switch replayFlags.sinkKind {
	case "csv":
		sink = stats.NewCSVWriter(replayFlags.sinkPath)
	case "sqlite":
		sink = stats.NewSQLiteWriter(replayFlags.sinkPath)
	case "":
		// no statistics sink
	default:
		log.Fatalf("cachesim: unknown stats sink %q", replayFlags.sinkKind)
	}

	if sink != nil {
		sink.Init()
	}

	cfg := runner.Config{
		ArrayKind:  replayFlags.arrayKind,
		PolicyKind: replayFlags.policyKind,
		NumLines:   replayFlags.numLines,
		Assoc:      replayFlags.assoc,
		CandBudget: replayFlags.candBudget,
		Accesses:   accesses,
		Sink:       sink,
		ArrayName:  replayFlags.arrayKind,
	}

	array, err := runner.Build(cfg)
	if err != nil {
		log.Fatalf("cachesim: %v", err)
	}

	if replayFlags.monitorPort > 0 {
		mon := monitor.NewMonitor().WithPortNumber(replayFlags.monitorPort)
		mon.RegisterArray(cfg.ArrayName, array)
		mon.StartServer()
		log.Printf("cachesim: monitor serving %s at /api/array/%s/...",
			cfg.ArrayName, cfg.ArrayName)
	}

	log.Printf("cachesim: replaying %d accesses against a %s array (%d lines, assoc %d)",
		len(accesses), cfg.ArrayKind, cfg.NumLines, cfg.Assoc)

	finalStats, err := runner.RunArray(array, cfg)
	if err != nil {
		log.Fatalf("cachesim: %v", err)
	}

	fmt.Printf("prefHits=%d prefEarlyMiss=%d prefLateMiss=%d hitDelayCycles=%d swaps=%d\n",
		finalStats.PrefHits, finalStats.PrefEarlyMiss, finalStats.PrefLateMiss,
		finalStats.HitDelayCycles, finalStats.Swaps)
}

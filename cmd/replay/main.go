package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"capflag.ai/internal/persistence/indexdb"
	persistlog "capflag.ai/internal/persistence/log"
	"capflag.ai/internal/persistence/snapshot"
	"capflag.ai/internal/sim/match"
)

func main() {
	var (
		recPath   = flag.String("match", "", "path to .match.zst (or use -data and -id)")
		dataDir   = flag.String("data", "./data", "runtime data directory")
		matchID   = flag.String("id", "", "match id to look up under -data")
		eventsDir = flag.String("events", "", "events dir containing events-*.jsonl.zst (default: <data>/events)")
		dbPath    = flag.String("db", "", "sqlite index to cross-check digests against (optional)")
		toTick    = flag.Uint64("to_tick", 0, "stop after tick (inclusive, optional)")
		header    = flag.Bool("header", false, "print the match record and exit")
	)
	flag.Parse()

	path := strings.TrimSpace(*recPath)
	if path == "" {
		if strings.TrimSpace(*matchID) == "" {
			fmt.Fprintln(os.Stderr, "missing -match or -id")
			os.Exit(2)
		}
		path = snapshot.Path(*dataDir, *matchID)
	}

	rec, err := snapshot.ReadMatch(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read match:", err)
		os.Exit(1)
	}
	fmt.Printf("match v%d id=%s seed=%d strategy=%s team_size=%d max_ticks=%d map=%s\n",
		rec.Header.Version, rec.Header.MatchID, rec.Seed, rec.Strategy,
		rec.Tuning.Match.TeamSize, rec.Tuning.Match.MaxTicks, mapLabel(rec))
	if *header {
		return
	}

	dir := strings.TrimSpace(*eventsDir)
	if dir == "" {
		dir = filepath.Join(*dataDir, "events")
	}
	entries, err := persistlog.ReadMatch(dir, rec.Header.MatchID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read events:", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no rounds logged for match", rec.Header.MatchID, "in", dir)
		os.Exit(1)
	}
	entries = truncate(entries, *toTick)

	if p := strings.TrimSpace(*dbPath); p != "" {
		if err := crossCheck(p, rec.Header.MatchID, entries); err != nil {
			fmt.Fprintln(os.Stderr, "index:", err)
			os.Exit(1)
		}
	}

	n, err := verify(rec, entries)
	if err != nil {
		var mm *match.DigestMismatch
		if errors.As(err, &mm) {
			fmt.Fprintf(os.Stderr, "digest mismatch at tick %d: got=%s want=%s\n", mm.Tick, mm.Replayed, mm.Recorded)
		} else {
			fmt.Fprintln(os.Stderr, "replay:", err)
		}
		os.Exit(1)
	}
	last := entries[len(entries)-1]
	result := "in progress"
	switch {
	case last.Winner != "":
		result = last.Winner + " won"
	case last.Done:
		result = "draw"
	}
	fmt.Printf("replay ok: checked=%s rounds, %s\n", humanize.Comma(int64(n)), result)
}

// verify rebuilds the recorded match and replays entries against it.
func verify(rec snapshot.MatchV1, entries []match.TickLogEntry) (int, error) {
	r, err := match.NewRunner(match.Config{
		ID:       rec.Header.MatchID,
		Seed:     rec.Seed,
		Tuning:   rec.Tuning,
		Speeds:   rec.Speeds,
		BlueFlag: rec.BlueFlag,
		RedFlag:  rec.RedFlag,
	}, nil)
	if err != nil {
		return 0, err
	}
	return match.Replay(r, entries)
}

func truncate(entries []match.TickLogEntry, toTick uint64) []match.TickLogEntry {
	if toTick == 0 {
		return entries
	}
	for i, e := range entries {
		if e.Tick > toTick {
			return entries[:i]
		}
	}
	return entries
}

// crossCheck compares the digests the index holds with the logged ones.
// The index may lag or drop rows, so only indexed ticks are compared.
func crossCheck(dbPath, matchID string, entries []match.TickLogEntry) error {
	idx, err := indexdb.OpenSQLite(dbPath, nil)
	if err != nil {
		return err
	}
	defer idx.Close()

	digests, err := idx.TickDigests(context.Background(), matchID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		d, ok := digests[e.Tick]
		if ok && d != e.Digest {
			return fmt.Errorf("tick %d: indexed digest %s, logged %s", e.Tick, d, e.Digest)
		}
	}
	fmt.Printf("index ok: %s of %s rounds indexed\n", humanize.Comma(int64(len(digests))), humanize.Comma(int64(len(entries))))
	return nil
}

func mapLabel(rec snapshot.MatchV1) string {
	if len(rec.Speeds) == 0 {
		return "generated"
	}
	return fmt.Sprintf("%dx%d", len(rec.Speeds[0]), len(rec.Speeds))
}

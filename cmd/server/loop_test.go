package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"capflag.ai/internal/persistence/indexdb"
	persistlog "capflag.ai/internal/persistence/log"
	"capflag.ai/internal/persistence/snapshot"
	"capflag.ai/internal/sim/match"
	"capflag.ai/internal/sim/terrain"
	"capflag.ai/internal/sim/tuning"
	"capflag.ai/internal/transport/observer"
)

func testPlan() matchPlan {
	tu := tuning.Defaults()
	tu.Match.TeamSize = 2
	tu.Match.MaxTicks = 40
	tu.Match.TickRateHz = 1000
	tu.Terrain.TileSize = 10
	return matchPlan{
		Seed:     99,
		Tuning:   tu,
		Speeds:   terrain.OpenField(20, 10, 2),
		Strategy: match.KindPlanning,
	}
}

func TestPlayMatchRecordsReplayableMatch(t *testing.T) {
	dataDir := t.TempDir()
	idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "matches.sqlite"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	tickLog := persistlog.NewTickLogger(dataDir)
	summaries := persistlog.NewSummaryLogger(dataDir)
	obs := observer.NewServer(nil, false)
	stats := &serverStats{}

	last, err := playMatch(context.Background(), dataDir, 0, testPlan(), matchSinks{
		TickLog:   tickLog,
		Summaries: summaries,
		Index:     idx,
		Observer:  obs,
	}, stats, nullLogger())
	if err != nil {
		t.Fatalf("playMatch: %v", err)
	}
	if !last.Done {
		t.Fatalf("last entry not terminal: %+v", last)
	}
	_ = tickLog.Close()
	_ = summaries.Close()
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if stats.matches.Load() != 1 || stats.rounds.Load() != last.Tick+1 {
		t.Fatalf("stats: matches=%d rounds=%d last=%d", stats.matches.Load(), stats.rounds.Load(), last.Tick)
	}

	rec, err := snapshot.ReadMatch(snapshot.Path(dataDir, last.MatchID))
	if err != nil {
		t.Fatalf("ReadMatch: %v", err)
	}
	if rec.Strategy != match.KindPlanning || rec.Seed == testPlan().Seed {
		t.Fatalf("record: strategy=%q seed=%d", rec.Strategy, rec.Seed)
	}

	entries, err := persistlog.ReadMatch(filepath.Join(dataDir, "events"), last.MatchID)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	r, err := match.NewRunner(match.Config{
		ID:       rec.Header.MatchID,
		Seed:     rec.Seed,
		Tuning:   rec.Tuning,
		Speeds:   rec.Speeds,
		BlueFlag: rec.BlueFlag,
		RedFlag:  rec.RedFlag,
	}, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	n, err := match.Replay(r, entries)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if n != len(entries) {
		t.Fatalf("verified %d of %d rounds", n, len(entries))
	}

	idx2, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "matches.sqlite"), nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx2.Close()
	row, err := idx2.LookupMatch(context.Background(), last.MatchID)
	if err != nil {
		t.Fatalf("LookupMatch: %v", err)
	}
	if row.Ticks != last.Tick+1 || row.Winner != last.Winner {
		t.Fatalf("row: ticks=%d winner=%q, last entry tick=%d winner=%q", row.Ticks, row.Winner, last.Tick, last.Winner)
	}
	if len(row.Rewards) != 4 {
		t.Fatalf("rewards for %d agents, want 4", len(row.Rewards))
	}
}

func TestPlayMatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats := &serverStats{}
	_, err := playMatch(ctx, t.TempDir(), 0, testPlan(), matchSinks{}, stats, nullLogger())
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if stats.matches.Load() != 0 {
		t.Fatalf("cancelled match counted")
	}
}

func TestPlayMatchUnknownStrategy(t *testing.T) {
	plan := testPlan()
	plan.Strategy = "telepathy"
	if _, err := playMatch(context.Background(), t.TempDir(), 0, plan, matchSinks{}, &serverStats{}, nullLogger()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWriteMetrics(t *testing.T) {
	stats := &serverStats{}
	stats.rounds.Add(12)
	stats.redWins.Add(1)
	stats.currentTick.Store(11)

	var buf bytes.Buffer
	writeMetrics(&buf, "s1", stats, nil, observer.NewServer(nil, false), nil)
	out := buf.String()
	for _, want := range []string{
		`capflag_match_tick{server="s1"} 11`,
		`capflag_rounds_total{server="s1"} 12`,
		`capflag_matches_total{server="s1",result="red"} 1`,
		`capflag_observer_subscribers{server="s1"} 0`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "capflag_index_") || strings.Contains(out, "capflag_mirror_") {
		t.Fatalf("disabled backends reported:\n%s", out)
	}
}

func nullLogger() *log.Logger { return log.New(io.Discard, "", 0) }

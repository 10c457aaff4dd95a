package main

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"capflag.ai/internal/persistence/indexdb"
	persistlog "capflag.ai/internal/persistence/log"
	"capflag.ai/internal/persistence/snapshot"
	"capflag.ai/internal/sim/ctf"
	"capflag.ai/internal/sim/match"
	"capflag.ai/internal/sim/policy"
	"capflag.ai/internal/sim/rng"
	"capflag.ai/internal/sim/tuning"
	"capflag.ai/internal/transport/observer"
)

// matchPlan is what every match the server plays is built from.
type matchPlan struct {
	Seed     int64
	Tuning   tuning.Tuning
	Speeds   [][]int
	BlueFlag *ctf.Tile
	RedFlag  *ctf.Tile

	Strategy  string
	TablePath string
	Table     *policy.Table
	Mode      policy.Mode
}

// matchSinks receive a match's rounds and results. Any of them may be nil.
type matchSinks struct {
	TickLog   *persistlog.TickLogger
	Summaries *persistlog.SummaryLogger
	Index     indexdb.Index
	Observer  *observer.Server
	Mirror    *mirrorRuntime
}

type serverStats struct {
	matches     atomic.Uint64
	rounds      atomic.Uint64
	blueWins    atomic.Uint64
	redWins     atomic.Uint64
	draws       atomic.Uint64
	currentTick atomic.Uint64
}

// playMatch builds match n of the plan and plays it to the end at the tuned
// tick rate.
func playMatch(ctx context.Context, dataDir string, n int, plan matchPlan, sinks matchSinks, stats *serverStats, logger *log.Logger) (match.TickLogEntry, error) {
	seed := rng.Derive(plan.Seed, fmt.Sprintf("match/%d", n))
	strategies, err := match.Strategies(plan.Strategy, plan.Table, plan.Mode, plan.Tuning.Policy.Epsilon, seed, logger)
	if err != nil {
		return match.TickLogEntry{}, err
	}
	r, err := match.NewRunner(match.Config{
		Seed:       seed,
		Tuning:     plan.Tuning,
		Speeds:     plan.Speeds,
		BlueFlag:   plan.BlueFlag,
		RedFlag:    plan.RedFlag,
		Strategies: strategies,
	}, logger)
	if err != nil {
		return match.TickLogEntry{}, err
	}

	recPath := snapshot.Path(dataDir, r.ID())
	if err := snapshot.WriteMatch(recPath, snapshot.MatchV1{
		Header:    snapshot.Header{MatchID: r.ID()},
		Seed:      seed,
		Tuning:    plan.Tuning,
		Speeds:    plan.Speeds,
		BlueFlag:  plan.BlueFlag,
		RedFlag:   plan.RedFlag,
		Strategy:  plan.Strategy,
		TablePath: plan.TablePath,
	}); err != nil {
		return match.TickLogEntry{}, fmt.Errorf("write match record: %w", err)
	}
	sinks.Mirror.Enqueue(recPath)
	if sinks.Observer != nil {
		sinks.Observer.SetMatch(observer.Bootstrap(r))
	}
	logger.Printf("match %s started seed=%d strategy=%s", r.ID(), seed, plan.Strategy)

	var last match.TickLogEntry
	started := time.Now()
	err = r.Run(ctx, func(e match.TickLogEntry) {
		last = e
		if sinks.TickLog != nil {
			if err := sinks.TickLog.WriteTick(e); err != nil {
				logger.Printf("tick log: %v", err)
			}
		}
		if sinks.Index != nil {
			_ = sinks.Index.WriteTick(e)
		}
		if sinks.Observer != nil {
			sinks.Observer.Publish(observer.TickFrame(r, e))
		}
		stats.rounds.Add(1)
		stats.currentTick.Store(e.Tick)
	})
	if err != nil {
		return last, err
	}

	rewards := make(map[string]int)
	for id, v := range r.Totals() {
		rewards[id.String()] = v
	}
	ended := time.Now().UTC()
	if sinks.Summaries != nil {
		if err := sinks.Summaries.WriteSummary(persistlog.MatchSummary{
			MatchID:  r.ID(),
			Seed:     seed,
			Ticks:    r.Tick(),
			Winner:   last.Winner,
			Strategy: plan.Strategy,
			Rewards:  rewards,
			EndedAt:  ended,
		}); err != nil {
			logger.Printf("summary log: %v", err)
		}
	}
	if sinks.Index != nil {
		sinks.Index.RecordMatch(indexdb.MatchRow{
			MatchID:  r.ID(),
			Seed:     seed,
			Strategy: plan.Strategy,
			Ticks:    r.Tick(),
			Winner:   last.Winner,
			Rewards:  rewards,
			EndedAt:  ended,
		})
	}

	stats.matches.Add(1)
	winner, ok := r.Winner()
	switch {
	case !ok:
		stats.draws.Add(1)
	case winner == ctf.Blue:
		stats.blueWins.Add(1)
	default:
		stats.redWins.Add(1)
	}
	result := "draw"
	if ok {
		result = winner.String() + " won"
	}
	logger.Printf("match %s finished: %s after %s rounds in %s", r.ID(), result, humanize.Comma(int64(r.Tick())), time.Since(started).Round(time.Millisecond))
	return last, nil
}

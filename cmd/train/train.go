package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"capflag.ai/internal/persistence/archive"
	"capflag.ai/internal/persistence/qtable"
	"capflag.ai/internal/sim/learn"
	"capflag.ai/internal/sim/policy"
	"capflag.ai/internal/sim/tuning"
)

type trainOptions struct {
	Tuning   tuning.Tuning
	Speeds   [][]int
	Seed     int64
	Episodes int

	// TablePath is where the table is written after training and at
	// every checkpoint.
	TablePath       string
	CheckpointDir   string
	CheckpointEvery int
	ReportEvery     int

	// OnArchive receives every file written into the checkpoint archive.
	OnArchive func(path string)
}

type trainSummary struct {
	Episodes    int
	Rounds      uint64
	Updates     int
	Wins        map[string]int
	MeanReturn  float64
	Checkpoints int
}

// runTraining plays opts.Episodes learning episodes against table, stopping
// early when ctx is cancelled. The table is written whenever training stops.
func runTraining(ctx context.Context, opts trainOptions, table *policy.Table, logger *log.Logger) (trainSummary, error) {
	tr, err := learn.NewTrainer(learn.Config{Tuning: opts.Tuning, Speeds: opts.Speeds, Seed: opts.Seed}, table, nil)
	if err != nil {
		return trainSummary{}, err
	}

	sum := trainSummary{Wins: map[string]int{}}
	var returns int64
	started := time.Now()
	for sum.Episodes < opts.Episodes {
		if ctx.Err() != nil {
			logger.Printf("interrupted after %d episodes", sum.Episodes)
			break
		}
		st, err := tr.Episode()
		if err != nil {
			return sum, fmt.Errorf("episode %d: %w", sum.Episodes, err)
		}
		sum.Episodes++
		sum.Rounds += st.Ticks
		sum.Updates += st.Updates
		returns += int64(st.Return)
		winner := st.Winner
		if winner == "" {
			winner = "draw"
		}
		sum.Wins[winner]++
		sum.MeanReturn = float64(returns) / float64(sum.Episodes)

		if opts.ReportEvery > 0 && sum.Episodes%opts.ReportEvery == 0 {
			logger.Printf("episode %s/%s rounds=%s updates=%s mean_return=%.1f wins=%v elapsed=%s",
				humanize.Comma(int64(sum.Episodes)), humanize.Comma(int64(opts.Episodes)),
				humanize.Comma(int64(sum.Rounds)), humanize.Comma(int64(sum.Updates)),
				sum.MeanReturn, sum.Wins, time.Since(started).Round(time.Second))
		}

		if opts.CheckpointEvery > 0 && sum.Episodes%opts.CheckpointEvery == 0 {
			if err := qtable.Write(opts.TablePath, tr.Table()); err != nil {
				return sum, fmt.Errorf("write table: %w", err)
			}
			n, archived, ok, err := archive.ArchiveCheckpoint(opts.CheckpointDir, opts.TablePath, opts.CheckpointEvery, archive.CheckpointMeta{
				Episodes:   sum.Episodes,
				Seed:       opts.Seed,
				Wins:       copyWins(sum.Wins),
				MeanReturn: sum.MeanReturn,
			})
			if err != nil {
				return sum, fmt.Errorf("archive checkpoint: %w", err)
			}
			if ok {
				sum.Checkpoints++
				logger.Printf("checkpoint %d archived at %s", n, archived)
				if opts.OnArchive != nil {
					opts.OnArchive(archived)
					opts.OnArchive(filepath.Join(filepath.Dir(archived), "meta.json"))
				}
			}
		}
	}

	if err := qtable.Write(opts.TablePath, tr.Table()); err != nil {
		return sum, fmt.Errorf("write table: %w", err)
	}
	return sum, nil
}

func copyWins(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

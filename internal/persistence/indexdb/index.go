package indexdb

import (
	"time"

	"capflag.ai/internal/sim/match"
	"capflag.ai/internal/sim/tuning"
)

// Index is a secondary read-model of finished matches and their rounds.
// Writes never block the simulation; the tick logs stay the source of truth.
type Index interface {
	WriteTick(entry match.TickLogEntry) error
	RecordMatch(m MatchRow)
	UpsertTuning(tune tuning.Tuning) error
	Stats() Stats
	Close() error
}

// MatchRow summarizes one finished match.
type MatchRow struct {
	MatchID  string         `json:"match_id"`
	Seed     int64          `json:"seed"`
	Strategy string         `json:"strategy"`
	Ticks    uint64         `json:"ticks"`
	Winner   string         `json:"winner,omitempty"`
	Rewards  map[string]int `json:"rewards"`
	EndedAt  time.Time      `json:"ended_at"`
}

type Stats struct {
	QueueDepth    int `json:"queue_depth"`
	QueueCapacity int `json:"queue_capacity"`

	DropTickTotal  uint64 `json:"drop_tick_total"`
	DropMatchTotal uint64 `json:"drop_match_total"`
	WriteFailTotal uint64 `json:"write_fail_total"`
}

package main

import (
	"testing"

	"capflag.ai/internal/observerproto"
	"capflag.ai/internal/sim/encoding"
)

func TestSummarize(t *testing.T) {
	msg := observerproto.TickMsg{
		Type:          "TICK",
		Tick:          120,
		RedFlagInPlay: true,
		Agents: []observerproto.AgentState{
			{ID: "blue-1", Team: "blue", HasFlag: true, Reward: 40},
			{ID: "blue-0", Team: "blue", Reward: -10},
			{ID: "red-0", Team: "red", Incapacitated: true, Reward: -25},
		},
	}
	if got, want := summarize(msg), "tick 120 blue=+30 red=-25 carried=[blue-1] down=[red-0]"; got != want {
		t.Fatalf("summarize = %q, want %q", got, want)
	}

	msg = observerproto.TickMsg{Tick: 400, Done: true}
	if got, want := summarize(msg), "tick 400 blue=+0 red=+0 FINAL: draw"; got != want {
		t.Fatalf("summarize = %q, want %q", got, want)
	}
	msg.Winner = "red"
	if got, want := summarize(msg), "tick 400 blue=+0 red=+0 FINAL: red wins"; got != want {
		t.Fatalf("summarize = %q, want %q", got, want)
	}
}

func TestBlockedTiles(t *testing.T) {
	speeds := [][]int{{1, 0, 1}, {0, 0, 2}}
	b := observerproto.BootstrapResponse{
		MatchParams: observerproto.MatchParams{Cols: 3, Rows: 2},
		SpeedsRLE:   encoding.EncodeSpeeds(speeds),
	}
	if n := blockedTiles(b); n != 3 {
		t.Fatalf("blockedTiles = %d, want 3", n)
	}
	b.SpeedsRLE = ""
	b.Speeds = speeds
	if n := blockedTiles(b); n != 3 {
		t.Fatalf("fallback blockedTiles = %d, want 3", n)
	}
}

package planner

import (
	"testing"

	"capflag.ai/internal/sim/ctf"
	"capflag.ai/internal/sim/policy"
	"capflag.ai/internal/sim/rng"
	"capflag.ai/internal/sim/roster"
	"capflag.ai/internal/sim/terrain"
	"capflag.ai/internal/sim/tuning"
)

var (
	blueFlag = ctf.Tile{Col: 3, Row: 5}
	redFlag  = ctf.Tile{Col: 16, Row: 5}
)

type fixture struct {
	grid *terrain.Grid
	reg  *roster.Registry
	p    *Planner
}

func newFixture(t *testing.T, speeds [][]int, cfg tuning.Planner) *fixture {
	t.Helper()
	g, err := terrain.New(terrain.Config{
		Speeds:         speeds,
		TileSize:       10,
		BlueFlag:       blueFlag,
		RedFlag:        redFlag,
		FlagAreaRadius: 2,
	})
	if err != nil {
		t.Fatalf("terrain.New: %v", err)
	}
	reg := roster.New(10)
	p, err := New(g, reg, rng.New(42), cfg)
	if err != nil {
		t.Fatalf("planner.New: %v", err)
	}
	return &fixture{grid: g, reg: reg, p: p}
}

func (f *fixture) add(t *testing.T, team ctf.Team, idx int, at ctf.Tile) *roster.Agent {
	t.Helper()
	a := &roster.Agent{ID: roster.ID{Team: team, Index: idx}, Pos: f.grid.Center(at)}
	if err := f.reg.Add(a); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return a
}

// apply moves a one tile, or reports the block to the planner.
func (f *fixture) apply(a *roster.Agent, d ctf.Dir) {
	if d == ctf.None {
		return
	}
	next := f.reg.Tile(a).Step(d)
	if !f.grid.Passable(next) {
		f.p.Blocked(a, d)
		return
	}
	a.Pos = f.grid.Center(next)
}

func TestNearTargetUsesDirectHeuristic(t *testing.T) {
	f := newFixture(t, terrain.OpenField(20, 12, 1), tuning.Defaults().Planner)
	a := f.add(t, ctf.Blue, 0, ctf.Tile{Col: 4, Row: 5})

	cases := []struct {
		at   ctf.Tile
		want ctf.Dir
	}{
		{ctf.Tile{Col: 4, Row: 5}, ctf.West},
		{ctf.Tile{Col: 3, Row: 7}, ctf.North},
		{ctf.Tile{Col: 5, Row: 7}, ctf.North}, // tie goes vertical
		{ctf.Tile{Col: 1, Row: 4}, ctf.East},
		{ctf.Tile{Col: 3, Row: 5}, ctf.None},
	}
	for _, tc := range cases {
		a.Pos = f.grid.Center(tc.at)
		if got := f.p.NextMove(a, policy.GoTeamFlagArea); got != tc.want {
			t.Fatalf("from %v: got %s want %s", tc.at, got, tc.want)
		}
		if len(a.Nav.Path) != 0 {
			t.Fatalf("direct moves must not cache a path")
		}
	}
}

func TestFarTargetConsumesCachedPath(t *testing.T) {
	f := newFixture(t, terrain.OpenField(20, 12, 1), tuning.Defaults().Planner)
	a := f.add(t, ctf.Blue, 0, ctf.Tile{Col: 1, Row: 1})

	moves := 0
	prevLen := -1
	for f.reg.Tile(a) != redFlag {
		if moves > 60 {
			t.Fatalf("did not reach the flag")
		}
		far := f.reg.Tile(a).Dist(redFlag) > f.p.nearRadius
		d := f.p.NextMove(a, policy.GoOpponentFlag)
		if far {
			if a.Nav.PathAction != policy.GoOpponentFlag || a.Nav.PathGoal != redFlag {
				t.Fatalf("cache not tagged with action and goal: %+v", a.Nav)
			}
			if prevLen >= 0 && len(a.Nav.Path) != prevLen-1 {
				t.Fatalf("path recomputed mid-route: %d after %d", len(a.Nav.Path), prevLen)
			}
			prevLen = len(a.Nav.Path)
		}
		f.apply(a, d)
		moves++
	}
	if moves != 19 {
		t.Fatalf("took %d moves, want 19 on an open field", moves)
	}
}

func TestActionChangeReplacesPath(t *testing.T) {
	f := newFixture(t, terrain.OpenField(20, 12, 1), tuning.Defaults().Planner)
	a := f.add(t, ctf.Blue, 0, ctf.Tile{Col: 1, Row: 1})
	f.add(t, ctf.Red, 0, ctf.Tile{Col: 12, Row: 10})

	f.p.NextMove(a, policy.GoOpponentFlag)
	f.p.NextMove(a, policy.GoNearestOpponent)
	if a.Nav.PathAction != policy.GoNearestOpponent || a.Nav.PathGoal != (ctf.Tile{Col: 12, Row: 10}) {
		t.Fatalf("path not replaced: %+v", a.Nav)
	}
}

func TestBlockedRecoveryLastsExactlyBlockedTicks(t *testing.T) {
	speeds := terrain.OpenField(20, 12, 1)
	for r := 1; r < 11; r++ {
		speeds[r][8] = 0
	}
	cfg := tuning.Defaults().Planner
	f := newFixture(t, speeds, cfg)
	a := f.add(t, ctf.Blue, 0, ctf.Tile{Col: 7, Row: 5})

	for round := 0; round < 3; round++ {
		d := f.p.NextMove(a, policy.GoOpponentFlag)
		if want := toward(f.reg.Tile(a), redFlag); d != want {
			t.Fatalf("round %d: goal-directed move %s, want %s", round, d, want)
		}
		if round == 0 {
			f.apply(a, d)
		} else {
			// Walk back to the wall so every round starts blocked.
			a.Pos = f.grid.Center(ctf.Tile{Col: 7, Row: 5})
			f.apply(a, ctf.East)
			d = ctf.East
		}
		if !a.Nav.Recovering() || a.Nav.BlockedCountdown != cfg.BlockedTicks {
			t.Fatalf("round %d: not recovering after block: %+v", round, a.Nav)
		}
		if a.Nav.RecoveryDir == d {
			t.Fatalf("recovery direction repeats the blocked move")
		}

		ticks := 0
		for a.Nav.Recovering() {
			f.apply(a, f.p.NextMove(a, policy.GoOpponentFlag))
			ticks++
			if ticks > 10*cfg.BlockedTicks {
				t.Fatalf("recovery never ends")
			}
		}
		if ticks != cfg.BlockedTicks {
			t.Fatalf("round %d: recovered after %d ticks, want %d", round, ticks, cfg.BlockedTicks)
		}
		a.Pos = f.grid.Center(ctf.Tile{Col: 7, Row: 5})
	}
}

func TestMissingTargetFallsBackToRandomMove(t *testing.T) {
	f := newFixture(t, terrain.OpenField(20, 12, 1), tuning.Defaults().Planner)
	a := f.add(t, ctf.Blue, 0, ctf.Tile{Col: 5, Row: 5})
	for _, hla := range []policy.Action{
		policy.GoOpponentFlagCarrier,
		policy.GoNearestIncapacitatedTeammate,
		policy.GuardTeammateFlagCarrier,
		policy.RunFromNearestOpponent,
	} {
		if d := f.p.NextMove(a, hla); d == ctf.None {
			t.Fatalf("%s without a target should still move", hla)
		}
	}
}

func TestRunAwayAndGuard(t *testing.T) {
	f := newFixture(t, terrain.OpenField(20, 12, 1), tuning.Defaults().Planner)
	a := f.add(t, ctf.Blue, 0, ctf.Tile{Col: 5, Row: 5})
	o := f.add(t, ctf.Red, 0, ctf.Tile{Col: 7, Row: 5})

	if d := f.p.NextMove(a, policy.RunFromNearestOpponent); d != ctf.West {
		t.Fatalf("run from east threat: %s", d)
	}
	o.Pos = f.grid.Center(ctf.Tile{Col: 5, Row: 3})
	if d := f.p.NextMove(a, policy.RunFromOpponentsCentroid); d != ctf.South {
		t.Fatalf("run from north threat: %s", d)
	}

	// Opponent below the blue flag: guard the midpoint (3,7).
	o.Pos = f.grid.Center(ctf.Tile{Col: 3, Row: 9})
	a.Pos = f.grid.Center(ctf.Tile{Col: 6, Row: 7})
	if d := f.p.NextMove(a, policy.GuardTeamFlagArea); d != ctf.West {
		t.Fatalf("guard flag area: %s", d)
	}
}

func TestRandomKeepsHeadingWithoutJitter(t *testing.T) {
	cfg := tuning.Defaults().Planner
	cfg.HeadingJitter = 1 << 30
	f := newFixture(t, terrain.OpenField(20, 12, 1), cfg)
	a := f.add(t, ctf.Blue, 0, ctf.Tile{Col: 5, Row: 5})
	a.Nav.Heading = ctf.North
	for i := 0; i < 50; i++ {
		if d := f.p.NextMove(a, policy.Random); d != ctf.North {
			t.Fatalf("tick %d: heading changed to %s", i, d)
		}
	}
}

func TestUnknownActionPanics(t *testing.T) {
	f := newFixture(t, terrain.OpenField(20, 12, 1), tuning.Defaults().Planner)
	a := f.add(t, ctf.Blue, 0, ctf.Tile{Col: 5, Row: 5})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	f.p.NextMove(a, policy.Action(policy.NumActions))
}

func TestNewRejectsUnknownAlgorithm(t *testing.T) {
	cfg := tuning.Defaults().Planner
	cfg.Algorithm = "greedy"
	g, err := terrain.New(terrain.Config{Speeds: terrain.OpenField(20, 12, 1), TileSize: 10, BlueFlag: blueFlag, RedFlag: redFlag})
	if err != nil {
		t.Fatalf("terrain.New: %v", err)
	}
	if _, err := New(g, roster.New(10), rng.New(1), cfg); err == nil {
		t.Fatalf("expected error")
	}
}

// Package planner turns a high-level action into one move per tick.
//
// Targets within NearRadius tiles are approached with a direct axis-greedy
// step. Farther targets are searched once and the resulting path is consumed
// a move at a time until the goal, the action or the agent's tile changes.
// A move into an impassable tile puts the agent into a recovery walk for a
// fixed number of ticks.
package planner

import (
	"fmt"

	"capflag.ai/internal/sim/ctf"
	"capflag.ai/internal/sim/pathfind"
	"capflag.ai/internal/sim/policy"
	"capflag.ai/internal/sim/rng"
	"capflag.ai/internal/sim/roster"
	"capflag.ai/internal/sim/terrain"
	"capflag.ai/internal/sim/tuning"
)

type Planner struct {
	grid   *terrain.Grid
	finder *pathfind.Finder
	reg    *roster.Registry
	rng    rng.Source

	alg            pathfind.Algorithm
	nearRadius     float64
	blockedTicks   int
	recoveryJitter int
	headingJitter  int
}

func New(g *terrain.Grid, reg *roster.Registry, src rng.Source, cfg tuning.Planner) (*Planner, error) {
	alg, err := pathfind.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	if cfg.BlockedTicks < 1 {
		return nil, fmt.Errorf("planner: blocked ticks must be >= 1, got %d", cfg.BlockedTicks)
	}
	return &Planner{
		grid:           g,
		finder:         pathfind.New(g),
		reg:            reg,
		rng:            src,
		alg:            alg,
		nearRadius:     cfg.NearRadius,
		blockedTicks:   cfg.BlockedTicks,
		recoveryJitter: cfg.RecoveryJitter,
		headingJitter:  cfg.HeadingJitter,
	}, nil
}

func (p *Planner) Algorithm() pathfind.Algorithm { return p.alg }

// NextMove returns the move for a this tick. None means stay put. An action
// outside the enumeration is a programming error and panics.
func (p *Planner) NextMove(a *roster.Agent, hla policy.Action) ctf.Dir {
	if !hla.Valid() {
		panic(fmt.Sprintf("planner: unknown high-level action %d for %s", int(hla), a.ID))
	}
	if a.Nav.Recovering() {
		a.Nav.BlockedCountdown--
		if rng.OneIn(p.rng, p.recoveryJitter) {
			a.Nav.RecoveryDir = p.randomDir()
		}
		a.Nav.InRecovery = true
		return p.emit(a, a.Nav.RecoveryDir)
	}
	a.Nav.InRecovery = false
	return p.emit(a, p.resolve(a, hla))
}

// Blocked records that a's move in dir targeted an impassable tile. A
// planned move starts a new recovery walk. A recovery move only picks a new
// direction, so the walk keeps its original length.
func (p *Planner) Blocked(a *roster.Agent, dir ctf.Dir) {
	a.Nav.ClearPath()
	if !a.Nav.InRecovery {
		a.Nav.BlockedCountdown = p.blockedTicks
	}
	a.Nav.RecoveryDir = p.randomDirExcept(dir)
}

func (p *Planner) emit(a *roster.Agent, d ctf.Dir) ctf.Dir {
	if d != ctf.None {
		a.Nav.Heading = d
	}
	return d
}

func (p *Planner) resolve(a *roster.Agent, hla policy.Action) ctf.Dir {
	team, opp := a.Team, a.Team.Opponent()
	switch hla {
	case policy.Wait:
		return ctf.None

	case policy.Random:
		if a.Nav.Heading == ctf.None || rng.OneIn(p.rng, p.headingJitter) {
			a.Nav.Heading = p.randomDir()
		}
		return a.Nav.Heading

	case policy.GoOpponentFlag:
		return p.goTo(a, hla, p.grid.Center(p.grid.FlagTile(opp)))

	case policy.GoTeamFlagArea:
		return p.goTo(a, hla, p.grid.Center(p.grid.FlagTile(team)))

	case policy.GoOpponentFlagCarrier:
		if c := p.reg.FlagCarrier(opp); c != nil {
			return p.goTo(a, hla, c.Pos)
		}
		return p.randomDir()

	case policy.GoNearestOpponent:
		if o := p.reg.Nearest(a, opp); o != nil {
			return p.goTo(a, hla, o.Pos)
		}
		return p.randomDir()

	case policy.GoNearestTeammate:
		if m := p.reg.Nearest(a, team); m != nil {
			return p.goTo(a, hla, m.Pos)
		}
		return p.randomDir()

	case policy.GoNearestIncapacitatedTeammate:
		if m := p.reg.NearestIncapacitated(a, team); m != nil {
			return p.goTo(a, hla, m.Pos)
		}
		return p.randomDir()

	case policy.GuardNearestTeammate:
		m := p.reg.Nearest(a, team)
		if m == nil {
			return p.randomDir()
		}
		return p.guard(a, hla, m.Pos)

	case policy.GuardTeammateFlagCarrier:
		c := p.reg.FlagCarrier(team)
		if c == nil || c == a {
			return p.randomDir()
		}
		return p.guard(a, hla, c.Pos)

	case policy.GuardTeamFlagArea:
		return p.guard(a, hla, p.grid.Center(p.grid.FlagTile(team)))

	case policy.GuardOpponentFlagArea:
		return p.guard(a, hla, p.grid.Center(p.grid.FlagTile(opp)))

	case policy.RunFromNearestOpponent:
		if o := p.reg.Nearest(a, opp); o != nil {
			return away(a.Pos, o.Pos)
		}
		return p.randomDir()

	case policy.RunFromOpponentsCentroid:
		if c, ok := p.reg.Centroid(opp); ok {
			return away(a.Pos, c)
		}
		return p.randomDir()
	}
	panic(fmt.Sprintf("planner: unhandled high-level action %s", hla))
}

// guard heads for the midpoint between protected and the opponent closest
// to it. With no opponent the agent heads for protected itself.
func (p *Planner) guard(a *roster.Agent, hla policy.Action, protected ctf.Point) ctf.Dir {
	o := p.reg.NearestToPoint(a, protected, a.Team.Opponent())
	if o == nil {
		return p.goTo(a, hla, protected)
	}
	return p.goTo(a, hla, protected.Mid(o.Pos))
}

func (p *Planner) goTo(a *roster.Agent, hla policy.Action, target ctf.Point) ctf.Dir {
	from := p.reg.Tile(a)
	goal := p.grid.TileOf(target)
	if from == goal {
		a.Nav.ClearPath()
		return ctf.None
	}
	if from.Dist(goal) <= p.nearRadius {
		a.Nav.ClearPath()
		return toward(from, goal)
	}

	nav := &a.Nav
	if len(nav.Path) == 0 || nav.PathAction != hla || nav.PathGoal != goal || nav.PathFrom != from {
		nav.Path = p.finder.Search(p.alg, a.Pos, target)
		nav.PathAction, nav.PathGoal, nav.PathFrom = hla, goal, from
		if len(nav.Path) == 0 {
			nav.ClearPath()
			return toward(from, goal)
		}
	}
	d := nav.Path[0]
	nav.Path = nav.Path[1:]
	nav.PathFrom = from.Step(d)
	return d
}

// toward steps along the axis with the larger absolute delta. Ties go
// vertical.
func toward(from, to ctf.Tile) ctf.Dir {
	dc, dr := to.Col-from.Col, to.Row-from.Row
	if abs(dc) > abs(dr) {
		if dc < 0 {
			return ctf.West
		}
		return ctf.East
	}
	if dr < 0 {
		return ctf.North
	}
	return ctf.South
}

// away steps directly away from threat along the axis with the larger
// absolute delta. Ties go vertical.
func away(self, threat ctf.Point) ctf.Dir {
	dx, dy := self.X-threat.X, self.Y-threat.Y
	if abs(dx) > abs(dy) {
		if dx < 0 {
			return ctf.West
		}
		return ctf.East
	}
	if dy < 0 {
		return ctf.North
	}
	return ctf.South
}

func (p *Planner) randomDir() ctf.Dir {
	return ctf.Dirs[p.rng.Intn(len(ctf.Dirs))]
}

func (p *Planner) randomDirExcept(d ctf.Dir) ctf.Dir {
	var choices []ctf.Dir
	for _, c := range ctf.Dirs {
		if c != d {
			choices = append(choices, c)
		}
	}
	return choices[p.rng.Intn(len(choices))]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

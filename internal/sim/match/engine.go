// Package match steps the agents of one capture-the-flag match.
//
// Engine.Step advances a single agent. It performs no I/O and never blocks.
// The caller decides the order in which agents step within a round, so when
// two agents reach the same tile in one round, whoever steps second resolves
// the encounter. Runner steps agents in registry order.
package match

import (
	"fmt"

	"capflag.ai/internal/sim/ctf"
	"capflag.ai/internal/sim/planner"
	"capflag.ai/internal/sim/policy"
	"capflag.ai/internal/sim/roster"
	"capflag.ai/internal/sim/terrain"
	"capflag.ai/internal/sim/tuning"
)

// FlagState records which flags are currently carried, indexed by the team
// that owns the flag.
type FlagState struct {
	InPlay [2]bool
}

func (f FlagState) Carried(owner ctf.Team) bool { return f.InPlay[owner] }

// Outcome names the rule that fired during a step.
type Outcome int

const (
	OutcomeStationary Outcome = iota
	OutcomeRecovering
	OutcomeMoved
	OutcomeWon
	OutcomeGotFlag
	OutcomeTagged
	OutcomeTaggedFlagHolder
	OutcomeGotTagged
	OutcomeGotTaggedWithFlag
	OutcomeRevived
)

var outcomeNames = [...]string{
	"stationary",
	"recovering",
	"moved",
	"won",
	"got_flag",
	"tagged",
	"tagged_flag_holder",
	"got_tagged",
	"got_tagged_with_flag",
	"revived",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error {
	for i, n := range outcomeNames {
		if n == string(b) {
			*o = Outcome(i)
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// Result is the detailed form of a step.
type Result struct {
	Reward  int
	Done    bool
	Outcome Outcome
	Move    ctf.Dir
	// Other is the agent tagged, tagging or revived, if any.
	Other *roster.Agent
}

type Engine struct {
	grid    *terrain.Grid
	reg     *roster.Registry
	planner *planner.Planner
	rewards tuning.Rewards

	incapTicks int
	flags      FlagState
}

func NewEngine(g *terrain.Grid, reg *roster.Registry, pl *planner.Planner, rewards tuning.Rewards, incapacitatedTicks int) *Engine {
	return &Engine{
		grid:       g,
		reg:        reg,
		planner:    pl,
		rewards:    rewards,
		incapTicks: incapacitatedTicks,
	}
}

func (e *Engine) Grid() *terrain.Grid        { return e.grid }
func (e *Engine) Registry() *roster.Registry { return e.reg }
func (e *Engine) Flags() FlagState           { return e.flags }

// Step advances a by one tick using the high-level action hla and returns the
// acting agent's reward and whether the match is over.
func (e *Engine) Step(a *roster.Agent, hla policy.Action) (int, bool) {
	r := e.StepDetail(a, hla)
	return r.Reward, r.Done
}

// StepDetail is Step with the fired rule and the move taken. At most one of
// win, flag pickup, tag or revive fires per call.
func (e *Engine) StepDetail(a *roster.Agent, hla policy.Action) Result {
	rw := e.rewards

	if a.Incapacitated {
		a.IncapacitatedCountdown--
		if a.IncapacitatedCountdown <= 0 {
			a.Incapacitated = false
			a.IncapacitatedCountdown = 0
		}
		a.Action = policy.Wait
		return Result{Reward: rw.Stationary, Outcome: OutcomeRecovering}
	}

	dir := e.planner.NextMove(a, hla)
	a.Action = hla
	if dir == ctf.None {
		return Result{Reward: rw.Stationary, Outcome: OutcomeStationary}
	}
	a.Facing = dir

	next := e.reg.Tile(a).Step(dir)
	if !e.grid.Passable(next) {
		e.planner.Blocked(a, dir)
		return Result{Reward: rw.Stationary, Outcome: OutcomeStationary, Move: dir}
	}

	dc, dr := dir.Delta()
	ts := e.grid.TileSize()
	a.Pos = ctf.Point{X: a.Pos.X + dc*ts, Y: a.Pos.Y + dr*ts}
	a.InEnemyTerritory = e.grid.IsEnemyTerritory(a.Team, next.Col)
	a.InFlagArea = e.grid.IsInFlagArea(a.Team, next.Col, next.Row)

	team, opp := a.Team, a.Team.Opponent()

	if a.HasFlag && a.InFlagArea {
		for _, o := range e.reg.Agents() {
			switch {
			case o == a:
			case o.Team == opp:
				o.Signals.Lost = true
			default:
				o.Signals.Won = true
			}
		}
		return Result{Reward: rw.Won, Done: true, Outcome: OutcomeWon, Move: dir}
	}

	if next == e.grid.FlagTile(opp) && !e.flags.InPlay[opp] {
		a.HasFlag = true
		e.flags.InPlay[opp] = true
		for _, o := range e.reg.Agents() {
			switch {
			case o == a:
			case o.Team == opp:
				o.Signals.OpponentGotFlag = true
			default:
				o.Signals.TeammateGotFlag = true
			}
		}
		return Result{Reward: rw.GotFlag, Outcome: OutcomeGotFlag, Move: dir}
	}

	for _, o := range e.reg.At(next, a) {
		switch {
		case o.Team == opp && !o.Incapacitated:
			if o.InEnemyTerritory || o.HasFlag {
				carried := e.incapacitate(o)
				if carried {
					o.Signals.GotTaggedWithFlag = true
					return Result{Reward: rw.TaggedFlagHolder, Outcome: OutcomeTaggedFlagHolder, Move: dir, Other: o}
				}
				o.Signals.GotTagged = true
				return Result{Reward: rw.Tagged, Outcome: OutcomeTagged, Move: dir, Other: o}
			}
			if a.InEnemyTerritory || a.HasFlag {
				if e.incapacitate(a) {
					o.Signals.TaggedFlagHolder = true
					return Result{Reward: rw.GotTaggedWithFlag, Outcome: OutcomeGotTaggedWithFlag, Move: dir, Other: o}
				}
				o.Signals.Tagged = true
				return Result{Reward: rw.GotTagged, Outcome: OutcomeGotTagged, Move: dir, Other: o}
			}
		case o.Team == team && o.Incapacitated:
			o.Incapacitated = false
			o.IncapacitatedCountdown = 0
			return Result{Reward: rw.RevivedTeammate, Outcome: OutcomeRevived, Move: dir, Other: o}
		}
	}

	return Result{Reward: rw.Move, Outcome: OutcomeMoved, Move: dir}
}

// incapacitate tags a, returning the flag it carried (if any) to its home
// tile. It reports whether a was carrying.
func (e *Engine) incapacitate(a *roster.Agent) bool {
	a.Incapacitated = true
	a.IncapacitatedCountdown = e.incapTicks
	a.Nav.ClearPath()
	a.Nav.BlockedCountdown = 0
	a.Nav.InRecovery = false
	if !a.HasFlag {
		return false
	}
	a.HasFlag = false
	e.flags.InPlay[a.Team.Opponent()] = false
	return true
}

// Percepts gathers what a can observe this tick.
func (e *Engine) Percepts(a *roster.Agent) policy.Percepts {
	p := policy.Percepts{
		OpponentFlagInPlay: e.flags.InPlay[a.Team.Opponent()],
		OwnFlagInPlay:      e.flags.InPlay[a.Team],
		Incapacitated:      a.Incapacitated,
		HasFlag:            a.HasFlag,
		InEnemyTerritory:   a.InEnemyTerritory,
	}
	if m := e.reg.Nearest(a, a.Team); m != nil {
		p.NearestTeammate = m.Status()
	}
	if o := e.reg.Nearest(a, a.Team.Opponent()); o != nil {
		p.NearestOpponent = o.Status()
	}
	return p
}

// Observe encodes a's state and its legal actions.
func (e *Engine) Observe(a *roster.Agent) (policy.State, policy.ActionSet) {
	s := policy.Encode(e.Percepts(a))
	return s, policy.AvailableActions(s)
}

// Decide asks a's strategy for this tick's high-level action.
func (e *Engine) Decide(a *roster.Agent) (policy.State, policy.Action) {
	s, legal := e.Observe(a)
	if a.Strategy == nil {
		return s, policy.Wait
	}
	return s, a.Strategy.ChooseAction(s, legal)
}

// SignalReward converts polled signals into the reward owed to their
// receiver.
func SignalReward(s roster.Signals, rw tuning.Rewards) int {
	total := 0
	if s.Won {
		total += rw.WonTeammate
	}
	if s.Lost {
		total += rw.Lost
	}
	if s.TeammateGotFlag {
		total += rw.TeammateGotFlag
	}
	if s.OpponentGotFlag {
		total += rw.OpponentGotFlag
	}
	if s.GotTagged {
		total += rw.GotTagged
	}
	if s.GotTaggedWithFlag {
		total += rw.GotTaggedWithFlag
	}
	if s.Tagged {
		total += rw.Tagged
	}
	if s.TaggedFlagHolder {
		total += rw.TaggedFlagHolder
	}
	return total
}

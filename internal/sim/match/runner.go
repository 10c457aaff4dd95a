package match

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"capflag.ai/internal/sim/ctf"
	"capflag.ai/internal/sim/planner"
	"capflag.ai/internal/sim/policy"
	"capflag.ai/internal/sim/rng"
	"capflag.ai/internal/sim/roster"
	"capflag.ai/internal/sim/terrain"
	"capflag.ai/internal/sim/tuning"
)

// StrategyFunc picks the decision strategy for each agent when a match is
// built. A nil StrategyFunc gives every agent the Planning rules.
type StrategyFunc func(id roster.ID) policy.Strategy

type Config struct {
	// ID names the match. Empty means a fresh random UUID.
	ID     string
	Seed   int64
	Tuning tuning.Tuning

	// Speeds is the row-major speed matrix. When AllowBarriers is false its
	// interior impassable tiles are cleared first.
	Speeds [][]int

	// BlueFlag and RedFlag fix the flag tiles. When nil the flags are placed
	// from the setup random stream.
	BlueFlag *ctf.Tile
	RedFlag  *ctf.Tile

	Strategies StrategyFunc
}

// StepRecord is one agent's step within a round.
type StepRecord struct {
	Agent   string        `json:"agent"`
	Action  policy.Action `json:"action"`
	Move    string        `json:"move,omitempty"`
	Outcome Outcome       `json:"outcome"`
	Reward  int           `json:"reward"`
	Done    bool          `json:"done,omitempty"`
}

// TickLogEntry is one round of a match as written to the tick log.
type TickLogEntry struct {
	MatchID  string       `json:"match_id"`
	Tick     uint64       `json:"tick"`
	Steps    []StepRecord `json:"steps"`
	BlueFlag bool         `json:"blue_flag_in_play"`
	RedFlag  bool         `json:"red_flag_in_play"`
	Done     bool         `json:"done,omitempty"`
	Winner   string       `json:"winner,omitempty"`
	Digest   string       `json:"digest"`
}

var ErrMatchOver = errors.New("match is over")

// Runner owns one match: the grid, the agents and the engine stepping them.
type Runner struct {
	id     string
	seed   int64
	cfg    tuning.Tuning
	logger *log.Logger

	grid    *terrain.Grid
	reg     *roster.Registry
	planner *planner.Planner
	engine  *Engine

	tick   uint64
	done   bool
	winner *ctf.Team
	totals map[roster.ID]int
}

// NewRunner builds a match: flags, shuffled start tiles, strategies. logger
// may be nil.
func NewRunner(c Config, logger *log.Logger) (*Runner, error) {
	t := c.Tuning
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	setup := rng.New(rng.Derive(c.Seed, "setup"))

	speeds := c.Speeds
	if !t.Match.AllowBarriers {
		speeds = terrain.ClearBarriers(speeds)
	}
	var blue, red ctf.Tile
	if c.BlueFlag != nil && c.RedFlag != nil {
		blue, red = *c.BlueFlag, *c.RedFlag
	} else {
		var err error
		blue, red, err = terrain.PlaceFlags(speeds, t.Terrain.FlagInset, setup)
		if err != nil {
			return nil, fmt.Errorf("match %s: %w", id, err)
		}
	}
	g, err := terrain.New(terrain.Config{
		Speeds:         speeds,
		TileSize:       t.Terrain.TileSize,
		BlueFlag:       blue,
		RedFlag:        red,
		FlagAreaRadius: t.Terrain.FlagAreaRadius,
	})
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", id, err)
	}

	reg := roster.New(g.TileSize())
	pl, err := planner.New(g, reg, rng.New(rng.Derive(c.Seed, "planner")), t.Planner)
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", id, err)
	}

	strategies := c.Strategies
	if strategies == nil {
		strategies = func(roster.ID) policy.Strategy { return policy.Planning{} }
	}
	for _, team := range ctf.Teams {
		tiles := g.StartTiles(team, t.Match.StartZoneDivisor)
		if len(tiles) < t.Match.TeamSize {
			return nil, fmt.Errorf("match %s: %s start zone has %d tiles for %d agents", id, team, len(tiles), t.Match.TeamSize)
		}
		setup.Shuffle(len(tiles), func(i, j int) { tiles[i], tiles[j] = tiles[j], tiles[i] })
		for i := 0; i < t.Match.TeamSize; i++ {
			aid := roster.ID{Team: team, Index: i}
			a := &roster.Agent{
				ID:       aid,
				Pos:      g.Center(tiles[len(tiles)-1-i]),
				Strategy: strategies(aid),
			}
			a.Nav.Heading = ctf.Dirs[setup.Intn(len(ctf.Dirs))]
			start := g.TileOf(a.Pos)
			a.InEnemyTerritory = g.IsEnemyTerritory(team, start.Col)
			a.InFlagArea = g.IsInFlagArea(team, start.Col, start.Row)
			if err := reg.Add(a); err != nil {
				return nil, fmt.Errorf("match %s: %w", id, err)
			}
		}
	}

	return &Runner{
		id:      id,
		seed:    c.Seed,
		cfg:     t,
		logger:  logger,
		grid:    g,
		reg:     reg,
		planner: pl,
		engine:  NewEngine(g, reg, pl, t.Rewards, t.Match.IncapacitatedTicks),
		totals:  make(map[roster.ID]int),
	}, nil
}

func (r *Runner) ID() string                 { return r.id }
func (r *Runner) Seed() int64                { return r.seed }
func (r *Runner) Tick() uint64               { return r.tick }
func (r *Runner) Done() bool                 { return r.done }
func (r *Runner) Engine() *Engine            { return r.engine }
func (r *Runner) Grid() *terrain.Grid        { return r.grid }
func (r *Runner) Registry() *roster.Registry { return r.reg }
func (r *Runner) Tuning() tuning.Tuning      { return r.cfg }

// Winner is the winning team once a flag has been brought home.
func (r *Runner) Winner() (ctf.Team, bool) {
	if r.winner == nil {
		return 0, false
	}
	return *r.winner, true
}

// Totals returns each agent's accumulated reward, step rewards plus
// signal rewards.
func (r *Runner) Totals() map[roster.ID]int {
	out := make(map[roster.ID]int, len(r.totals))
	for k, v := range r.totals {
		out[k] = v
	}
	return out
}

// StepHook observes every step of a round right after its signals have been
// polled. signal is the reward the polled signals were worth to each agent.
type StepHook func(a *roster.Agent, s policy.State, hla policy.Action, res Result, signal map[*roster.Agent]int)

// Round steps every agent once in registry order, choosing actions with each
// agent's strategy.
func (r *Runner) Round() (TickLogEntry, error) {
	return r.round(nil, nil)
}

// RoundWithHook is Round with a per-step observer, used by training.
func (r *Runner) RoundWithHook(hook StepHook) (TickLogEntry, error) {
	return r.round(nil, hook)
}

// ReplayRound steps the agents with recorded actions instead of their
// strategies. actions is indexed like the steps of the recorded round.
func (r *Runner) ReplayRound(actions []policy.Action) (TickLogEntry, error) {
	return r.round(actions, nil)
}

func (r *Runner) round(recorded []policy.Action, hook StepHook) (TickLogEntry, error) {
	if r.done {
		return TickLogEntry{}, ErrMatchOver
	}
	entry := TickLogEntry{MatchID: r.id, Tick: r.tick}

	for i, a := range r.reg.Agents() {
		var s policy.State
		var hla policy.Action
		if recorded != nil {
			if i >= len(recorded) {
				return entry, fmt.Errorf("match %s tick %d: %d recorded actions for %d agents", r.id, r.tick, len(recorded), r.reg.Len())
			}
			s, _ = r.engine.Observe(a)
			hla = recorded[i]
		} else {
			s, hla = r.engine.Decide(a)
		}

		res := r.engine.StepDetail(a, hla)
		r.totals[a.ID] += res.Reward
		rec := StepRecord{Agent: a.ID.String(), Action: hla, Outcome: res.Outcome, Reward: res.Reward, Done: res.Done}
		if res.Move != ctf.None {
			rec.Move = res.Move.String()
		}
		entry.Steps = append(entry.Steps, rec)

		signal := r.pollSignals()
		if hook != nil {
			hook(a, s, hla, res, signal)
		}

		if res.Done {
			team := a.Team
			r.done, r.winner = true, &team
			if r.logger != nil {
				r.logger.Printf("match %s: %s wins at tick %d (%s)", r.id, team, r.tick, a.ID)
			}
			break
		}
	}

	r.tick++
	if !r.done && r.tick >= uint64(r.cfg.Match.MaxTicks) {
		r.done = true
		if r.logger != nil {
			r.logger.Printf("match %s: draw after %d ticks", r.id, r.tick)
		}
	}

	flags := r.engine.Flags()
	entry.BlueFlag, entry.RedFlag = flags.InPlay[ctf.Blue], flags.InPlay[ctf.Red]
	entry.Done = r.done
	if r.winner != nil {
		entry.Winner = r.winner.String()
	}
	entry.Digest = r.Digest()
	return entry, nil
}

// pollSignals consumes every agent's signals and credits their rewards.
func (r *Runner) pollSignals() map[*roster.Agent]int {
	var out map[*roster.Agent]int
	for _, a := range r.reg.Agents() {
		s := a.TakeSignals()
		if !s.Any() {
			continue
		}
		v := SignalReward(s, r.cfg.Rewards)
		r.totals[a.ID] += v
		if out == nil {
			out = make(map[*roster.Agent]int)
		}
		out[a] = v
	}
	return out
}

// Run plays rounds at tickRateHz until the match ends or ctx is cancelled.
// sink receives every round's entry.
func (r *Runner) Run(ctx context.Context, sink func(TickLogEntry)) error {
	interval := time.Second / time.Duration(r.cfg.Match.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for !r.done {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			entry, err := r.Round()
			if err != nil {
				return err
			}
			if sink != nil {
				sink(entry)
			}
		}
	}
	return nil
}

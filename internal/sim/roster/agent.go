// Package roster owns the agents of a match and answers the spatial queries
// the encoder and planner need (nearest teammate, nearest opponent, flag
// carrier, centroid).
package roster

import (
	"fmt"
	"strconv"
	"strings"

	"capflag.ai/internal/sim/ctf"
	"capflag.ai/internal/sim/policy"
)

// ID identifies an agent. Index is unique within a team.
type ID struct {
	Team  ctf.Team
	Index int
}

func (id ID) String() string { return fmt.Sprintf("%s-%d", id.Team, id.Index) }

func ParseID(s string) (ID, error) {
	team, idx, ok := strings.Cut(s, "-")
	if !ok {
		return ID{}, fmt.Errorf("agent id %q: want team-index", s)
	}
	t, err := ctf.ParseTeam(team)
	if err != nil {
		return ID{}, fmt.Errorf("agent id %q: %w", s, err)
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return ID{}, fmt.Errorf("agent id %q: bad index", s)
	}
	return ID{Team: t, Index: n}, nil
}

// Signals are set on an agent by other agents' steps. The caller polls them
// with TakeSignals after every step to hand out delayed rewards.
type Signals struct {
	Won               bool `json:"won,omitempty"`
	Lost              bool `json:"lost,omitempty"`
	TeammateGotFlag   bool `json:"teammate_got_flag,omitempty"`
	OpponentGotFlag   bool `json:"opponent_got_flag,omitempty"`
	GotTagged         bool `json:"got_tagged,omitempty"`
	GotTaggedWithFlag bool `json:"got_tagged_with_flag,omitempty"`
	Tagged            bool `json:"tagged,omitempty"`
	TaggedFlagHolder  bool `json:"tagged_flag_holder,omitempty"`
}

func (s Signals) Any() bool { return s != Signals{} }

// Nav is planner bookkeeping. Only the planner writes it.
type Nav struct {
	// Heading is the last direction emitted for this agent.
	Heading ctf.Dir

	// BlockedCountdown > 0 means the agent is recovering from a blocked
	// move and walks RecoveryDir instead of planning. InRecovery marks that
	// the last emitted move belonged to a recovery walk.
	BlockedCountdown int
	RecoveryDir      ctf.Dir
	InRecovery       bool

	// Path is the cached remainder of a search, valid while the agent
	// stands on PathFrom and still pursues PathAction toward PathGoal.
	Path       []ctf.Dir
	PathFrom   ctf.Tile
	PathGoal   ctf.Tile
	PathAction policy.Action
}

func (n *Nav) Recovering() bool { return n.BlockedCountdown > 0 }

func (n *Nav) ClearPath() {
	n.Path = nil
	n.PathFrom = ctf.Tile{}
	n.PathGoal = ctf.Tile{}
	n.PathAction = policy.Wait
}

type Agent struct {
	ID

	// Pos is in pixels; Registry.TileOf converts it.
	Pos ctf.Point

	HasFlag                bool
	Incapacitated          bool
	IncapacitatedCountdown int
	InEnemyTerritory       bool
	InFlagArea             bool

	// Action is the most recent high-level action and Facing the most
	// recent move, both exposed to spectators.
	Action policy.Action
	Facing ctf.Dir

	Strategy policy.Strategy
	Nav      Nav
	Signals  Signals
}

// TakeSignals returns the pending signals and clears them.
func (a *Agent) TakeSignals() Signals {
	s := a.Signals
	a.Signals = Signals{}
	return s
}

// Status is what other agents perceive about a.
func (a *Agent) Status() *policy.Status {
	return &policy.Status{HasFlag: a.HasFlag, Incapacitated: a.Incapacitated}
}

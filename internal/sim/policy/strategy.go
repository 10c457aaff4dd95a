package policy

import (
	"fmt"
	"log"
	"strings"

	"capflag.ai/internal/sim/rng"
)

// Strategy picks a high-level action for an encoded state from its legal
// actions. Implementations are chosen per agent when the match is built.
type Strategy interface {
	ChooseAction(s State, legal ActionSet) Action
}

// Reflex wanders until it holds the flag, then heads home.
type Reflex struct{}

func (Reflex) ChooseAction(s State, legal ActionSet) Action {
	switch {
	case legal.Has(Wait) && legal.Len() == 1:
		return Wait
	case s[SelfHasFlag] && legal.Has(GoTeamFlagArea):
		return GoTeamFlagArea
	case legal.Has(Random):
		return Random
	}
	return firstOf(legal)
}

// Planning is a fixed priority list of hand-written rules.
type Planning struct{}

func (Planning) ChooseAction(s State, legal ActionSet) Action {
	rules := []struct {
		when bool
		do   Action
	}{
		{s[SelfIncapacitated], Wait},
		{s[SelfHasFlag], GoTeamFlagArea},
		{s[OwnFlagInPlay], GoOpponentFlagCarrier},
		{s[NearestTeammateIncapacitated], GoNearestIncapacitatedTeammate},
		{s[OpponentFlagInPlay], GuardTeammateFlagCarrier},
		{s[SelfInEnemyTerritory] && s[NearestOpponentHasFlag], GuardTeamFlagArea},
		{true, GoOpponentFlag},
	}
	for _, r := range rules {
		if r.when && legal.Has(r.do) {
			return r.do
		}
	}
	return firstOf(legal)
}

func firstOf(legal ActionSet) Action {
	if as := legal.Actions(); len(as) > 0 {
		return as[0]
	}
	return Wait
}

type Mode int

const (
	Greedy Mode = iota
	Probabilistic
)

func (m Mode) String() string {
	if m == Probabilistic {
		return "probabilistic"
	}
	return "greedy"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "greedy", "":
		return Greedy, nil
	case "probabilistic":
		return Probabilistic, nil
	}
	return 0, fmt.Errorf("unknown policy mode %q", s)
}

// Learned chooses from a utility table. The table is only read.
type Learned struct {
	table   *Table
	mode    Mode
	rng     rng.Source
	epsilon float64
	logger  *log.Logger

	prev        Action
	prevUtility float64
	misses      int
	logged      map[int]bool
}

// NewLearned builds a table-driven strategy. src is only consulted in
// Probabilistic mode; logger may be nil.
func NewLearned(table *Table, mode Mode, src rng.Source, epsilon float64, logger *log.Logger) *Learned {
	if epsilon <= 0 {
		epsilon = 1e-10
	}
	return &Learned{
		table:   table,
		mode:    mode,
		rng:     src,
		epsilon: epsilon,
		logger:  logger,
		prev:    Random,
		logged:  make(map[int]bool),
	}
}

func (l *Learned) Mode() Mode { return l.mode }

// LastUtility is the table value of the most recent choice.
func (l *Learned) LastUtility() float64 { return l.prevUtility }

// Misses counts states that had no row in the table.
func (l *Learned) Misses() int { return l.misses }

func (l *Learned) ChooseAction(s State, legal ActionSet) Action {
	if s[SelfIncapacitated] {
		return Wait
	}
	row, ok := l.table.Row(s)
	if !ok {
		l.misses++
		choice := l.prev
		if !legal.Has(choice) {
			choice = firstOf(legal)
		}
		if l.logger != nil && !l.logged[s.Index()] {
			l.logged[s.Index()] = true
			l.logger.Printf("policy: state %s (%d) not in utility table; choosing %s", s, s.Index(), choice)
		}
		l.prev = choice
		return choice
	}
	actions := legal.Actions()
	if len(actions) == 0 {
		return Wait
	}

	var choice Action
	switch l.mode {
	case Probabilistic:
		choice = l.sample(actions, row)
	default:
		choice, _, _ = l.table.Best(s, legal)
	}
	l.prev, l.prevUtility = choice, row[choice]
	return choice
}

// sample draws an action with probability proportional to its utility after
// shifting all legal utilities to be strictly positive.
func (l *Learned) sample(actions []Action, row [NumActions]float64) Action {
	minV := row[actions[0]]
	for _, a := range actions[1:] {
		if row[a] < minV {
			minV = row[a]
		}
	}
	weights := make([]float64, len(actions))
	total := 0.0
	for i, a := range actions {
		weights[i] = row[a] - minV + l.epsilon
		total += weights[i]
	}
	x := l.rng.Float64() * total
	for i, w := range weights {
		if x < w {
			return actions[i]
		}
		x -= w
	}
	return actions[len(actions)-1]
}

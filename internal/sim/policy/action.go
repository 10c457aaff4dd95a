package policy

import (
	"errors"
	"fmt"
	"strings"
)

// Action is a high-level action. The numeric order is the column order of
// the utility table and must not change.
type Action int

const (
	Wait Action = iota
	Random
	GoOpponentFlag
	GoTeamFlagArea
	GoOpponentFlagCarrier
	GoNearestOpponent
	GoNearestTeammate
	GoNearestIncapacitatedTeammate
	GuardNearestTeammate
	GuardTeammateFlagCarrier
	GuardTeamFlagArea
	GuardOpponentFlagArea
	RunFromNearestOpponent
	RunFromOpponentsCentroid

	NumActions = int(RunFromOpponentsCentroid) + 1
)

var ErrUnknownAction = errors.New("unknown high-level action")

var actionLabels = [NumActions]string{
	"wait",
	"random",
	"go_opponent_flag",
	"go_team_flag_area",
	"go_opponent_flag_carrier",
	"go_nearest_opponent",
	"go_nearest_teammate",
	"go_nearest_incapacitated_teammate",
	"guard_nearest_teammate",
	"guard_teammate_flag_carrier",
	"guard_team_flag_area",
	"guard_opponent_flag_area",
	"run_away_from_nearest_opponent",
	"run_away_from_opponents_centroid",
}

// Labels returns the action labels in table column order.
func Labels() []string {
	out := make([]string, NumActions)
	copy(out, actionLabels[:])
	return out
}

func (a Action) Valid() bool { return a >= 0 && int(a) < NumActions }

func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("action(%d)", int(a))
	}
	return actionLabels[a]
}

// ParseAction maps a label to its Action. Older artifacts spell the guard
// actions "gaurd_"; both spellings are accepted.
func ParseAction(label string) (Action, error) {
	l := strings.ToLower(strings.TrimSpace(label))
	if strings.HasPrefix(l, "gaurd_") {
		l = "guard_" + strings.TrimPrefix(l, "gaurd_")
	}
	for i, s := range actionLabels {
		if s == l {
			return Action(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, label)
}

func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAction, int(a))
	}
	return []byte(actionLabels[a]), nil
}

func (a *Action) UnmarshalText(b []byte) error {
	v, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// ActionSet is a bitmask over Action.
type ActionSet uint16

func SetOf(actions ...Action) ActionSet {
	var s ActionSet
	for _, a := range actions {
		s = s.With(a)
	}
	return s
}

// AllActions contains every action.
const AllActions ActionSet = 1<<NumActions - 1

func (s ActionSet) Has(a Action) bool       { return a.Valid() && s&(1<<uint(a)) != 0 }
func (s ActionSet) With(a Action) ActionSet { return s | 1<<uint(a) }
func (s ActionSet) Without(a Action) ActionSet {
	return s &^ (1 << uint(a))
}

func (s ActionSet) Len() int {
	n := 0
	for a := Action(0); int(a) < NumActions; a++ {
		if s.Has(a) {
			n++
		}
	}
	return n
}

// Actions lists the members in enumeration order.
func (s ActionSet) Actions() []Action {
	out := make([]Action, 0, NumActions)
	for a := Action(0); int(a) < NumActions; a++ {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

func (s ActionSet) String() string {
	parts := make([]string, 0, NumActions)
	for _, a := range s.Actions() {
		parts = append(parts, a.String())
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// AvailableActions is the legal subset for a state. An incapacitated agent may
// only wait. The three flag-dependent actions are legal only when their
// target can exist.
func AvailableActions(s State) ActionSet {
	if s[SelfIncapacitated] {
		return SetOf(Wait)
	}
	set := AllActions.
		Without(GoOpponentFlagCarrier).
		Without(GuardTeammateFlagCarrier).
		Without(GoNearestIncapacitatedTeammate)
	if s[OwnFlagInPlay] {
		set = set.With(GoOpponentFlagCarrier)
	}
	if s[OpponentFlagInPlay] && !s[SelfHasFlag] {
		set = set.With(GuardTeammateFlagCarrier)
	}
	if s[NearestTeammateIncapacitated] {
		set = set.With(GoNearestIncapacitatedTeammate)
	}
	return set
}

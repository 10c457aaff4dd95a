package policy

import (
	"fmt"
	"strings"
)

// StateBit indexes the symbolic state. Bit 0 is the most significant bit of
// the table row index.
type StateBit int

const (
	OpponentFlagInPlay StateBit = iota
	OwnFlagInPlay
	SelfIncapacitated
	SelfHasFlag
	SelfInEnemyTerritory
	NearestTeammateHasFlag
	NearestTeammateIncapacitated
	NearestOpponentHasFlag
	NearestOpponentIncapacitated

	NumStateBits = int(NearestOpponentIncapacitated) + 1
	NumStates    = 1 << NumStateBits
)

var stateBitLabels = [NumStateBits]string{
	"opponents_flag_in_play",
	"team_flag_in_play",
	"self_incapacitated",
	"self_has_flag",
	"self_in_enemy_territory",
	"nearest_teammate_has_flag",
	"nearest_teammate_incapacitated",
	"nearest_opponent_has_flag",
	"nearest_opponent_incapacitated",
}

// StateBitLabels returns the bit labels in order.
func StateBitLabels() []string {
	out := make([]string, NumStateBits)
	copy(out, stateBitLabels[:])
	return out
}

func (b StateBit) String() string {
	if b < 0 || int(b) >= NumStateBits {
		return fmt.Sprintf("bit(%d)", int(b))
	}
	return stateBitLabels[b]
}

// State is the 9-element symbolic state of one agent at one tick.
type State [NumStateBits]bool

// Index is the table row of s: the bits read as a binary number with bit 0
// first.
func (s State) Index() int {
	idx := 0
	for _, b := range s {
		idx <<= 1
		if b {
			idx |= 1
		}
	}
	return idx
}

func StateFromIndex(idx int) (State, error) {
	var s State
	if idx < 0 || idx >= NumStates {
		return s, fmt.Errorf("state index %d out of range [0,%d)", idx, NumStates)
	}
	for i := NumStateBits - 1; i >= 0; i-- {
		s[i] = idx&1 == 1
		idx >>= 1
	}
	return s, nil
}

func (s State) Count() int {
	n := 0
	for _, b := range s {
		if b {
			n++
		}
	}
	return n
}

// String renders s as a bit string, e.g. "001000000".
func (s State) String() string {
	var sb strings.Builder
	sb.Grow(NumStateBits)
	for _, b := range s {
		if b {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// ParseState reads the form produced by String.
func ParseState(str string) (State, error) {
	var s State
	if len(str) != NumStateBits {
		return s, fmt.Errorf("state %q: want %d bits", str, NumStateBits)
	}
	for i := 0; i < NumStateBits; i++ {
		switch str[i] {
		case '0':
		case '1':
			s[i] = true
		default:
			return s, fmt.Errorf("state %q: bad bit %q", str, str[i])
		}
	}
	return s, nil
}

// Status is what an agent can observe about another agent.
type Status struct {
	HasFlag       bool
	Incapacitated bool
}

// Percepts is everything the encoder reads for one agent. A nil neighbor
// means no such agent exists.
type Percepts struct {
	OpponentFlagInPlay bool
	OwnFlagInPlay      bool
	Incapacitated      bool
	HasFlag            bool
	InEnemyTerritory   bool
	NearestTeammate    *Status
	NearestOpponent    *Status
}

// Encode maps percepts to a symbolic state. An incapacitated agent always
// encodes to the single state with only SelfIncapacitated set.
func Encode(p Percepts) State {
	var s State
	if p.Incapacitated {
		s[SelfIncapacitated] = true
		return s
	}
	s[OpponentFlagInPlay] = p.OpponentFlagInPlay
	s[OwnFlagInPlay] = p.OwnFlagInPlay
	s[SelfHasFlag] = p.HasFlag
	s[SelfInEnemyTerritory] = p.InEnemyTerritory
	if t := p.NearestTeammate; t != nil {
		s[NearestTeammateHasFlag] = t.HasFlag
		s[NearestTeammateIncapacitated] = t.Incapacitated
	}
	if o := p.NearestOpponent; o != nil {
		s[NearestOpponentHasFlag] = o.HasFlag
		s[NearestOpponentIncapacitated] = o.Incapacitated
	}
	return s
}

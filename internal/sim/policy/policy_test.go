package policy

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"

	"capflag.ai/internal/sim/rng"
)

func TestStateIndexOrder(t *testing.T) {
	var s State
	s[OpponentFlagInPlay] = true
	if got := s.Index(); got != 256 {
		t.Fatalf("first bit index: got %d want 256", got)
	}
	s = State{}
	s[NearestOpponentIncapacitated] = true
	if got := s.Index(); got != 1 {
		t.Fatalf("last bit index: got %d want 1", got)
	}
	for i := 0; i < NumStates; i++ {
		st, err := StateFromIndex(i)
		if err != nil {
			t.Fatalf("StateFromIndex(%d): %v", i, err)
		}
		if st.Index() != i {
			t.Fatalf("index %d round-trips to %d", i, st.Index())
		}
	}
	if _, err := StateFromIndex(NumStates); err == nil {
		t.Fatalf("expected out-of-range error")
	}
	if p, err := ParseState(s.String()); err != nil || p != s {
		t.Fatalf("ParseState(%q) = %v, %v", s.String(), p, err)
	}
}

func TestEncodeIsPure(t *testing.T) {
	p := Percepts{
		OpponentFlagInPlay: true,
		InEnemyTerritory:   true,
		NearestTeammate:    &Status{HasFlag: true},
		NearestOpponent:    &Status{Incapacitated: true},
	}
	first := Encode(p)
	for i := 0; i < 10; i++ {
		if got := Encode(p); got != first {
			t.Fatalf("call %d: %s != %s", i, got, first)
		}
	}
	want := "100011001"
	if first.String() != want {
		t.Fatalf("got %s want %s", first, want)
	}
}

func TestEncodeIncapacitatedCollapses(t *testing.T) {
	p := Percepts{
		OpponentFlagInPlay: true,
		OwnFlagInPlay:      true,
		Incapacitated:      true,
		HasFlag:            true,
		InEnemyTerritory:   true,
		NearestTeammate:    &Status{HasFlag: true, Incapacitated: true},
		NearestOpponent:    &Status{HasFlag: true, Incapacitated: true},
	}
	s := Encode(p)
	if s.Count() != 1 || !s[SelfIncapacitated] {
		t.Fatalf("incapacitated state %s", s)
	}
}

func TestEncodeWithoutNeighbors(t *testing.T) {
	s := Encode(Percepts{HasFlag: true})
	if s.String() != "000100000" {
		t.Fatalf("got %s", s)
	}
}

func TestAvailableActions(t *testing.T) {
	var incap State
	incap[SelfIncapacitated] = true
	if got := AvailableActions(incap); got != SetOf(Wait) {
		t.Fatalf("incapacitated: %s", got)
	}

	base := AvailableActions(State{})
	if base.Len() != NumActions-3 {
		t.Fatalf("base set has %d actions: %s", base.Len(), base)
	}
	for _, a := range []Action{GoOpponentFlagCarrier, GuardTeammateFlagCarrier, GoNearestIncapacitatedTeammate} {
		if base.Has(a) {
			t.Fatalf("base set contains %s", a)
		}
	}

	cases := []struct {
		name string
		bits []StateBit
		want Action
		has  bool
	}{
		{"own flag carried", []StateBit{OwnFlagInPlay}, GoOpponentFlagCarrier, true},
		{"teammate carries", []StateBit{OpponentFlagInPlay}, GuardTeammateFlagCarrier, true},
		{"self carries", []StateBit{OpponentFlagInPlay, SelfHasFlag}, GuardTeammateFlagCarrier, false},
		{"teammate down", []StateBit{NearestTeammateIncapacitated}, GoNearestIncapacitatedTeammate, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var s State
			for _, b := range tc.bits {
				s[b] = true
			}
			if got := AvailableActions(s).Has(tc.want); got != tc.has {
				t.Fatalf("%s in %s: got %v want %v", tc.want, AvailableActions(s), got, tc.has)
			}
		})
	}
}

func TestParseAction(t *testing.T) {
	for i, l := range Labels() {
		a, err := ParseAction(l)
		if err != nil || int(a) != i {
			t.Fatalf("ParseAction(%q) = %v, %v", l, a, err)
		}
	}
	if a, err := ParseAction("gaurd_team_flag_area"); err != nil || a != GuardTeamFlagArea {
		t.Fatalf("misspelled alias: %v, %v", a, err)
	}
	if _, err := ParseAction("fly"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("want ErrUnknownAction, got %v", err)
	}
}

func TestGreedyPicksHighestLegal(t *testing.T) {
	tbl := NewTable()
	var s State
	tbl.Set(s, GoNearestOpponent, 7)
	tbl.Set(s, GoTeamFlagArea, 7)
	tbl.Set(s, GoOpponentFlagCarrier, 50) // not legal in s

	l := NewLearned(tbl, Greedy, nil, 0, nil)
	if got := l.ChooseAction(s, AvailableActions(s)); got != GoTeamFlagArea {
		t.Fatalf("got %s want first maximum go_team_flag_area", got)
	}
	if l.LastUtility() != 7 {
		t.Fatalf("last utility %v", l.LastUtility())
	}
}

func TestGreedyAllZeroPicksFirstLegal(t *testing.T) {
	l := NewLearned(NewTable(), Greedy, nil, 0, nil)
	if got := l.ChooseAction(State{}, AvailableActions(State{})); got != Wait {
		t.Fatalf("got %s", got)
	}
}

func TestProbabilisticFollowsUtility(t *testing.T) {
	tbl := NewTable()
	var s State
	tbl.Set(s, GoOpponentFlag, -4)
	tbl.Set(s, GoTeamFlagArea, 3)
	legal := SetOf(GoOpponentFlag, GoTeamFlagArea)

	l := NewLearned(tbl, Probabilistic, rng.New(7), 1e-10, nil)
	for i := 0; i < 500; i++ {
		if got := l.ChooseAction(s, legal); got != GoTeamFlagArea {
			t.Fatalf("draw %d picked %s with near-zero weight", i, got)
		}
	}

	tbl.Set(s, GoOpponentFlag, 3)
	counts := map[Action]int{}
	for i := 0; i < 2000; i++ {
		counts[l.ChooseAction(s, legal)]++
	}
	for _, a := range legal.Actions() {
		if counts[a] < 800 {
			t.Fatalf("equal utilities should split evenly, got %v", counts)
		}
	}
}

func TestLearnedFallsBackOnMissingState(t *testing.T) {
	var known State
	known[OwnFlagInPlay] = true
	tbl, err := NewSparseTable([]int{known.Index()})
	if err != nil {
		t.Fatalf("NewSparseTable: %v", err)
	}
	tbl.Set(known, GoOpponentFlagCarrier, 9)

	var buf bytes.Buffer
	l := NewLearned(tbl, Greedy, nil, 0, log.New(&buf, "", 0))

	if got := l.ChooseAction(State{}, AvailableActions(State{})); got != Random {
		t.Fatalf("before any choice the fallback is random, got %s", got)
	}
	if got := l.ChooseAction(known, AvailableActions(known)); got != GoOpponentFlagCarrier {
		t.Fatalf("known state: got %s", got)
	}
	empty := AvailableActions(State{})
	if empty.Has(GoOpponentFlagCarrier) {
		t.Fatalf("go_opponent_flag_carrier should not be legal with no flag in play")
	}
	got := l.ChooseAction(State{}, empty)
	if !empty.Has(got) {
		t.Fatalf("fallback %s is not legal in %v", got, empty.Actions())
	}
	if got != firstOf(empty) {
		t.Fatalf("illegal previous choice should fall back to %s, got %s", firstOf(empty), got)
	}
	if l.Misses() != 2 {
		t.Fatalf("misses %d", l.Misses())
	}
	if n := strings.Count(buf.String(), "not in utility table"); n != 1 {
		t.Fatalf("missing state should be logged once, got %d lines: %q", n, buf.String())
	}

	// A still-legal previous choice is kept.
	var other State
	other[OwnFlagInPlay] = true
	other[SelfHasFlag] = true
	tbl2, err := NewSparseTable([]int{known.Index()})
	if err != nil {
		t.Fatalf("NewSparseTable: %v", err)
	}
	tbl2.Set(known, GoOpponentFlagCarrier, 9)
	l2 := NewLearned(tbl2, Greedy, nil, 0, nil)
	l2.ChooseAction(known, AvailableActions(known))
	if got := l2.ChooseAction(other, AvailableActions(other)); got != GoOpponentFlagCarrier {
		t.Fatalf("legal previous choice should be kept, got %s", got)
	}
}

func TestSparseTable(t *testing.T) {
	tbl, err := NewSparseTable([]int{9, 3})
	if err != nil {
		t.Fatalf("NewSparseTable: %v", err)
	}
	if tbl.Dense() || tbl.Len() != 2 {
		t.Fatalf("dense=%v len=%d", tbl.Dense(), tbl.Len())
	}
	if st := tbl.States(); st[0] != 3 || st[1] != 9 {
		t.Fatalf("rows not sorted: %v", st)
	}
	if _, err := NewSparseTable([]int{1, 1}); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if _, err := NewSparseTable([]int{NumStates}); err == nil {
		t.Fatalf("expected range error")
	}
}

func TestRuleStrategies(t *testing.T) {
	var carrying State
	carrying[SelfHasFlag] = true
	var chasing State
	chasing[OwnFlagInPlay] = true

	if got := (Reflex{}).ChooseAction(State{}, AvailableActions(State{})); got != Random {
		t.Fatalf("reflex idle: %s", got)
	}
	if got := (Reflex{}).ChooseAction(carrying, AvailableActions(carrying)); got != GoTeamFlagArea {
		t.Fatalf("reflex carrying: %s", got)
	}
	if got := (Planning{}).ChooseAction(chasing, AvailableActions(chasing)); got != GoOpponentFlagCarrier {
		t.Fatalf("planning chasing: %s", got)
	}
	if got := (Planning{}).ChooseAction(State{}, AvailableActions(State{})); got != GoOpponentFlag {
		t.Fatalf("planning idle: %s", got)
	}
	var down State
	down[SelfIncapacitated] = true
	for _, s := range []Strategy{Reflex{}, Planning{}, NewLearned(NewTable(), Greedy, nil, 0, nil)} {
		if got := s.ChooseAction(down, AvailableActions(down)); got != Wait {
			t.Fatalf("%T incapacitated: %s", s, got)
		}
	}
}

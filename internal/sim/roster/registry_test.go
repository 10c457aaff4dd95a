package roster

import (
	"testing"

	"capflag.ai/internal/sim/ctf"
)

func agentAt(team ctf.Team, idx, x, y int) *Agent {
	return &Agent{ID: ID{Team: team, Index: idx}, Pos: ctf.Point{X: x, Y: y}}
}

func TestNearestExcludesSelfAndKeepsFirstOnTies(t *testing.T) {
	r := New(10)
	self := agentAt(ctf.Blue, 0, 50, 50)
	a := agentAt(ctf.Blue, 1, 70, 50)
	b := agentAt(ctf.Blue, 2, 30, 50)
	c := agentAt(ctf.Red, 0, 51, 50)
	for _, ag := range []*Agent{self, a, b, c} {
		if err := r.Add(ag); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if got := r.Nearest(self, ctf.Blue); got != a {
		t.Fatalf("tie should keep first registered, got %s", got.ID)
	}
	if got := r.Nearest(self, ctf.Red); got != c {
		t.Fatalf("nearest red: %v", got)
	}
	if got := r.NearestToPoint(self, ctf.Point{X: 0, Y: 50}, ctf.Blue); got != b {
		t.Fatalf("nearest to point: %s", got.ID)
	}
	if got := r.NearestIncapacitated(self, ctf.Blue); got != nil {
		t.Fatalf("no one is incapacitated, got %s", got.ID)
	}
	b.Incapacitated = true
	if got := r.NearestIncapacitated(self, ctf.Blue); got != b {
		t.Fatalf("nearest incapacitated: %v", got)
	}
}

func TestNearestOnEmptyTeam(t *testing.T) {
	r := New(10)
	self := agentAt(ctf.Blue, 0, 0, 0)
	_ = r.Add(self)
	if r.Nearest(self, ctf.Blue) != nil || r.Nearest(self, ctf.Red) != nil {
		t.Fatalf("expected nil")
	}
	if _, ok := r.Centroid(ctf.Red); ok {
		t.Fatalf("empty centroid")
	}
}

func TestDuplicateID(t *testing.T) {
	r := New(10)
	if err := r.Add(agentAt(ctf.Red, 3, 0, 0)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(agentAt(ctf.Red, 3, 5, 5)); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestCarrierCentroidAndOccupants(t *testing.T) {
	r := New(10)
	a := agentAt(ctf.Red, 0, 15, 15)
	b := agentAt(ctf.Red, 1, 35, 15)
	c := agentAt(ctf.Blue, 0, 19, 11)
	for _, ag := range []*Agent{a, b, c} {
		_ = r.Add(ag)
	}
	if r.FlagCarrier(ctf.Red) != nil {
		t.Fatalf("no carrier yet")
	}
	b.HasFlag = true
	if r.FlagCarrier(ctf.Red) != b {
		t.Fatalf("carrier")
	}
	if p, ok := r.Centroid(ctf.Red); !ok || p != (ctf.Point{X: 25, Y: 15}) {
		t.Fatalf("centroid %v", p)
	}
	occ := r.At(ctf.Tile{Col: 1, Row: 1}, a)
	if len(occ) != 1 || occ[0] != c {
		t.Fatalf("occupants %v", occ)
	}
	if got := r.TileOf(ctf.Point{X: -1, Y: 9}); got != (ctf.Tile{Col: -1, Row: 0}) {
		t.Fatalf("TileOf floors: %v", got)
	}
}

func TestTakeSignalsConsumes(t *testing.T) {
	a := agentAt(ctf.Blue, 0, 0, 0)
	a.Signals.Won = true
	a.Signals.TeammateGotFlag = true
	s := a.TakeSignals()
	if !s.Won || !s.TeammateGotFlag || !s.Any() {
		t.Fatalf("signals %+v", s)
	}
	if a.Signals.Any() || a.TakeSignals().Any() {
		t.Fatalf("signals not cleared")
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID("red-4")
	if err != nil || id != (ID{Team: ctf.Red, Index: 4}) {
		t.Fatalf("ParseID: %v %v", id, err)
	}
	if id.String() != "red-4" {
		t.Fatalf("String: %s", id)
	}
	for _, bad := range []string{"red", "green-1", "blue-x", "blue--1"} {
		if _, err := ParseID(bad); err == nil {
			t.Fatalf("ParseID(%q) should fail", bad)
		}
	}
}

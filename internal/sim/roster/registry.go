package roster

import (
	"fmt"

	"capflag.ai/internal/sim/ctf"
)

// Registry holds every agent in a fixed order. Queries iterate in that order,
// so the first agent found wins any distance tie.
type Registry struct {
	tileSize int
	agents   []*Agent
	byID     map[ID]*Agent
}

func New(tileSize int) *Registry {
	if tileSize < 1 {
		tileSize = 1
	}
	return &Registry{tileSize: tileSize, byID: make(map[ID]*Agent)}
}

func (r *Registry) Add(a *Agent) error {
	if _, dup := r.byID[a.ID]; dup {
		return fmt.Errorf("agent %s already registered", a.ID)
	}
	r.agents = append(r.agents, a)
	r.byID[a.ID] = a
	return nil
}

// Agents returns the registry order. The slice must not be modified.
func (r *Registry) Agents() []*Agent { return r.agents }

func (r *Registry) Len() int { return len(r.agents) }

func (r *Registry) Get(id ID) (*Agent, bool) {
	a, ok := r.byID[id]
	return a, ok
}

func (r *Registry) Team(t ctf.Team) []*Agent {
	var out []*Agent
	for _, a := range r.agents {
		if a.Team == t {
			out = append(out, a)
		}
	}
	return out
}

func (r *Registry) TileOf(p ctf.Point) ctf.Tile {
	return ctf.Tile{Col: floorDiv(p.X, r.tileSize), Row: floorDiv(p.Y, r.tileSize)}
}

func (r *Registry) Tile(a *Agent) ctf.Tile { return r.TileOf(a.Pos) }

// Nearest is the closest agent of team other than self, or nil.
func (r *Registry) Nearest(self *Agent, team ctf.Team) *Agent {
	return r.nearest(self, self.Pos, team, false)
}

// NearestToPoint is the agent of team other than self closest to p, or nil.
func (r *Registry) NearestToPoint(self *Agent, p ctf.Point, team ctf.Team) *Agent {
	return r.nearest(self, p, team, false)
}

// NearestIncapacitated is the closest incapacitated agent of team other than
// self, or nil.
func (r *Registry) NearestIncapacitated(self *Agent, team ctf.Team) *Agent {
	return r.nearest(self, self.Pos, team, true)
}

func (r *Registry) nearest(self *Agent, p ctf.Point, team ctf.Team, incapacitatedOnly bool) *Agent {
	var best *Agent
	bestD := 0.0
	for _, a := range r.agents {
		if a == self || a.Team != team || (incapacitatedOnly && !a.Incapacitated) {
			continue
		}
		d := a.Pos.Dist(p)
		if best == nil || d < bestD {
			best, bestD = a, d
		}
	}
	return best
}

// FlagCarrier is the agent of team holding the opposing flag, or nil.
func (r *Registry) FlagCarrier(team ctf.Team) *Agent {
	for _, a := range r.agents {
		if a.Team == team && a.HasFlag {
			return a
		}
	}
	return nil
}

// Centroid is the mean position of team.
func (r *Registry) Centroid(team ctf.Team) (ctf.Point, bool) {
	var sx, sy, n int
	for _, a := range r.agents {
		if a.Team != team {
			continue
		}
		sx += a.Pos.X
		sy += a.Pos.Y
		n++
	}
	if n == 0 {
		return ctf.Point{}, false
	}
	return ctf.Point{X: sx / n, Y: sy / n}, true
}

// At lists the agents standing on t, other than except, in registry order.
func (r *Registry) At(t ctf.Tile, except *Agent) []*Agent {
	var out []*Agent
	for _, a := range r.agents {
		if a != except && r.Tile(a) == t {
			out = append(out, a)
		}
	}
	return out
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

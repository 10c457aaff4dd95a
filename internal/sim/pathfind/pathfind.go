// Package pathfind searches the terrain grid for a sequence of moves between
// two pixel positions.
//
// All three searches return the ordered moves from start to goal, or an empty
// slice when the goal is unreachable or equal to the start. A path never
// enters an impassable tile.
//
// Step cost is the terrain speed of the entered tile, so faster terrain is
// more expensive in the A* cost model. See DESIGN.md before inverting it.
package pathfind

import (
	"container/heap"
	"fmt"
	"strings"

	"capflag.ai/internal/sim/ctf"
)

// ImpassableCost is the step cost reported for speed-0 tiles. Successors at or
// above it are never entered.
const ImpassableCost = 1e10

type Grid interface {
	Cols() int
	Rows() int
	SpeedAt(col, row int) int
	TileOf(p ctf.Point) ctf.Tile
}

type Algorithm int

const (
	AStar Algorithm = iota
	BreadthFirst
	DepthFirst
)

func (a Algorithm) String() string {
	switch a {
	case AStar:
		return "astar"
	case BreadthFirst:
		return "bfs"
	case DepthFirst:
		return "dfs"
	}
	return fmt.Sprintf("algorithm(%d)", int(a))
}

func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "astar", "a*", "a_star":
		return AStar, nil
	case "bfs", "breadth_first":
		return BreadthFirst, nil
	case "dfs", "depth_first":
		return DepthFirst, nil
	}
	return 0, fmt.Errorf("unknown search algorithm %q", s)
}

type Finder struct {
	grid Grid
}

func New(g Grid) *Finder { return &Finder{grid: g} }

func (f *Finder) Search(alg Algorithm, start, goal ctf.Point) []ctf.Dir {
	switch alg {
	case BreadthFirst:
		return f.BreadthFirst(start, goal)
	case DepthFirst:
		return f.DepthFirst(start, goal)
	default:
		return f.AStar(start, goal)
	}
}

type successor struct {
	tile ctf.Tile
	dir  ctf.Dir
	cost float64
}

// successors yields in-bounds 4-neighbors in the fixed order N, S, E, W.
func (f *Finder) successors(t ctf.Tile, buf []successor) []successor {
	buf = buf[:0]
	for _, d := range ctf.Dirs {
		n := t.Step(d)
		if n.Col < 0 || n.Row < 0 || n.Col >= f.grid.Cols() || n.Row >= f.grid.Rows() {
			continue
		}
		cost := float64(f.grid.SpeedAt(n.Col, n.Row))
		if cost == 0 {
			cost = ImpassableCost
		}
		buf = append(buf, successor{tile: n, dir: d, cost: cost})
	}
	return buf
}

type node struct {
	tile   ctf.Tile
	dir    ctf.Dir
	parent *node
	depth  int
}

func (n *node) path() []ctf.Dir {
	out := make([]ctf.Dir, n.depth)
	for cur := n; cur.parent != nil; cur = cur.parent {
		out[cur.depth-1] = cur.dir
	}
	return out
}

func (f *Finder) endpoints(start, goal ctf.Point) (ctf.Tile, ctf.Tile, bool) {
	s, g := f.grid.TileOf(start), f.grid.TileOf(goal)
	if s == g {
		return s, g, false
	}
	if g.Col < 0 || g.Row < 0 || g.Col >= f.grid.Cols() || g.Row >= f.grid.Rows() {
		return s, g, false
	}
	if f.grid.SpeedAt(g.Col, g.Row) == 0 {
		return s, g, false
	}
	return s, g, true
}

// AStar expands the tile with the lowest running cost first. The cost of a
// successor is the length of the path to its parent, plus the successor's
// step cost, plus the Euclidean distance between the two tiles. A tile already
// in the open queue is re-prioritised (and re-parented) only when the new cost
// is lower. Equal costs pop in insertion order.
func (f *Finder) AStar(start, goal ctf.Point) []ctf.Dir {
	s, g, ok := f.endpoints(start, goal)
	if !ok {
		return []ctf.Dir{}
	}

	open := &openQueue{}
	entries := make(map[ctf.Tile]*entry)
	closed := make(map[ctf.Tile]bool)
	var seq uint64

	push := func(n *node, cost float64) {
		e := &entry{n: n, cost: cost, seq: seq}
		seq++
		entries[n.tile] = e
		heap.Push(open, e)
	}
	push(&node{tile: s}, 0)

	var buf []successor
	for open.Len() > 0 {
		e := heap.Pop(open).(*entry)
		delete(entries, e.n.tile)
		cur := e.n
		if cur.tile == g {
			return cur.path()
		}
		if closed[cur.tile] {
			continue
		}
		closed[cur.tile] = true

		buf = f.successors(cur.tile, buf)
		for _, sc := range buf {
			if sc.cost >= ImpassableCost || closed[sc.tile] {
				continue
			}
			cost := float64(cur.depth) + sc.cost + cur.tile.Dist(sc.tile)
			if old, queued := entries[sc.tile]; queued {
				if old.cost <= cost {
					continue
				}
				old.cost = cost
				old.n.parent = cur
				old.n.dir = sc.dir
				old.n.depth = cur.depth + 1
				heap.Fix(open, old.index)
				continue
			}
			push(&node{tile: sc.tile, dir: sc.dir, parent: cur, depth: cur.depth + 1}, cost)
		}
	}
	return []ctf.Dir{}
}

// BreadthFirst explores in discovery order and returns the first path that
// reaches the goal, which is a minimal-step path.
func (f *Finder) BreadthFirst(start, goal ctf.Point) []ctf.Dir {
	s, g, ok := f.endpoints(start, goal)
	if !ok {
		return []ctf.Dir{}
	}

	seen := map[ctf.Tile]bool{s: true}
	queue := []*node{{tile: s}}
	var buf []successor
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		if cur.tile == g {
			return cur.path()
		}
		buf = f.successors(cur.tile, buf)
		for _, sc := range buf {
			if sc.cost >= ImpassableCost || seen[sc.tile] {
				continue
			}
			seen[sc.tile] = true
			queue = append(queue, &node{tile: sc.tile, dir: sc.dir, parent: cur, depth: cur.depth + 1})
		}
	}
	return []ctf.Dir{}
}

// DepthFirst explores the most recently discovered tile first. The path it
// returns reaches the goal but is usually not the shortest.
func (f *Finder) DepthFirst(start, goal ctf.Point) []ctf.Dir {
	s, g, ok := f.endpoints(start, goal)
	if !ok {
		return []ctf.Dir{}
	}

	closed := make(map[ctf.Tile]bool)
	stack := []*node{{tile: s}}
	var buf []successor
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.tile == g {
			return cur.path()
		}
		if closed[cur.tile] {
			continue
		}
		closed[cur.tile] = true
		buf = f.successors(cur.tile, buf)
		for _, sc := range buf {
			if sc.cost >= ImpassableCost || closed[sc.tile] {
				continue
			}
			stack = append(stack, &node{tile: sc.tile, dir: sc.dir, parent: cur, depth: cur.depth + 1})
		}
	}
	return []ctf.Dir{}
}

// Package ctf holds the small value types shared by every simulation package:
// teams, movement directions, tile coordinates and pixel points.
//
// Tiles are always addressed as (column, row). Rows grow downwards, so North
// decreases Row and East increases Col.
package ctf

import (
	"fmt"
	"math"
	"strings"
)

type Team int

const (
	Blue Team = iota
	Red
)

// Teams lists both teams in registry order.
var Teams = [2]Team{Blue, Red}

func (t Team) Opponent() Team {
	if t == Blue {
		return Red
	}
	return Blue
}

func (t Team) String() string {
	switch t {
	case Blue:
		return "blue"
	case Red:
		return "red"
	default:
		return fmt.Sprintf("team(%d)", int(t))
	}
}

func ParseTeam(s string) (Team, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "blue":
		return Blue, nil
	case "red":
		return Red, nil
	}
	return 0, fmt.Errorf("unknown team %q", s)
}

type Dir int

const (
	None Dir = iota
	North
	South
	East
	West
)

// Dirs is the fixed neighbor order used by searches and random draws.
var Dirs = [4]Dir{North, South, East, West}

func (d Dir) Delta() (dc, dr int) {
	switch d {
	case North:
		return 0, -1
	case South:
		return 0, 1
	case East:
		return 1, 0
	case West:
		return -1, 0
	}
	return 0, 0
}

func (d Dir) Opposite() Dir {
	switch d {
	case North:
		return South
	case South:
		return North
	case East:
		return West
	case West:
		return East
	}
	return None
}

func (d Dir) String() string {
	switch d {
	case North:
		return "north"
	case South:
		return "south"
	case East:
		return "east"
	case West:
		return "west"
	}
	return "none"
}

func ParseDir(s string) (Dir, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "north", "w":
		return North, nil
	case "south", "s":
		return South, nil
	case "east", "d":
		return East, nil
	case "west", "a":
		return West, nil
	case "none", "":
		return None, nil
	}
	return None, fmt.Errorf("unknown direction %q", s)
}

type Tile struct {
	Col int `json:"col" yaml:"col"`
	Row int `json:"row" yaml:"row"`
}

func (t Tile) Step(d Dir) Tile {
	dc, dr := d.Delta()
	return Tile{Col: t.Col + dc, Row: t.Row + dr}
}

// Dist is the Euclidean distance in tiles.
func (t Tile) Dist(o Tile) float64 {
	dc := float64(t.Col - o.Col)
	dr := float64(t.Row - o.Row)
	return math.Sqrt(dc*dc + dr*dr)
}

func (t Tile) String() string { return fmt.Sprintf("(%d,%d)", t.Col, t.Row) }

// Point is a position in pixel space.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) Dist(o Point) float64 {
	dx := float64(p.X - o.X)
	dy := float64(p.Y - o.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// Mid is the integer midpoint of p and o.
func (p Point) Mid(o Point) Point {
	return Point{X: p.X + (o.X-p.X)/2, Y: p.Y + (o.Y-p.Y)/2}
}

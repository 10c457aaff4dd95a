// Package terrain holds the immutable speed grid a match is played on.
//
// A Grid never changes after New returns, so it can be shared between matches
// and goroutines. Which flags are currently in play is match state and lives in
// the match package.
package terrain

import (
	"errors"
	"fmt"

	"capflag.ai/internal/sim/ctf"
)

var ErrInvalidGrid = errors.New("invalid terrain grid")

type Config struct {
	// Speeds is row-major: Speeds[row][col]. 0 is impassable.
	Speeds         [][]int
	TileSize       int
	BlueFlag       ctf.Tile
	RedFlag        ctf.Tile
	FlagAreaRadius int
}

type Grid struct {
	cols, rows int
	speed      []int
	tileSize   int
	midline    int

	flags     [2]ctf.Tile
	flagAreas [2]map[ctf.Tile]struct{}
}

func New(cfg Config) (*Grid, error) {
	rows := len(cfg.Speeds)
	if rows < 3 {
		return nil, fmt.Errorf("%w: need at least 3 rows, got %d", ErrInvalidGrid, rows)
	}
	cols := len(cfg.Speeds[0])
	if cols < 3 {
		return nil, fmt.Errorf("%w: need at least 3 columns, got %d", ErrInvalidGrid, cols)
	}
	if cfg.TileSize < 1 {
		return nil, fmt.Errorf("%w: tile size %d", ErrInvalidGrid, cfg.TileSize)
	}
	if cfg.FlagAreaRadius < 0 {
		return nil, fmt.Errorf("%w: flag area radius %d", ErrInvalidGrid, cfg.FlagAreaRadius)
	}

	g := &Grid{
		cols:     cols,
		rows:     rows,
		speed:    make([]int, 0, rows*cols),
		tileSize: cfg.TileSize,
		midline:  cols / 2,
	}
	for r, row := range cfg.Speeds {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrInvalidGrid, r, len(row), cols)
		}
		for c, v := range row {
			if v < 0 {
				return nil, fmt.Errorf("%w: negative speed %d at %v", ErrInvalidGrid, v, ctf.Tile{Col: c, Row: r})
			}
		}
		g.speed = append(g.speed, row...)
	}

	for _, team := range ctf.Teams {
		flag := cfg.BlueFlag
		if team == ctf.Red {
			flag = cfg.RedFlag
		}
		if !g.inPlayableArea(flag) {
			return nil, fmt.Errorf("%w: %s flag %v outside the playable area", ErrInvalidGrid, team, flag)
		}
		if !g.Passable(flag) {
			return nil, fmt.Errorf("%w: %s flag %v on impassable tile", ErrInvalidGrid, team, flag)
		}
		g.flags[team] = flag
		g.flagAreas[team] = flagArea(flag, cfg.FlagAreaRadius)
	}
	if g.IsEnemyTerritory(ctf.Blue, g.flags[ctf.Blue].Col) {
		return nil, fmt.Errorf("%w: blue flag %v lies in red territory", ErrInvalidGrid, g.flags[ctf.Blue])
	}
	if g.IsEnemyTerritory(ctf.Red, g.flags[ctf.Red].Col) {
		return nil, fmt.Errorf("%w: red flag %v lies in blue territory", ErrInvalidGrid, g.flags[ctf.Red])
	}
	return g, nil
}

func flagArea(center ctf.Tile, radius int) map[ctf.Tile]struct{} {
	area := make(map[ctf.Tile]struct{}, (2*radius+1)*(2*radius+1))
	for r := center.Row - radius; r <= center.Row+radius; r++ {
		for c := center.Col - radius; c <= center.Col+radius; c++ {
			area[ctf.Tile{Col: c, Row: r}] = struct{}{}
		}
	}
	return area
}

// inPlayableArea excludes the outer ring of tiles.
func (g *Grid) inPlayableArea(t ctf.Tile) bool {
	return t.Col > 0 && t.Row > 0 && t.Col < g.cols-1 && t.Row < g.rows-1
}

func (g *Grid) Cols() int     { return g.cols }
func (g *Grid) Rows() int     { return g.rows }
func (g *Grid) TileSize() int { return g.tileSize }
func (g *Grid) Midline() int  { return g.midline }

func (g *Grid) InBounds(t ctf.Tile) bool {
	return t.Col >= 0 && t.Row >= 0 && t.Col < g.cols && t.Row < g.rows
}

// SpeedAt returns 0 for out-of-bounds tiles.
func (g *Grid) SpeedAt(col, row int) int {
	if col < 0 || row < 0 || col >= g.cols || row >= g.rows {
		return 0
	}
	return g.speed[row*g.cols+col]
}

func (g *Grid) Passable(t ctf.Tile) bool { return g.SpeedAt(t.Col, t.Row) > 0 }

func (g *Grid) IsEnemyTerritory(team ctf.Team, col int) bool {
	if team == ctf.Blue {
		return col > g.midline
	}
	return col < g.midline
}

func (g *Grid) IsInFlagArea(team ctf.Team, col, row int) bool {
	_, ok := g.flagAreas[team][ctf.Tile{Col: col, Row: row}]
	return ok
}

// FlagTile is the home tile of team's flag.
func (g *Grid) FlagTile(team ctf.Team) ctf.Tile { return g.flags[team] }

// FlagArea lists team's flag-area tiles in row-major order.
func (g *Grid) FlagArea(team ctf.Team) []ctf.Tile {
	out := make([]ctf.Tile, 0, len(g.flagAreas[team]))
	for r := 0; r < g.rows; r++ {
		for c := 0; c < g.cols; c++ {
			if g.IsInFlagArea(team, c, r) {
				out = append(out, ctf.Tile{Col: c, Row: r})
			}
		}
	}
	return out
}

func (g *Grid) TileOf(p ctf.Point) ctf.Tile {
	return ctf.Tile{Col: floorDiv(p.X, g.tileSize), Row: floorDiv(p.Y, g.tileSize)}
}

// Origin is the pixel position of a tile's top-left corner.
func (g *Grid) Origin(t ctf.Tile) ctf.Point {
	return ctf.Point{X: t.Col * g.tileSize, Y: t.Row * g.tileSize}
}

// Center is the pixel position agents stand on inside t.
func (g *Grid) Center(t ctf.Tile) ctf.Point {
	return ctf.Point{X: t.Col*g.tileSize + g.tileSize/2, Y: t.Row*g.tileSize + g.tileSize/2}
}

// Speeds returns a row-major copy of the speed matrix.
func (g *Grid) Speeds() [][]int {
	out := make([][]int, g.rows)
	for r := range out {
		out[r] = append([]int(nil), g.speed[r*g.cols:(r+1)*g.cols]...)
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

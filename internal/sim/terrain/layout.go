package terrain

import (
	"fmt"

	"capflag.ai/internal/sim/ctf"
	"capflag.ai/internal/sim/rng"
)

// OpenField builds a cols x rows matrix of uniform speed with an impassable border.
func OpenField(cols, rows, speed int) [][]int {
	out := make([][]int, rows)
	for r := range out {
		out[r] = make([]int, cols)
		for c := range out[r] {
			if r == 0 || c == 0 || r == rows-1 || c == cols-1 {
				continue
			}
			out[r][c] = speed
		}
	}
	return out
}

// ClearBarriers returns a copy of speeds where every interior impassable tile
// has speed 1. The border ring is kept.
func ClearBarriers(speeds [][]int) [][]int {
	out := make([][]int, len(speeds))
	for r, row := range speeds {
		out[r] = append([]int(nil), row...)
		if r == 0 || r == len(speeds)-1 {
			continue
		}
		for c := 1; c < len(row)-1; c++ {
			if out[r][c] == 0 {
				out[r][c] = 1
			}
		}
	}
	return out
}

// PlaceFlags puts the blue flag in column inset and the red flag in column
// cols-inset, each on a random passable row that is not among the first or
// last two passable rows of that column.
func PlaceFlags(speeds [][]int, inset int, r rng.Source) (blue, red ctf.Tile, err error) {
	if len(speeds) == 0 {
		return blue, red, fmt.Errorf("%w: empty speed matrix", ErrInvalidGrid)
	}
	cols := len(speeds[0])
	blueCol := inset
	redCol := cols - inset
	if blueCol <= 0 || redCol >= cols-1 || blueCol >= redCol {
		return blue, red, fmt.Errorf("%w: flag inset %d does not fit %d columns", ErrInvalidGrid, inset, cols)
	}
	pick := func(col int) (ctf.Tile, error) {
		var rows []int
		for row := range speeds {
			if col < len(speeds[row]) && speeds[row][col] > 0 {
				rows = append(rows, row)
			}
		}
		if len(rows) <= 4 {
			return ctf.Tile{}, fmt.Errorf("%w: column %d has too few passable rows for a flag", ErrInvalidGrid, col)
		}
		rows = rows[2 : len(rows)-2]
		return ctf.Tile{Col: col, Row: rows[r.Intn(len(rows))]}, nil
	}
	if blue, err = pick(blueCol); err != nil {
		return blue, red, err
	}
	red, err = pick(redCol)
	return blue, red, err
}

// StartTiles lists the passable tiles of team's outer zone (the first or last
// cols/divisor columns) in row-major order.
func (g *Grid) StartTiles(team ctf.Team, divisor int) []ctf.Tile {
	if divisor < 1 {
		divisor = 1
	}
	side := g.cols / divisor
	lo, hi := 0, side
	if team == ctf.Red {
		lo, hi = g.cols-side, g.cols
	}
	var out []ctf.Tile
	for r := 0; r < g.rows; r++ {
		for c := lo; c < hi; c++ {
			t := ctf.Tile{Col: c, Row: r}
			if g.Passable(t) {
				out = append(out, t)
			}
		}
	}
	return out
}

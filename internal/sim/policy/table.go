package policy

import (
	"fmt"
	"sort"
)

// Table is the utility table: one row of NumActions values per symbolic
// state. A dense table has a row for every state. A sparse table, loaded
// from a pruned artifact, has rows for a subset only.
type Table struct {
	states []int       // row -> state index; nil when dense
	rows   map[int]int // state index -> row; nil when dense
	values [][NumActions]float64
}

// NewTable returns a zero-initialized dense table.
func NewTable() *Table {
	return &Table{values: make([][NumActions]float64, NumStates)}
}

// NewSparseTable returns a zero-initialized table holding only the listed
// state indices. Rows are kept in ascending state order.
func NewSparseTable(states []int) (*Table, error) {
	sorted := append([]int(nil), states...)
	sort.Ints(sorted)
	rows := make(map[int]int, len(sorted))
	for i, s := range sorted {
		if s < 0 || s >= NumStates {
			return nil, fmt.Errorf("state index %d out of range [0,%d)", s, NumStates)
		}
		if _, dup := rows[s]; dup {
			return nil, fmt.Errorf("duplicate state index %d", s)
		}
		rows[s] = i
	}
	if len(sorted) == NumStates {
		return NewTable(), nil
	}
	return &Table{
		states: sorted,
		rows:   rows,
		values: make([][NumActions]float64, len(sorted)),
	}, nil
}

func (t *Table) Dense() bool { return t.rows == nil }

// Len is the number of rows.
func (t *Table) Len() int { return len(t.values) }

// States returns the state index of every row, in row order.
func (t *Table) States() []int {
	if t.Dense() {
		out := make([]int, NumStates)
		for i := range out {
			out[i] = i
		}
		return out
	}
	return append([]int(nil), t.states...)
}

func (t *Table) row(s State) (int, bool) {
	idx := s.Index()
	if t.Dense() {
		return idx, true
	}
	r, ok := t.rows[idx]
	return r, ok
}

// Has reports whether s has a row.
func (t *Table) Has(s State) bool {
	_, ok := t.row(s)
	return ok
}

// Row returns a copy of the utilities for s.
func (t *Table) Row(s State) ([NumActions]float64, bool) {
	r, ok := t.row(s)
	if !ok {
		return [NumActions]float64{}, false
	}
	return t.values[r], true
}

// RowAt returns a copy of row i in row order.
func (t *Table) RowAt(i int) [NumActions]float64 { return t.values[i] }

// SetRowAt overwrites row i.
func (t *Table) SetRowAt(i int, v [NumActions]float64) { t.values[i] = v }

// Value is the utility of a in s, or 0 when s has no row.
func (t *Table) Value(s State, a Action) float64 {
	r, ok := t.row(s)
	if !ok || !a.Valid() {
		return 0
	}
	return t.values[r][a]
}

// Set stores a utility. It reports false when s has no row.
func (t *Table) Set(s State, a Action, v float64) bool {
	r, ok := t.row(s)
	if !ok || !a.Valid() {
		return false
	}
	t.values[r][a] = v
	return true
}

// Best returns the legal action with the strictly highest utility, scanning
// in enumeration order so the first maximum wins ties.
func (t *Table) Best(s State, legal ActionSet) (Action, float64, bool) {
	r, ok := t.row(s)
	if !ok {
		return 0, 0, false
	}
	best, bestV, found := Action(0), 0.0, false
	for _, a := range legal.Actions() {
		v := t.values[r][a]
		if !found || v > bestV {
			best, bestV, found = a, v, true
		}
	}
	return best, bestV, found
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	c := &Table{values: append([][NumActions]float64(nil), t.values...)}
	if !t.Dense() {
		c.states = append([]int(nil), t.states...)
		c.rows = make(map[int]int, len(t.rows))
		for k, v := range t.rows {
			c.rows[k] = v
		}
	}
	return c
}

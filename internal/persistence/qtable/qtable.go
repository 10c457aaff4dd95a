// Package qtable reads and writes the utility-table artifact.
//
// Two encodings are accepted. The bare form is a JSON [512][14] matrix whose
// columns follow policy.Labels. The wrapped form, which Write produces,
// carries its own counts, bit labels and action labels, plus the state list
// when the table is pruned. Either may be zstd-compressed.
package qtable

import (
	"bufio"
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"capflag.ai/internal/sim/policy"
)

const (
	Format  = "capflag.qtable"
	Version = 1
)

// ErrShapeMismatch means the artifact does not fit this build's state and
// action enumeration. It is fatal at startup.
var ErrShapeMismatch = errors.New("utility table shape mismatch")

//go:embed schema/*.json
var schemaFS embed.FS

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

type File struct {
	Format      string      `json:"format"`
	Version     int         `json:"version"`
	StateCount  int         `json:"state_count"`
	ActionCount int         `json:"action_count"`
	StateBits   []string    `json:"state_bits,omitempty"`
	Actions     []string    `json:"actions"`
	States      []int       `json:"states,omitempty"`
	Values      [][]float64 `json:"values"`
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	b, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return nil, err
	}
	return jsonschema.CompileString(name, string(b))
}

// Encode converts t to the wrapped form.
func Encode(t *policy.Table) File {
	f := File{
		Format:      Format,
		Version:     Version,
		StateCount:  t.Len(),
		ActionCount: policy.NumActions,
		StateBits:   policy.StateBitLabels(),
		Actions:     policy.Labels(),
		Values:      make([][]float64, t.Len()),
	}
	if !t.Dense() {
		f.States = t.States()
	}
	for i := range f.Values {
		row := t.RowAt(i)
		f.Values[i] = append([]float64(nil), row[:]...)
	}
	return f
}

// Write stores t in the wrapped form, zstd-compressed when path ends in
// ".zst". The file is replaced atomically.
func Write(path string, t *policy.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, strings.HasSuffix(path, ".zst"), Encode(t)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, compress bool, f File) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	var w io.Writer = out
	var enc *zstd.Encoder
	if compress {
		enc, err = zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		w = enc
	}
	bw := bufio.NewWriterSize(w, 256*1024)
	if err := json.NewEncoder(bw).Encode(f); err != nil {
		return fmt.Errorf("encode utility table: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return err
		}
	}
	return out.Sync()
}

// Read loads a table in either form. Compression is detected from the
// content, not the file name.
func Read(path string) (*policy.Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Decode parses an artifact held in memory.
func Decode(raw []byte) (*policy.Table, error) {
	if bytes.HasPrefix(raw, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		if raw, err = dec.DecodeAll(raw, nil); err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("utility table json: %w", err)
	}

	if _, bare := doc.([]any); bare {
		s, err := compileSchema("qtable_base.schema.json")
		if err != nil {
			return nil, err
		}
		if err := s.Validate(doc); err != nil {
			return nil, fmt.Errorf("%w: want [%d][%d] matrix: %v", ErrShapeMismatch, policy.NumStates, policy.NumActions, err)
		}
		var values [][]float64
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, fmt.Errorf("utility table json: %w", err)
		}
		return FromFile(File{
			StateCount:  len(values),
			ActionCount: policy.NumActions,
			Actions:     policy.Labels(),
			Values:      values,
		})
	}

	s, err := compileSchema("qtable.schema.json")
	if err != nil {
		return nil, err
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("utility table json: %w", err)
	}
	if f.Version > Version {
		return nil, fmt.Errorf("utility table version %d is newer than supported %d", f.Version, Version)
	}
	return FromFile(f)
}

// FromFile checks f against this build's enumeration and builds the table.
// Columns stored in a different label order are remapped.
func FromFile(f File) (*policy.Table, error) {
	if f.ActionCount != policy.NumActions || len(f.Actions) != policy.NumActions {
		return nil, fmt.Errorf("%w: %d actions (%d labels), want %d", ErrShapeMismatch, f.ActionCount, len(f.Actions), policy.NumActions)
	}
	if len(f.Values) != f.StateCount {
		return nil, fmt.Errorf("%w: state_count %d but %d rows", ErrShapeMismatch, f.StateCount, len(f.Values))
	}
	if f.StateBits != nil {
		want := policy.StateBitLabels()
		if len(f.StateBits) != len(want) {
			return nil, fmt.Errorf("%w: %d state bits, want %d", ErrShapeMismatch, len(f.StateBits), len(want))
		}
		for i, b := range f.StateBits {
			if b != want[i] {
				return nil, fmt.Errorf("%w: state bit %d is %q, want %q", ErrShapeMismatch, i, b, want[i])
			}
		}
	}

	col := make([]policy.Action, len(f.Actions))
	var seen policy.ActionSet
	for i, l := range f.Actions {
		a, err := policy.ParseAction(l)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
		}
		if seen.Has(a) {
			return nil, fmt.Errorf("%w: action %s listed twice", ErrShapeMismatch, a)
		}
		seen = seen.With(a)
		col[i] = a
	}

	var t *policy.Table
	switch {
	case f.States == nil && f.StateCount == policy.NumStates:
		t = policy.NewTable()
	case f.States != nil && len(f.States) == f.StateCount:
		var err error
		if t, err = policy.NewSparseTable(f.States); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
		}
	default:
		return nil, fmt.Errorf("%w: %d rows without a matching state list", ErrShapeMismatch, f.StateCount)
	}

	// NewSparseTable sorts its rows, so place each stored row by state index.
	rowOf := make(map[int]int, t.Len())
	for i, s := range t.States() {
		rowOf[s] = i
	}
	for i, vals := range f.Values {
		if len(vals) != policy.NumActions {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrShapeMismatch, i, len(vals), policy.NumActions)
		}
		stateIdx := i
		if f.States != nil {
			stateIdx = f.States[i]
		}
		var row [policy.NumActions]float64
		for j, v := range vals {
			row[col[j]] = v
		}
		t.SetRowAt(rowOf[stateIdx], row)
	}
	return t, nil
}

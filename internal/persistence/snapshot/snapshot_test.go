package snapshot

import (
	"errors"
	"path/filepath"
	"testing"

	"capflag.ai/internal/sim/ctf"
	"capflag.ai/internal/sim/tuning"
)

func TestMatchRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "m-1")
	if filepath.Base(filepath.Dir(path)) != "matches" {
		t.Fatalf("path=%s", path)
	}

	tune := tuning.Defaults()
	tune.Match.TeamSize = 3
	flag := ctf.Tile{Col: 2, Row: 4}
	in := MatchV1{
		Header:    Header{MatchID: "m-1"},
		Seed:      99,
		Tuning:    tune,
		Speeds:    [][]int{{0, 0, 0}, {0, 1, 0}, {0, 0, 0}},
		BlueFlag:  &flag,
		Strategy:  "learned",
		TablePath: "tables/a.qtable.zst",
	}
	if err := WriteMatch(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Version != Version || h.MatchID != "m-1" {
		t.Fatalf("header=%+v", h)
	}

	out, err := ReadMatch(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Seed != 99 || out.Tuning.Match.TeamSize != 3 || out.Strategy != "learned" || out.TablePath != in.TablePath {
		t.Fatalf("out=%+v", out)
	}
	if out.BlueFlag == nil || *out.BlueFlag != flag || out.RedFlag != nil {
		t.Fatalf("flags blue=%v red=%v", out.BlueFlag, out.RedFlag)
	}
	if len(out.Speeds) != 3 || out.Speeds[1][1] != 1 {
		t.Fatalf("speeds=%v", out.Speeds)
	}
}

func TestReadMatchRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.match.zst")
	if err := WriteMatch(path, MatchV1{Header: Header{Version: Version + 1, MatchID: "x"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadMatch(path); !errors.Is(err, ErrVersion) {
		t.Fatalf("err=%v want ErrVersion", err)
	}
}

package log

import (
	"path/filepath"
	"testing"
	"time"

	"capflag.ai/internal/sim/match"
	"capflag.ai/internal/sim/policy"
)

func TestTickLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	for tick := uint64(1); tick <= 3; tick++ {
		for _, id := range []string{"m-a", "m-b"} {
			e := match.TickLogEntry{
				MatchID: id,
				Tick:    tick,
				Steps: []match.StepRecord{
					{Agent: "blue-0", Action: policy.GoOpponentFlag, Move: "E", Outcome: match.OutcomeMoved, Reward: -1},
				},
				Digest: "d",
			}
			if err := l.WriteTick(e); err != nil {
				t.Fatalf("write: %v", err)
			}
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := ReadMatch(filepath.Join(dir, "events"), "m-b")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries=%d want 3", len(got))
	}
	for i, e := range got {
		if e.MatchID != "m-b" || e.Tick != uint64(i+1) {
			t.Fatalf("entry %d: %+v", i, e)
		}
		if len(e.Steps) != 1 || e.Steps[0].Outcome != match.OutcomeMoved || e.Steps[0].Reward != -1 {
			t.Fatalf("entry %d steps: %+v", i, e.Steps)
		}
	}
}

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "events")
	now := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	if err := w.Write(match.TickLogEntry{MatchID: "m", Tick: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Write(match.TickLogEntry{MatchID: "m", Tick: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(dir, "events")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{
		filepath.Join(dir, "events-2026-03-01-10.jsonl.zst"),
		filepath.Join(dir, "events-2026-03-01-11.jsonl.zst"),
	}
	if len(files) != len(want) {
		t.Fatalf("files=%v", files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("files[%d]=%s want %s", i, files[i], want[i])
		}
	}
	got, err := ReadMatch(dir, "m")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[0].Tick != 1 || got[1].Tick != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestAppendAfterReopen(t *testing.T) {
	dir := t.TempDir()
	fixed := func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	for tick := uint64(1); tick <= 2; tick++ {
		w := NewJSONLZstdWriter(dir, "events")
		w.now = fixed
		if err := w.Write(match.TickLogEntry{MatchID: "m", Tick: tick}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	got, err := ReadMatch(dir, "m")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries=%d want 2", len(got))
	}
}

func TestSummaryLogger(t *testing.T) {
	dir := t.TempDir()
	l := NewSummaryLogger(dir)
	s := MatchSummary{
		MatchID:  "m-1",
		Seed:     7,
		Ticks:    120,
		Winner:   "blue",
		Strategy: "learned",
		Rewards:  map[string]int{"blue-0": 510, "red-0": -500},
		EndedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := l.WriteSummary(s); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	files, err := ListFiles(filepath.Join(dir, "summaries"), "summaries")
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	var got []MatchSummary
	if err := ScanFile(files[0], func(v MatchSummary) error {
		got = append(got, v)
		return nil
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 1 || got[0].MatchID != "m-1" || got[0].Rewards["red-0"] != -500 || !got[0].EndedAt.Equal(s.EndedAt) {
		t.Fatalf("got %+v", got)
	}
}

func TestOnCloseReportsFinishedSegments(t *testing.T) {
	dir := t.TempDir()
	var closed []string
	w := NewJSONLZstdWriterWithOptions(dir, "events", LoggerOptions{
		RotateLayout: "2006-01-02-15-04",
		OnClose:      func(path string) { closed = append(closed, filepath.Base(path)) },
	})
	now := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	w.now = func() time.Time { return now }

	_ = w.Write(match.TickLogEntry{MatchID: "m", Tick: 1})
	if len(closed) != 0 {
		t.Fatalf("closed=%v before rotation", closed)
	}
	now = now.Add(time.Minute)
	_ = w.Write(match.TickLogEntry{MatchID: "m", Tick: 2})
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	want := []string{"events-2026-03-01-10-00.jsonl.zst", "events-2026-03-01-10-01.jsonl.zst"}
	if len(closed) != 2 || closed[0] != want[0] || closed[1] != want[1] {
		t.Fatalf("closed=%v want %v", closed, want)
	}
}

package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"capflag.ai/internal/sim/ctf"
	"capflag.ai/internal/sim/tuning"
)

// Version is the current match record layout.
const Version = 1

var ErrVersion = errors.New("unsupported match record version")

type Header struct {
	Version int    `json:"version"`
	MatchID string `json:"match_id"`
	Tick    uint64 `json:"tick"`
}

// MatchV1 holds everything needed to rebuild a match from its first tick:
// the seed, the tuning in effect, the speed matrix before barrier clearing,
// and the flag tiles only when they were fixed by the map.
type MatchV1 struct {
	Header Header `json:"header"`

	Seed     int64         `json:"seed"`
	Tuning   tuning.Tuning `json:"tuning"`
	Speeds   [][]int       `json:"speeds"`
	BlueFlag *ctf.Tile     `json:"blue_flag,omitempty"`
	RedFlag  *ctf.Tile     `json:"red_flag,omitempty"`

	// Strategy is the strategy kind both teams ran; TablePath names the
	// utility table when it was "learned".
	Strategy  string `json:"strategy"`
	TablePath string `json:"table_path,omitempty"`
}

// Path returns where the record for matchID lives under dataDir.
func Path(dataDir, matchID string) string {
	return filepath.Join(dataDir, "matches", matchID+".match.zst")
}

func WriteMatch(path string, rec MatchV1) error {
	if rec.Header.Version == 0 {
		rec.Header.Version = Version
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 64*1024)
	hb, _ := json.Marshal(rec.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&rec); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	br, closeFn, err := open(path)
	if err != nil {
		return h, err
	}
	defer closeFn()
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func ReadMatch(path string) (MatchV1, error) {
	var rec MatchV1
	br, closeFn, err := open(path)
	if err != nil {
		return rec, err
	}
	defer closeFn()

	line, err := br.ReadBytes('\n')
	if err != nil {
		return rec, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return rec, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return rec, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&rec); err != nil {
		return rec, fmt.Errorf("gob decode: %w", err)
	}
	return rec, nil
}

func open(path string) (*bufio.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return bufio.NewReaderSize(dec, 64*1024), func() {
		dec.Close()
		_ = f.Close()
	}, nil
}

package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// CheckpointMeta describes one archived training checkpoint.
type CheckpointMeta struct {
	Checkpoint int            `json:"checkpoint"`
	Episodes   int            `json:"episodes"`
	Seed       int64          `json:"seed"`
	Table      string         `json:"table"`
	Wins       map[string]int `json:"wins"`
	MeanReturn float64        `json:"mean_return"`
	CreatedAt  string         `json:"created_at"`
}

// ArchiveCheckpoint copies a written utility table into
// `dir/checkpoints/checkpoint_<NNN>/` next to a meta.json when episodes is a
// multiple of every. It returns (checkpoint, archivedPath, archived=true)
// when a copy was made.
func ArchiveCheckpoint(dir, tablePath string, every int, meta CheckpointMeta) (checkpoint int, archivedPath string, archived bool, err error) {
	if every <= 0 || meta.Episodes <= 0 || meta.Episodes%every != 0 {
		return 0, "", false, nil
	}
	checkpoint = meta.Episodes / every

	archiveDir := filepath.Join(dir, "checkpoints", fmt.Sprintf("checkpoint_%03d", checkpoint))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(tablePath))
	if err := copyFile(tablePath, dst); err != nil {
		return 0, "", false, err
	}

	meta.Checkpoint = checkpoint
	meta.Table = filepath.Base(dst)
	if meta.CreatedAt == "" {
		meta.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return 0, "", false, err
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644); err != nil {
		return 0, "", false, err
	}
	return checkpoint, dst, true, nil
}

// ReadCheckpointMeta loads the meta.json next to an archived table.
func ReadCheckpointMeta(archivedPath string) (CheckpointMeta, error) {
	var meta CheckpointMeta
	b, err := os.ReadFile(filepath.Join(filepath.Dir(archivedPath), "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(b, &meta)
	return meta, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

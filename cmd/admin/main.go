package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"capflag.ai/internal/persistence/archive"
	"capflag.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "wins":
			winsCmd(os.Args[2:])
			return
		case "checkpoints":
			checkpointsCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the header of every recorded match, newest last.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	paths, err := matchRecords(filepath.Join(*dataDir, "matches"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, p := range paths {
		h, err := snapshot.ReadHeader(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(p), err)
			continue
		}
		size := ""
		if fi, err := os.Stat(p); err == nil {
			size = humanize.Bytes(uint64(fi.Size()))
		}
		fmt.Printf("%s v%d %s\n", h.MatchID, h.Version, size)
	}
}

func matchRecords(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type rec struct {
		path string
		mod  int64
	}
	var recs []rec
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".match.zst") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		recs = append(recs, rec{path: filepath.Join(dir, e.Name()), mod: fi.ModTime().UnixNano()})
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].mod != recs[j].mod {
			return recs[i].mod < recs[j].mod
		}
		return recs[i].path < recs[j].path
	})
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.path
	}
	return out, nil
}

// checkpointsCmd prints the meta of every archived training checkpoint.
func checkpointsCmd(args []string) {
	fs := flag.NewFlagSet("checkpoints", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "directory holding the checkpoint archive")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "checkpoints")
	ents, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range ents {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "checkpoint_") {
			continue
		}
		meta, err := archive.ReadCheckpointMeta(filepath.Join(base, e.Name(), "meta.json"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", e.Name(), err)
			continue
		}
		printJSON(meta)
	}
}

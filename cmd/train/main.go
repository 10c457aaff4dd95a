package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"capflag.ai/internal/persistence/objstore"
	"capflag.ai/internal/persistence/qtable"
	"capflag.ai/internal/sim/policy"
	"capflag.ai/internal/sim/terrain"
	"capflag.ai/internal/sim/tuning"
)

func main() {
	var (
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		mapPath    = flag.String("map", "", "map file (default: generated terrain per episode)")
		tablePath  = flag.String("table", "./data/policy.qtable.zst", "utility table to resume from and write to")
		dataDir    = flag.String("data", "./data", "directory holding the checkpoint archive")
		seed       = flag.Int64("seed", 1, "training seed")
		episodes   = flag.Int("episodes", 0, "episodes to play (default: learn.episodes from tuning)")
		every      = flag.Int("checkpoint_every", 100, "archive a checkpoint every N episodes (0 disables)")
		report     = flag.Int("report_every", 10, "log progress every N episodes (0 disables)")
		fresh      = flag.Bool("fresh", false, "start from an empty table even if -table exists")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[train] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}

	opts := trainOptions{
		Tuning:          tune,
		Seed:            *seed,
		Episodes:        *episodes,
		TablePath:       *tablePath,
		CheckpointDir:   *dataDir,
		CheckpointEvery: *every,
		ReportEvery:     *report,
	}
	if opts.Episodes <= 0 {
		opts.Episodes = tune.Learn.Episodes
	}
	if mp := strings.TrimSpace(*mapPath); mp != "" {
		m, err := terrain.LoadMap(mp)
		if err != nil {
			logger.Fatalf("load map: %v", err)
		}
		opts.Speeds = m.Speeds
	}

	var table *policy.Table
	if !*fresh {
		table, err = qtable.Read(*tablePath)
		switch {
		case err == nil:
			logger.Printf("resuming from %s (%d states)", *tablePath, table.Len())
		case errors.Is(err, os.ErrNotExist):
			table = nil
		default:
			logger.Fatalf("load table: %v", err)
		}
	}

	mirror, err := buildMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}
	if mirror != nil {
		defer mirror.Close()
		opts.OnArchive = mirror.Enqueue
	}

	ctx, cancel := signalContext()
	defer cancel()

	sum, err := runTraining(ctx, opts, table, logger)
	if err != nil {
		logger.Fatalf("train: %v", err)
	}
	logger.Printf("done: %s episodes, %s rounds, %s updates, mean return %.1f, wins %v, %d checkpoints; table written to %s",
		humanize.Comma(int64(sum.Episodes)), humanize.Comma(int64(sum.Rounds)), humanize.Comma(int64(sum.Updates)),
		sum.MeanReturn, sum.Wins, sum.Checkpoints, *tablePath)
	if fi, err := os.Stat(*tablePath); err == nil {
		logger.Printf("table size %s", humanize.Bytes(uint64(fi.Size())))
	}
}

// buildMirror uploads archived checkpoints when CAPFLAG_MIRROR is set, using
// the same CAPFLAG_S3_* settings as the server.
func buildMirror(dataDir string, logger *log.Logger) (*objstore.Mirror, error) {
	if v := strings.TrimSpace(os.Getenv("CAPFLAG_MIRROR")); v != "true" && v != "1" {
		return nil, nil
	}
	client, err := objstore.New(objstore.Config{
		Endpoint:        strings.TrimSpace(os.Getenv("CAPFLAG_S3_ENDPOINT")),
		Bucket:          strings.TrimSpace(os.Getenv("CAPFLAG_S3_BUCKET")),
		Region:          strings.TrimSpace(os.Getenv("CAPFLAG_S3_REGION")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("CAPFLAG_S3_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("CAPFLAG_S3_SECRET_ACCESS_KEY")),
	})
	if err != nil {
		return nil, err
	}
	return objstore.NewMirror(client, objstore.MirrorConfig{
		DataDir: dataDir,
		Prefix:  strings.TrimSpace(os.Getenv("CAPFLAG_S3_PREFIX")),
		Workers: 1,
		Logger:  logger,
	}), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

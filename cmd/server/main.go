package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"capflag.ai/internal/persistence/indexdb"
	persistlog "capflag.ai/internal/persistence/log"
	"capflag.ai/internal/persistence/qtable"
	"capflag.ai/internal/sim/match"
	"capflag.ai/internal/sim/policy"
	"capflag.ai/internal/sim/terrain"
	"capflag.ai/internal/sim/tuning"
	"capflag.ai/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		mapPath    = flag.String("map", "", "map file (default: <configs>/maps/classic.yaml, generated terrain when missing)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tablePath  = flag.String("table", "", "utility table for the learned strategy")
		strategy   = flag.String("strategy", match.KindPlanning, "agent strategy: reflex, planning or learned")
		seed       = flag.Int64("seed", 1337, "base seed; match n uses a seed derived from it")
		matches    = flag.Int("matches", 0, "matches to play before exiting (0 = forever)")
		disableDB  = flag.Bool("disable_db", false, "disable the match index")
		serverID   = flag.String("server_id", "", "server id reported to the index and metrics (default: hostname)")

		observerRemote = flag.Bool("observer_remote", false, "allow observer connections from non-loopback addresses")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	id := strings.TrimSpace(*serverID)
	if id == "" {
		id, _ = os.Hostname()
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	mode, err := policy.ParseMode(tune.Policy.Mode)
	if err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	plan := matchPlan{
		Seed:      *seed,
		Tuning:    tune,
		Strategy:  *strategy,
		TablePath: strings.TrimSpace(*tablePath),
		Mode:      mode,
	}

	mp := strings.TrimSpace(*mapPath)
	if mp == "" {
		mp = filepath.Join(*configDir, "maps", "classic.yaml")
		if _, err := os.Stat(mp); err != nil {
			mp = ""
		}
	}
	if mp != "" {
		m, err := terrain.LoadMap(mp)
		if err != nil {
			logger.Fatalf("load map: %v", err)
		}
		plan.Speeds = m.Speeds
		plan.BlueFlag, plan.RedFlag = m.FlagTiles()
		logger.Printf("map %s loaded", mp)
	}

	if plan.Strategy == match.KindLearned {
		if plan.TablePath == "" {
			logger.Fatalf("-strategy=learned requires -table")
		}
		plan.Table, err = qtable.Read(plan.TablePath)
		if err != nil {
			logger.Fatalf("load table: %v", err)
		}
	}
	// Fail fast on an unknown strategy rather than at the first match.
	if _, err := match.Strategies(plan.Strategy, plan.Table, plan.Mode, tune.Policy.Epsilon, plan.Seed, nil); err != nil {
		logger.Fatalf("strategy: %v", err)
	}

	idx, err := openRuntimeIndex(*dataDir, id, *disableDB, logger)
	if err != nil {
		logger.Fatalf("index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index tuning: %v", err)
		}
	}

	mirror, err := buildMirrorRuntime(*dataDir, logger)
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}
	defer mirror.Close()

	logOpts := persistlog.LoggerOptions{}
	if mirror.enabled {
		logOpts.RotateLayout = mirror.rotateLayout
		logOpts.OnClose = mirror.Enqueue
	}
	tickLog := persistlog.NewTickLoggerWithOptions(*dataDir, logOpts)
	summaries := persistlog.NewSummaryLoggerWithOptions(*dataDir, logOpts)
	defer tickLog.Close()
	defer summaries.Close()

	ctx, cancel := signalContext()
	defer cancel()

	obs := observer.NewServer(logger, *observerRemote)
	stats := &serverStats{}
	sinks := matchSinks{
		TickLog:   tickLog,
		Summaries: summaries,
		Index:     idx,
		Observer:  obs,
		Mirror:    mirror,
	}

	matchDone := make(chan struct{})
	go func() {
		defer close(matchDone)
		for n := 0; *matches == 0 || n < *matches; n++ {
			if _, err := playMatch(ctx, *dataDir, n, plan, sinks, stats, logger); err != nil {
				if err != context.Canceled {
					logger.Printf("match %d stopped: %v", n, err)
				}
				return
			}
		}
		logger.Printf("played %d matches, shutting down", *matches)
		cancel()
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, id, stats, idx, obs, mirror)
	})
	mux.HandleFunc("/v1/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/v1/observe", obs.WSHandler())

	if envBool("CAPFLAG_ENABLE_ADMIN_HTTP", true) {
		mux.HandleFunc("/admin/v1/wins", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			sq, ok := idx.(*indexdb.SQLiteIndex)
			if !ok {
				http.Error(rw, "sqlite index disabled", http.StatusServiceUnavailable)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			wins, err := sq.Wins(ctx2)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "wins": wins, "matches": stats.matches.Load()})
		})
	}
	if envBool("CAPFLAG_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (server=%s strategy=%s)", *addr, id, plan.Strategy)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-matchDone
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

func isLoopbackRemote(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

package main

import (
	"fmt"
	"io"

	"capflag.ai/internal/persistence/indexdb"
	"capflag.ai/internal/transport/observer"
)

// writeMetrics renders the minimal Prometheus exposition format.
func writeMetrics(w io.Writer, serverID string, stats *serverStats, idx indexdb.Index, obs *observer.Server, mirror *mirrorRuntime) {
	fmt.Fprintf(w, "# HELP capflag_match_tick Current round of the running match.\n")
	fmt.Fprintf(w, "# TYPE capflag_match_tick gauge\n")
	fmt.Fprintf(w, "capflag_match_tick{server=%q} %d\n", serverID, stats.currentTick.Load())

	fmt.Fprintf(w, "# HELP capflag_rounds_total Rounds played since start.\n")
	fmt.Fprintf(w, "# TYPE capflag_rounds_total counter\n")
	fmt.Fprintf(w, "capflag_rounds_total{server=%q} %d\n", serverID, stats.rounds.Load())

	fmt.Fprintf(w, "# HELP capflag_matches_total Finished matches by result.\n")
	fmt.Fprintf(w, "# TYPE capflag_matches_total counter\n")
	fmt.Fprintf(w, "capflag_matches_total{server=%q,result=%q} %d\n", serverID, "blue", stats.blueWins.Load())
	fmt.Fprintf(w, "capflag_matches_total{server=%q,result=%q} %d\n", serverID, "red", stats.redWins.Load())
	fmt.Fprintf(w, "capflag_matches_total{server=%q,result=%q} %d\n", serverID, "draw", stats.draws.Load())

	if obs != nil {
		fmt.Fprintf(w, "# HELP capflag_observer_subscribers Connected observer clients.\n")
		fmt.Fprintf(w, "# TYPE capflag_observer_subscribers gauge\n")
		fmt.Fprintf(w, "capflag_observer_subscribers{server=%q} %d\n", serverID, obs.Subscribers())

		fmt.Fprintf(w, "# HELP capflag_observer_dropped_total Frames dropped for slow observers.\n")
		fmt.Fprintf(w, "# TYPE capflag_observer_dropped_total counter\n")
		fmt.Fprintf(w, "capflag_observer_dropped_total{server=%q} %d\n", serverID, obs.Dropped())
	}

	if idx != nil {
		s := idx.Stats()
		fmt.Fprintf(w, "# HELP capflag_index_queue_depth Index writer backlog.\n")
		fmt.Fprintf(w, "# TYPE capflag_index_queue_depth gauge\n")
		fmt.Fprintf(w, "capflag_index_queue_depth{server=%q} %d\n", serverID, s.QueueDepth)
		fmt.Fprintf(w, "capflag_index_queue_capacity{server=%q} %d\n", serverID, s.QueueCapacity)

		fmt.Fprintf(w, "# HELP capflag_index_drop_total Index writes dropped while the writer was behind.\n")
		fmt.Fprintf(w, "# TYPE capflag_index_drop_total counter\n")
		fmt.Fprintf(w, "capflag_index_drop_total{server=%q,kind=%q} %d\n", serverID, "tick", s.DropTickTotal)
		fmt.Fprintf(w, "capflag_index_drop_total{server=%q,kind=%q} %d\n", serverID, "match", s.DropMatchTotal)
		fmt.Fprintf(w, "capflag_index_write_fail_total{server=%q} %d\n", serverID, s.WriteFailTotal)
	}

	if s, ok := mirror.Stats(); ok {
		fmt.Fprintf(w, "# HELP capflag_mirror_queue_depth Pending object uploads.\n")
		fmt.Fprintf(w, "# TYPE capflag_mirror_queue_depth gauge\n")
		fmt.Fprintf(w, "capflag_mirror_queue_depth{server=%q} %d\n", serverID, s.QueueDepth)
		fmt.Fprintf(w, "capflag_mirror_queue_capacity{server=%q} %d\n", serverID, s.QueueCapacity)

		fmt.Fprintf(w, "# HELP capflag_mirror_uploads_total Object uploads by result.\n")
		fmt.Fprintf(w, "# TYPE capflag_mirror_uploads_total counter\n")
		fmt.Fprintf(w, "capflag_mirror_uploads_total{server=%q,result=%q} %d\n", serverID, "ok", s.UploadSuccessTotal)
		fmt.Fprintf(w, "capflag_mirror_uploads_total{server=%q,result=%q} %d\n", serverID, "fail", s.UploadFailTotal)
		fmt.Fprintf(w, "capflag_mirror_dropped_total{server=%q} %d\n", serverID, s.DroppedTotal)
		fmt.Fprintf(w, "capflag_mirror_last_success_unix{server=%q} %d\n", serverID, s.LastSuccessUnix)
	}
}

package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/matches.sqlite)")
	matchID := fs.String("match", "", "match id (required for ticks, steps and rewards)")
	agentID := fs.String("agent", "", "agent_id filter (steps)")
	outcome := fs.String("outcome", "", "outcome filter (steps)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "matches"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "matches.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}
	needMatch := func() {
		if strings.TrimSpace(*matchID) == "" {
			fmt.Fprintf(os.Stderr, "%s needs -match\n", q)
			os.Exit(2)
		}
	}

	switch q {
	case "matches":
		rows, err := db.Query(`SELECT match_id,seed,strategy,ticks,winner,ended_at FROM matches ORDER BY ended_at DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				MatchID  string `json:"match_id"`
				Seed     int64  `json:"seed"`
				Strategy string `json:"strategy"`
				Ticks    int64  `json:"ticks"`
				Winner   string `json:"winner"`
				EndedAt  string `json:"ended_at"`
			}
			if err := rows.Scan(&r.MatchID, &r.Seed, &r.Strategy, &r.Ticks, &r.Winner, &r.EndedAt); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "wins":
		rows, err := db.Query(`SELECT strategy,winner,COUNT(*),AVG(ticks) FROM matches GROUP BY strategy,winner ORDER BY strategy,winner`)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Strategy  string  `json:"strategy"`
				Winner    string  `json:"winner"`
				Matches   int     `json:"matches"`
				MeanTicks float64 `json:"mean_ticks"`
			}
			if err := rows.Scan(&r.Strategy, &r.Winner, &r.Matches, &r.MeanTicks); err != nil {
				fail("scan", err)
			}
			if r.Winner == "" {
				r.Winner = "draw"
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "rewards":
		needMatch()
		rows, err := db.Query(`SELECT agent_id,team,total FROM agent_rewards WHERE match_id=? ORDER BY team,agent_id`, *matchID)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				AgentID string `json:"agent_id"`
				Team    string `json:"team"`
				Total   int    `json:"total"`
			}
			if err := rows.Scan(&r.AgentID, &r.Team, &r.Total); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "ticks":
		needMatch()
		rows, err := db.Query(`SELECT tick,digest,steps,blue_flag_in_play,red_flag_in_play,done FROM ticks WHERE match_id=? ORDER BY tick DESC LIMIT ?`, *matchID, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     int64  `json:"tick"`
				Digest   string `json:"digest"`
				Steps    int    `json:"steps"`
				BlueFlag bool   `json:"blue_flag_in_play"`
				RedFlag  bool   `json:"red_flag_in_play"`
				Done     bool   `json:"done"`
			}
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Steps, &r.BlueFlag, &r.RedFlag, &r.Done); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "steps":
		needMatch()
		query := `SELECT tick,seq,agent_id,action,move,outcome,reward FROM steps WHERE match_id=?`
		qargs := []any{*matchID}
		if a := strings.TrimSpace(*agentID); a != "" {
			query += ` AND agent_id=?`
			qargs = append(qargs, a)
		}
		if o := strings.TrimSpace(*outcome); o != "" {
			query += ` AND outcome=?`
			qargs = append(qargs, o)
		}
		query += ` ORDER BY tick DESC, seq LIMIT ?`
		qargs = append(qargs, *limit)
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Seq     int    `json:"seq"`
				AgentID string `json:"agent_id"`
				Action  string `json:"action"`
				Move    string `json:"move,omitempty"`
				Outcome string `json:"outcome"`
				Reward  int    `json:"reward"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.AgentID, &r.Action, &r.Move, &r.Outcome, &r.Reward); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "tunings":
		rows, err := db.Query(`SELECT digest,recorded_at FROM tunings ORDER BY recorded_at DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Digest     string `json:"digest"`
				RecordedAt string `json:"recorded_at"`
			}
			if err := rows.Scan(&r.Digest, &r.RecordedAt); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(matches, wins, rewards, ticks, steps, tunings)")
		os.Exit(2)
	}
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

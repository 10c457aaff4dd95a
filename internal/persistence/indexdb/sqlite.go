package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"capflag.ai/internal/sim/match"
	"capflag.ai/internal/sim/tuning"
)

var ErrNotFound = errors.New("not found")

type SQLiteIndex struct {
	db     *sql.DB
	logger *log.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick  atomic.Uint64
	dropMatch atomic.Uint64
	writeFail atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqMatch
)

type req struct {
	kind reqKind

	tick  match.TickLogEntry
	match MatchRow
}

func OpenSQLite(path string, logger *log.Logger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:     db,
		logger: logger,
		ch:     make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tunings (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS matches (
			match_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			strategy TEXT NOT NULL,
			ticks INTEGER NOT NULL,
			winner TEXT NOT NULL,
			ended_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_matches_winner ON matches(winner);`,
		`CREATE TABLE IF NOT EXISTS agent_rewards (
			match_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			team TEXT NOT NULL,
			total INTEGER NOT NULL,
			PRIMARY KEY (match_id, agent_id)
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			match_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			digest TEXT NOT NULL,
			steps INTEGER NOT NULL,
			blue_flag_in_play INTEGER NOT NULL,
			red_flag_in_play INTEGER NOT NULL,
			done INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (match_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			match_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			action TEXT NOT NULL,
			move TEXT NOT NULL,
			outcome TEXT NOT NULL,
			reward INTEGER NOT NULL,
			PRIMARY KEY (match_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_steps_agent ON steps(match_id, agent_id, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_steps_outcome ON steps(outcome);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteTick(entry match.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordMatch(m MatchRow) {
	if s == nil || s.closed.Load() || m.MatchID == "" {
		return
	}
	select {
	case s.ch <- req{kind: reqMatch, match: m}:
	default:
		s.dropMatch.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropTickTotal:  s.dropTick.Load(),
		DropMatchTotal: s.dropMatch.Load(),
		WriteFailTotal: s.writeFail.Load(),
	}
}

// UpsertTuning stores the tuning actually applied, keyed by its digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, digest, err := tuningJSON(tune)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR IGNORE INTO tunings(digest,json,recorded_at) VALUES(?,?,?)`, digest, string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

func tuningJSON(tune tuning.Tuning) ([]byte, string, error) {
	b, err := json.Marshal(tune)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(b)
	return b, hex.EncodeToString(sum[:]), nil
}

// LookupMatch reads a finished match back with its reward totals.
func (s *SQLiteIndex) LookupMatch(ctx context.Context, matchID string) (MatchRow, error) {
	var (
		m       MatchRow
		ticks   int64
		endedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT match_id, seed, strategy, ticks, winner, ended_at FROM matches WHERE match_id = ?`, matchID,
	).Scan(&m.MatchID, &m.Seed, &m.Strategy, &ticks, &m.Winner, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("match %s: %w", matchID, ErrNotFound)
	}
	if err != nil {
		return m, err
	}
	m.Ticks = uint64(ticks)
	if t, err := time.Parse(time.RFC3339Nano, endedAt); err == nil {
		m.EndedAt = t
	}

	rows, err := s.db.QueryContext(ctx, `SELECT agent_id, total FROM agent_rewards WHERE match_id = ?`, matchID)
	if err != nil {
		return m, err
	}
	defer rows.Close()
	m.Rewards = map[string]int{}
	for rows.Next() {
		var (
			id    string
			total int
		)
		if err := rows.Scan(&id, &total); err != nil {
			return m, err
		}
		m.Rewards[id] = total
	}
	return m, rows.Err()
}

// TickDigests returns a match's indexed digests keyed by tick.
func (s *SQLiteIndex) TickDigests(ctx context.Context, matchID string) (map[uint64]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tick, digest FROM ticks WHERE match_id = ?`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[uint64]string{}
	for rows.Next() {
		var (
			tick int64
			d    string
		)
		if err := rows.Scan(&tick, &d); err != nil {
			return nil, err
		}
		out[uint64(tick)] = d
	}
	return out, rows.Err()
}

// Wins counts finished matches per winning team; draws are keyed "".
func (s *SQLiteIndex) Wins(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT winner, COUNT(*) FROM matches GROUP BY winner`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			w string
			n int
		)
		if err := rows.Scan(&w, &n); err != nil {
			return nil, err
		}
		out[w] = n
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var stmts []*sql.Stmt
	prepare := func(q string) *sql.Stmt {
		st, err := s.db.Prepare(q)
		if err != nil {
			s.printf("sqlite index: prepare: %v", err)
			return nil
		}
		stmts = append(stmts, st)
		return st
	}
	insertTick := prepare(`INSERT OR REPLACE INTO ticks(match_id,tick,digest,steps,blue_flag_in_play,red_flag_in_play,done,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertStep := prepare(`INSERT OR REPLACE INTO steps(match_id,tick,seq,agent_id,action,move,outcome,reward) VALUES(?,?,?,?,?,?,?,?)`)
	insertMatch := prepare(`INSERT OR REPLACE INTO matches(match_id,seed,strategy,ticks,winner,ended_at) VALUES(?,?,?,?,?,?)`)
	insertReward := prepare(`INSERT OR REPLACE INTO agent_rewards(match_id,agent_id,team,total) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range stmts {
			_ = st.Close()
		}
	}()
	if len(stmts) != 4 {
		// Drain until Close.
		for range s.ch {
			s.writeFail.Add(1)
		}
		return
	}

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.printf("sqlite index: begin: %v", err)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeFail.Add(1)
			s.printf("sqlite index: commit: %v", err)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	fail := func(what string, err error) {
		s.writeFail.Add(1)
		s.printf("sqlite index: %s: %v", what, err)
		if tx != nil {
			_ = tx.Rollback()
			tx = nil
		}
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			s.writeFail.Add(1)
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			b, _ := json.Marshal(e)
			if _, err := tx.Stmt(insertTick).Exec(
				e.MatchID,
				int64(e.Tick),
				e.Digest,
				len(e.Steps),
				boolInt(e.BlueFlag),
				boolInt(e.RedFlag),
				boolInt(e.Done),
				string(b),
			); err != nil {
				fail("insert tick", err)
				continue
			}
			opCount++
			for i, st := range e.Steps {
				if _, err := tx.Stmt(insertStep).Exec(
					e.MatchID,
					int64(e.Tick),
					i,
					st.Agent,
					st.Action.String(),
					st.Move,
					st.Outcome.String(),
					st.Reward,
				); err != nil {
					fail("insert step", err)
					break
				}
				opCount++
			}

		case reqMatch:
			m := r.match
			if _, err := tx.Stmt(insertMatch).Exec(
				m.MatchID,
				m.Seed,
				m.Strategy,
				int64(m.Ticks),
				m.Winner,
				m.EndedAt.UTC().Format(time.RFC3339Nano),
			); err != nil {
				fail("insert match", err)
				continue
			}
			opCount++
			ids := make([]string, 0, len(m.Rewards))
			for id := range m.Rewards {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				if _, err := tx.Stmt(insertReward).Exec(m.MatchID, id, teamOf(id), m.Rewards[id]); err != nil {
					fail("insert reward", err)
					break
				}
				opCount++
			}
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

func (s *SQLiteIndex) printf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// teamOf extracts the team from an agent id such as "blue-2".
func teamOf(agentID string) string {
	team, _, _ := strings.Cut(agentID, "-")
	return team
}

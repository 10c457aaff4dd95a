package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"capflag.ai/internal/sim/match"
	"capflag.ai/internal/sim/tuning"
)

// RemoteConfig configures an HTTP ingest endpoint that receives index events
// in JSON batches.
type RemoteConfig struct {
	Endpoint      string
	Token         string
	Source        string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// MaxRetained caps how many unsent events are kept across failed flushes.
	MaxRetained int
	Logger      *log.Logger
}

type RemoteIndex struct {
	cfg        RemoteConfig
	httpClient *http.Client

	ch   chan remoteEvent
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick       atomic.Uint64
	dropMatch      atomic.Uint64
	flushFail      atomic.Uint64
	retainedDrop   atomic.Uint64
	deliveredTotal atomic.Uint64
}

type remoteEvent struct {
	Kind    string `json:"kind"`
	Source  string `json:"source"`
	Payload any    `json:"payload"`
}

type remoteTickPayload struct {
	MatchID  string             `json:"match_id"`
	Tick     uint64             `json:"tick"`
	Digest   string             `json:"digest"`
	BlueFlag bool               `json:"blue_flag_in_play"`
	RedFlag  bool               `json:"red_flag_in_play"`
	Done     bool               `json:"done,omitempty"`
	Steps    []match.StepRecord `json:"steps"`
}

type remoteTuningPayload struct {
	Digest     string `json:"digest"`
	JSON       string `json:"json"`
	RecordedAt string `json:"recorded_at"`
}

func OpenRemote(cfg RemoteConfig) (*RemoteIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Source = strings.TrimSpace(cfg.Source)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty ingest endpoint")
	}
	if cfg.Source == "" {
		return nil, fmt.Errorf("empty source id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 64 * cfg.BatchSize
	}

	d := &RemoteIndex{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		ch: make(chan remoteEvent, 32768),
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()

	return d, nil
}

func (d *RemoteIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *RemoteIndex) WriteTick(entry match.TickLogEntry) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	p := remoteTickPayload{
		MatchID:  entry.MatchID,
		Tick:     entry.Tick,
		Digest:   entry.Digest,
		BlueFlag: entry.BlueFlag,
		RedFlag:  entry.RedFlag,
		Done:     entry.Done,
		Steps:    entry.Steps,
	}
	if !d.enqueue(remoteEvent{Kind: "tick", Source: d.cfg.Source, Payload: p}) {
		d.dropTick.Add(1)
	}
	return nil
}

func (d *RemoteIndex) RecordMatch(m MatchRow) {
	if d == nil || d.closed.Load() || m.MatchID == "" {
		return
	}
	if !d.enqueue(remoteEvent{Kind: "match", Source: d.cfg.Source, Payload: m}) {
		d.dropMatch.Add(1)
	}
}

func (d *RemoteIndex) UpsertTuning(tune tuning.Tuning) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	b, digest, err := tuningJSON(tune)
	if err != nil {
		return err
	}
	d.enqueue(remoteEvent{Kind: "tuning", Source: d.cfg.Source, Payload: remoteTuningPayload{
		Digest:     digest,
		JSON:       string(b),
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}})
	return nil
}

type RemoteStats struct {
	Stats
	FlushFailTotal    uint64 `json:"flush_fail_total"`
	RetainedDropTotal uint64 `json:"retained_drop_total"`
	DeliveredTotal    uint64 `json:"delivered_total"`
}

func (d *RemoteIndex) Stats() Stats { return d.RemoteStats().Stats }

func (d *RemoteIndex) RemoteStats() RemoteStats {
	if d == nil {
		return RemoteStats{}
	}
	return RemoteStats{
		Stats: Stats{
			QueueDepth:     len(d.ch),
			QueueCapacity:  cap(d.ch),
			DropTickTotal:  d.dropTick.Load(),
			DropMatchTotal: d.dropMatch.Load(),
			WriteFailTotal: d.flushFail.Load(),
		},
		FlushFailTotal:    d.flushFail.Load(),
		RetainedDropTotal: d.retainedDrop.Load(),
		DeliveredTotal:    d.deliveredTotal.Load(),
	}
}

func (d *RemoteIndex) enqueue(ev remoteEvent) bool {
	select {
	case d.ch <- ev:
		return true
	default:
		d.printf("remote index queue full; drop kind=%s", ev.Kind)
		return false
	}
}

func (d *RemoteIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]remoteEvent, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.printf("remote index flush failed batch=%d err=%v", len(batch), err)
			// Keep the batch for the next tick, trimming the oldest events
			// past the retention cap.
			if over := len(batch) - d.cfg.MaxRetained; over > 0 {
				d.retainedDrop.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		d.deliveredTotal.Add(uint64(len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch)%d.cfg.BatchSize == 0 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *RemoteIndex) sendBatch(events []remoteEvent) error {
	body := struct {
		Events []remoteEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-capflag-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *RemoteIndex) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}

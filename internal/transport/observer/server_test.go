package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"capflag.ai/internal/observerproto"
	"capflag.ai/internal/sim/encoding"
	"capflag.ai/internal/sim/match"
	"capflag.ai/internal/sim/terrain"
	"capflag.ai/internal/sim/tuning"
)

func newTestRunner(t *testing.T) *match.Runner {
	t.Helper()
	tu := tuning.Defaults()
	tu.Match.TeamSize = 2
	tu.Match.MaxTicks = 50
	tu.Terrain.TileSize = 10
	r, err := match.NewRunner(match.Config{
		ID:     "obs-match",
		Seed:   3,
		Tuning: tu,
		Speeds: terrain.OpenField(24, 12, 1),
	}, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func newTestServer(t *testing.T, s *Server) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/observe", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestBootstrapDescribesField(t *testing.T) {
	s := NewServer(nil, false)
	srv := newTestServer(t, s)

	resp, err := http.Get(srv.URL + "/v1/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status=%d before any match", resp.StatusCode)
	}

	r := newTestRunner(t)
	s.SetMatch(Bootstrap(r))
	resp, err = http.Get(srv.URL + "/v1/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var boot observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if boot.MatchID != "obs-match" || boot.ProtocolVersion != observerproto.Version {
		t.Fatalf("boot=%+v", boot)
	}
	p := boot.MatchParams
	if p.Cols != 24 || p.Rows != 12 || p.TileSize != 10 || p.TeamSize != 2 || p.Seed != 3 {
		t.Fatalf("params=%+v", p)
	}
	if len(boot.Speeds) != 12 || len(boot.Speeds[0]) != 24 {
		t.Fatalf("speeds %dx%d", len(boot.Speeds), len(boot.Speeds[0]))
	}
	decoded, err := encoding.DecodeSpeeds(boot.SpeedsRLE, 24, 12)
	if err != nil {
		t.Fatalf("speeds_rle: %v", err)
	}
	if decoded[5][7] != boot.Speeds[5][7] {
		t.Fatalf("speeds_rle disagrees with speeds")
	}
	if boot.BlueFlag[0] >= boot.Midline || boot.RedFlag[0] <= boot.Midline {
		t.Fatalf("flags blue=%v red=%v midline=%d", boot.BlueFlag, boot.RedFlag, boot.Midline)
	}

	post, err := http.Post(srv.URL+"/v1/bootstrap", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("post status=%d", post.StatusCode)
	}
}

func dial(t *testing.T, srv *httptest.Server, sub observerproto.SubscribeMsg) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observe"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return conn
}

func waitSubscribers(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers=%d want %d", s.Subscribers(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestObserveStreamsRounds(t *testing.T) {
	s := NewServer(nil, false)
	srv := newTestServer(t, s)
	r := newTestRunner(t)
	s.SetMatch(Bootstrap(r))

	withSteps := dial(t, srv, observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version, Steps: true})
	bare := dial(t, srv, observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version})
	waitSubscribers(t, s, 2)

	entry, err := r.Round()
	if err != nil {
		t.Fatalf("round: %v", err)
	}
	s.Publish(TickFrame(r, entry))

	for i, conn := range []*websocket.Conn{withSteps, bare} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg observerproto.TickMsg
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("conn %d read: %v", i, err)
		}
		if msg.Type != "TICK" || msg.Tick != 1 || msg.MatchID != "obs-match" {
			t.Fatalf("conn %d msg=%+v", i, msg)
		}
		if len(msg.Agents) != 4 {
			t.Fatalf("conn %d agents=%d", i, len(msg.Agents))
		}
		wantSteps := 0
		if i == 0 {
			wantSteps = len(entry.Steps)
		}
		if len(msg.Steps) != wantSteps {
			t.Fatalf("conn %d steps=%d want %d", i, len(msg.Steps), wantSteps)
		}
	}

	// A late subscriber gets the last frame right away.
	late := dial(t, srv, observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version})
	_ = late.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg observerproto.TickMsg
	if err := late.ReadJSON(&msg); err != nil {
		t.Fatalf("late read: %v", err)
	}
	if msg.Tick != 1 {
		t.Fatalf("late tick=%d", msg.Tick)
	}
}

func TestObserveRejectsBadHandshake(t *testing.T) {
	s := NewServer(nil, false)
	srv := newTestServer(t, s)
	for _, tc := range []struct {
		sub  observerproto.SubscribeMsg
		code string
	}{
		{observerproto.SubscribeMsg{Type: "HELLO", ProtocolVersion: observerproto.Version}, observerproto.ErrBadRequest},
		{observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: "9.9"}, observerproto.ErrVersion},
	} {
		conn := dial(t, srv, tc.sub)
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg observerproto.ErrorMsg
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read error frame: %v", err)
		}
		if msg.Type != observerproto.TypeError || msg.Code != tc.code {
			t.Fatalf("got %+v, want %s", msg, tc.code)
		}
		_, _, err := conn.ReadMessage()
		if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Fatalf("err=%v want policy violation close", err)
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	s := NewServer(nil, false)
	slow := &subscriber{out: make(chan []byte, 1)}
	s.subs["slow"] = slow

	s.Publish(observerproto.TickMsg{Type: "TICK", Tick: 1})
	s.Publish(observerproto.TickMsg{Type: "TICK", Tick: 2})
	s.Publish(observerproto.TickMsg{Type: "TICK", Tick: 3})

	if got := s.Dropped(); got != 2 {
		t.Fatalf("dropped=%d want 2", got)
	}
	var msg observerproto.TickMsg
	if err := json.Unmarshal(<-slow.out, &msg); err != nil || msg.Tick != 1 {
		t.Fatalf("msg=%+v err=%v", msg, err)
	}
}

func TestPublishSplitsFramesByStepsSetting(t *testing.T) {
	s := NewServer(nil, false)
	bare := &subscriber{out: make(chan []byte, 1)}
	full := &subscriber{out: make(chan []byte, 1)}
	full.steps.Store(true)
	s.subs["bare"] = bare
	s.subs["full"] = full

	s.Publish(observerproto.TickMsg{
		Type:  observerproto.TypeTick,
		Tick:  7,
		Steps: []observerproto.StepInfo{{AgentID: "blue-0", Action: "wait", Outcome: "stationary"}},
	})

	var got observerproto.TickMsg
	if err := json.Unmarshal(<-bare.out, &got); err != nil || got.Tick != 7 || got.Steps != nil {
		t.Fatalf("bare frame=%+v err=%v", got, err)
	}
	got = observerproto.TickMsg{}
	if err := json.Unmarshal(<-full.out, &got); err != nil || len(got.Steps) != 1 {
		t.Fatalf("full frame=%+v err=%v", got, err)
	}
	if s.Dropped() != 0 {
		t.Fatalf("dropped=%d", s.Dropped())
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.2:1234":  false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}

package observer

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"capflag.ai/internal/observerproto"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
)

// Server fans TICK frames out to websocket spectators. The match loop calls
// SetMatch and Publish; handlers only read what those stored.
type Server struct {
	log         *log.Logger
	allowRemote bool

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu       sync.RWMutex
	boot     *observerproto.BootstrapResponse
	lastFull []byte
	lastBare []byte
	subs     map[string]*subscriber
}

type subscriber struct {
	out   chan []byte
	steps atomic.Bool
}

// NewServer returns a spectator server. Unless allowRemote is set, only
// loopback clients are served.
func NewServer(logger *log.Logger, allowRemote bool) *Server {
	return &Server{
		log:         logger,
		allowRemote: allowRemote,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: make(map[string]*subscriber),
	}
}

// SetMatch replaces the field description served by the bootstrap endpoint.
func (s *Server) SetMatch(b observerproto.BootstrapResponse) {
	s.mu.Lock()
	s.boot = &b
	s.lastFull, s.lastBare = nil, nil
	s.mu.Unlock()
}

// Publish sends msg to every subscriber without blocking; a subscriber whose
// buffer is full misses the frame.
func (s *Server) Publish(msg observerproto.TickMsg) {
	full, err := json.Marshal(msg)
	if err != nil {
		s.printf("observer: marshal tick: %v", err)
		return
	}
	msg.Steps = nil
	bare, err := json.Marshal(msg)
	if err != nil {
		s.printf("observer: marshal tick: %v", err)
		return
	}

	s.mu.Lock()
	s.lastFull, s.lastBare = full, bare
	if s.boot != nil {
		s.boot.Tick = msg.Tick
	}
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		b := bare
		if sub.steps.Load() {
			b = full
		}
		select {
		case sub.out <- b:
		default:
			if n := s.dropped.Add(1); n == 1 || n%1000 == 0 {
				s.printf("observer: slow subscriber; dropped frames total=%d", n)
			}
		}
	}
}

func (s *Server) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped counts frames skipped for slow subscribers.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		s.mu.RLock()
		var resp *observerproto.BootstrapResponse
		if s.boot != nil {
			b := *s.boot
			resp = &b
		}
		s.mu.RUnlock()
		if resp == nil {
			http.Error(rw, "no match running", http.StatusServiceUnavailable)
			return
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, code := parseSubscribe(raw)
		if code != "" {
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = conn.WriteJSON(observerproto.ErrorMsg{
				Type:            observerproto.TypeError,
				ProtocolVersion: observerproto.Version,
				Code:            code,
				Message:         "expected SUBSCRIBE with protocol_version " + observerproto.Version,
			})
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		me := &subscriber{out: make(chan []byte, 8)}
		me.steps.Store(sub.Steps)

		s.mu.Lock()
		s.subs[sid] = me
		last := s.lastBare
		if sub.Steps {
			last = s.lastFull
		}
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
		}()
		if last != nil {
			me.out <- last
		}

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})

		done := make(chan struct{})
		writeErr := make(chan error, 1)
		go func() {
			ping := time.NewTicker(pingInterval)
			defer ping.Stop()
			for {
				select {
				case <-done:
					writeErr <- nil
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
						writeErr <- err
						return
					}
				case b := <-me.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if sub, code := parseSubscribe(raw); code == "" {
				me.steps.Store(sub.Steps)
			}
		}

		close(done)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// parseSubscribe returns an observerproto error code, or "" when raw is a
// SUBSCRIBE this server speaks.
func parseSubscribe(raw []byte) (observerproto.SubscribeMsg, string) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(raw, &sub); err != nil || sub.Type != observerproto.TypeSubscribe {
		return sub, observerproto.ErrBadRequest
	}
	if sub.ProtocolVersion != observerproto.Version {
		return sub, observerproto.ErrVersion
	}
	return sub, ""
}

func (s *Server) allowed(r *http.Request) bool {
	return s.allowRemote || isLoopbackRemote(r.RemoteAddr)
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

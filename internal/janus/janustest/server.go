// Package janustest runs a scripted in-process gateway for tests.
package janustest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/videoroom/internal/janus"
	"github.com/gorilla/websocket"
)

const wait = 2 * time.Second

// Server answers create, attach and detach with success, everything else with
// ack, and records every request it receives. Session ids start at 42 and
// handle ids at 7.
type Server struct {
	*httptest.Server
	t testing.TB

	requests chan map[string]any

	mu          sync.Mutex
	conn        *websocket.Conn
	subprotocol string
	nextHandle  uint64
	connected   chan struct{}
}

func NewServer(t testing.TB) *Server {
	s := &Server{
		t:          t,
		requests:   make(chan map[string]any, 128),
		nextHandle: 7,
		connected:  make(chan struct{}),
	}
	upgrader := websocket.Upgrader{
		Subprotocols: []string{janus.Subprotocol},
		CheckOrigin:  func(r *http.Request) bool { return true },
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.mu.Lock()
		s.conn = ws
		s.subprotocol = ws.Subprotocol()
		s.mu.Unlock()
		close(s.connected)
		s.serve(ws)
	}))
	t.Cleanup(s.Close)
	return s
}

// URL is the ws:// address of the gateway.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

func (s *Server) Subprotocol() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subprotocol
}

func (s *Server) serve(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req map[string]any
		if err := json.Unmarshal(data, &req); err != nil {
			s.t.Errorf("client sent invalid json: %s", data)
			return
		}
		s.requests <- req
		s.answer(req)
	}
}

func (s *Server) answer(req map[string]any) {
	tx, _ := req["transaction"].(string)
	switch req["janus"] {
	case janus.RequestCreate:
		s.Push(`{"janus":"success","transaction":%q,"data":{"id":42}}`, tx)
	case janus.RequestAttach:
		s.mu.Lock()
		id := s.nextHandle
		s.nextHandle++
		s.mu.Unlock()
		s.Push(`{"janus":"success","transaction":%q,"session_id":42,"data":{"id":%d}}`, tx, id)
	case janus.RequestDetach:
		s.Push(`{"janus":"success","transaction":%q,"session_id":42}`, tx)
	default:
		s.Push(`{"janus":"ack","transaction":%q,"session_id":42}`, tx)
	}
}

// Push sends one frame to the connected client.
func (s *Server) Push(format string, args ...any) {
	select {
	case <-s.connected:
	case <-time.After(wait):
		s.t.Errorf("no client connected")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, fmt.Appendf(nil, format, args...)); err != nil {
		s.t.Logf("push: %v", err)
	}
}

// Next returns the next request, which must be of kind. Keep-alives are
// skipped unless asked for.
func (s *Server) Next(kind string) map[string]any {
	s.t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case req := <-s.requests:
			if req["janus"] == janus.RequestKeepAlive && kind != janus.RequestKeepAlive {
				continue
			}
			if req["janus"] != kind {
				s.t.Fatalf("want %s request, got %v", kind, req)
			}
			return req
		case <-deadline:
			s.t.Fatalf("no %s request", kind)
			return nil
		}
	}
}

// DropClient closes the socket without a close handshake.
func (s *Server) DropClient() {
	<-s.connected
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.Close()
}

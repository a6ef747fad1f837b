package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rewardspanel/endpoint"
	"rewardspanel/model"
	"rewardspanel/stats"
)

type recordingSink struct {
	mu        sync.Mutex
	events    []string
	connected bool
	channel   []string
}

func (s *recordingSink) record(ev string) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) SetTaskStatus(status model.TaskStatus) {
	s.record("status:" + status.CurrentOperation)
}
func (s *recordingSink) SetHealth(h model.Health) { s.record("health:" + h.Overall) }
func (s *recordingSink) SetPoints(model.Points) { s.record("points") }
func (s *recordingSink) AppendLog(e model.LogEntry) bool {
	s.record("log:" + e.Message)
	return true
}
func (s *recordingSink) ApplyTaskEvent(ev model.TaskEvent) { s.record("event:" + ev.Event) }
func (s *recordingSink) SetChannel(state string, connected bool) {
	s.mu.Lock()
	s.channel = append(s.channel, state)
	s.connected = connected
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *recordingSink) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

type urlResolver struct {
	mu  sync.Mutex
	url string
}

func (r *urlResolver) set(url string) {
	r.mu.Lock()
	r.url = url
	r.mu.Unlock()
}

func (r *urlResolver) Resolve(context.Context) (endpoint.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return endpoint.Endpoint{WSURL: r.url}, nil
}

type fakeTimers struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
}

func (f *fakeTimers) after(d time.Duration, fn func()) func() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	f.pending = append(f.pending, fn)
	idx := len(f.pending) - 1
	return func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		active := f.pending[idx] != nil
		f.pending[idx] = nil
		return active
	}
}

func (f *fakeTimers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delays)
}

func (f *fakeTimers) delay(i int) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delays[i]
}

// fireLatest runs the most recently scheduled callback if it is still armed.
func (f *fakeTimers) fireLatest(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	if len(f.pending) == 0 || f.pending[len(f.pending)-1] == nil {
		f.mu.Unlock()
		t.Fatalf("no armed reconnect timer")
	}
	fn := f.pending[len(f.pending)-1]
	f.pending[len(f.pending)-1] = nil
	f.mu.Unlock()
	fn()
}

func (f *fakeTimers) armed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fn := range f.pending {
		if fn != nil {
			n++
		}
	}
	return n
}

type wsServer struct {
	srv      *httptest.Server
	upgrades atomic.Int32
	conns    chan *websocket.Conn
}

func newWSServer(t *testing.T, onConn func(*websocket.Conn)) *wsServer {
	t.Helper()
	ws := &wsServer{conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.upgrades.Add(1)
		ws.conns <- conn
		if onConn != nil {
			onConn(conn)
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http") + "/ws"
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(res Resolver, sink Sink, tracker *stats.Tracker) (*Manager, *fakeTimers) {
	m := NewManager(res, sink, tracker, Options{BaseDelay: time.Second, MaxDelay: 4 * time.Second})
	timers := &fakeTimers{}
	m.after = timers.after
	return m, timers
}

func TestMessagesAppliedInArrivalOrder(t *testing.T) {
	ws := newWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"log","data":"A","timestamp":"2026-01-02T10:00:00"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status_update","data":{"current_operation":"B"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"task_event","event":"C","message":"done"}`))
	})
	sink := &recordingSink{}
	m, _ := newTestManager(&urlResolver{url: ws.url()}, sink, nil)
	defer m.Close()

	m.Connect()
	waitFor(t, "three messages", func() bool { return len(sink.snapshot()) == 3 })
	got := sink.snapshot()
	want := []string{"log:A", "status:B", "event:C"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d: expected %s, got %s (all: %v)", i, want[i], got[i], got)
		}
	}
	if m.State() != Connected || !sink.isConnected() {
		t.Fatalf("expected connected state")
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	ws := newWSServer(t, nil)
	sink := &recordingSink{}
	m, _ := newTestManager(&urlResolver{url: ws.url()}, sink, nil)
	defer m.Close()

	m.Connect()
	m.Connect()
	waitFor(t, "connection", func() bool { return m.State() == Connected })
	m.Connect()
	time.Sleep(50 * time.Millisecond)
	if n := ws.upgrades.Load(); n != 1 {
		t.Fatalf("expected exactly one connection, got %d", n)
	}
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	ws := newWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery","data":{}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"echo","data":"hi"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"log","data":"still alive"}`))
	})
	sink := &recordingSink{}
	tracker := stats.NewTracker()
	m, timers := newTestManager(&urlResolver{url: ws.url()}, sink, tracker)
	defer m.Close()

	m.Connect()
	waitFor(t, "valid message", func() bool { return len(sink.snapshot()) == 1 })
	if got := sink.snapshot()[0]; got != "log:still alive" {
		t.Fatalf("unexpected routed message %s", got)
	}
	if tracker.ProtocolDrops() != 2 {
		t.Fatalf("expected 2 protocol drops, got %d", tracker.ProtocolDrops())
	}
	if m.State() != Connected || timers.count() != 0 {
		t.Fatalf("protocol errors must not disturb the channel")
	}
}

func TestBackoffGrowsThenResetsOnConnect(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := "ws" + strings.TrimPrefix(dead.URL, "http") + "/ws"
	dead.Close()

	ws := newWSServer(t, nil)
	res := &urlResolver{url: deadURL}
	sink := &recordingSink{}
	m, timers := newTestManager(res, sink, nil)
	defer m.Close()

	m.Connect()
	waitFor(t, "first retry", func() bool { return timers.count() == 1 })
	for i := 2; i <= 4; i++ {
		timers.fireLatest(t)
		waitFor(t, "next retry", func() bool { return timers.count() == i })
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	for i, d := range want {
		if got := timers.delay(i); got != d {
			t.Fatalf("retry %d: expected %s, got %s", i, d, got)
		}
	}
	if m.Attempts() != 4 {
		t.Fatalf("expected 4 attempts, got %d", m.Attempts())
	}

	res.set(ws.url())
	timers.fireLatest(t)
	waitFor(t, "connection", func() bool { return m.State() == Connected })
	if m.Attempts() != 0 {
		t.Fatalf("attempts should reset after connecting, got %d", m.Attempts())
	}

	serverConn := <-ws.conns
	serverConn.Close()
	waitFor(t, "retry after drop", func() bool { return timers.count() == 5 })
	if got := timers.delay(4); got != time.Second {
		t.Fatalf("delay after reset should be the base delay, got %s", got)
	}
	if sink.isConnected() {
		t.Fatalf("sink should report disconnected")
	}
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	ws := newWSServer(t, nil)
	sink := &recordingSink{}
	m, timers := newTestManager(&urlResolver{url: ws.url()}, sink, nil)

	m.Connect()
	waitFor(t, "connection", func() bool { return m.State() == Connected })
	m.Close()
	if m.State() != Disconnected || sink.isConnected() {
		t.Fatalf("expected disconnected after close")
	}
	time.Sleep(50 * time.Millisecond)
	if timers.count() != 0 {
		t.Fatalf("close must not schedule a reconnect, got %d timers", timers.count())
	}
	m.Connect()
	time.Sleep(50 * time.Millisecond)
	if ws.upgrades.Load() != 1 {
		t.Fatalf("connect after close must be a no-op")
	}
}

func TestCloseWhileWaitingForRetry(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := "ws" + strings.TrimPrefix(dead.URL, "http") + "/ws"
	dead.Close()

	m, timers := newTestManager(&urlResolver{url: deadURL}, &recordingSink{}, nil)
	m.Connect()
	waitFor(t, "retry", func() bool { return timers.count() == 1 })
	m.Close()
	if timers.armed() != 0 {
		t.Fatalf("close should disarm the pending retry")
	}
}

func TestForceReconnectRebuildsOnce(t *testing.T) {
	ws := newWSServer(t, nil)
	tracker := stats.NewTracker()
	m, timers := newTestManager(&urlResolver{url: ws.url()}, &recordingSink{}, tracker)
	defer m.Close()

	m.Connect()
	waitFor(t, "connection", func() bool { return m.State() == Connected })
	m.ForceReconnect()
	waitFor(t, "second connection", func() bool {
		return ws.upgrades.Load() == 2 && m.State() == Connected
	})
	time.Sleep(50 * time.Millisecond)
	if timers.count() != 0 {
		t.Fatalf("stale reader must not schedule a reconnect, got %d", timers.count())
	}
	if tracker.ForcedRebuilds() != 1 {
		t.Fatalf("expected one forced rebuild, got %d", tracker.ForcedRebuilds())
	}
}

// rebuildingSink forces a channel rebuild from inside the dispatch of one
// message, the way a heartbeat degradation can land mid-burst.
type rebuildingSink struct {
	*recordingSink
	trigger string
	once    sync.Once
	m       *Manager
}

func (s *rebuildingSink) AppendLog(e model.LogEntry) bool {
	s.recordingSink.AppendLog(e)
	if e.Message == s.trigger {
		s.once.Do(s.m.ForceReconnect)
	}
	return true
}

func TestRebuiltConnectionStopsDispatching(t *testing.T) {
	var served atomic.Int32
	ws := newWSServer(t, func(conn *websocket.Conn) {
		if served.Add(1) == 1 {
			for i := 0; i < 200; i++ {
				msg := fmt.Sprintf(`{"type":"log","data":"old-%d"}`, i)
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			}
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"log","data":"new-0"}`))
	})
	sink := &rebuildingSink{recordingSink: &recordingSink{}, trigger: "old-0"}
	m, _ := newTestManager(&urlResolver{url: ws.url()}, sink, nil)
	sink.m = m
	defer m.Close()

	m.Connect()
	waitFor(t, "message from the rebuilt connection", func() bool {
		for _, ev := range sink.snapshot() {
			if ev == "log:new-0" {
				return true
			}
		}
		return false
	})
	time.Sleep(50 * time.Millisecond)
	got := sink.snapshot()
	if got[0] != "log:old-0" {
		t.Fatalf("expected old-0 first, got %v", got)
	}
	for _, ev := range got[1:] {
		if strings.HasPrefix(ev, "log:old-") {
			t.Fatalf("old connection applied %s after the rebuild: %v", ev, got)
		}
	}
}

func TestPingsReachBackend(t *testing.T) {
	var pings atomic.Int32
	ws := newWSServer(t, func(conn *websocket.Conn) {
		conn.SetPingHandler(func(string) error {
			pings.Add(1)
			return nil
		})
	})
	m := NewManager(&urlResolver{url: ws.url()}, &recordingSink{}, nil, Options{PingInterval: 10 * time.Millisecond})
	defer m.Close()

	m.Connect()
	waitFor(t, "pings", func() bool { return pings.Load() >= 2 })
	if m.State() != Connected {
		t.Fatalf("pings must not disturb a healthy channel")
	}
}

func TestPingFailureSchedulesReconnect(t *testing.T) {
	ws := newWSServer(t, nil)
	sink := &recordingSink{}
	m := NewManager(&urlResolver{url: ws.url()}, sink, nil, Options{PingInterval: 10 * time.Millisecond})
	timers := &fakeTimers{}
	m.after = timers.after
	m.ping = func(*websocket.Conn, time.Time) error { return errors.New("write: broken pipe") }
	defer m.Close()

	m.Connect()
	waitFor(t, "reconnect after failed ping", func() bool { return timers.count() == 1 })
	if m.State() != Disconnected || sink.isConnected() {
		t.Fatalf("expected disconnected after failed ping, got %s", m.State())
	}
	if got := timers.delay(0); got != time.Second {
		t.Fatalf("expected base delay, got %s", got)
	}
	timers.fireLatest(t)
	waitFor(t, "second connection", func() bool { return ws.upgrades.Load() == 2 })
}

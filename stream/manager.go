// Package stream owns the single push channel to the backend. The manager
// reconnects with exponential backoff, routes envelopes to the state sink in
// arrival order, and can be torn down or force-rebuilt by its owners.
package stream

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rewardspanel/endpoint"
	"rewardspanel/internal/ratelimit"
	"rewardspanel/stats"
)

// State is the channel lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Resolver yields the endpoint the channel dials.
type Resolver interface {
	Resolve(ctx context.Context) (endpoint.Endpoint, error)
}

// Options tunes the manager. Zero values take the defaults below.
type Options struct {
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
}

const (
	defaultBaseDelay = time.Second
	defaultMaxDelay  = 30 * time.Second
	defaultHandshake = 10 * time.Second
	closeWriteWait   = time.Second
	logThrottle      = 10 * time.Second
)

// afterFunc schedules f after d and returns a stop function.
type afterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

func writePing(conn *websocket.Conn, deadline time.Time) error {
	return conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// Manager supervises the connection. All lifecycle transitions happen under
// mu; each dial or connection carries the generation it was started in, and
// results from an older generation are discarded.
type Manager struct {
	resolver Resolver
	sink     Sink
	tracker  *stats.Tracker
	opts     Options
	dialer   *websocket.Dialer
	after    afterFunc
	ping     func(conn *websocket.Conn, deadline time.Time) error
	now      func() time.Time
	dropLog  *ratelimit.Counter
	failLog  *ratelimit.Counter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// dispatchMu serializes delivery to the sink across readers, so an old
	// reader's last message finishes before a newer connection's first.
	dispatchMu sync.Mutex

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	gen       uint64
	backoff   Backoff
	stopTimer func() bool
	timerSeq  uint64
	closed    bool
}

// NewManager builds a manager in the Disconnected state. Nothing is dialed
// until Connect.
func NewManager(resolver Resolver, sink Sink, tracker *stats.Tracker, opts Options) *Manager {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshake
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		resolver: resolver,
		sink:     sink,
		tracker:  tracker,
		opts:     opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		after:   realAfterFunc,
		ping:    writePing,
		now:     time.Now,
		dropLog: ratelimit.NewCounter(logThrottle),
		failLog: ratelimit.NewCounter(logThrottle),
		ctx:     ctx,
		cancel:  cancel,
		backoff: Backoff{Base: opts.BaseDelay, Max: opts.MaxDelay},
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the backoff attempt counter.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backoff.Attempts()
}

// Connect starts a connection attempt in the background. It is a no-op while
// a connection is being established or is open, and after Close.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != Disconnected {
		return
	}
	m.cancelTimerLocked()
	m.gen++
	m.setStateLocked(Connecting)
	gen := m.gen
	m.wg.Add(1)
	go m.dial(gen)
}

// ForceReconnect drops the current connection (if any) without waiting for
// the read side to notice, and dials again immediately.
func (m *Manager) ForceReconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.cancelTimerLocked()
	old := m.conn
	m.conn = nil
	m.gen++
	m.setStateLocked(Disconnected)
	m.mu.Unlock()

	m.tracker.IncrementForcedRebuilds()
	log.Printf("Stream: forcing channel rebuild")
	if old != nil {
		old.Close()
	}
	m.Connect()
}

// Close tears the channel down for good: pending reconnects are cancelled and
// the open connection is closed without scheduling another attempt.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cancelTimerLocked()
	old := m.conn
	m.conn = nil
	m.gen++
	m.setStateLocked(Disconnected)
	m.mu.Unlock()

	m.cancel()
	if old != nil {
		deadline := time.Now().Add(closeWriteWait)
		_ = old.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		old.Close()
	}
	m.wg.Wait()
}

func (m *Manager) dial(gen uint64) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(m.ctx, m.opts.HandshakeTimeout)
	defer cancel()

	var (
		conn *websocket.Conn
		err  error
	)
	ep, err := m.resolver.Resolve(ctx)
	if err == nil {
		conn, _, err = m.dialer.DialContext(ctx, ep.WSURL, nil)
	}

	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.setStateLocked(Disconnected)
		delay := m.scheduleLocked()
		m.mu.Unlock()
		if _, suppressed, ok := m.failLog.Inc(); ok {
			log.Printf("Stream: connect failed: %v (retry in %s, %d similar suppressed)", err, delay, suppressed)
		}
		return
	}
	m.conn = conn
	m.backoff.Reset()
	m.cancelTimerLocked()
	m.setStateLocked(Connected)
	m.mu.Unlock()

	m.tracker.IncrementConnects()
	m.failLog.Reset()
	log.Printf("Stream: connected to %s", ep.WSURL)

	done := make(chan struct{})
	if m.opts.PingInterval > 0 {
		m.wg.Add(1)
		go m.pingLoop(conn, done)
	}
	m.readLoop(gen, conn, done)
}

// readLoop runs on the dial goroutine and is the only place messages for a
// connection are dispatched, which keeps them in arrival order. Frames still
// buffered from a connection that was rebuilt or closed are discarded.
func (m *Manager) readLoop(gen uint64, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.onClosed(gen, conn, err)
			return
		}
		m.dispatchMu.Lock()
		if !m.current(gen) {
			m.dispatchMu.Unlock()
			conn.Close()
			return
		}
		kind, err := Dispatch(m.sink, data, m.now)
		m.dispatchMu.Unlock()
		if err != nil {
			m.tracker.IncrementProtocolDrops()
			if total, _, ok := m.dropLog.Inc(); ok {
				log.Printf("Stream: dropped message: %v (%d dropped so far)", err, total)
			}
			continue
		}
		m.tracker.IncrementMessage(kind)
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && gen == m.gen
}

func (m *Manager) onClosed(gen uint64, conn *websocket.Conn, cause error) {
	conn.Close()

	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.setStateLocked(Disconnected)
	delay := m.scheduleLocked()
	m.mu.Unlock()

	if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Printf("Stream: closed by backend (retry in %s)", delay)
		return
	}
	log.Printf("Stream: connection lost: %v (retry in %s)", cause, delay)
}

func (m *Manager) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(m.opts.PingInterval)
			if err := m.ping(conn, deadline); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Printf("Stream: ping failed: %v", err)
				}
				// Closing wakes the reader, which takes the reconnect path.
				conn.Close()
				return
			}
		}
	}
}

// scheduleLocked arms the single pending reconnect and returns its delay.
func (m *Manager) scheduleLocked() time.Duration {
	m.cancelTimerLocked()
	delay := m.backoff.Next()
	m.timerSeq++
	seq := m.timerSeq
	m.tracker.IncrementReconnects()
	m.stopTimer = m.after(delay, func() { m.fireReconnect(seq) })
	return delay
}

func (m *Manager) fireReconnect(seq uint64) {
	m.mu.Lock()
	if m.closed || seq != m.timerSeq {
		m.mu.Unlock()
		return
	}
	m.stopTimer = nil
	m.mu.Unlock()
	m.Connect()
}

func (m *Manager) cancelTimerLocked() {
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
	m.timerSeq++
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.sink.SetChannel(s.String(), s == Connected)
}

// Package heartbeat probes backend liveness over HTTP at a fixed interval.
// The probe is treated as ground truth: when it fails often enough in a row
// the streaming channel is rebuilt even if it still looks open.
package heartbeat

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"rewardspanel/model"
	"rewardspanel/stats"
)

const (
	DefaultInterval  = 5 * time.Second
	DefaultThreshold = 3
)

// State is the monitor's view of the backend.
type State int

const (
	Healthy State = iota
	Degraded
)

func (s State) String() string {
	if s == Degraded {
		return "degraded"
	}
	return "healthy"
}

// Prober performs one liveness request.
type Prober interface {
	Health(ctx context.Context) (model.Health, error)
}

// Reconnector rebuilds the streaming channel.
type Reconnector interface {
	ForceReconnect()
}

// Sink receives the monitor's observable results. *state.Store satisfies it.
type Sink interface {
	SetHealth(model.Health)
	SetBackendReady(bool)
	SetError(string)
	ClearError()
}

// Snapshot is the heartbeat bookkeeping at one instant.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	LastSuccess         time.Time
}

// Monitor runs the probe loop. Probe may also be called directly.
type Monitor struct {
	prober      Prober
	reconnector Reconnector
	sink        Sink
	tracker     *stats.Tracker
	interval    time.Duration
	threshold   int
	now         func() time.Time

	mu          sync.Mutex
	state       State
	consecutive int
	lastSuccess time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor builds a monitor that starts Healthy with no failures.
func NewMonitor(prober Prober, reconnector Reconnector, sink Sink, tracker *stats.Tracker, interval time.Duration, threshold int) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Monitor{
		prober:      prober,
		reconnector: reconnector,
		sink:        sink,
		tracker:     tracker,
		interval:    interval,
		threshold:   threshold,
		now:         time.Now,
	}
}

// Start launches the probe loop. Calling Start while running is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
}

// Stop ends the probe loop and waits for an in-flight probe to return.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the probe loop is active.
func (m *Monitor) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.cancel != nil
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe runs a single liveness check and applies its outcome.
func (m *Monitor) Probe(ctx context.Context) {
	health, err := m.prober.Health(ctx)
	if ctx.Err() != nil {
		// Shutdown interrupted the probe; it says nothing about the backend.
		return
	}
	if err != nil {
		m.onFailure(err)
		return
	}
	m.onSuccess(health)
}

func (m *Monitor) onSuccess(health model.Health) {
	m.mu.Lock()
	recovered := m.state == Degraded
	m.state = Healthy
	m.consecutive = 0
	m.lastSuccess = m.now()
	m.mu.Unlock()

	m.sink.SetHealth(health)
	m.sink.SetBackendReady(true)
	m.sink.ClearError()
	if recovered {
		log.Printf("Heartbeat: backend healthy again")
	}
}

func (m *Monitor) onFailure(err error) {
	m.tracker.IncrementProbeFailures()

	m.mu.Lock()
	m.consecutive++
	if m.consecutive < m.threshold {
		m.mu.Unlock()
		return
	}
	// The rebuilt channel becomes the next recovery probe, so counting starts over.
	m.consecutive = 0
	entering := m.state == Healthy
	m.state = Degraded
	m.mu.Unlock()

	m.sink.SetBackendReady(false)
	if !entering {
		return
	}
	m.tracker.IncrementDegradations()
	log.Printf("Heartbeat: backend degraded after %d failed probes: %v", m.threshold, err)
	m.sink.SetError(fmt.Sprintf("Backend not responding: %v", err))
	m.reconnector.ForceReconnect()
}

// Snapshot returns the current bookkeeping.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:               m.state,
		ConsecutiveFailures: m.consecutive,
		LastSuccess:         m.lastSuccess,
	}
}

package heartbeat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rewardspanel/model"
	"rewardspanel/stats"
)

type scriptedProber struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (p *scriptedProber) Health(context.Context) (model.Health, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.calls < len(p.results) {
		err = p.results[p.calls]
	} else if len(p.results) > 0 {
		err = p.results[len(p.results)-1]
	}
	p.calls++
	if err != nil {
		return model.Health{}, err
	}
	return model.Health{Overall: "healthy"}, nil
}

type countingReconnector struct {
	n atomic.Int32
}

func (r *countingReconnector) ForceReconnect() { r.n.Add(1) }

type fakeSink struct {
	mu     sync.Mutex
	ready  bool
	errMsg string
	health model.Health
}

func (s *fakeSink) SetHealth(h model.Health) {
	s.mu.Lock()
	s.health = h
	s.mu.Unlock()
}

func (s *fakeSink) SetBackendReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

func (s *fakeSink) SetError(msg string) {
	s.mu.Lock()
	s.errMsg = msg
	s.mu.Unlock()
}

func (s *fakeSink) ClearError() { s.SetError("") }

func (s *fakeSink) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeSink) errorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

var errDown = errors.New("connection refused")

func TestFailuresBelowThresholdKeepReady(t *testing.T) {
	prober := &scriptedProber{results: []error{nil, errDown, errDown}}
	rec := &countingReconnector{}
	sink := &fakeSink{}
	m := NewMonitor(prober, rec, sink, nil, time.Second, 3)

	m.Probe(context.Background())
	for i := 0; i < 2; i++ {
		m.Probe(context.Background())
		if !sink.isReady() {
			t.Fatalf("backendReady flipped false after %d failures, below threshold", i+1)
		}
		if sink.errorMessage() != "" {
			t.Fatalf("failure below threshold should not be user visible")
		}
	}
	if snap := m.Snapshot(); snap.ConsecutiveFailures != 2 || snap.State != Healthy {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if rec.n.Load() != 0 {
		t.Fatalf("no reconnect expected below threshold")
	}
}

func TestThresholdDegradesAndReconnectsOnce(t *testing.T) {
	prober := &scriptedProber{results: []error{nil, errDown}}
	rec := &countingReconnector{}
	sink := &fakeSink{}
	tracker := stats.NewTracker()
	m := NewMonitor(prober, rec, sink, tracker, time.Second, 3)

	m.Probe(context.Background())
	for i := 0; i < 3; i++ {
		m.Probe(context.Background())
	}
	if sink.isReady() {
		t.Fatalf("backendReady should be false once the threshold is reached")
	}
	if sink.errorMessage() == "" {
		t.Fatalf("degradation should surface an error")
	}
	if rec.n.Load() != 1 {
		t.Fatalf("expected exactly one forced reconnect, got %d", rec.n.Load())
	}
	snap := m.Snapshot()
	if snap.State != Degraded || snap.ConsecutiveFailures != 0 {
		t.Fatalf("expected degraded with counter reset, got %+v", snap)
	}

	// The backend stays down: still a single degradation event.
	for i := 0; i < 10; i++ {
		m.Probe(context.Background())
	}
	if rec.n.Load() != 1 {
		t.Fatalf("reconnect must fire once per degradation, got %d", rec.n.Load())
	}
	if tracker.ProbeFailures() != 13 || tracker.Degradations() != 1 {
		t.Fatalf("unexpected counters: failures=%d degradations=%d", tracker.ProbeFailures(), tracker.Degradations())
	}
}

func TestRecoveryResetsAndAllowsNextDegradation(t *testing.T) {
	prober := &scriptedProber{results: []error{errDown, errDown, errDown, nil, errDown, errDown, errDown}}
	rec := &countingReconnector{}
	sink := &fakeSink{}
	m := NewMonitor(prober, rec, sink, nil, time.Second, 3)

	for i := 0; i < 3; i++ {
		m.Probe(context.Background())
	}
	m.Probe(context.Background())
	if !sink.isReady() || sink.errorMessage() != "" {
		t.Fatalf("successful probe should restore readiness and clear the error")
	}
	if snap := m.Snapshot(); snap.State != Healthy || snap.LastSuccess.IsZero() {
		t.Fatalf("expected healthy after success, got %+v", snap)
	}
	for i := 0; i < 3; i++ {
		m.Probe(context.Background())
	}
	if rec.n.Load() != 2 {
		t.Fatalf("expected a second reconnect for the second degradation, got %d", rec.n.Load())
	}
}

func TestSuccessResetsCounter(t *testing.T) {
	prober := &scriptedProber{results: []error{errDown, errDown, nil, errDown, errDown}}
	rec := &countingReconnector{}
	m := NewMonitor(prober, rec, &fakeSink{}, nil, time.Second, 3)
	for i := 0; i < 5; i++ {
		m.Probe(context.Background())
	}
	if rec.n.Load() != 0 {
		t.Fatalf("interleaved success must reset the failure count")
	}
	if got := m.Snapshot().ConsecutiveFailures; got != 2 {
		t.Fatalf("expected 2 consecutive failures, got %d", got)
	}
}

func TestStartStopLoop(t *testing.T) {
	prober := &scriptedProber{results: []error{nil}}
	sink := &fakeSink{}
	m := NewMonitor(prober, &countingReconnector{}, sink, nil, 10*time.Millisecond, 3)
	m.Start(context.Background())
	m.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for !sink.isReady() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()
	if !sink.isReady() {
		t.Fatalf("probe loop never ran")
	}
	if m.Running() {
		t.Fatalf("monitor should be stopped")
	}
	prober.mu.Lock()
	calls := prober.calls
	prober.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	prober.mu.Lock()
	defer prober.mu.Unlock()
	if prober.calls != calls {
		t.Fatalf("probes continued after Stop")
	}
}

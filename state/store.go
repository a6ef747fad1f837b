// Package state holds the single mutable source of truth for everything the
// console renders. Components receive a *Store at construction and write
// through its per-field-group setters; renderers read immutable Snapshots
// and wait on Changes. Writes are applied in call order, last write per
// field wins.
package state

import (
	"strings"
	"sync"
	"time"

	"rewardspanel/buffer"
	"rewardspanel/dedup"
	"rewardspanel/model"
)

// Phase is the bootstrap lifecycle visible to the user.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseInitializing Phase = "initializing"
	PhaseReady        Phase = "ready"
	PhaseFailed       Phase = "failed"
)

// Snapshot is a point-in-time copy of the store. It is never mutated after
// being returned.
type Snapshot struct {
	TaskStatus    model.TaskStatus
	Health        model.Health
	Points        model.Points
	Config        model.Config
	ConfigSummary map[string]any
	History       []model.HistoryEntry
	Logs          []model.LogEntry
	LastTaskEvent *model.TaskEvent

	ChannelState string
	WSConnected  bool
	BackendReady bool
	Error        string
	Phase        Phase
	UpdatedAt    time.Time
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	snap    Snapshot
	logs    *buffer.RingBuffer
	dedupe  *dedup.LogDeduper
	changes chan struct{}
	now     func() time.Time
}

// New creates a store with default values. dedupe may be nil.
func New(logCapacity int, dedupe *dedup.LogDeduper) *Store {
	return &Store{
		snap: Snapshot{
			ChannelState: "disconnected",
			Phase:        PhaseIdle,
		},
		logs:    buffer.NewRingBuffer(logCapacity),
		dedupe:  dedupe,
		changes: make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Changes delivers a coalesced signal after any mutation. Renderers should
// call Snapshot after each receive.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	out := s.snap
	out.Config = copyConfig(s.snap.Config)
	out.ConfigSummary = copyMap(s.snap.ConfigSummary)
	if s.snap.History != nil {
		out.History = append([]model.HistoryEntry(nil), s.snap.History...)
	}
	if s.snap.LastTaskEvent != nil {
		ev := *s.snap.LastTaskEvent
		out.LastTaskEvent = &ev
	}
	out.Logs = s.logs.Snapshot()
	s.mu.Unlock()
	return out
}

func (s *Store) SetTaskStatus(status model.TaskStatus) {
	s.update(func(snap *Snapshot) { snap.TaskStatus = status })
}

func (s *Store) SetHealth(health model.Health) {
	s.update(func(snap *Snapshot) { snap.Health = health })
}

func (s *Store) SetPoints(points model.Points) {
	s.update(func(snap *Snapshot) { snap.Points = points })
}

func (s *Store) SetConfig(cfg model.Config) {
	s.update(func(snap *Snapshot) { snap.Config = copyConfig(cfg) })
}

func (s *Store) SetConfigSummary(summary map[string]any) {
	s.update(func(snap *Snapshot) { snap.ConfigSummary = copyMap(summary) })
}

func (s *Store) SetHistory(history []model.HistoryEntry) {
	s.update(func(snap *Snapshot) {
		snap.History = append([]model.HistoryEntry(nil), history...)
	})
}

// SetChannel records the streaming channel's lifecycle state.
func (s *Store) SetChannel(channelState string, connected bool) {
	s.update(func(snap *Snapshot) {
		snap.ChannelState = channelState
		snap.WSConnected = connected
	})
}

func (s *Store) SetBackendReady(ready bool) {
	s.update(func(snap *Snapshot) { snap.BackendReady = ready })
}

// MarkDisconnected clears both connectivity flags at once. The channel state
// goes with WSConnected so the two never disagree.
func (s *Store) MarkDisconnected() {
	s.update(func(snap *Snapshot) {
		snap.ChannelState = "disconnected"
		snap.WSConnected = false
		snap.BackendReady = false
	})
}

func (s *Store) SetError(message string) {
	s.update(func(snap *Snapshot) { snap.Error = message })
}

func (s *Store) ClearError() {
	s.update(func(snap *Snapshot) { snap.Error = "" })
}

func (s *Store) SetPhase(phase Phase) {
	s.update(func(snap *Snapshot) { snap.Phase = phase })
}

// Fail sets the phase and error message together.
func (s *Store) Fail(phase Phase, message string) {
	s.update(func(snap *Snapshot) {
		snap.Phase = phase
		snap.Error = message
	})
}

// AppendLog adds one entry to the bounded log sequence. It returns false when
// the entry was suppressed as a cross-transport duplicate.
func (s *Store) AppendLog(entry model.LogEntry) bool {
	if !s.dedupe.Admit(entry.Source, entry.Message) {
		return false
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if entry.Level == "" {
		entry.Level = model.LevelInfo
	}
	s.update(func(*Snapshot) {
		e := entry
		s.logs.Add(&e)
	})
	return true
}

// SeedLogs installs the backend's recent log lines ahead of anything the live
// transports have already delivered. Live lines that the seed already
// contains are not repeated.
func (s *Store) SeedLogs(entries []model.LogEntry) {
	s.update(func(*Snapshot) {
		live := s.logs.Snapshot()
		seen := make(map[string]struct{}, len(entries))
		s.logs.Reset()
		for _, entry := range entries {
			e := entry
			if e.Timestamp.IsZero() {
				e.Timestamp = s.now()
			}
			if e.Level == "" {
				e.Level = model.LevelInfo
			}
			seen[strings.TrimSpace(e.Message)] = struct{}{}
			s.logs.Add(&e)
		}
		for _, entry := range live {
			if entry.Source == model.SourceSnapshot {
				continue
			}
			if _, dup := seen[strings.TrimSpace(entry.Message)]; dup {
				continue
			}
			e := entry
			s.logs.Add(&e)
		}
	})
}

// ApplyTaskEvent records a task lifecycle event and mirrors it into the log.
func (s *Store) ApplyTaskEvent(ev model.TaskEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	level := model.LevelInfo
	if ev.Event == "error" {
		level = model.LevelError
	}
	line := "[" + ev.Event + "]"
	if ev.Message != "" {
		line += " " + ev.Message
	}
	s.update(func(snap *Snapshot) {
		recorded := ev
		snap.LastTaskEvent = &recorded
		switch ev.Event {
		case "started":
			snap.TaskStatus.IsRunning = true
		case "completed", "stopped", "cancelled":
			snap.TaskStatus.IsRunning = false
		case "error":
			snap.TaskStatus.IsRunning = false
			if ev.Message != "" {
				snap.Error = ev.Message
			}
		}
		s.logs.Add(&model.LogEntry{
			Timestamp: ev.Timestamp,
			Level:     level,
			Message:   line,
			Source:    model.SourceStream,
		})
	})
}

func (s *Store) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.snap.UpdatedAt = s.now()
	s.mu.Unlock()
	s.notify()
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
		// A signal is already pending; readers take a fresh snapshot anyway.
	}
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyConfig(in model.Config) model.Config {
	if in == nil {
		return nil
	}
	out := make(model.Config, len(in))
	for section, values := range in {
		out[section] = copyMap(values)
	}
	return out
}

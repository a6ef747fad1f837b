package host

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"rewardspanel/model"
	"rewardspanel/stats"
)

// Sink receives bridged host events. *state.Store satisfies it.
type Sink interface {
	AppendLog(model.LogEntry) bool
	SetError(string)
	MarkDisconnected()
}

// Bridge maps host events into client state. It only exists in host mode.
type Bridge struct {
	hub     *Hub
	sink    Sink
	tracker *stats.Tracker

	mu   sync.Mutex
	subs []*Subscription
}

func NewBridge(hub *Hub, sink Sink, tracker *stats.Tracker) *Bridge {
	return &Bridge{hub: hub, sink: sink, tracker: tracker}
}

// Start subscribes to the three host events. Calling it again while active is
// a no-op, so bootstrap retries do not stack listeners.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs != nil {
		return
	}
	b.subs = []*Subscription{
		b.hub.Subscribe(EventLog, b.onLog),
		b.hub.Subscribe(EventError, b.onError),
		b.hub.Subscribe(EventTerminated, b.onTerminated),
	}
}

// Stop cancels every subscription made by Start.
func (b *Bridge) Stop() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
}

// Active reports whether the bridge is subscribed.
func (b *Bridge) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs != nil
}

func (b *Bridge) onLog(ev Event) {
	b.tracker.IncrementHostEvent(string(ev.Kind))
	line := strings.TrimRight(ev.Line, "\r\n")
	if line == "" {
		return
	}
	b.sink.AppendLog(model.LogEntry{Level: model.LevelInfo, Message: line, Source: model.SourceHost})
}

func (b *Bridge) onError(ev Event) {
	b.tracker.IncrementHostEvent(string(ev.Kind))
	line := strings.TrimRight(ev.Line, "\r\n")
	if line == "" {
		return
	}
	b.sink.AppendLog(model.LogEntry{Level: model.LevelError, Message: line, Source: model.SourceHost})
}

func (b *Bridge) onTerminated(ev Event) {
	b.tracker.IncrementHostEvent(string(ev.Kind))
	if ev.ExitCode != nil && *ev.ExitCode == 0 {
		b.sink.AppendLog(model.LogEntry{Level: model.LevelInfo, Message: "Backend process exited normally", Source: model.SourceHost})
		return
	}
	code := "unknown"
	if ev.ExitCode != nil {
		code = fmt.Sprintf("%d", *ev.ExitCode)
	}
	msg := fmt.Sprintf("Backend process terminated (exit code %s)", code)
	log.Printf("Host: %s", msg)
	b.sink.SetError(msg)
	b.sink.MarkDisconnected()
	b.sink.AppendLog(model.LogEntry{Level: model.LevelError, Message: msg, Source: model.SourceHost})
}

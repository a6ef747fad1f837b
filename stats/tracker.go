// Package stats tracks synchronization counters (stream messages per type,
// protocol drops, reconnects, heartbeat failures) for display in the
// dashboard and periodic console output.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Tracker tracks sync statistics. A nil Tracker ignores every call so
// components can be built without one.
type Tracker struct {
	// counters live in sync.Map + atomic.Uint64 so per-message increments don't fight over a mutex
	messageCounts   sync.Map // message type -> *atomic.Uint64
	hostEventCounts sync.Map // host event kind -> *atomic.Uint64
	start           atomic.Int64
	protocolDrops   atomic.Uint64
	connects        atomic.Uint64
	reconnects      atomic.Uint64
	forcedRebuilds  atomic.Uint64
	probeFailures   atomic.Uint64
	degradations    atomic.Uint64
	bootstrapFails  atomic.Uint64
}

// NewTracker creates a new stats tracker
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// IncrementMessage counts one routed stream message of the given type.
func (t *Tracker) IncrementMessage(kind string) {
	if t == nil {
		return
	}
	incrementCounter(&t.messageCounts, kind)
}

// IncrementHostEvent counts one native host event.
func (t *Tracker) IncrementHostEvent(kind string) {
	if t == nil {
		return
	}
	incrementCounter(&t.hostEventCounts, kind)
}

// IncrementProtocolDrops counts a malformed or unknown stream message.
func (t *Tracker) IncrementProtocolDrops() {
	if t == nil {
		return
	}
	t.protocolDrops.Add(1)
}

// IncrementConnects counts a successful channel open.
func (t *Tracker) IncrementConnects() {
	if t == nil {
		return
	}
	t.connects.Add(1)
}

// IncrementReconnects counts a scheduled reconnect after close or error.
func (t *Tracker) IncrementReconnects() {
	if t == nil {
		return
	}
	t.reconnects.Add(1)
}

// IncrementForcedRebuilds counts a heartbeat-driven channel teardown.
func (t *Tracker) IncrementForcedRebuilds() {
	if t == nil {
		return
	}
	t.forcedRebuilds.Add(1)
}

// IncrementProbeFailures counts a failed heartbeat probe.
func (t *Tracker) IncrementProbeFailures() {
	if t == nil {
		return
	}
	t.probeFailures.Add(1)
}

// IncrementDegradations counts a Healthy -> Degraded transition.
func (t *Tracker) IncrementDegradations() {
	if t == nil {
		return
	}
	t.degradations.Add(1)
}

// IncrementBootstrapFailures counts a failed initialization attempt.
func (t *Tracker) IncrementBootstrapFailures() {
	if t == nil {
		return
	}
	t.bootstrapFails.Add(1)
}

// GetMessageCounts returns a copy of message counts by type.
func (t *Tracker) GetMessageCounts() map[string]uint64 {
	if t == nil {
		return map[string]uint64{}
	}
	return copyCounts(&t.messageCounts)
}

// GetHostEventCounts returns a copy of host event counts by kind.
func (t *Tracker) GetHostEventCounts() map[string]uint64 {
	if t == nil {
		return map[string]uint64{}
	}
	return copyCounts(&t.hostEventCounts)
}

// GetTotalMessages returns the total count across all message types.
func (t *Tracker) GetTotalMessages() uint64 {
	if t == nil {
		return 0
	}
	var total uint64
	t.messageCounts.Range(func(_, value any) bool {
		total += value.(*atomic.Uint64).Load()
		return true
	})
	return total
}

func (t *Tracker) ProtocolDrops() uint64 {
	if t == nil {
		return 0
	}
	return t.protocolDrops.Load()
}

func (t *Tracker) Connects() uint64 {
	if t == nil {
		return 0
	}
	return t.connects.Load()
}

func (t *Tracker) Reconnects() uint64 {
	if t == nil {
		return 0
	}
	return t.reconnects.Load()
}

func (t *Tracker) ForcedRebuilds() uint64 {
	if t == nil {
		return 0
	}
	return t.forcedRebuilds.Load()
}

func (t *Tracker) ProbeFailures() uint64 {
	if t == nil {
		return 0
	}
	return t.probeFailures.Load()
}

func (t *Tracker) Degradations() uint64 {
	if t == nil {
		return 0
	}
	return t.degradations.Load()
}

func (t *Tracker) BootstrapFailures() uint64 {
	if t == nil {
		return 0
	}
	return t.bootstrapFails.Load()
}

// GetUptime returns how long the tracker has been running
func (t *Tracker) GetUptime() time.Duration {
	if t == nil {
		return 0
	}
	start := t.start.Load()
	return time.Since(time.Unix(0, start))
}

// SnapshotLines returns human-readable stats ready for console display.
func (t *Tracker) SnapshotLines() []string {
	if t == nil {
		return nil
	}
	lines := make([]string, 0, 3)
	lines = append(lines, formatMapCounts("Stream messages", &t.messageCounts))
	lines = append(lines, formatMapCounts("Host events", &t.hostEventCounts))
	lines = append(lines, fmt.Sprintf("Channel: connects=%d reconnects=%d forced=%d drops=%d | Heartbeat: failures=%d degraded=%d | Bootstrap failures=%d",
		t.Connects(), t.Reconnects(), t.ForcedRebuilds(), t.ProtocolDrops(),
		t.ProbeFailures(), t.Degradations(), t.BootstrapFailures()))
	return lines
}

func copyCounts(m *sync.Map) map[string]uint64 {
	counts := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

func formatMapCounts(label string, counts *sync.Map) string {
	snapshot := copyCounts(counts)
	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	if len(keys) == 0 {
		builder.WriteString("(none)")
		return builder.String()
	}
	for i, key := range keys {
		if i > 0 {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%d", key, snapshot[key])
	}
	return builder.String()
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}

// Package buffer provides the bounded log ring behind the state store. Each
// slot stores an atomic pointer so readers either see a complete entry or the
// previous one, never a partially written structure. Once the ring is full
// the oldest entry is overwritten first.
package buffer

import (
	"sync/atomic"

	"rewardspanel/model"
)

// RingBuffer is a thread-safe circular buffer for recent log entries. Writers
// atomically publish completed *model.LogEntry values; readers walk the
// ID-ordered ring to gather a snapshot.
type RingBuffer struct {
	slots    []atomic.Pointer[model.LogEntry]
	capacity int
	total    atomic.Uint64 // Total entries added (may exceed capacity)
	floor    atomic.Uint64 // total at the last Reset
}

// NewRingBuffer allocates a ring buffer with the specified capacity.
// Non-positive capacities are clamped to one slot.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{
		slots:    make([]atomic.Pointer[model.LogEntry], capacity),
		capacity: capacity,
	}
}

// Add appends an entry, assigning a monotonic ID so readers can skip over
// stale entries when the buffer wraps.
func (rb *RingBuffer) Add(e *model.LogEntry) {
	if e == nil {
		return
	}
	newID := rb.total.Add(1)
	e.ID = newID

	idx := (newID - 1) % uint64(rb.capacity)
	rb.slots[idx].Store(e)
}

// GetRecent returns the N most recent entries, newest first.
func (rb *RingBuffer) GetRecent(n int) []*model.LogEntry {
	if n <= 0 {
		return []*model.LogEntry{}
	}
	total := rb.total.Load()
	available := rb.Len()
	if n > available {
		n = available
	}

	result := make([]*model.LogEntry, 0, n)
	if total == 0 {
		return result
	}
	minIndex := total - uint64(available)
	for idx := total; idx > minIndex && len(result) < n; {
		idx--
		slot := idx % uint64(rb.capacity)
		// ID check skips over slots that have been overwritten after wraparound
		if e := rb.slots[slot].Load(); e != nil && e.ID == idx+1 {
			result = append(result, e)
		}
	}
	return result
}

// Snapshot returns every retained entry in insertion order (oldest first).
func (rb *RingBuffer) Snapshot() []model.LogEntry {
	recent := rb.GetRecent(rb.capacity)
	out := make([]model.LogEntry, len(recent))
	for i, e := range recent {
		out[len(recent)-1-i] = *e
	}
	return out
}

// Len returns the number of retained entries (never more than capacity).
func (rb *RingBuffer) Len() int {
	retained := int(rb.total.Load() - rb.floor.Load())
	if retained > rb.capacity {
		return rb.capacity
	}
	return retained
}

// Capacity returns the configured bound.
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}

// GetCount returns the total number of entries added (may be > capacity)
func (rb *RingBuffer) GetCount() int {
	return int(rb.total.Load())
}

// Reset drops all retained entries. IDs keep increasing so stale readers
// never mistake a new entry for an old one.
func (rb *RingBuffer) Reset() {
	rb.floor.Store(rb.total.Load())
	for i := range rb.slots {
		rb.slots[i].Store(nil)
	}
}

// Package dedup suppresses log lines that reach the client twice through
// independent transports. The backend's log lines arrive both over the
// streaming channel and, in host mode, from the supervised process's stdout;
// a line seen from one source is dropped when the other source repeats it
// within the window. Repeats from the same source are always kept.
package dedup

import (
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"rewardspanel/model"
)

const defaultMaxKeys = 1024

// LogDeduper is a windowed cross-source duplicate filter. A nil deduper
// admits everything.
type LogDeduper struct {
	mu      sync.Mutex
	window  time.Duration
	maxKeys int
	now     func() time.Time
	entries map[uint64]seenEntry
	dropped uint64
}

type seenEntry struct {
	source model.Source
	at     time.Time
}

// NewLogDeduper returns nil when window is not positive, which disables
// filtering.
func NewLogDeduper(window time.Duration, maxKeys int) *LogDeduper {
	if window <= 0 {
		return nil
	}
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &LogDeduper{
		window:  window,
		maxKeys: maxKeys,
		now:     time.Now,
		entries: make(map[uint64]seenEntry, maxKeys),
	}
}

// Admit reports whether the line should be stored.
func (d *LogDeduper) Admit(source model.Source, message string) bool {
	if d == nil {
		return true
	}
	line := strings.TrimSpace(message)
	if line == "" {
		return true
	}
	key := xxh3.HashString(line)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.entries[key]; ok && prev.source != source && now.Sub(prev.at) <= d.window {
		// The pair is consumed so a genuine third repeat is still shown.
		delete(d.entries, key)
		d.dropped++
		return false
	}
	if _, ok := d.entries[key]; !ok {
		d.evictLocked(now)
	}
	d.entries[key] = seenEntry{source: source, at: now}
	return true
}

// Dropped returns how many lines were suppressed.
func (d *LogDeduper) Dropped() uint64 {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// evictLocked drops expired keys and, if the map is still full, the oldest.
func (d *LogDeduper) evictLocked(now time.Time) {
	if len(d.entries) < d.maxKeys {
		return
	}
	var oldestKey uint64
	var oldestAt time.Time
	haveOldest := false
	for key, entry := range d.entries {
		if now.Sub(entry.at) > d.window {
			delete(d.entries, key)
			continue
		}
		if !haveOldest || entry.at.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.at
			haveOldest = true
		}
	}
	if len(d.entries) >= d.maxKeys && haveOldest {
		delete(d.entries, oldestKey)
	}
}

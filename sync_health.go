package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"rewardspanel/state"
	"rewardspanel/stats"
)

const (
	syncHealthInterval  = 30 * time.Second
	syncIdleThreshold   = 2 * time.Minute
	syncHealthLogPrefix = "Sync Health: "
)

type syncHealthSnapshot struct {
	Channel       string
	Connected     bool
	BackendReady  bool
	Phase         state.Phase
	Messages      uint64
	Reconnects    uint64
	ProtocolDrops uint64
}

type syncHealthState struct {
	channel      string
	ready        bool
	idle         bool
	messages     uint64
	lastActivity time.Time
	initialized  bool
}

// Purpose: Periodically log synchronization health transitions with low noise.
// Key aspects: Reports only when channel state, readiness or idleness changes.
// Upstream: main after the store and tracker exist.
// Downstream: log.Printf.
func startSyncHealthMonitor(ctx context.Context, store *state.Store, tracker *stats.Tracker) {
	if store == nil {
		return
	}
	ticker := time.NewTicker(syncHealthInterval)
	go func() {
		defer ticker.Stop()
		var st syncHealthState
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				if line, changed := st.observe(collectSyncHealth(store, tracker), now); changed {
					log.Printf("%s%s", syncHealthLogPrefix, line)
				}
			}
		}
	}()
}

func collectSyncHealth(store *state.Store, tracker *stats.Tracker) syncHealthSnapshot {
	snap := store.Snapshot()
	return syncHealthSnapshot{
		Channel:       snap.ChannelState,
		Connected:     snap.WSConnected,
		BackendReady:  snap.BackendReady,
		Phase:         snap.Phase,
		Messages:      tracker.GetTotalMessages(),
		Reconnects:    tracker.Reconnects(),
		ProtocolDrops: tracker.ProtocolDrops(),
	}
}

// observe folds one sample into the state and returns the line to log when
// something worth reporting changed. A connected channel counts as idle when
// no message has arrived for syncIdleThreshold.
func (s *syncHealthState) observe(snap syncHealthSnapshot, now time.Time) (string, bool) {
	if !s.initialized || snap.Messages != s.messages {
		s.messages = snap.Messages
		s.lastActivity = now
	}
	idle := snap.Connected && now.Sub(s.lastActivity) > syncIdleThreshold
	changed := !s.initialized || s.channel != snap.Channel || s.ready != snap.BackendReady || s.idle != idle
	s.channel = snap.Channel
	s.ready = snap.BackendReady
	s.idle = idle
	s.initialized = true
	if !changed {
		return "", false
	}
	return formatSyncHealthLine(snap, idle, now.Sub(s.lastActivity)), true
}

func formatSyncHealthLine(snap syncHealthSnapshot, idle bool, sinceActivity time.Duration) string {
	var b strings.Builder
	b.WriteString("channel=")
	b.WriteString(snap.Channel)
	if snap.BackendReady {
		b.WriteString(" backend=ready")
	} else {
		b.WriteString(" backend=not_ready")
	}
	if idle {
		b.WriteString(" idle")
	}
	b.WriteString(" phase=")
	b.WriteString(string(snap.Phase))
	b.WriteString(fmt.Sprintf(" msgs=%d last_msg=%s", snap.Messages, ageString(sinceActivity)))
	var extra []string
	if snap.Reconnects > 0 {
		extra = append(extra, fmt.Sprintf("reconnects=%d", snap.Reconnects))
	}
	if snap.ProtocolDrops > 0 {
		extra = append(extra, fmt.Sprintf("dropped=%d", snap.ProtocolDrops))
	}
	if len(extra) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(extra, " "))
	}
	return b.String()
}

func ageString(age time.Duration) string {
	if age < time.Second {
		return "0s"
	}
	return age.Truncate(time.Second).String()
}

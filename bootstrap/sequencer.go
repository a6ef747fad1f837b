// Package bootstrap brings the client up in a fixed order and retries the
// whole sequence a bounded number of times before surfacing a terminal
// error that only an explicit Retry clears.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"rewardspanel/model"
	"rewardspanel/state"
	"rewardspanel/stats"
)

const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 2 * time.Second
)

var (
	// ErrExhausted is returned once every attempt has failed.
	ErrExhausted = errors.New("initialization failed after all attempts")
	// ErrRunning is returned when a run is already in progress.
	ErrRunning = errors.New("initialization already in progress")
)

// Client is the slice of the REST client the snapshot needs.
type Client interface {
	Status(ctx context.Context) (model.TaskStatus, error)
	Health(ctx context.Context) (model.Health, error)
	Points(ctx context.Context) (model.Points, error)
	Config(ctx context.Context) (model.Config, error)
	History(ctx context.Context, days int) ([]model.HistoryEntry, error)
	RecentLogs(ctx context.Context, lines int) ([]string, error)
	Dashboard(ctx context.Context) (model.Dashboard, error)
}

// Bridge subscribes to host events. Start must be idempotent.
type Bridge interface {
	Start()
}

// Channel opens the streaming channel. Connect must be idempotent.
type Channel interface {
	Connect()
}

// Heartbeat starts liveness probing. Start must be idempotent.
type Heartbeat interface {
	Start(ctx context.Context)
}

// Store is the state the sequencer writes. *state.Store satisfies it.
type Store interface {
	SetTaskStatus(model.TaskStatus)
	SetHealth(model.Health)
	SetPoints(model.Points)
	SetConfig(model.Config)
	SetConfigSummary(map[string]any)
	SetHistory([]model.HistoryEntry)
	SeedLogs([]model.LogEntry)
	SetPhase(state.Phase)
	Fail(state.Phase, string)
	ClearError()
}

// Options bounds the retry loop and sizes the snapshot.
type Options struct {
	MaxAttempts    int
	RetryDelay     time.Duration
	HistoryDays    int
	RecentLogLines int
}

// Sequencer runs the startup order: host bridge, streaming channel, HTTP
// snapshot, heartbeat. Bridge may be nil outside host mode.
type Sequencer struct {
	bridge    Bridge
	channel   Channel
	client    Client
	heartbeat Heartbeat
	store     Store
	tracker   *stats.Tracker
	opts      Options
	wait      func(ctx context.Context, d time.Duration) error
	running   atomic.Bool
}

func NewSequencer(bridge Bridge, channel Channel, client Client, heartbeat Heartbeat, store Store, tracker *stats.Tracker, opts Options) *Sequencer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = 7
	}
	if opts.RecentLogLines <= 0 {
		opts.RecentLogLines = 100
	}
	return &Sequencer{
		bridge:    bridge,
		channel:   channel,
		client:    client,
		heartbeat: heartbeat,
		store:     store,
		tracker:   tracker,
		opts:      opts,
		wait:      sleepContext,
	}
}

// Initialize runs the sequence at process start. It blocks until the client
// is ready, attempts are exhausted (ErrExhausted), or ctx ends.
func (s *Sequencer) Initialize(ctx context.Context) error {
	return s.run(ctx)
}

// Retry is the user-triggered restart after a terminal failure. It runs the
// full bounded sequence again.
func (s *Sequencer) Retry(ctx context.Context) error {
	log.Printf("Bootstrap: retry requested")
	return s.run(ctx)
}

// Running reports whether a run is in progress.
func (s *Sequencer) Running() bool {
	return s.running.Load()
}

func (s *Sequencer) run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.running.Store(false)

	s.store.SetPhase(state.PhaseInitializing)
	s.store.ClearError()

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		err := s.attempt(ctx)
		if err == nil {
			s.store.SetPhase(state.PhaseReady)
			log.Printf("Bootstrap: ready after %d attempt(s)", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		s.tracker.IncrementBootstrapFailures()
		if attempt == s.opts.MaxAttempts {
			break
		}
		log.Printf("Bootstrap: attempt %d/%d failed: %v (retry in %s)", attempt, s.opts.MaxAttempts, err, s.opts.RetryDelay)
		if err := s.wait(ctx, s.opts.RetryDelay); err != nil {
			return err
		}
	}

	msg := fmt.Sprintf("Initialization failed after %d attempts: %v", s.opts.MaxAttempts, lastErr)
	log.Printf("Bootstrap: %s", msg)
	s.store.Fail(state.PhaseFailed, msg)
	return fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

func (s *Sequencer) attempt(ctx context.Context) error {
	if s.bridge != nil {
		s.bridge.Start()
	}
	s.channel.Connect()
	if err := s.snapshot(ctx); err != nil {
		return err
	}
	s.heartbeat.Start(ctx)
	return nil
}

// snapshot fetches every resource in parallel. Each slice that succeeds is
// applied even when another fails; the step fails if any slice failed.
func (s *Sequencer) snapshot(ctx context.Context) error {
	var g errgroup.Group
	fetch := func(name string, fn func() error) {
		g.Go(func() error {
			if err := fn(); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	fetch("status", func() error {
		status, err := s.client.Status(ctx)
		if err == nil {
			s.store.SetTaskStatus(status)
		}
		return err
	})
	fetch("health", func() error {
		health, err := s.client.Health(ctx)
		if err == nil {
			s.store.SetHealth(health)
		}
		return err
	})
	fetch("points", func() error {
		points, err := s.client.Points(ctx)
		if err == nil {
			s.store.SetPoints(points)
		}
		return err
	})
	fetch("config", func() error {
		cfg, err := s.client.Config(ctx)
		if err == nil {
			s.store.SetConfig(cfg)
		}
		return err
	})
	fetch("history", func() error {
		history, err := s.client.History(ctx, s.opts.HistoryDays)
		if err == nil {
			s.store.SetHistory(history)
		}
		return err
	})
	fetch("recent logs", func() error {
		lines, err := s.client.RecentLogs(ctx, s.opts.RecentLogLines)
		if err == nil {
			s.store.SeedLogs(logEntries(lines))
		}
		return err
	})
	fetch("dashboard", func() error {
		dash, err := s.client.Dashboard(ctx)
		if err == nil {
			s.store.SetConfigSummary(dash.ConfigSummary)
		}
		return err
	})
	return g.Wait()
}

func logEntries(lines []string) []model.LogEntry {
	entries := make([]model.LogEntry, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		entries = append(entries, model.LogEntry{
			Level:   model.InferLevel(line),
			Message: line,
			Source:  model.SourceSnapshot,
		})
	}
	return entries
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

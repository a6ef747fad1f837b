// Program rewardspanel is the console control panel for the rewards automation
// backend. It keeps a live view of the backend's task status, points, health
// and logs through a streaming channel, a liveness heartbeat and REST calls,
// and optionally supervises the backend process itself (host mode).
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"rewardspanel/api"
	"rewardspanel/bootstrap"
	"rewardspanel/config"
	"rewardspanel/dedup"
	"rewardspanel/endpoint"
	"rewardspanel/heartbeat"
	"rewardspanel/host"
	"rewardspanel/model"
	"rewardspanel/state"
	"rewardspanel/stats"
	"rewardspanel/stream"
	"rewardspanel/ui"
)

const (
	Version           = "0.3.0"
	envConfigPath     = "REWARDSPANEL_CONFIG"
	defaultConfigPath = "data/config.yaml"
	dedupeMaxKeys     = 1024
	actionTimeout     = 15 * time.Second
	shutdownGrace     = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rewardspanel: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logs, err := setupLogging(cfg.Logging, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging: file output disabled: %v\n", err)
	}
	defer logs.Close()
	log.SetFlags(0)
	log.SetOutput(logs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := stats.NewTracker()
	store := state.New(cfg.Logs.Capacity, dedup.NewLogDeduper(cfg.Logs.DedupeWindow.Std(), dedupeMaxKeys))

	// Host mode: spawn the backend and forward its output before anything
	// tries to resolve the endpoint.
	var (
		ports      endpoint.PortQuerier
		bridge     *host.Bridge
		supervisor *host.Supervisor
		seqBridge  bootstrap.Bridge
	)
	if cfg.Host.Enabled {
		hub := host.NewHub()
		bridge = host.NewBridge(hub, store, tracker)
		bridge.Start()
		supervisor = host.NewSupervisor(cfg.Host, cfg.Backend.Port, hub)
		if err := supervisor.Start(); err != nil {
			log.Printf("Host: %v", err)
		}
		ports = supervisor
		seqBridge = bridge
	}

	resolver := endpoint.NewResolver(cfg.Backend, ports)
	client := api.NewClient(resolver, cfg.HTTP.Timeout.Std())
	channel := stream.NewManager(resolver, store, tracker, stream.Options{
		BaseDelay:        cfg.Stream.BaseDelay.Std(),
		MaxDelay:         cfg.Stream.MaxDelay.Std(),
		PingInterval:     cfg.Stream.PingInterval.Std(),
		HandshakeTimeout: cfg.Stream.HandshakeTimeout.Std(),
	})
	monitor := heartbeat.NewMonitor(client, channel, store, tracker, cfg.Heartbeat.Interval.Std(), cfg.Heartbeat.FailureThreshold)
	seq := bootstrap.NewSequencer(seqBridge, channel, client, monitor, store, tracker, bootstrap.Options{
		MaxAttempts:    cfg.Bootstrap.MaxAttempts,
		RetryDelay:     cfg.Bootstrap.RetryDelay.Std(),
		HistoryDays:    cfg.Bootstrap.HistoryDays,
		RecentLogLines: cfg.Bootstrap.RecentLogLines,
	})

	actions := ui.Actions{
		Retry: func() {
			if err := seq.Retry(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Bootstrap: retry: %v", err)
			}
		},
		StartTask: func() {
			runTaskAction(ctx, store, "start task", func(ctx context.Context) (model.ActionResult, error) {
				return client.StartTask(ctx, model.TaskStartOptions{})
			})
		},
		StopTask: func() {
			runTaskAction(ctx, store, "stop task", client.StopTask)
		},
	}

	surface := newSurface(cfg, store, tracker, actions)
	surface.Start()
	surface.WaitReady()
	if _, ok := surface.(*ui.Dashboard); ok {
		logs.SetConsole(surface.SystemWriter(), true)
	} else {
		cfg.Print()
	}

	log.Printf("Rewards Panel v%s starting (endpoint mode %s)", Version, resolver.Mode())
	if cfg.LoadedFrom != "" {
		log.Printf("Configuration loaded from %s", cfg.LoadedFrom)
	}
	startSyncHealthMonitor(ctx, store, tracker)

	go func() {
		if err := seq.Initialize(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Bootstrap: %v (press r to retry)", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("Shutdown requested")
	case <-surface.Quit():
		log.Printf("Quit requested")
	}
	stop()

	shutdown(monitor, channel, bridge, supervisor)
	surface.Stop()
	logs.SetConsole(os.Stderr, true)
	log.Printf("Stopped")
	return nil
}

func loadConfig() (*config.Config, error) {
	candidates := []string{defaultConfigPath}
	if path := strings.TrimSpace(os.Getenv(envConfigPath)); path != "" {
		candidates = []string{path}
	}
	cfg, err := config.LoadOrDefault(candidates...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newSurface picks the dashboard only when asked for and stdout is a terminal.
func newSurface(cfg *config.Config, store *state.Store, tracker *stats.Tracker, actions ui.Actions) ui.Surface {
	if cfg.UI.Mode == "tview" && term.IsTerminal(int(os.Stdout.Fd())) {
		return ui.NewDashboard(store, tracker, actions, cfg.UI.RefreshInterval.Std())
	}
	return ui.NewHeadless(store, os.Stdout)
}

// runTaskAction performs a user-triggered mutation and reports the outcome
// in the log pane.
func runTaskAction(ctx context.Context, store *state.Store, name string, fn func(context.Context) (model.ActionResult, error)) {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	res, err := fn(ctx)
	if err != nil {
		msg := fmt.Sprintf("%s failed: %v", name, err)
		log.Printf("API: %s", msg)
		store.AppendLog(model.LogEntry{Level: model.LevelError, Message: msg, Source: model.SourceClient})
		return
	}
	msg := res.Message
	if msg == "" {
		msg = name + " accepted"
	}
	store.AppendLog(model.LogEntry{Level: model.LevelInfo, Message: msg, Source: model.SourceClient})
}

// shutdown stops components in reverse start order. The backend process is
// killed last so its final output still reaches the log.
func shutdown(monitor *heartbeat.Monitor, channel *stream.Manager, bridge *host.Bridge, supervisor *host.Supervisor) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		monitor.Stop()
		channel.Close()
		if supervisor != nil {
			if err := supervisor.Terminate(); err != nil {
				log.Printf("Host: terminate: %v", err)
			}
		}
		if bridge != nil {
			bridge.Stop()
		}
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Printf("Shutdown: components did not stop within %s", shutdownGrace)
	}
}

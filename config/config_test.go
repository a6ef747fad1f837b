package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	t.Setenv(EnvHostMode, "")
	cfg, err := Parse([]byte("backend:\n  port: 9100\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Backend.Port != 9100 {
		t.Fatalf("expected port 9100, got %d", cfg.Backend.Port)
	}
	if cfg.Backend.Host != "127.0.0.1" || cfg.Backend.APIPrefix != "/api" || cfg.Backend.WSPath != "/ws" {
		t.Fatalf("unexpected backend defaults: %+v", cfg.Backend)
	}
	if cfg.HTTP.Timeout.Std() != 10*time.Second {
		t.Fatalf("expected 10s http timeout, got %s", cfg.HTTP.Timeout.Std())
	}
	if cfg.Heartbeat.Interval.Std() != 5*time.Second || cfg.Heartbeat.FailureThreshold != 3 {
		t.Fatalf("unexpected heartbeat defaults: %+v", cfg.Heartbeat)
	}
	if cfg.Stream.BaseDelay.Std() != time.Second || cfg.Stream.MaxDelay.Std() != 30*time.Second {
		t.Fatalf("unexpected stream defaults: %+v", cfg.Stream)
	}
	if cfg.Bootstrap.MaxAttempts != 5 || cfg.Bootstrap.RetryDelay.Std() != 2*time.Second {
		t.Fatalf("unexpected bootstrap defaults: %+v", cfg.Bootstrap)
	}
	if cfg.Logs.Capacity != 500 {
		t.Fatalf("expected log capacity 500, got %d", cfg.Logs.Capacity)
	}
}

func TestParseDurations(t *testing.T) {
	t.Setenv(EnvHostMode, "")
	raw := `
heartbeat:
  interval: 750ms
stream:
  base_delay: 2s
  max_delay: 1m
logs:
  dedupe_window: -1s
`
	cfg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Heartbeat.Interval.Std() != 750*time.Millisecond {
		t.Fatalf("expected 750ms, got %s", cfg.Heartbeat.Interval.Std())
	}
	if cfg.Stream.MaxDelay.Std() != time.Minute {
		t.Fatalf("expected 1m, got %s", cfg.Stream.MaxDelay.Std())
	}
	if cfg.Logs.DedupeWindow != 0 {
		t.Fatalf("negative dedupe window should disable dedupe, got %s", cfg.Logs.DedupeWindow.Std())
	}
}

func TestValidateRejects(t *testing.T) {
	t.Setenv(EnvHostMode, "")
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "bad duration",
			raw:  "heartbeat:\n  interval: soon\n",
			want: "invalid duration",
		},
		{
			name: "base above max",
			raw:  "stream:\n  base_delay: 1m\n  max_delay: 10s\n",
			want: "exceeds",
		},
		{
			name: "host without command",
			raw:  "host:\n  enabled: true\n",
			want: "host.command",
		},
		{
			name: "unknown ui",
			raw:  "ui:\n  mode: gtk\n",
			want: "not recognized",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestApplyEnvHostMode(t *testing.T) {
	cfg := Default()
	lookup := func(key string) (string, bool) {
		if key == EnvHostMode {
			return "true", true
		}
		return "", false
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if !cfg.Host.Enabled {
		t.Fatalf("expected host mode enabled by env")
	}

	bad := func(string) (string, bool) { return "maybe", true }
	if err := cfg.ApplyEnv(bad); err == nil {
		t.Fatalf("expected invalid bool to fail")
	}
}

func TestLoadOrDefaultSkipsMissing(t *testing.T) {
	t.Setenv(EnvHostMode, "")
	dir := t.TempDir()
	present := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(present, []byte("backend:\n  port: 8123\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadOrDefault(filepath.Join(dir, "missing.yaml"), present)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LoadedFrom != present || cfg.Backend.Port != 8123 {
		t.Fatalf("expected config from %s, got %q port=%d", present, cfg.LoadedFrom, cfg.Backend.Port)
	}

	cfg, err = LoadOrDefault(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.LoadedFrom != "" || cfg.Backend.Port != 8000 {
		t.Fatalf("expected defaults, got %q port=%d", cfg.LoadedFrom, cfg.Backend.Port)
	}
}

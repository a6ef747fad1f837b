package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvHostMode forces desktop host mode on or off regardless of the file.
	EnvHostMode = "REWARDSPANEL_HOST"

	defaultBackendHost   = "127.0.0.1"
	defaultBackendPort   = 8000
	defaultAPIPrefix     = "/api"
	defaultWSPath        = "/ws"
	defaultPortFlag      = "--port"
	defaultHTTPTimeout   = 10 * time.Second
	defaultProbeInterval = 5 * time.Second
	defaultFailThreshold = 3
	defaultBaseDelay     = time.Second
	defaultMaxDelay      = 30 * time.Second
	defaultHandshake     = 10 * time.Second
	defaultMaxAttempts   = 5
	defaultRetryDelay    = 2 * time.Second
	defaultHistoryDays   = 7
	defaultRecentLines   = 100
	defaultLogCapacity   = 500
	defaultDedupeWindow  = 2 * time.Second
	defaultRefresh       = 250 * time.Millisecond
	defaultLogDir        = "data/logs"
	defaultRetentionDays = 7
)

// Config represents the complete client configuration
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Host      HostConfig      `yaml:"host"`
	HTTP      HTTPConfig      `yaml:"http"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Stream    StreamConfig    `yaml:"stream"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Logs      LogsConfig      `yaml:"logs"`
	UI        UIConfig        `yaml:"ui"`
	Logging   LoggingConfig   `yaml:"logging"`

	// LoadedFrom records the file the config was read from ("" for defaults).
	LoadedFrom string `yaml:"-"`
}

// BackendConfig is the fixed default endpoint used outside host mode and as
// the fallback when the host port query fails.
type BackendConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIPrefix string `yaml:"api_prefix"`
	WSPath    string `yaml:"ws_path"`
}

// HostConfig controls the native host runtime that supervises the backend.
type HostConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args"`
	PortFlag    string   `yaml:"port_flag"`
	DynamicPort bool     `yaml:"dynamic_port"`
}

// HTTPConfig bounds request/response calls.
type HTTPConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// HeartbeatConfig drives the liveness probe.
type HeartbeatConfig struct {
	Interval         Duration `yaml:"interval"`
	FailureThreshold int      `yaml:"failure_threshold"`
}

// StreamConfig drives the streaming channel and its reconnect backoff.
type StreamConfig struct {
	BaseDelay        Duration `yaml:"base_delay"`
	MaxDelay         Duration `yaml:"max_delay"`
	PingInterval     Duration `yaml:"ping_interval"`
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
}

// BootstrapConfig bounds the startup retry loop and the initial snapshot.
type BootstrapConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	RetryDelay     Duration `yaml:"retry_delay"`
	HistoryDays    int      `yaml:"history_days"`
	RecentLogLines int      `yaml:"recent_log_lines"`
}

// LogsConfig sizes the in-memory log sequence.
type LogsConfig struct {
	Capacity     int      `yaml:"capacity"`
	DedupeWindow Duration `yaml:"dedupe_window"`
}

// UIConfig selects the console renderer.
type UIConfig struct {
	Mode            string   `yaml:"mode"`
	RefreshInterval Duration `yaml:"refresh_interval"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// Duration is a time.Duration that unmarshals from strings like "5s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns a fully normalized configuration without reading any file.
func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Load loads configuration from a YAML file, then applies defaults and the
// host-mode environment override.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.LoadedFrom = filename
	return cfg, nil
}

// Parse decodes YAML bytes into a normalized, validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Normalize()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads the first existing candidate path. Missing files are
// skipped; when none exist the defaults are returned.
func LoadOrDefault(candidates ...string) (*Config, error) {
	for _, path := range candidates {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		cfg, err := Load(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		return cfg, nil
	}
	cfg := Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides using the supplied lookup function.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	raw, ok := lookup(EnvHostMode)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	enabled, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", EnvHostMode, raw, err)
	}
	c.Host.Enabled = enabled
	return nil
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	c.Backend.Host = strings.TrimSpace(c.Backend.Host)
	if c.Backend.Host == "" {
		c.Backend.Host = defaultBackendHost
	}
	if c.Backend.Port <= 0 {
		c.Backend.Port = defaultBackendPort
	}
	c.Backend.APIPrefix = normalizePath(c.Backend.APIPrefix, defaultAPIPrefix)
	c.Backend.WSPath = normalizePath(c.Backend.WSPath, defaultWSPath)

	c.Host.Command = strings.TrimSpace(c.Host.Command)
	if strings.TrimSpace(c.Host.PortFlag) == "" {
		c.Host.PortFlag = defaultPortFlag
	}

	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = Duration(defaultHTTPTimeout)
	}
	if c.Heartbeat.Interval <= 0 {
		c.Heartbeat.Interval = Duration(defaultProbeInterval)
	}
	if c.Heartbeat.FailureThreshold <= 0 {
		c.Heartbeat.FailureThreshold = defaultFailThreshold
	}
	if c.Stream.BaseDelay <= 0 {
		c.Stream.BaseDelay = Duration(defaultBaseDelay)
	}
	if c.Stream.MaxDelay <= 0 {
		c.Stream.MaxDelay = Duration(defaultMaxDelay)
	}
	if c.Stream.HandshakeTimeout <= 0 {
		c.Stream.HandshakeTimeout = Duration(defaultHandshake)
	}
	if c.Stream.PingInterval < 0 {
		c.Stream.PingInterval = 0
	}
	if c.Bootstrap.MaxAttempts <= 0 {
		c.Bootstrap.MaxAttempts = defaultMaxAttempts
	}
	if c.Bootstrap.RetryDelay <= 0 {
		c.Bootstrap.RetryDelay = Duration(defaultRetryDelay)
	}
	if c.Bootstrap.HistoryDays <= 0 {
		c.Bootstrap.HistoryDays = defaultHistoryDays
	}
	if c.Bootstrap.RecentLogLines <= 0 {
		c.Bootstrap.RecentLogLines = defaultRecentLines
	}
	if c.Logs.Capacity <= 0 {
		c.Logs.Capacity = defaultLogCapacity
	}
	if c.Logs.DedupeWindow < 0 {
		c.Logs.DedupeWindow = 0
	} else if c.Logs.DedupeWindow == 0 {
		c.Logs.DedupeWindow = Duration(defaultDedupeWindow)
	}
	c.UI.Mode = strings.ToLower(strings.TrimSpace(c.UI.Mode))
	if c.UI.Mode == "" {
		c.UI.Mode = "tview"
	}
	if c.UI.RefreshInterval <= 0 {
		c.UI.RefreshInterval = Duration(defaultRefresh)
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = defaultLogDir
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = defaultRetentionDays
	}
}

// Validate rejects combinations Normalize cannot repair.
func (c *Config) Validate() error {
	if c.Backend.Port > 65535 {
		return fmt.Errorf("backend.port %d out of range", c.Backend.Port)
	}
	if c.Stream.BaseDelay > c.Stream.MaxDelay {
		return fmt.Errorf("stream.base_delay %s exceeds stream.max_delay %s", c.Stream.BaseDelay.Std(), c.Stream.MaxDelay.Std())
	}
	if c.Host.Enabled && c.Host.Command == "" {
		return errors.New("host.enabled requires host.command")
	}
	switch c.UI.Mode {
	case "tview", "headless":
	default:
		return fmt.Errorf("ui.mode %q not recognized (tview|headless)", c.UI.Mode)
	}
	return nil
}

// Print displays the configuration
func (c *Config) Print() {
	fmt.Printf("Backend: %s:%d (api %s, ws %s)\n", c.Backend.Host, c.Backend.Port, c.Backend.APIPrefix, c.Backend.WSPath)
	if c.Host.Enabled {
		fmt.Printf("Host mode: %s %s (dynamic port=%v)\n", c.Host.Command, strings.Join(c.Host.Args, " "), c.Host.DynamicPort)
	} else {
		fmt.Println("Host mode: disabled (backend started externally)")
	}
	fmt.Printf("Heartbeat: every %s, degrade after %d failures\n", c.Heartbeat.Interval.Std(), c.Heartbeat.FailureThreshold)
	fmt.Printf("Stream backoff: %s..%s\n", c.Stream.BaseDelay.Std(), c.Stream.MaxDelay.Std())
	fmt.Printf("Bootstrap: %d attempts, %s apart\n", c.Bootstrap.MaxAttempts, c.Bootstrap.RetryDelay.Std())
}

func normalizePath(raw string, fallback string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return strings.TrimRight(trimmed, "/")
}

// Package model defines the payloads exchanged with the automation backend
// and the log entries the client keeps in memory. The JSON tags follow the
// backend's snake_case wire format.
package model

import (
	"strings"
	"time"
)

// TaskStatus mirrors GET /status and the status_update stream payload.
type TaskStatus struct {
	IsRunning                bool     `json:"is_running"`
	CurrentOperation         string   `json:"current_operation"`
	Progress                 int      `json:"progress"`
	TotalSteps               int      `json:"total_steps"`
	DesktopSearchesCompleted int      `json:"desktop_searches_completed"`
	DesktopSearchesTotal     int      `json:"desktop_searches_total"`
	MobileSearchesCompleted  int      `json:"mobile_searches_completed"`
	MobileSearchesTotal      int      `json:"mobile_searches_total"`
	InitialPoints            *int     `json:"initial_points"`
	CurrentPoints            *int     `json:"current_points"`
	PointsGained             int      `json:"points_gained"`
	ErrorCount               int      `json:"error_count"`
	WarningCount             int      `json:"warning_count"`
	StartTime                *float64 `json:"start_time"`
	ElapsedSeconds           float64  `json:"elapsed_seconds"`
}

// Health mirrors GET /health and the health_update stream payload.
type Health struct {
	Overall         string         `json:"overall"`
	System          map[string]any `json:"system"`
	Network         map[string]any `json:"network"`
	Browser         map[string]any `json:"browser"`
	SearchStats     map[string]any `json:"search_stats"`
	UptimeSeconds   float64        `json:"uptime_seconds"`
	Recommendations []string       `json:"recommendations"`
}

// Points mirrors GET /points and the points_update stream payload.
type Points struct {
	CurrentPoints     *int    `json:"current_points"`
	LifetimePoints    *int    `json:"lifetime_points"`
	PointsGainedToday int     `json:"points_gained_today"`
	LastUpdated       *string `json:"last_updated"`
}

// Config is the backend's sectioned configuration document. Sections are
// kept opaque; the client only displays and round-trips them.
type Config map[string]map[string]any

// HistoryEntry is one record of GET /history. The backend stores free-form
// session summaries keyed by timestamp.
type HistoryEntry map[string]any

// Timestamp returns the entry's "timestamp" field when present.
func (h HistoryEntry) Timestamp() string {
	if h == nil {
		return ""
	}
	if v, ok := h["timestamp"].(string); ok {
		return v
	}
	return ""
}

// Dashboard mirrors GET /dashboard.
type Dashboard struct {
	Status        TaskStatus     `json:"status"`
	Health        Health         `json:"health"`
	ConfigSummary map[string]any `json:"config_summary"`
	Points        Points         `json:"points"`
}

// TaskStartOptions is the POST /task/start body.
type TaskStartOptions struct {
	Mode           string `json:"mode"`
	Headless       bool   `json:"headless"`
	DesktopOnly    bool   `json:"desktop_only"`
	MobileOnly     bool   `json:"mobile_only"`
	SkipDailyTasks bool   `json:"skip_daily_tasks"`
}

// ActionResult is the acknowledgement returned by task and config mutations.
type ActionResult struct {
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// TaskEvent is a task lifecycle notification (started, completed, error, ...).
type TaskEvent struct {
	Event     string         `json:"event"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Level is a log severity label.
type Level string

const (
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Source identifies which transport delivered a log line.
type Source string

const (
	SourceStream   Source = "stream"
	SourceHost     Source = "host"
	SourceSnapshot Source = "snapshot"
	SourceClient   Source = "client"
)

// LogEntry is one line in the bounded, insertion-ordered log sequence.
type LogEntry struct {
	ID        uint64
	Timestamp time.Time
	Level     Level
	Message   string
	Source    Source
}

// InferLevel extracts a severity from a formatted backend log line. Lines
// produced by the backend's logging formatter carry the level name as a
// separate token; anything unrecognized is INFO.
func InferLevel(line string) Level {
	upper := strings.ToUpper(line)
	switch {
	case containsToken(upper, "ERROR"), containsToken(upper, "CRITICAL"):
		return LevelError
	case containsToken(upper, "WARNING"), containsToken(upper, "WARN"):
		return LevelWarning
	case containsToken(upper, "DEBUG"):
		return LevelDebug
	default:
		return LevelInfo
	}
}

func containsToken(s string, token string) bool {
	for start := 0; ; {
		idx := strings.Index(s[start:], token)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(token)
		if (idx == 0 || !isWordByte(s[idx-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		start = idx + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

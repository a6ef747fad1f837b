package stream

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"rewardspanel/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope type names pushed by the backend.
const (
	TypeStatusUpdate = "status_update"
	TypeHealthUpdate = "health_update"
	TypePointsUpdate = "points_update"
	TypeLog          = "log"
	TypeTaskEvent    = "task_event"
	TypeEcho         = "echo"
)

// Sink receives routed stream updates. *state.Store satisfies it.
type Sink interface {
	SetTaskStatus(model.TaskStatus)
	SetHealth(model.Health)
	SetPoints(model.Points)
	AppendLog(model.LogEntry) bool
	ApplyTaskEvent(model.TaskEvent)
	SetChannel(channelState string, connected bool)
}

// ProtocolError describes an inbound message that could not be routed. It is
// logged and the message dropped; it never closes the channel.
type ProtocolError struct {
	Type   string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "stream protocol: " + e.Reason
	if e.Type != "" {
		msg += fmt.Sprintf(" (type %q)", e.Type)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

type envelope struct {
	Type      string              `json:"type"`
	Data      jsoniter.RawMessage `json:"data"`
	Event     string              `json:"event"`
	Message   string              `json:"message"`
	Details   map[string]any      `json:"details"`
	Timestamp string              `json:"timestamp"`
}

// Dispatch decodes one message and applies it to sink. It returns the
// envelope type for accounting. Echo replies are recognized and ignored.
func Dispatch(sink Sink, raw []byte, now func() time.Time) (string, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", &ProtocolError{Reason: "malformed envelope", Err: err}
	}
	if env.Type == "" {
		return "", &ProtocolError{Reason: "missing type"}
	}
	ts := parseTimestamp(env.Timestamp, now)

	switch env.Type {
	case TypeStatusUpdate:
		var status model.TaskStatus
		if err := decodeData(env, &status); err != nil {
			return env.Type, err
		}
		sink.SetTaskStatus(status)
	case TypeHealthUpdate:
		var health model.Health
		if err := decodeData(env, &health); err != nil {
			return env.Type, err
		}
		sink.SetHealth(health)
	case TypePointsUpdate:
		var points model.Points
		if err := decodeData(env, &points); err != nil {
			return env.Type, err
		}
		sink.SetPoints(points)
	case TypeLog:
		var line string
		if err := decodeData(env, &line); err != nil {
			return env.Type, err
		}
		line = strings.TrimRight(line, "\r\n")
		sink.AppendLog(model.LogEntry{
			Timestamp: ts,
			Level:     model.InferLevel(line),
			Message:   line,
			Source:    model.SourceStream,
		})
	case TypeTaskEvent:
		if env.Event == "" {
			return env.Type, &ProtocolError{Type: env.Type, Reason: "missing event"}
		}
		sink.ApplyTaskEvent(model.TaskEvent{
			Event:     env.Event,
			Message:   env.Message,
			Details:   env.Details,
			Timestamp: ts,
		})
	case TypeEcho:
	default:
		return env.Type, &ProtocolError{Type: env.Type, Reason: "unknown type"}
	}
	return env.Type, nil
}

func decodeData(env envelope, out any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &ProtocolError{Type: env.Type, Reason: "missing data"}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &ProtocolError{Type: env.Type, Reason: "bad data", Err: err}
	}
	return nil
}

// The backend stamps envelopes with naive local ISO-8601 times.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(raw string, now func() time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		for _, layout := range timestampLayouts {
			if ts, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
				return ts
			}
		}
	}
	if now == nil {
		return time.Now()
	}
	return now()
}

package stream

import (
	"errors"
	"testing"
	"time"
)

func TestBackoffDelays(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second}
	var prev time.Duration
	for i := 0; i < 12; i++ {
		d := b.Next()
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %s < %s", i, d, prev)
		}
		if d > 30*time.Second {
			t.Fatalf("delay %s exceeds ceiling", d)
		}
		prev = d
	}
	if prev != 30*time.Second {
		t.Fatalf("expected ceiling to be reached, got %s", prev)
	}
	b.Reset()
	if d := b.Next(); d != time.Second {
		t.Fatalf("expected base delay after reset, got %s", d)
	}
}

func TestBackoffLargeAttemptDoesNotOverflow(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute}
	for i := 0; i < 200; i++ {
		b.Next()
	}
	if d := b.Delay(); d != time.Minute {
		t.Fatalf("expected ceiling, got %s", d)
	}
}

func TestDispatchRoutes(t *testing.T) {
	sink := &recordingSink{}
	fixed := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return fixed }
	msgs := []string{
		`{"type":"health_update","data":{"overall":"healthy"}}`,
		`{"type":"points_update","data":{"current_points":10}}`,
		`{"type":"task_event","event":"completed","message":"ok","details":{"points":5}}`,
	}
	for _, msg := range msgs {
		if _, err := Dispatch(sink, []byte(msg), now); err != nil {
			t.Fatalf("dispatch %s: %v", msg, err)
		}
	}
	got := sink.snapshot()
	want := []string{"health:healthy", "points", "event:completed"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("route %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestDispatchProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed", `{"type":`},
		{"missing type", `{"data":{}}`},
		{"unknown type", `{"type":"surprise"}`},
		{"missing data", `{"type":"status_update"}`},
		{"wrong data shape", `{"type":"log","data":{"line":"x"}}`},
		{"task event without event", `{"type":"task_event","message":"x"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sink := &recordingSink{}
			_, err := Dispatch(sink, []byte(tc.raw), time.Now)
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ProtocolError, got %v", err)
			}
			if len(sink.snapshot()) != 0 {
				t.Fatalf("nothing should be routed on error")
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	fallback := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return fallback }
	ts := parseTimestamp("2026-01-02T10:00:00.123456", now)
	if ts.Year() != 2026 || ts.Nanosecond() != 123456000 {
		t.Fatalf("unexpected parse %s", ts)
	}
	if got := parseTimestamp("yesterday", now); !got.Equal(fallback) {
		t.Fatalf("expected fallback time, got %s", got)
	}
}

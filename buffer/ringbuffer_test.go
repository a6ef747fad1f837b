package buffer

import (
	"fmt"
	"testing"

	"rewardspanel/model"
)

func TestRingBufferNeverExceedsCapacity(t *testing.T) {
	rb := NewRingBuffer(4)
	for i := 0; i < 11; i++ {
		rb.Add(&model.LogEntry{Message: fmt.Sprintf("line-%d", i)})
		if rb.Len() > 4 {
			t.Fatalf("len %d exceeds capacity after %d adds", rb.Len(), i+1)
		}
	}
	if rb.GetCount() != 11 {
		t.Fatalf("expected 11 total adds, got %d", rb.GetCount())
	}
}

func TestRingBufferSnapshotEvictsOldestFirst(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Add(&model.LogEntry{Message: fmt.Sprintf("line-%d", i)})
	}
	snap := rb.Snapshot()
	want := []string{"line-2", "line-3", "line-4"}
	if len(snap) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(snap))
	}
	for i, msg := range want {
		if snap[i].Message != msg {
			t.Fatalf("entry %d: expected %q, got %q", i, msg, snap[i].Message)
		}
	}
	if snap[0].ID >= snap[2].ID {
		t.Fatalf("expected increasing IDs, got %d then %d", snap[0].ID, snap[2].ID)
	}
}

func TestRingBufferGetRecentNewestFirst(t *testing.T) {
	rb := NewRingBuffer(5)
	for i := 0; i < 3; i++ {
		rb.Add(&model.LogEntry{Message: fmt.Sprintf("line-%d", i)})
	}
	recent := rb.GetRecent(2)
	if len(recent) != 2 || recent[0].Message != "line-2" || recent[1].Message != "line-1" {
		t.Fatalf("unexpected recent order: %+v", recent)
	}
	if got := rb.GetRecent(0); len(got) != 0 {
		t.Fatalf("expected empty result for n=0")
	}
}

func TestRingBufferReset(t *testing.T) {
	rb := NewRingBuffer(2)
	rb.Add(&model.LogEntry{Message: "a"})
	rb.Add(&model.LogEntry{Message: "b"})
	rb.Reset()
	if snap := rb.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected empty snapshot after reset, got %d", len(snap))
	}
	rb.Add(&model.LogEntry{Message: "c"})
	snap := rb.Snapshot()
	if len(snap) != 1 || snap[0].Message != "c" {
		t.Fatalf("unexpected snapshot after reset: %+v", snap)
	}
}

func TestRingBufferLenAfterReset(t *testing.T) {
	rb := NewRingBuffer(3)
	rb.Add(&model.LogEntry{Message: "a"})
	rb.Add(&model.LogEntry{Message: "b"})
	rb.Reset()
	if rb.Len() != 0 {
		t.Fatalf("expected len 0 after reset, got %d", rb.Len())
	}
	rb.Add(&model.LogEntry{Message: "c"})
	if rb.Len() != 1 {
		t.Fatalf("expected len 1, got %d", rb.Len())
	}
}

// Package ratelimit throttles repetitive log lines.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// Counter counts occurrences and grants at most one log per interval. It is
// safe for concurrent use; the zero value never throttles.
type Counter struct {
	interval time.Duration
	now      func() time.Time
	lastLog  atomic.Int64
	total    atomic.Uint64
	skipped  atomic.Uint64
}

func NewCounter(interval time.Duration) *Counter {
	return &Counter{interval: interval, now: time.Now}
}

// Inc records one occurrence. When logging is allowed it also returns how
// many occurrences were swallowed since the previous allowed one.
func (c *Counter) Inc() (total uint64, suppressed uint64, ok bool) {
	if c == nil {
		return 0, 0, true
	}
	total = c.total.Add(1)
	if c.interval <= 0 {
		return total, 0, true
	}
	now := c.clock().UnixNano()
	last := c.lastLog.Load()
	if last != 0 && now-last < c.interval.Nanoseconds() {
		c.skipped.Add(1)
		return total, 0, false
	}
	if !c.lastLog.CompareAndSwap(last, now) {
		c.skipped.Add(1)
		return total, 0, false
	}
	return total, c.skipped.Swap(0), true
}

// Reset re-arms the counter so the next occurrence is logged immediately.
func (c *Counter) Reset() {
	if c == nil {
		return
	}
	c.lastLog.Store(0)
	c.skipped.Store(0)
}

func (c *Counter) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

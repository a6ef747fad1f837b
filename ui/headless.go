package ui

import (
	"fmt"
	"io"
	"sync"

	"rewardspanel/model"
)

// Headless prints a status line whenever it changes and every new log entry.
// It is used when stdout is not a terminal.
type Headless struct {
	source Source
	out    io.Writer

	mu         sync.Mutex
	lastStatus string
	printed    map[logKey]struct{}

	quit     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewHeadless(source Source, out io.Writer) *Headless {
	return &Headless{
		source: source,
		out:    out,
		quit:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

func (h *Headless) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.flush()
		for {
			select {
			case <-h.stop:
				return
			case <-h.source.Changes():
				h.flush()
			}
		}
	}()
}

func (h *Headless) WaitReady() {}

// Quit never fires; headless mode exits on signals only.
func (h *Headless) Quit() <-chan struct{} {
	return h.quit
}

func (h *Headless) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.wg.Wait()
		h.flush()
	})
}

func (h *Headless) SystemWriter() io.Writer {
	return h.out
}

func (h *Headless) flush() {
	snap := h.source.Snapshot()

	h.mu.Lock()
	defer h.mu.Unlock()

	// Keyed by content rather than ID: seeding the log re-numbers entries
	// that were already printed.
	current := make(map[logKey]struct{}, len(snap.Logs))
	for _, e := range snap.Logs {
		key := logKey{at: e.Timestamp.UnixNano(), msg: e.Message}
		current[key] = struct{}{}
		if _, ok := h.printed[key]; ok {
			continue
		}
		h.printLog(e)
	}
	h.printed = current
	line := HeadlessLine(snap)
	if line != h.lastStatus {
		h.lastStatus = line
		fmt.Fprintf(h.out, "status: %s\n", line)
	}
}

type logKey struct {
	at  int64
	msg string
}

func (h *Headless) printLog(e model.LogEntry) {
	fmt.Fprintf(h.out, "%s %-7s [%s] %s\n", e.Timestamp.Format(timeLayout), e.Level, e.Source, e.Message)
}

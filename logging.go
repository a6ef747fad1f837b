package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rewardspanel/config"
)

const (
	logTimestampLayout = "2006/01/02 15:04:05"
	logFilePrefix      = "rewardspanel-"
	logFileDateLayout  = "2006-01-02"
	maxPartialLine     = 16 * 1024
)

type lineSink interface {
	WriteLine(line string, now time.Time)
	Close() error
}

// writerSink prints to the console or the UI's system pane.
type writerSink struct {
	w     io.Writer
	stamp bool
}

func (s *writerSink) WriteLine(line string, now time.Time) {
	if s == nil || s.w == nil {
		return
	}
	if s.stamp {
		line = now.Local().Format(logTimestampLayout) + " " + line
	}
	_, _ = io.WriteString(s.w, line+"\n")
}

func (s *writerSink) Close() error { return nil }

// dailyFile appends to one file per local calendar day and prunes files
// older than the retention window whenever it rolls over.
type dailyFile struct {
	mu            sync.Mutex
	dir           string
	retentionDays int
	day           string
	file          *os.File
	lastErrorAt   time.Time
}

// Purpose: Open the log directory and prune stale files.
// Key aspects: The file itself is opened lazily on the first line.
// Upstream: setupLogging.
// Downstream: os.MkdirAll, pruneLogs.
func newDailyFile(dir string, retentionDays int) (*dailyFile, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("log directory is empty")
	}
	if retentionDays <= 0 {
		retentionDays = 7
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %q: %w", dir, err)
	}
	if err := pruneLogs(dir, time.Now(), retentionDays); err != nil {
		fmt.Fprintf(os.Stderr, "Logging: prune %s: %v\n", dir, err)
	}
	return &dailyFile{dir: dir, retentionDays: retentionDays}, nil
}

func (d *dailyFile) WriteLine(line string, now time.Time) {
	if d == nil {
		return
	}
	now = now.Local()
	d.mu.Lock()
	defer d.mu.Unlock()

	if day := now.Format(logFileDateLayout); d.file == nil || d.day != day {
		d.rollLocked(day, now)
	}
	if d.file == nil {
		return
	}
	if _, err := d.file.WriteString(now.Format(logTimestampLayout) + " " + line + "\n"); err != nil {
		d.reportLocked(now, fmt.Errorf("write: %w", err))
	}
}

func (d *dailyFile) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.day = ""
	return err
}

func (d *dailyFile) rollLocked(day string, now time.Time) {
	if d.file != nil {
		_ = d.file.Close()
		d.file = nil
	}
	path := filepath.Join(d.dir, logFileName(now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		d.reportLocked(now, fmt.Errorf("open %s: %w", path, err))
		return
	}
	d.file = f
	d.day = day
	if err := pruneLogs(d.dir, now, d.retentionDays); err != nil {
		d.reportLocked(now, fmt.Errorf("prune: %w", err))
	}
}

// reportLocked goes straight to stderr, at most once a minute, because the
// logger itself is what failed.
func (d *dailyFile) reportLocked(now time.Time, err error) {
	if !d.lastErrorAt.IsZero() && now.Sub(d.lastErrorAt) < time.Minute {
		return
	}
	d.lastErrorAt = now
	fmt.Fprintf(os.Stderr, "Logging: %v\n", err)
}

// logTee is the log.Logger output. It splits writes into lines and hands
// each complete line to the console sink and the file sink.
type logTee struct {
	mu      sync.Mutex
	partial []byte
	console lineSink
	file    lineSink
	now     func() time.Time
}

// Purpose: Build the process log writer from config.
// Key aspects: Returns a usable tee even when the file sink fails.
// Upstream: main startup.
// Downstream: newDailyFile, log.SetOutput.
func setupLogging(cfg config.LoggingConfig, console io.Writer) (*logTee, error) {
	tee := &logTee{console: &writerSink{w: console, stamp: true}, now: time.Now}
	if !cfg.Enabled {
		return tee, nil
	}
	file, err := newDailyFile(cfg.Dir, cfg.RetentionDays)
	if err != nil {
		return tee, err
	}
	tee.file = file
	return tee, nil
}

// SetConsole redirects console output, e.g. into the dashboard's system pane.
func (t *logTee) SetConsole(w io.Writer, stamp bool) {
	if t == nil {
		return
	}
	var sink lineSink
	if w != nil {
		sink = &writerSink{w: w, stamp: stamp}
	}
	t.mu.Lock()
	t.console = sink
	t.mu.Unlock()
}

func (t *logTee) Write(p []byte) (int, error) {
	if t == nil {
		return len(p), nil
	}
	t.mu.Lock()
	t.partial = append(t.partial, p...)
	var lines []string
	for {
		idx := bytes.IndexByte(t.partial, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(t.partial[:idx], "\r")))
		t.partial = t.partial[idx+1:]
	}
	if len(t.partial) > maxPartialLine {
		lines = append(lines, string(t.partial))
		t.partial = nil
	}
	if len(t.partial) == 0 {
		t.partial = nil
	}
	console, file := t.console, t.file
	t.mu.Unlock()

	now := t.now()
	for _, line := range lines {
		if console != nil {
			console.WriteLine(line, now)
		}
		if file != nil {
			file.WriteLine(line, now)
		}
	}
	return len(p), nil
}

func (t *logTee) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	file := t.file
	t.file = nil
	t.mu.Unlock()
	if file == nil {
		return nil
	}
	return file.Close()
}

func logFileName(now time.Time) string {
	return logFilePrefix + now.Format(logFileDateLayout) + ".log"
}

func parseLogFileName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, logFilePrefix) || filepath.Ext(name) != ".log" {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, logFilePrefix), ".log")
	day, err := time.ParseInLocation(logFileDateLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

func pruneLogs(dir string, now time.Time, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	y, m, d := now.Local().Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, time.Local).AddDate(0, 0, -(retentionDays - 1))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		day, ok := parseLogFileName(entry.Name())
		if ok && day.Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}

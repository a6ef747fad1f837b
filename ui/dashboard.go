package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"rewardspanel/state"
	"rewardspanel/stats"
)

// Source is the read side of the state store.
type Source interface {
	Changes() <-chan struct{}
	Snapshot() state.Snapshot
}

const (
	logPaneLines    = 200
	systemPaneLines = 200
	statsRefresh    = time.Second
)

// Dashboard is the interactive tview layout: status and points on top,
// transport counters in the middle, the backend log and the client's own
// log lines below.
type Dashboard struct {
	app        *tview.Application
	statusView *tview.TextView
	pointsView *tview.TextView
	healthView *tview.TextView
	statsView  *tview.TextView
	logView    *tview.TextView
	systemView *tview.TextView

	source  Source
	tracker *stats.Tracker
	actions Actions
	sched   *frameScheduler

	systemMu    sync.Mutex
	systemLines []string

	ready    chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDashboard builds the layout. frame caps how often panes are redrawn.
func NewDashboard(source Source, tracker *stats.Tracker, actions Actions, frame time.Duration) *Dashboard {
	makePane := func(title string) *tview.TextView {
		tv := tview.NewTextView().
			SetDynamicColors(true).
			SetWrap(false)
		tv.SetBorder(true)
		tv.SetTitle(" " + title + " ").SetTitleAlign(tview.AlignLeft)
		return tv
	}

	statusView := makePane("Status")
	pointsView := makePane("Points")
	healthView := makePane("Health")
	statsView := makePane("Sync")
	statsView.SetTextColor(tcell.ColorYellow)
	logView := makePane("Backend Log")
	logView.SetScrollable(true)
	systemView := makePane("System")
	systemView.SetTextColor(tcell.ColorYellow)
	help := tview.NewTextView().SetDynamicColors(true).
		SetText("[::b]r[::-] retry  [::b]s[::-] start task  [::b]x[::-] stop task  [::b]q[::-] quit")

	top := tview.NewFlex().
		AddItem(statusView, 0, 3, false).
		AddItem(pointsView, 0, 1, false).
		AddItem(healthView, 0, 1, false)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(top, 8, 0, false).
		AddItem(statsView, 6, 0, false).
		AddItem(logView, 0, 3, false).
		AddItem(systemView, 7, 0, false).
		AddItem(help, 1, 0, false)

	app := tview.NewApplication().SetRoot(layout, true).EnableMouse(false)

	d := &Dashboard{
		app:        app,
		statusView: statusView,
		pointsView: pointsView,
		healthView: healthView,
		statsView:  statsView,
		logView:    logView,
		systemView: systemView,
		source:     source,
		tracker:    tracker,
		actions:    actions,
		ready:      make(chan struct{}),
		quit:       make(chan struct{}),
		stop:       make(chan struct{}),
	}
	fps := 20
	if frame > 0 {
		fps = max(1, int(time.Second/frame))
	}
	d.sched = newFrameScheduler(func(fn func()) { app.QueueUpdateDraw(fn) }, fps, 200*time.Millisecond)

	var once sync.Once
	app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		once.Do(func() { close(d.ready) })
		return false
	})
	app.SetInputCapture(d.handleKey)
	return d
}

// Start runs the tview application and the render loop in the background.
func (d *Dashboard) Start() {
	d.sched.Start()
	d.wg.Add(1)
	go d.watch()
	go func() {
		if err := d.app.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "dashboard error: %v\n", err)
		}
		d.requestQuit()
	}()
}

// WaitReady blocks until the first frame is drawn or the app has exited.
func (d *Dashboard) WaitReady() {
	select {
	case <-d.ready:
	case <-d.quit:
	}
}

func (d *Dashboard) Quit() <-chan struct{} {
	return d.quit
}

func (d *Dashboard) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
		d.wg.Wait()
		d.sched.Stop()
		d.app.Stop()
	})
}

func (d *Dashboard) SystemWriter() io.Writer {
	return &systemWriter{d: d}
}

func (d *Dashboard) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	if ev.Key() == tcell.KeyCtrlC {
		d.requestQuit()
		return nil
	}
	switch ev.Rune() {
	case 'q':
		d.requestQuit()
		return nil
	case 'r':
		runAction(d.actions.Retry)
		return nil
	case 's':
		runAction(d.actions.StartTask)
		return nil
	case 'x':
		runAction(d.actions.StopTask)
		return nil
	}
	return ev
}

func (d *Dashboard) requestQuit() {
	d.quitOnce.Do(func() { close(d.quit) })
}

func (d *Dashboard) watch() {
	defer d.wg.Done()
	ticker := time.NewTicker(statsRefresh)
	defer ticker.Stop()

	d.render()
	for {
		select {
		case <-d.stop:
			return
		case <-d.source.Changes():
			d.render()
		case <-ticker.C:
			d.renderStats()
		}
	}
}

func (d *Dashboard) render() {
	snap := d.source.Snapshot()
	status := strings.Join(StatusLines(snap), "\n")
	points := strings.Join(PointsLines(snap.Points), "\n")
	health := strings.Join(HealthLines(snap.Health), "\n")
	logs := strings.Join(LogLines(snap.Logs, logPaneLines), "\n")

	d.sched.Schedule("status", func() { d.statusView.SetText(status) })
	d.sched.Schedule("points", func() { d.pointsView.SetText(points) })
	d.sched.Schedule("health", func() { d.healthView.SetText(health) })
	d.sched.Schedule("logs", func() {
		d.logView.SetText(logs)
		d.logView.ScrollToEnd()
	})
	d.renderStats()
}

func (d *Dashboard) renderStats() {
	text := strings.Join(d.tracker.SnapshotLines(), "\n")
	d.sched.Schedule("stats", func() { d.statsView.SetText(text) })
}

func (d *Dashboard) appendSystem(text string) {
	d.systemMu.Lock()
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		d.systemLines = append(d.systemLines, tview.Escape(line))
	}
	if len(d.systemLines) > systemPaneLines {
		d.systemLines = d.systemLines[len(d.systemLines)-systemPaneLines:]
	}
	joined := strings.Join(d.systemLines, "\n")
	d.systemMu.Unlock()

	d.sched.Schedule("system", func() {
		d.systemView.SetText(joined)
		d.systemView.ScrollToEnd()
	})
}

type systemWriter struct {
	d *Dashboard
}

func (w *systemWriter) Write(p []byte) (int, error) {
	if w == nil || w.d == nil || len(p) == 0 {
		return len(p), nil
	}
	w.d.appendSystem(string(p))
	return len(p), nil
}

package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rivo/tview"

	"rewardspanel/model"
	"rewardspanel/state"
)

const timeLayout = "15:04:05"

// StatusLines summarizes connectivity, bootstrap phase and the running task.
func StatusLines(snap state.Snapshot) []string {
	lines := []string{
		fmt.Sprintf("Phase: %s   Channel: %s   Backend: %s",
			phaseTag(snap.Phase), channelTag(snap.ChannelState, snap.WSConnected), readyTag(snap.BackendReady)),
	}
	if snap.Error != "" {
		lines = append(lines, "[red]Error:[-] "+tview.Escape(snap.Error))
	}

	ts := snap.TaskStatus
	if ts.IsRunning {
		lines = append(lines, fmt.Sprintf("Task: [green]running[-] %s (%s)", tview.Escape(ts.CurrentOperation), progress(ts.Progress, ts.TotalSteps)))
	} else {
		op := ts.CurrentOperation
		if op == "" {
			op = "idle"
		}
		lines = append(lines, "Task: "+tview.Escape(op))
	}
	lines = append(lines, fmt.Sprintf("Searches: desktop %d/%d  mobile %d/%d  errors %d  warnings %d",
		ts.DesktopSearchesCompleted, ts.DesktopSearchesTotal,
		ts.MobileSearchesCompleted, ts.MobileSearchesTotal,
		ts.ErrorCount, ts.WarningCount))
	if ts.ElapsedSeconds > 0 {
		lines = append(lines, "Elapsed: "+(time.Duration(ts.ElapsedSeconds*float64(time.Second))).Truncate(time.Second).String())
	}
	if ev := snap.LastTaskEvent; ev != nil {
		lines = append(lines, fmt.Sprintf("Last event: %s %s at %s", tview.Escape(ev.Event), tview.Escape(ev.Message), ev.Timestamp.Format(timeLayout)))
	}
	return lines
}

// PointsLines renders the reward counters with thousands separators.
func PointsLines(p model.Points) []string {
	lines := []string{
		"Current: " + optionalInt(p.CurrentPoints),
		"Lifetime: " + optionalInt(p.LifetimePoints),
		"Today: +" + humanize.Comma(int64(p.PointsGainedToday)),
	}
	if p.LastUpdated != nil && *p.LastUpdated != "" {
		lines = append(lines, "Updated: "+tview.Escape(*p.LastUpdated))
	}
	return lines
}

// HealthLines renders the backend's self-reported health.
func HealthLines(h model.Health) []string {
	overall := h.Overall
	if overall == "" {
		overall = "unknown"
	}
	lines := []string{"Overall: " + healthTag(overall)}
	if h.UptimeSeconds > 0 {
		lines = append(lines, "Uptime: "+(time.Duration(h.UptimeSeconds*float64(time.Second))).Truncate(time.Second).String())
	}
	for _, rec := range h.Recommendations {
		lines = append(lines, "[yellow]*[-] "+tview.Escape(rec))
	}
	return lines
}

// LogLines formats the most recent max entries, oldest first.
func LogLines(entries []model.LogEntry, max int) []string {
	if max > 0 && len(entries) > max {
		entries = entries[len(entries)-max:]
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s [%s]%-7s[-] %s",
			e.Timestamp.Format(timeLayout), levelColor(e.Level), e.Level, tview.Escape(e.Message)))
	}
	return lines
}

// HeadlessLine is the single-line status used when no dashboard is shown.
func HeadlessLine(snap state.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "phase=%s channel=%s ready=%t", snap.Phase, snap.ChannelState, snap.BackendReady)
	ts := snap.TaskStatus
	if ts.IsRunning {
		fmt.Fprintf(&b, " task=running op=%q progress=%s", ts.CurrentOperation, progress(ts.Progress, ts.TotalSteps))
	} else {
		b.WriteString(" task=idle")
	}
	if snap.Points.CurrentPoints != nil {
		fmt.Fprintf(&b, " points=%s", humanize.Comma(int64(*snap.Points.CurrentPoints)))
	}
	if snap.Error != "" {
		fmt.Fprintf(&b, " error=%q", snap.Error)
	}
	return b.String()
}

func progress(done, total int) string {
	if total <= 0 {
		return fmt.Sprintf("%d", done)
	}
	return fmt.Sprintf("%d/%d", done, total)
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return humanize.Comma(int64(*v))
}

func phaseTag(p state.Phase) string {
	switch p {
	case state.PhaseReady:
		return "[green]ready[-]"
	case state.PhaseFailed:
		return "[red]failed[-] (press r to retry)"
	case state.PhaseInitializing:
		return "[yellow]initializing[-]"
	default:
		return string(p)
	}
}

func channelTag(channelState string, connected bool) string {
	if connected {
		return "[green]" + channelState + "[-]"
	}
	if channelState == "connecting" {
		return "[yellow]" + channelState + "[-]"
	}
	return "[red]" + channelState + "[-]"
}

func readyTag(ready bool) string {
	if ready {
		return "[green]ready[-]"
	}
	return "[red]not ready[-]"
}

func healthTag(overall string) string {
	switch strings.ToLower(overall) {
	case "healthy":
		return "[green]" + overall + "[-]"
	case "warning", "degraded":
		return "[yellow]" + overall + "[-]"
	case "unknown":
		return overall
	default:
		return "[red]" + tview.Escape(overall) + "[-]"
	}
}

func levelColor(l model.Level) string {
	switch l {
	case model.LevelError:
		return "red"
	case model.LevelWarning:
		return "yellow"
	case model.LevelDebug:
		return "gray"
	default:
		return "white"
	}
}

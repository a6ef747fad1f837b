// Package ui renders the state store on the console, either as a tview
// dashboard or as plain status lines for non-interactive terminals.
package ui

import "io"

// Surface abstracts the console renderer so main can swap the dashboard for
// the headless printer. Implementations must be safe for concurrent calls.
type Surface interface {
	Start()
	WaitReady()
	Stop()
	// Quit is closed when the user asks to exit from the surface itself.
	Quit() <-chan struct{}
	// SystemWriter receives the process's own log lines.
	SystemWriter() io.Writer
}

// Actions are the user commands a surface can trigger. Nil entries are
// ignored. They run on their own goroutine and may block.
type Actions struct {
	Retry     func()
	StartTask func()
	StopTask  func()
}

func runAction(fn func()) {
	if fn == nil {
		return
	}
	go fn()
}

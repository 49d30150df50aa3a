// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and feeds it session snapshots
package ui

import (
	"context"
	"time"

	"github.com/Resonate-Protocol/lanrelay/internal/status"
	tea "github.com/charmbracelet/bubbletea"
)

// DefaultRefresh is how often the TUI polls the session.
const DefaultRefresh = 250 * time.Millisecond

// TUI runs the terminal display for one session
type TUI struct {
	source   status.SnapshotSource
	refresh  time.Duration
	quitChan chan struct{}
	opts     []tea.ProgramOption
}

// New creates a TUI that polls source. Extra program options are passed to
// bubbletea; the alt screen is used unless options are given.
func New(source status.SnapshotSource, opts ...tea.ProgramOption) *TUI {
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &TUI{
		source:   source,
		refresh:  DefaultRefresh,
		quitChan: make(chan struct{}, 1),
		opts:     opts,
	}
}

// QuitChan returns the channel that signals when the user wants to quit
func (t *TUI) QuitChan() <-chan struct{} {
	return t.quitChan
}

// Run shows the TUI until ctx is cancelled or the user quits.
func (t *TUI) Run(ctx context.Context) error {
	program := tea.NewProgram(NewModel(t.quitChan), append(t.opts, tea.WithContext(ctx))...)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(t.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				program.Send(StatusMsg(t.source.Snapshot()))
			case <-done:
				return
			}
		}
	}()

	_, err := program.Run()
	if ctx.Err() != nil {
		// Cancellation is a normal shutdown.
		return nil
	}
	return err
}

// ABOUTME: Bubbletea model for the relay TUI
// ABOUTME: Renders session state, peer and stream counters from snapshots
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Resonate-Protocol/lanrelay/internal/session"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// StatusMsg carries a fresh session snapshot into the model.
type StatusMsg session.Snapshot

type tickMsg time.Time

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))
	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220"))
	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))
	helpStyle = lipgloss.NewStyle().Faint(true)
)

// Model represents the TUI state
type Model struct {
	snap      session.Snapshot
	startTime time.Time
	showDebug bool
	quitting  bool
	quitChan  chan struct{}

	width  int
	height int
}

// NewModel creates a model. quitChan may be nil; when set it receives a
// value when the user asks to quit.
func NewModel(quitChan chan struct{}) Model {
	return Model{
		snap:      session.Snapshot{State: session.StateIdle.String()},
		startTime: time.Now(),
		quitChan:  quitChan,
	}
}

// Init starts the clock tick
func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		return m, tickEvery()
	case StatusMsg:
		m.snap = session.Snapshot(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		if m.quitChan != nil {
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
		}
		return m, tea.Quit
	case "d":
		m.showDebug = !m.showDebug
	}
	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Shutting down relay...\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("LAN Relay"))
	b.WriteString("\n\n")

	m.renderSession(&b)
	b.WriteString("\n")
	m.renderStream(&b)

	if m.showDebug {
		b.WriteString("\n")
		m.renderDebug(&b)
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("d:Debug  q:Quit"))
	return b.String()
}

func (m Model) renderSession(b *strings.Builder) {
	row(b, "State:   ", stateLabel(m.snap.State))
	peer := m.snap.Peer
	if peer == "" {
		peer = "-"
	}
	row(b, "Peer:    ", valueStyle.Render(peer))
	row(b, "Mode:    ", valueStyle.Render(fmt.Sprintf("%s over %s", m.snap.Role, m.snap.Transport)))
	if !m.snap.Since.IsZero() {
		row(b, "Since:   ", valueStyle.Render(time.Since(m.snap.Since).Round(time.Second).String()))
	}
	if m.snap.Error != "" {
		row(b, "Error:   ", errorStyle.Render(truncate(m.snap.Error, 60)))
	}
}

func (m Model) renderStream(b *strings.Builder) {
	if m.snap.SampleRate == 0 {
		b.WriteString(valueStyle.Render("No audio devices open"))
		b.WriteString("\n")
		return
	}

	row(b, "Format:  ", valueStyle.Render(fmt.Sprintf("%dHz %s, %s latency",
		m.snap.SampleRate, channelName(m.snap.Channels), latencyLabel(m.snap))))
	row(b, "Buffer:  ", valueStyle.Render(fmt.Sprintf("[%s] %d/%d",
		renderBar(m.snap.PlaybackFill, 2*m.snap.LatencySamples, 20),
		m.snap.PlaybackFill, 2*m.snap.LatencySamples)))
	row(b, "Traffic: ", valueStyle.Render(fmt.Sprintf("TX %d  RX %d", m.snap.Sent, m.snap.Received)))

	drops := m.snap.CaptureOverruns + m.snap.PlaybackOverruns + m.snap.Underruns + m.snap.Malformed
	label := valueStyle.Render("none")
	if drops > 0 {
		label = warnStyle.Render(fmt.Sprintf("in %d  out %d  under %d  bad %d",
			m.snap.CaptureOverruns, m.snap.PlaybackOverruns, m.snap.Underruns, m.snap.Malformed))
	}
	row(b, "Drops:   ", label)
}

func (m Model) renderDebug(b *strings.Builder) {
	b.WriteString(headerStyle.Render("Debug"))
	b.WriteString("\n")
	fmt.Fprintf(b, "  session:      %s\n", m.snap.ID)
	fmt.Fprintf(b, "  capture fill: %d\n", m.snap.CaptureFill)
	fmt.Fprintf(b, "  connections:  %d\n", m.snap.Connections)
	fmt.Fprintf(b, "  uptime:       %s\n", time.Since(m.startTime).Round(time.Second))
}

func row(b *strings.Builder, name, value string) {
	b.WriteString(headerStyle.Render(name))
	b.WriteString(value)
	b.WriteString("\n")
}

func stateLabel(state string) string {
	switch state {
	case session.StateStreaming.String():
		return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")).Render(state)
	case session.StateClosed.String():
		return errorStyle.Render(state)
	case session.StateIdle.String():
		return valueStyle.Render(state)
	default:
		return warnStyle.Render(state)
	}
}

func latencyLabel(snap session.Snapshot) string {
	if snap.SampleRate == 0 || snap.Channels == 0 {
		return "?"
	}
	ms := float64(snap.LatencySamples) / float64(snap.Channels) / float64(snap.SampleRate) * 1000
	return fmt.Sprintf("%.0fms", ms)
}

func renderBar(value, max, width int) string {
	if max <= 0 {
		return strings.Repeat("░", width)
	}
	filled := (value * width) / max
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func channelName(channels int) string {
	switch channels {
	case 1:
		return "Mono"
	case 2:
		return "Stereo"
	default:
		return fmt.Sprintf("%dch", channels)
	}
}

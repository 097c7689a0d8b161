// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/phrasepack/internal/config"
	"github.com/jeranaias/phrasepack/internal/provision"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	brandPrimary = lipgloss.Color("#7C3AED") // Purple
	brandAccent  = lipgloss.Color("#10B981") // Emerald
	brandWarning = lipgloss.Color("#F59E0B") // Amber
	brandError   = lipgloss.Color("#EF4444") // Red
	textMuted    = lipgloss.Color("#6B7280") // Gray

	titleStyle = lipgloss.NewStyle().
			Foreground(brandPrimary).
			Bold(true).
			MarginBottom(1)

	successStyle = lipgloss.NewStyle().
			Foreground(brandAccent).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(brandError).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(brandWarning)

	dimStyle = lipgloss.NewStyle().
			Foreground(textMuted)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(brandPrimary).
			Padding(1, 2)
)

// =============================================================================
// MESSAGES
// =============================================================================

// eventMsg wraps one orchestrator event for the update loop.
type eventMsg struct {
	ev provision.Event
}

// eventsClosedMsg signals the orchestrator closed its event channel.
type eventsClosedMsg struct{}

// waitForEvent delivers the next orchestrator event as a message.
func waitForEvent(ch <-chan provision.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{ev: ev}
	}
}

// =============================================================================
// MODEL
// =============================================================================

const logTail = 8

// setupModel renders orchestrator progress. It never mutates task state:
// everything it shows arrives over the event channel.
type setupModel struct {
	cfg  *config.Config
	orch *provision.Orchestrator

	spinner  spinner.Model
	progress progress.Model

	tasks      []provision.Task
	status     string
	logs       []string
	result     *provision.ResultEvent
	cancelling bool

	width  int
	height int
}

// newSetupModel creates the UI over a started orchestrator.
func newSetupModel(cfg *config.Config, orch *provision.Orchestrator) *setupModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(brandPrimary)

	return &setupModel{
		cfg:      cfg,
		orch:     orch,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient()),
		status:   "Starting setup",
	}
}

// Init starts the spinner and the event pump.
func (m *setupModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitForEvent(m.orch.Events()),
	)
}

// Update handles messages.
func (m *setupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		progressWidth := msg.Width - 20
		if progressWidth < 20 {
			progressWidth = 20
		}
		if progressWidth > 80 {
			progressWidth = 80
		}
		m.progress.Width = progressWidth
		return m, m.spinner.Tick

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd

	case eventMsg:
		cmd := m.applyEvent(msg.ev)
		return m, tea.Batch(cmd, waitForEvent(m.orch.Events()))

	case eventsClosedMsg:
		return m, nil
	}

	return m, nil
}

// handleKey processes key presses.
func (m *setupModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		if m.result == nil {
			// Cooperative cancel; the terminal result still arrives over
			// the event channel.
			m.cancelling = true
			m.orch.Cancel()
			return m, nil
		}
		return m, tea.Quit

	case "enter", " ":
		if m.result != nil {
			return m, tea.Quit
		}
		return m, nil
	}

	return m, nil
}

// applyEvent folds one orchestrator event into the view state.
func (m *setupModel) applyEvent(ev provision.Event) tea.Cmd {
	switch ev := ev.(type) {
	case provision.TaskEvent:
		m.upsertTask(ev)
		return m.progress.SetPercent(m.completion())

	case provision.StatusEvent:
		m.status = ev.Message

	case provision.LogEvent:
		m.logs = append(m.logs, ev.Line)
		if len(m.logs) > 200 {
			m.logs = m.logs[len(m.logs)-200:]
		}

	case provision.ResultEvent:
		res := ev
		m.result = &res
		if res.Success {
			m.status = "Setup complete"
		} else {
			m.status = "Setup failed"
		}
		return m.progress.SetPercent(m.completion())
	}
	return nil
}

// upsertTask updates a task row in place, appending rows as stages add
// tasks.
func (m *setupModel) upsertTask(ev provision.TaskEvent) {
	for i := range m.tasks {
		if m.tasks[i].ID == ev.ID {
			m.tasks[i].Status = ev.Status
			return
		}
	}
	m.tasks = append(m.tasks, provision.Task{ID: ev.ID, Label: ev.Label, Status: ev.Status})
}

// completion returns the fraction of known tasks that completed.
func (m *setupModel) completion() float64 {
	if len(m.tasks) == 0 {
		return 0
	}
	done := 0
	for _, t := range m.tasks {
		if t.Status == provision.StatusCompleted {
			done++
		}
	}
	return float64(done) / float64(len(m.tasks))
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the setup screen.
func (m *setupModel) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("  phrasepack first-run setup"))
	s.WriteString("\n\n")

	if m.result == nil {
		if m.cancelling {
			s.WriteString(fmt.Sprintf("  %s %s\n\n", m.spinner.View(), warningStyle.Render("Cancelling...")))
		} else {
			s.WriteString(fmt.Sprintf("  %s %s\n\n", m.spinner.View(), m.status))
		}
	}

	for _, t := range m.tasks {
		s.WriteString(m.renderTask(t))
		s.WriteString("\n")
	}

	if len(m.tasks) > 0 {
		s.WriteString("\n  ")
		s.WriteString(m.progress.View())
		s.WriteString("\n")
	}

	if tail := m.logTail(); tail != "" {
		s.WriteString("\n")
		s.WriteString(dimStyle.Render(tail))
		s.WriteString("\n")
	}

	if m.result != nil {
		s.WriteString("\n")
		s.WriteString(m.renderResult())
	} else {
		s.WriteString("\n")
		s.WriteString(dimStyle.Render("  Q to cancel"))
	}

	return s.String()
}

// renderTask renders one task row with a status icon.
func (m *setupModel) renderTask(t provision.Task) string {
	var icon string
	var style lipgloss.Style

	switch t.Status {
	case provision.StatusPending:
		icon, style = "[ ]", dimStyle
	case provision.StatusProcessing:
		icon, style = m.spinner.View(), lipgloss.NewStyle()
	case provision.StatusNeedsAction:
		icon, style = "[->]", warningStyle
	case provision.StatusCompleted:
		icon, style = "[OK]", successStyle
	case provision.StatusFailed:
		icon, style = "[FAIL]", errorStyle
	}

	return fmt.Sprintf("  %s %s", style.Render(icon), t.Label)
}

// logTail returns the last few log lines, indented.
func (m *setupModel) logTail() string {
	if len(m.logs) == 0 {
		return ""
	}
	start := len(m.logs) - logTail
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for _, line := range m.logs[start:] {
		b.WriteString("    ")
		b.WriteString(truncateLine(line, m.width-6))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderResult renders the terminal screen.
func (m *setupModel) renderResult() string {
	var s strings.Builder

	if m.result.Success {
		s.WriteString(boxStyle.Render(successStyle.Render("Setup complete!") +
			"\n\nphrasepack is ready to use.\nRuntime: " + m.result.Artifact))
	} else {
		s.WriteString(boxStyle.Render(errorStyle.Render("Setup failed") +
			"\n\n" + wrapText(m.result.Err, 60) +
			"\n\n" + dimStyle.Render("Fix the problem and run phrasepack-setup again.")))
	}
	s.WriteString("\n\n")
	s.WriteString(dimStyle.Render("  Press ENTER to exit"))
	return s.String()
}

// truncateLine clips a line to the given display width on rune boundaries.
func truncateLine(s string, max int) string {
	if max < 10 {
		max = 10
	}
	if runewidth.StringWidth(s) <= max {
		return s
	}
	return runewidth.Truncate(s, max, "...")
}

// wrapText does a simple word wrap for the failure box.
func wrapText(s string, width int) string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return s
	}
	var b strings.Builder
	lineLen := 0
	for i, w := range words {
		if lineLen+len(w)+1 > width && lineLen > 0 {
			b.WriteString("\n")
			lineLen = 0
		} else if i > 0 {
			b.WriteString(" ")
			lineLen++
		}
		b.WriteString(w)
		lineLen += len(w)
	}
	return b.String()
}

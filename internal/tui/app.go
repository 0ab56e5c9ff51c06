// Package tui renders the live plan monitor. It is strictly a presentation
// layer over internal/monitor: every refresh is a read-only snapshot, so the
// monitor can be attached to or detached from a running plan at any time.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BenjaminRose805/orca/internal/monitor"
	"github.com/BenjaminRose805/orca/internal/state"
)

const defaultRefresh = time.Second

type snapshotMsg monitor.Snapshot

type tickMsg time.Time

// Model is the Bubble Tea model for the plan monitor.
type Model struct {
	mon     *monitor.Monitor
	refresh time.Duration

	snap     monitor.Snapshot
	haveSnap bool

	spinner spinner.Model
	width   int
	height  int
}

// NewModel creates a monitor model polling at the given interval. A zero
// interval uses the default.
func NewModel(mon *monitor.Monitor, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = TitleStyle
	return Model{mon: mon, refresh: refresh, spinner: s}
}

// Run starts the monitor TUI and blocks until the user quits.
func Run(mon *monitor.Monitor) error {
	p := tea.NewProgram(NewModel(mon, defaultRefresh), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

// poll loads one snapshot off the Bubble Tea event loop.
func (m Model) poll() tea.Cmd {
	mon := m.mon
	prev := m.snap
	havePrev := m.haveSnap
	return func() tea.Msg {
		snap, err := mon.Snapshot(context.Background())
		if err != nil {
			if havePrev {
				snap = prev
			}
			snap.Stale = true
			snap.LoadError = err.Error()
		}
		return snapshotMsg(snap)
	}
}

func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case snapshotMsg:
		m.snap = monitor.Snapshot(msg)
		m.haveSnap = true
		return m, m.scheduleTick()

	case tickMsg:
		return m, m.poll()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.haveSnap {
		return SubtleStyle.Render("loading plan status...")
	}

	snap := m.snap
	var b strings.Builder

	b.WriteString(TitleStyle.Render(fmt.Sprintf("orca · %s", snap.PlanName)))
	b.WriteString("\n")

	if snap.Stale {
		b.WriteString(WarnStyle.Render(fmt.Sprintf("! status unreadable, showing last good snapshot (%s)", snap.LoadError)))
		b.WriteString("\n\n")
	}

	bar := NewProgress(snap.Done, snap.Total, 24)
	b.WriteString(fmt.Sprintf("%s  %d/%d tasks\n", bar.View(), snap.Done, snap.Total))
	b.WriteString(SubtleStyle.Render(summaryLine(snap.Summary)))
	b.WriteString("\n\n")

	if run := snap.Run; run != nil && run.CompletedAt == nil {
		b.WriteString(fmt.Sprintf("run %s, started %s\n\n",
			shortID(run.RunID), run.StartedAt.Format("15:04:05")))
	}

	if len(snap.InProgress) > 0 {
		b.WriteString("In progress\n")
		for _, t := range snap.InProgress {
			elapsed := ""
			if t.StartedAt != nil {
				elapsed = SubtleStyle.Render(fmt.Sprintf(" (%s)", time.Since(*t.StartedAt).Round(time.Second)))
			}
			b.WriteString(fmt.Sprintf("  %s %s %s%s\n", m.spinner.View(), t.ID, t.Description, elapsed))
		}
		b.WriteString("\n")
	}

	if len(snap.Recent) > 0 {
		b.WriteString("Recent\n")
		for _, t := range snap.Recent {
			b.WriteString("  " + recentLine(t) + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(StatusBarStyle.Render("q quit"))
	return b.String()
}

func recentLine(t monitor.TaskView) string {
	switch t.Status {
	case state.TaskStatusCompleted:
		return SuccessStyle.Render("✓") + fmt.Sprintf(" %s %s", t.ID, t.Description)
	case state.TaskStatusFailed:
		line := ErrorStyle.Render("✗") + fmt.Sprintf(" %s %s", t.ID, t.Description)
		if t.LastError != "" {
			line += ErrorStyle.Render(fmt.Sprintf(": %s", t.LastError))
		}
		return line
	case state.TaskStatusSkipped:
		return WarnStyle.Render("-") + fmt.Sprintf(" %s %s (skipped)", t.ID, t.Description)
	case state.TaskStatusRolledBack:
		return WarnStyle.Render("↩") + fmt.Sprintf(" %s %s (rolled back)", t.ID, t.Description)
	default:
		return fmt.Sprintf("  %s %s", t.ID, t.Description)
	}
}

func summaryLine(summary map[string]int) string {
	parts := make([]string, 0, len(state.Statuses))
	for _, s := range state.Statuses {
		if n := summary[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) == 0 {
		return "no tasks"
	}
	return strings.Join(parts, ", ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

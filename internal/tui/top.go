// Package tui renders the live ops dashboard (`taskhive top`): a bubbletea
// program polling the gateway API once a second.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// AgentRow is one agent line in the dashboard table.
type AgentRow struct {
	ID       string
	Type     string
	Status   string
	Load     int
	Capacity int
}

// TaskRow is one task line in the dashboard table.
type TaskRow struct {
	ID       string
	Type     string
	Status   string
	Priority string
	Assigned string
	Progress float64
}

// Snapshot is one refresh of the dashboard's data.
type Snapshot struct {
	Healthy bool

	AgentsTotal     int
	AgentsAvailable int
	TasksPending    int
	TasksRetrying   int
	TasksRunning    int
	TasksCompleted  int
	TasksFailed     int
	EventsPublished uint64
	EventsDropped   uint64
	Subscribers     int

	Agents []AgentRow
	Tasks  []TaskRow

	Fingerprint string
	LastError   string
	Uptime      time.Duration
}

// StatusProvider fetches a fresh snapshot. Called once per tick.
type StatusProvider func() Snapshot

type model struct {
	provider StatusProvider
	snap     Snapshot
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(1*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tickMsg:
		m.snap = m.provider()
		return m, tickCmd()
	}
	return m, nil
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	rowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

func (m model) View() string {
	var out strings.Builder
	out.WriteString(titleStyle.Render("TaskHive") + "\n\n")

	health := okStyle.Render("healthy")
	if !m.snap.Healthy {
		health = badStyle.Render("unreachable")
	}
	out.WriteString(fmt.Sprintf("Gateway: %s   Uptime: %s   Config: %s\n",
		health, m.snap.Uptime.Truncate(time.Second), m.snap.Fingerprint))
	out.WriteString(fmt.Sprintf(
		"Agents: %d (%d available)   Subscribers: %d   Events: %d published / %d dropped\n",
		m.snap.AgentsTotal, m.snap.AgentsAvailable, m.snap.Subscribers,
		m.snap.EventsPublished, m.snap.EventsDropped))
	out.WriteString(fmt.Sprintf(
		"Tasks: %d pending / %d retrying / %d running / %d completed / %d failed\n\n",
		m.snap.TasksPending, m.snap.TasksRetrying, m.snap.TasksRunning,
		m.snap.TasksCompleted, m.snap.TasksFailed))

	if len(m.snap.Agents) > 0 {
		out.WriteString(headerStyle.Render(fmt.Sprintf("%-16s %-12s %-10s %s", "AGENT", "TYPE", "STATUS", "LOAD")) + "\n")
		for _, a := range m.snap.Agents {
			out.WriteString(rowStyle.Render(fmt.Sprintf("%-16s %-12s %-10s %d/%d",
				truncate(a.ID, 16), truncate(a.Type, 12), a.Status, a.Load, a.Capacity)) + "\n")
		}
		out.WriteString("\n")
	}

	if len(m.snap.Tasks) > 0 {
		out.WriteString(headerStyle.Render(fmt.Sprintf("%-10s %-14s %-13s %-8s %-16s %s", "TASK", "TYPE", "STATUS", "PRIO", "AGENT", "PROGRESS")) + "\n")
		for _, t := range m.snap.Tasks {
			assigned := t.Assigned
			if assigned == "" {
				assigned = "-"
			}
			out.WriteString(rowStyle.Render(fmt.Sprintf("%-10s %-14s %-13s %-8s %-16s %3.0f%%",
				truncate(t.ID, 10), truncate(t.Type, 14), t.Status, t.Priority,
				truncate(assigned, 16), t.Progress*100)) + "\n")
		}
		out.WriteString("\n")
	}

	if m.snap.LastError != "" {
		out.WriteString(badStyle.Render("Last error: "+m.snap.LastError) + "\n")
	}
	out.WriteString(headerStyle.Render("Press q to quit.") + "\n")
	return out.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}

// Run starts the dashboard and blocks until quit or ctx cancellation.
func Run(ctx context.Context, provider StatusProvider) error {
	defer bestEffortResetTTY()

	m := model{provider: provider, snap: provider()}
	p := tea.NewProgram(m)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return ctx.Err()
	case err := <-done:
		return err
	}
}

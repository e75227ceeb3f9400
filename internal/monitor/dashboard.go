// Package monitor is a terminal dashboard that follows a run through the
// HTTP API while phases land.
package monitor

import (
	"context"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/remediator/internal/report"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)
)

// Model is the BubbleTea dashboard model.
type Model struct {
	client     *StatusClient
	baseURL    string
	runID      string
	interval   time.Duration
	console    *report.Console
	lastUpdate time.Time
	status     *report.Status
	err        error
	quitting   bool
}

// NewModel creates a dashboard polling baseURL for runID every interval.
// out is the terminal the dashboard renders to.
func NewModel(baseURL, runID string, interval time.Duration, out io.Writer) Model {
	return Model{
		client:   NewStatusClient(baseURL),
		baseURL:  baseURL,
		runID:    runID,
		interval: interval,
		console:  report.NewConsole(out),
	}
}

// Message types
type tickMsg time.Time
type statusMsg report.Status
type errMsg error

// Init starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchStatus(m.client, m.runID),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchStatus(client *StatusClient, runID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		status, err := client.Run(ctx, runID)
		if err != nil {
			return errMsg(err)
		}
		return statusMsg(status)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchStatus(m.client, m.runID)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchStatus(m.client, m.runID),
		)

	case statusMsg:
		s := report.Status(msg)
		m.status = &s
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	lastUpdate := "never"
	if !m.lastUpdate.IsZero() {
		lastUpdate = m.lastUpdate.Format("3:04:05 PM")
	}
	content := headerStyle.Render(" remediator monitor ") + "   " +
		dimStyle.Render("run ") + valueStyle.Render(m.runID) + "   " +
		dimStyle.Render(lastUpdate) + "\n\n"

	switch {
	case m.err != nil:
		content += errorStyle.Render("⚠ Cannot read run status") + "\n\n"
		content += dimStyle.Render("URL: ") + valueStyle.Render(m.baseURL) + "\n"
		content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	case m.status == nil:
		content += dimStyle.Render("waiting for the first phase...") + "\n"
	default:
		content += m.console.Status(*m.status)
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	return containerStyle.Render(content + "\n" + footer)
}

// Run starts the dashboard and blocks until the user quits or ctx ends.
func Run(ctx context.Context, baseURL, runID string, interval time.Duration, out io.Writer) error {
	p := tea.NewProgram(NewModel(baseURL, runID, interval, out),
		tea.WithContext(ctx),
		tea.WithOutput(out),
		tea.WithAltScreen(),
	)
	_, err := p.Run()
	return err
}

// Package monitor renders terminal views of refacta activity: a live view
// of a single run and a polling dashboard for a running server.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// Model is the server dashboard. It polls the status endpoint and keeps a
// short history of token throughput and spend.
type Model struct {
	serverURL  string
	interval   time.Duration
	lastUpdate time.Time
	snapshot   Snapshot
	err        error
	quitting   bool
	now        func() time.Time

	loadProgress progress.Model
}

// Snapshot is the dashboard state derived from consecutive status polls.
type Snapshot struct {
	Status Status

	// TokenRate and CostRate are per minute, derived from the previous poll.
	TokenRate float64
	CostRate  float64

	TokenRateHistory []float64
	CostHistory      []float64

	TokenRatePeak float64
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	// Dim style - for units and secondary info
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
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

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling serverURL every interval.
func NewModel(serverURL string, interval time.Duration) Model {
	return Model{
		serverURL: serverURL,
		interval:  interval,
		now:       time.Now,
		loadProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
		snapshot: Snapshot{
			TokenRateHistory: make([]float64, 0, historySize),
			CostHistory:      make([]float64, 0, historySize),
			TokenRatePeak:    1.0, // Minimum peak to avoid division by zero
		},
	}
}

// getStatusBadge returns the server health badge.
func getStatusBadge(status string) string {
	switch status {
	case "ok":
		return healthyStyle.Render("✓ HEALTHY")
	case "":
		return warningStyle.Render("⚠ UNKNOWN")
	default:
		return errorStyle.Render("✗ " + status)
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type statusMsg Status
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchStatus(m.serverURL),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchStatus(serverURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		status, err := NewStatusClient(serverURL).Fetch(ctx)
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
			return m, fetchStatus(m.serverURL)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchStatus(m.serverURL),
		)

	case statusMsg:
		now := m.now()
		m.snapshot = m.advance(Status(msg), now)
		m.lastUpdate = now
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// advance derives rates from the previous poll. The first poll and counter
// resets (server restart) report a zero rate.
func (m Model) advance(status Status, now time.Time) Snapshot {
	next := m.snapshot
	next.Status = status
	next.TokenRate, next.CostRate = 0, 0

	if !m.lastUpdate.IsZero() {
		minutes := now.Sub(m.lastUpdate).Minutes()
		prev := m.snapshot.Status
		if minutes > 0 && status.TotalTokens() >= prev.TotalTokens() {
			next.TokenRate = float64(status.TotalTokens()-prev.TotalTokens()) / minutes
			next.CostRate = (status.CostUSD - prev.CostUSD) / minutes
		}
	}

	next.TokenRateHistory = appendToHistory(m.snapshot.TokenRateHistory, next.TokenRate)
	next.CostHistory = appendToHistory(m.snapshot.CostHistory, status.CostUSD)
	if next.TokenRate > next.TokenRatePeak {
		next.TokenRatePeak = next.TokenRate
	}
	return next
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.err != nil {
		return m.renderError()
	}

	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("refacta Dashboard")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach refacta server") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.serverURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Start one with: refacta serve") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	var content string
	s := m.snapshot

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}

	header := headerStyle.Render(" refacta Monitor ")
	headerLine := fmt.Sprintf("%s   %s   %s",
		getStatusBadge(s.Status.Status),
		dimStyle.Render(s.Status.Version),
		dimStyle.Render(lastUpdateStr))

	content += header + "\n"
	content += headerLine + "\n"

	content += "\n" + sectionStyle.Render("┃ Project") + "\n"
	content += labelStyle.Render("  Root: ") + valueStyle.Render(s.Status.Root) + "\n"
	content += labelStyle.Render("  Specialists: ") +
		valueStyle.Render(fmt.Sprintf("%d", s.Status.Specialists)) +
		dimStyle.Render(fmt.Sprintf("  (generation %d)", s.Status.Generation)) + "\n"

	content += "\n" + sectionStyle.Render("┃ Tokens") + "\n"
	content += labelStyle.Render("  Total: ") +
		valueStyle.Render(FormatTokens(s.Status.TotalTokens())) +
		dimStyle.Render(fmt.Sprintf("  in %s / out %s",
			FormatTokens(s.Status.InputTokens), FormatTokens(s.Status.OutputTokens))) + "\n"
	content += labelStyle.Render("  Rate: ") +
		valueStyle.Render(FormatTokenRate(s.TokenRate)) +
		"   " + createSparkline(s.TokenRateHistory) + "\n"

	load := 0.0
	if s.TokenRatePeak > 0 {
		load = s.TokenRate / s.TokenRatePeak
		if load > 1.0 {
			load = 1.0
		}
	}
	content += labelStyle.Render("  Load: ") +
		m.loadProgress.ViewAs(load) +
		" " + dimStyle.Render(FormatPercentage(load)) + "\n"

	content += "\n" + sectionStyle.Render("┃ Spend") + "\n"
	content += labelStyle.Render("  Cost: ") +
		valueStyle.Render(FormatCost(s.Status.CostUSD)) +
		dimStyle.Render("  "+FormatCost(s.CostRate)+"/min") +
		"   " + createSparkline(s.CostHistory) + "\n"

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	content += "\n" + footer

	return containerStyle.Render(content)
}

// Package monitor implements the terminal dashboard for a running learning
// daemon.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Lightming99/RaSa-Metaconverse/internal/feedback"
	apihttp "github.com/Lightming99/RaSa-Metaconverse/internal/http"
	"github.com/Lightming99/RaSa-Metaconverse/internal/operations"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	recentOps       = 5
	fetchTimeout    = 5 * time.Second
)

// Source is the part of the API client the dashboard polls.
type Source interface {
	BaseURL() string
	Health(ctx context.Context) (*apihttp.HealthResponse, error)
	Stats(ctx context.Context) (*feedback.Stats, error)
	Threshold(ctx context.Context) (int, error)
	Operations(ctx context.Context, limit int) ([]operations.Operation, error)
}

// Model represents the BubbleTea dashboard model
type Model struct {
	source     Source
	interval   time.Duration
	lastUpdate time.Time
	snapshot   Snapshot
	err        error
	quitting   bool

	trainingProgress progress.Model
}

// Snapshot is one poll of the daemon plus the history kept across polls.
type Snapshot struct {
	Status     string
	QueueDepth int
	Threshold  int
	Stats      feedback.Stats
	Operations []operations.Operation

	UnprocessedHistory []float64
	ProcessedHistory   []float64
	QueueHistory       []float64
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

// NewModel creates a dashboard that polls source every interval.
func NewModel(source Source, interval time.Duration) Model {
	return Model{
		source:   source,
		interval: interval,
		trainingProgress: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
		snapshot: Snapshot{
			UnprocessedHistory: make([]float64, 0, historySize),
			ProcessedHistory:   make([]float64, 0, historySize),
			QueueHistory:       make([]float64, 0, historySize),
		},
	}
}

// getStatusBadge returns the overall daemon badge.
func getStatusBadge(s Snapshot) string {
	switch {
	case s.Status != "ok":
		return errorStyle.Render("✗ DOWN")
	case s.Stats.Rejected > 0:
		return warningStyle.Render("⚠ REJECTIONS")
	default:
		return healthyStyle.Render("✓ HEALTHY")
	}
}

// getOperationBadge colors an operation status.
func getOperationBadge(status operations.Status) string {
	switch status {
	case operations.StatusCompleted:
		return healthyStyle.Render("[✓]")
	case operations.StatusFailed:
		return errorStyle.Render("[✗]")
	default:
		return warningStyle.Render("[…]")
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
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// trainingRatio is how far the processed backlog is towards the threshold.
func trainingRatio(processed, threshold int) float64 {
	if threshold <= 0 {
		return 0
	}
	r := float64(processed) / float64(threshold)
	if r > 1 {
		r = 1
	}
	return r
}

// Message types
type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchSnapshot(m.source),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchSnapshot polls the daemon. Operations are optional: a failure there
// leaves the list empty.
func fetchSnapshot(source Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		health, err := source.Health(ctx)
		if err != nil {
			return errMsg(err)
		}
		stats, err := source.Stats(ctx)
		if err != nil {
			return errMsg(err)
		}
		threshold, err := source.Threshold(ctx)
		if err != nil {
			return errMsg(err)
		}
		ops, err := source.Operations(ctx, recentOps)
		if err != nil {
			ops = nil
		}

		return snapshotMsg{
			Status:     health.Status,
			QueueDepth: health.QueueDepth,
			Threshold:  threshold,
			Stats:      *stats,
			Operations: ops,
		}
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
			return m, fetchSnapshot(m.source)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchSnapshot(m.source),
		)

	case snapshotMsg:
		next := Snapshot(msg)
		next.UnprocessedHistory = appendToHistory(m.snapshot.UnprocessedHistory, float64(next.Stats.Unprocessed))
		next.ProcessedHistory = appendToHistory(m.snapshot.ProcessedHistory, float64(next.Stats.Processed))
		next.QueueHistory = appendToHistory(m.snapshot.QueueHistory, float64(next.QueueDepth))

		m.snapshot = next
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
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("Learning Monitor")

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach the learning daemon") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.source.BaseURL()) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Is learnd running and listening on that address?") + "\n\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")

	return containerStyle.Render(header + "\n" + b.String())
}

func (m Model) renderDashboard() string {
	s := m.snapshot
	var b strings.Builder

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	b.WriteString(headerStyle.Render(" Learning Monitor ") + "\n")
	fmt.Fprintf(&b, "%s   %s   %s\n",
		getStatusBadge(s),
		dimStyle.Render("Updated:"),
		valueStyle.Render(lastUpdateStr))

	b.WriteString("\n" + sectionStyle.Render("┃ Feedback") + "\n")
	b.WriteString(labelStyle.Render("  Unprocessed: ") +
		valueStyle.Render(FormatCount(s.Stats.Unprocessed)) +
		"   " + createSparkline(s.UnprocessedHistory) + "\n")
	b.WriteString(labelStyle.Render("  Total: ") + valueStyle.Render(FormatCount(s.Stats.Total)) +
		dimStyle.Render("  (") +
		healthyStyle.Render(FormatCount(s.Stats.Positive)+" positive") + dimStyle.Render(" / ") +
		warningStyle.Render(FormatCount(s.Stats.Negative)+" negative") + dimStyle.Render(")") + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Learning") + "\n")
	b.WriteString(labelStyle.Render("  Processed: ") +
		valueStyle.Render(FormatCount(s.Stats.Processed)) +
		"   " + createSparkline(s.ProcessedHistory) + "\n")
	ratio := trainingRatio(s.Stats.Processed, s.Threshold)
	b.WriteString(labelStyle.Render("  Next training: ") +
		m.trainingProgress.ViewAs(ratio) +
		" " + dimStyle.Render(fmt.Sprintf("%d/%d", s.Stats.Processed, s.Threshold)) + "\n")
	rejected := valueStyle.Render(FormatCount(s.Stats.Rejected))
	if s.Stats.Rejected > 0 {
		rejected = warningStyle.Render(FormatCount(s.Stats.Rejected))
	}
	b.WriteString(labelStyle.Render("  Rejected: ") + rejected +
		labelStyle.Render("  Archived: ") + valueStyle.Render(FormatCount(s.Stats.Removable)) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Queue") + "\n")
	b.WriteString(labelStyle.Render("  Depth: ") +
		valueStyle.Render(fmt.Sprintf("%d", s.QueueDepth)) +
		"   " + createSparkline(s.QueueHistory) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Recent Runs") + "\n")
	if len(s.Operations) == 0 {
		b.WriteString(dimStyle.Render("  none") + "\n")
	}
	for _, op := range s.Operations {
		line := fmt.Sprintf("  %s %s %s %s",
			getOperationBadge(op.Status),
			valueStyle.Render(op.Kind),
			dimStyle.Render(FormatAge(m.lastUpdate, op.CreatedAt)),
			dimStyle.Render(shortID(op.ID)))
		if op.Error != "" {
			line += " " + errorStyle.Render(op.Error)
		}
		b.WriteString(line + "\n")
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/avollmer/itchgrab/internal/fetch"
	"github.com/avollmer/itchgrab/internal/itchio"
)

// refreshInterval paces the tracker polling; workers never push into
// the UI directly.
const refreshInterval = 100 * time.Millisecond

const progressTitleWidth = 28

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) successStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the download trackers
type tickMsg time.Time

// poolDoneMsg signals that every download reached a terminal state
type poolDoneMsg struct{}

// downloadsModel is the bubbletea model multiplexing one line per
// download. It only reads tracker snapshots; the workers own the
// writes.
type downloadsModel struct {
	trackers []*fetch.Tracker
	bar      progress.Model
	theme    Theme
	done     bool
	quitting bool
}

func newDownloadsModel(trackers []*fetch.Tracker) downloadsModel {
	bar := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(30),
	)

	return downloadsModel{
		trackers: trackers,
		bar:      bar,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m downloadsModel) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages and returns the updated model.
func (m downloadsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickCmd()

	case poolDoneMsg:
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders one line per download.
func (m downloadsModel) View() tea.View {
	var b strings.Builder
	for _, t := range m.trackers {
		b.WriteString(m.renderLine(t.Snapshot()))
		b.WriteByte('\n')
	}
	if m.quitting && !m.done {
		b.WriteString(m.theme.hintStyle().Render("Display closed; downloads continue, please wait..."))
		b.WriteByte('\n')
	}
	return tea.NewView(b.String())
}

func (m downloadsModel) renderLine(s fetch.Snapshot) string {
	title := runewidth.FillRight(runewidth.Truncate(s.Title, progressTitleWidth, "..."), progressTitleWidth)

	if s.Done {
		style := m.theme.successStyle()
		mark := "✓"
		if strings.Contains(s.Message, "Failed") || strings.Contains(s.Message, "failed") {
			style = m.theme.errorStyle()
			mark = "✗"
		}
		return fmt.Sprintf("%s %s", title, style.Render(mark+" "+s.Message))
	}

	var pct float64
	if s.Total > 0 {
		pct = float64(s.Pos) / float64(s.Total)
	}

	counts := formatBytes(s.Pos)
	if s.Total > 0 {
		counts = fmt.Sprintf("%s/%s", formatBytes(s.Pos), formatBytes(s.Total))
	}

	status := m.theme.statusStyle().Render(s.Message)
	return fmt.Sprintf("%s %s %s %s", title, m.bar.ViewAs(pct), counts, status)
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// tickCmd returns a command that sends a tick after the refresh interval.
func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runWithProgressUI runs the pool behind an interactive multi-line
// progress display. Closing the display does not cancel the downloads;
// the call still blocks until every unit is terminal.
func runWithProgressUI(ctx context.Context, pool *fetch.Pool, keys []itchio.OwnedKey) []fetch.Result {
	trackers := make([]*fetch.Tracker, len(keys))
	byKey := make(map[int64]*fetch.Tracker, len(keys))
	for i, key := range keys {
		trackers[i] = fetch.NewTracker(key.Game.Title)
		byKey[key.ID] = trackers[i]
	}
	pool.Sinks = func(key itchio.OwnedKey) fetch.ProgressSink {
		return byKey[key.ID]
	}

	p := tea.NewProgram(newDownloadsModel(trackers))

	resultCh := make(chan []fetch.Result, 1)
	go func() {
		resultCh <- pool.Run(ctx, keys)
		p.Send(poolDoneMsg{})
	}()

	if _, err := p.Run(); err != nil {
		fmt.Printf("progress display error: %v\n", err)
	}

	return <-resultCh
}

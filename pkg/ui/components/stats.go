package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Stats holds statistics for display.
type Stats struct {
	Upstreams     int
	Available     int
	HeadsReceived uint64
	BestHead      uint64
	Errors        int64
}

// StatsComponent renders statistics.
type StatsComponent struct {
	stats Stats
}

// NewStatsComponent creates a new stats component.
func NewStatsComponent() *StatsComponent {
	return &StatsComponent{}
}

// Update updates the statistics.
func (s *StatsComponent) Update(stats Stats) {
	s.stats = stats
}

// View renders the stats component.
func (s *StatsComponent) View() string {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true)
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)

	errorsDisplay := valueStyle.Render(fmt.Sprintf("%d", s.stats.Errors))
	if s.stats.Errors > 0 {
		errorsDisplay = errorStyle.Render(fmt.Sprintf("%d", s.stats.Errors))
	}

	return style.Render("Upstreams: ") + valueStyle.Render(fmt.Sprintf("%d/%d ok", s.stats.Available, s.stats.Upstreams)) +
		style.Render("  │  Best head: ") + valueStyle.Render(fmt.Sprintf("#%d", s.stats.BestHead)) +
		style.Render("  │  Heads: ") + valueStyle.Render(fmt.Sprintf("%d", s.stats.HeadsReceived)) +
		style.Render("  │  Errors: ") + errorsDisplay
}

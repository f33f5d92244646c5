// Package components provides reusable TUI components.
package components

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// UpstreamRow is one line of the upstream table.
type UpstreamRow struct {
	ID          string
	Chain       string
	Status      string
	DriverState string
	Attempts    uint64
	Targets     int
	HeadNumber  uint64
}

// UpstreamsComponent renders the upstream table, sorted by chain then id.
type UpstreamsComponent struct {
	rows map[string]UpstreamRow
}

// NewUpstreamsComponent creates an empty table.
func NewUpstreamsComponent() *UpstreamsComponent {
	return &UpstreamsComponent{rows: make(map[string]UpstreamRow)}
}

// Update replaces the row for row.ID.
func (u *UpstreamsComponent) Update(row UpstreamRow) {
	u.rows[row.ID] = row
}

// Rows returns the rows in display order.
func (u *UpstreamsComponent) Rows() []UpstreamRow {
	out := make([]UpstreamRow, 0, len(u.rows))
	for _, r := range u.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Chain != out[j].Chain {
			return out[i].Chain < out[j].Chain
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Available counts rows with status OK.
func (u *UpstreamsComponent) Available() int {
	n := 0
	for _, r := range u.rows {
		if r.Status == "OK" {
			n++
		}
	}
	return n
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "OK":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	case "UNAVAILABLE":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	}
}

// View renders the table.
func (u *UpstreamsComponent) View() string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	mutedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("UPSTREAMS (%d/%d ok)", u.Available(), len(u.rows))))
	sb.WriteString("\n")

	if len(u.rows) == 0 {
		sb.WriteString(mutedStyle.Render("No upstreams configured"))
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("%-16s %-8s %-12s %-10s %8s %7s %10s\n",
		"ID", "CHAIN", "STATUS", "STREAM", "ATTEMPTS", "TARGETS", "HEAD"))
	for _, r := range u.Rows() {
		head := "-"
		if r.HeadNumber > 0 {
			head = fmt.Sprintf("#%d", r.HeadNumber)
		}
		sb.WriteString(fmt.Sprintf("%-16s %-8s %s %-10s %8d %7d %10s\n",
			truncate(r.ID, 16), r.Chain,
			statusStyle(r.Status).Render(fmt.Sprintf("%-12s", r.Status)),
			r.DriverState, r.Attempts, r.Targets, head))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

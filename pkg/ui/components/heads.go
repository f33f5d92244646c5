package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// HeadRow is one accepted head.
type HeadRow struct {
	Time            string
	UpstreamID      string
	Chain           string
	Number          uint64
	Hash            string
	TotalDifficulty string
}

// HeadsComponent renders the most recent heads, newest first.
type HeadsComponent struct {
	rows    []HeadRow
	maxRows int
	visible int
	offset  int
}

// NewHeadsComponent keeps up to maxRows heads and shows visible of them.
func NewHeadsComponent(maxRows, visible int) *HeadsComponent {
	return &HeadsComponent{maxRows: maxRows, visible: visible}
}

// Add prepends a head.
func (h *HeadsComponent) Add(row HeadRow) {
	h.rows = append([]HeadRow{row}, h.rows...)
	if len(h.rows) > h.maxRows {
		h.rows = h.rows[:h.maxRows]
	}
	if h.offset > 0 {
		h.offset = min(h.offset+1, h.maxOffset())
	}
}

// Len returns the number of stored heads.
func (h *HeadsComponent) Len() int { return len(h.rows) }

// Clear drops all heads.
func (h *HeadsComponent) Clear() {
	h.rows = nil
	h.offset = 0
}

func (h *HeadsComponent) maxOffset() int {
	return max(len(h.rows)-h.visible, 0)
}

// ScrollUp moves the window towards newer heads.
func (h *HeadsComponent) ScrollUp() {
	if h.offset > 0 {
		h.offset--
	}
}

// ScrollDown moves the window towards older heads.
func (h *HeadsComponent) ScrollDown() {
	if h.offset < h.maxOffset() {
		h.offset++
	}
}

// View renders the feed.
func (h *HeadsComponent) View() string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	mutedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	blockStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA"))

	var sb strings.Builder
	sb.WriteString(headerStyle.Render("RECENT HEADS"))
	sb.WriteString("\n")

	if len(h.rows) == 0 {
		sb.WriteString(mutedStyle.Render("  Waiting for heads..."))
		return sb.String()
	}

	end := min(h.offset+h.visible, len(h.rows))
	for _, r := range h.rows[h.offset:end] {
		sb.WriteString(fmt.Sprintf("  %s %s %-16s %s %s\n",
			mutedStyle.Render(r.Time),
			r.Chain,
			truncate(r.UpstreamID, 16),
			blockStyle.Render(fmt.Sprintf("#%d", r.Number)),
			mutedStyle.Render(shortHash(r.Hash)+" td="+r.TotalDifficulty),
		))
	}
	if len(h.rows) > h.visible {
		sb.WriteString(mutedStyle.Render(fmt.Sprintf("  %d-%d of %d", h.offset+1, end, len(h.rows))))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func shortHash(hash string) string {
	if len(hash) <= 14 {
		return hash
	}
	return hash[:8] + "…" + hash[len(hash)-4:]
}

package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fd1az/upstream-gateway/pkg/ui/components"
)

// Phase represents the current UI phase.
type Phase string

const (
	PhaseWelcome   Phase = "welcome"   // Initial welcome screen
	PhaseStartup   Phase = "startup"   // Connecting upstreams
	PhaseDashboard Phase = "dashboard" // Main dashboard
)

// WelcomeDuration is how long the welcome screen shows before auto-advancing.
const WelcomeDuration = 2 * time.Second

// ErrorEntry represents an error with timestamp.
type ErrorEntry struct {
	Message   string
	Timestamp time.Time
}

// Model is the main Bubble Tea model for the TUI.
type Model struct {
	upstreams *components.UpstreamsComponent
	heads     *components.HeadsComponent
	stats     *components.StatsComponent
	keys      KeyMap

	phase        Phase
	welcomeStart time.Time
	startupTime  time.Time

	quitting      bool
	paused        bool // feed frozen, table still updates
	width         int
	height        int
	bestHead      uint64
	headsReceived uint64
	errorCount    int64
	lastUpdate    time.Time
	errors        []ErrorEntry // last 3
	logs          []string     // last 5
}

// New creates a new TUI model.
func New() Model {
	now := time.Now()
	return Model{
		upstreams:    components.NewUpstreamsComponent(),
		heads:        components.NewHeadsComponent(100, 10),
		stats:        components.NewStatsComponent(),
		keys:         DefaultKeyMap(),
		phase:        PhaseWelcome,
		welcomeStart: now,
		startupTime:  now,
		errors:       make([]ErrorEntry, 0, 3),
		logs:         make([]string, 0, 5),
	}
}

// Init initializes the TUI model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// tickCmd returns a command that sends a tick every 100ms for smooth animations.
func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg{}
	})
}

func (m *Model) startModules() {
	m.phase = PhaseStartup
	m.startupTime = time.Now()
	// Trigger callback directly (don't use Send() from within Update)
	if OnStartModules != nil {
		go OnStartModules()
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
		if m.phase == PhaseWelcome {
			m.startModules()
			return m, nil
		}
		switch {
		case key.Matches(msg, m.keys.Clear):
			m.heads.Clear()
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
		case key.Matches(msg, m.keys.Up):
			m.heads.ScrollUp()
		case key.Matches(msg, m.keys.Down):
			m.heads.ScrollDown()
		case key.Matches(msg, m.keys.ClearErrors):
			m.errors = make([]ErrorEntry, 0, 3)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		if m.phase == PhaseWelcome && time.Since(m.welcomeStart) >= WelcomeDuration {
			m.startModules()
		}
		return m, tickCmd()

	case UpstreamMsg:
		m.upstreams.Update(components.UpstreamRow{
			ID:          msg.ID,
			Chain:       msg.Chain,
			Status:      msg.Status,
			DriverState: msg.DriverState,
			Attempts:    msg.Attempts,
			Targets:     msg.Targets,
			HeadNumber:  msg.HeadNumber,
		})
		if m.phase == PhaseStartup {
			m.phase = PhaseDashboard
		}
		m.lastUpdate = time.Now()

	case HeadMsg:
		m.headsReceived++
		if msg.Number > m.bestHead {
			m.bestHead = msg.Number
		}
		if !m.paused {
			m.heads.Add(components.HeadRow{
				Time:            msg.Timestamp.Format("15:04:05"),
				UpstreamID:      msg.UpstreamID,
				Chain:           msg.Chain,
				Number:          msg.Number,
				Hash:            msg.Hash,
				TotalDifficulty: msg.TotalDifficulty,
			})
		}
		m.lastUpdate = time.Now()

	case ErrorMsg:
		m.errorCount++
		m.logs = addLog(m.logs, "error", msg.Error.Error())
		m.errors = append(m.errors, ErrorEntry{
			Message:   msg.Error.Error(),
			Timestamp: time.Now(),
		})
		if len(m.errors) > 3 {
			m.errors = m.errors[len(m.errors)-3:]
		}

	case LogMsg:
		m.logs = addLog(m.logs, msg.Level, msg.Message)
	}

	return m, nil
}

// addLog adds a log message and returns the updated slice (keeps last 5).
func addLog(logs []string, level, message string) []string {
	timestamp := time.Now().Format("15:04:05")
	logs = append(logs, fmt.Sprintf("[%s] %s: %s", timestamp, level, message))
	if len(logs) > 5 {
		logs = logs[len(logs)-5:]
	}
	return logs
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "\n  Goodbye!\n\n"
	}

	switch m.phase {
	case PhaseWelcome:
		return m.renderWelcomeScreen()
	case PhaseStartup:
		return m.renderStartupScreen()
	}

	m.stats.Update(components.Stats{
		Upstreams:     len(m.upstreams.Rows()),
		Available:     m.upstreams.Available(),
		HeadsReceived: m.headsReceived,
		BestHead:      m.bestHead,
		Errors:        m.errorCount,
	})

	var b strings.Builder

	b.WriteString(TitleStyle.Render(" Upstream Gateway "))
	b.WriteString("\n\n")
	b.WriteString(m.stats.View())
	b.WriteString("\n\n")

	width := m.width - 4
	if width < 40 {
		width = 80
	}
	b.WriteString(BoxStyle.Width(width).Render(m.upstreams.View()))
	b.WriteString("\n")
	b.WriteString(BoxStyle.Width(width).Render(m.heads.View()))
	b.WriteString("\n\n")

	if len(m.errors) > 0 {
		errorStyle := lipgloss.NewStyle().Foreground(ColorDanger)
		errorHeader := lipgloss.NewStyle().Bold(true).Foreground(ColorDanger)

		b.WriteString(errorHeader.Render("ERRORS"))
		b.WriteString(MutedValue.Render(" (e: clear)"))
		b.WriteString("\n")
		for _, err := range m.errors {
			ago := time.Since(err.Timestamp).Round(time.Second)
			b.WriteString(errorStyle.Render(fmt.Sprintf("  • %s ", err.Message)))
			b.WriteString(MutedValue.Render(fmt.Sprintf("(%s ago)", ago)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if m.paused {
		b.WriteString(StatusReconnecting.Render("⏸ FEED PAUSED"))
		b.WriteString(" • ")
	}
	b.WriteString(HelpStyle.Render(m.helpLine()))

	return b.String()
}

func (m Model) helpLine() string {
	parts := make([]string, 0, 5)
	for _, k := range m.keys.ShortHelp() {
		h := k.Help()
		parts = append(parts, h.Key+": "+h.Desc)
	}
	return strings.Join(parts, " • ")
}

// renderWelcomeScreen renders the animated welcome screen.
func (m Model) renderWelcomeScreen() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	mutedStyle := lipgloss.NewStyle().Foreground(ColorMuted)
	greenStyle := lipgloss.NewStyle().Foreground(ColorSecondary)

	dotCount := int(time.Since(m.welcomeStart).Milliseconds()/300) % 4

	var sb strings.Builder
	sb.WriteString("\n\n\n\n")
	sb.WriteString(titleStyle.Render("               U P S T R E A M   G A T E W A Y"))
	sb.WriteString("\n\n")
	sb.WriteString(mutedStyle.Render("           heads • availability • reconnecting streams"))
	sb.WriteString("\n\n\n")
	sb.WriteString(greenStyle.Render("                  Initializing" + strings.Repeat(".", dotCount)))
	sb.WriteString("\n\n")
	sb.WriteString(mutedStyle.Render("            Press any key to skip, or wait..."))
	sb.WriteString("\n")
	return sb.String()
}

// renderStartupScreen renders the loading screen shown until the first upstream reports.
func (m Model) renderStartupScreen() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary).MarginBottom(1)
	mutedStyle := lipgloss.NewStyle().Foreground(ColorMuted)

	spinners := []string{"◐", "◓", "◑", "◒"}
	idx := int(time.Since(m.startupTime).Milliseconds()/200) % len(spinners)

	var sb strings.Builder
	sb.WriteString("\n\n")
	sb.WriteString(titleStyle.Render("  Upstream Gateway"))
	sb.WriteString("\n\n")
	sb.WriteString(StatusReconnecting.Render("  " + spinners[idx] + " Connecting upstreams..."))
	sb.WriteString("\n\n")
	for _, l := range m.logs {
		sb.WriteString(mutedStyle.Render("  " + l))
		sb.WriteString("\n")
	}
	sb.WriteString(mutedStyle.Render(fmt.Sprintf("  Elapsed: %s", time.Since(m.startupTime).Round(time.Second))))
	sb.WriteString("\n")
	return sb.String()
}

// Program holds the Bubble Tea program instance for external access.
var Program *tea.Program

// OnStartModules is called when the welcome screen completes and modules should start.
// This is set by main.go to signal when to begin loading modules.
var OnStartModules func()

// Send sends a message to the running program.
func Send(msg tea.Msg) {
	if Program != nil {
		Program.Send(msg)
	}
	if _, ok := msg.(StartModulesMsg); ok && OnStartModules != nil {
		OnStartModules()
	}
}

// Package ui provides a terminal UI for watching governed task cycles.
// Uses Bubbletea for interactive display of phase progress, trust scores,
// and engine activity.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/phasegate/internal/phase"
)

// Panel represents which panel is currently focused.
type Panel int

const (
	PanelCycles Panel = iota
	PanelTrust
	PanelActivity
)

// CycleItem is one governed task shown in the cycle list.
type CycleItem struct {
	TaskID string
	Title  string
	Phase  phase.Phase
	Status string
	HeldBy string
}

// TrustItem is one phase's trust score shown in the trust panel.
type TrustItem struct {
	Phase     phase.Phase
	Trust     float64
	Successes int
	Failures  int
}

// EventEntry is one engine activity line.
type EventEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// Model holds the TUI state.
type Model struct {
	width       int
	height      int
	activePanel Panel
	quitting    bool

	cycles        []CycleItem
	cycleScroll   int
	selectedCycle int

	trust []TrustItem

	events      []EventEntry
	eventScroll int

	progressTick int

	styles *Styles
}

// Styles holds lipgloss styles for the UI.
type Styles struct {
	ActiveBorder   lipgloss.Style
	InactiveBorder lipgloss.Style

	Title     lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Highlight lipgloss.Style
	Muted     lipgloss.Style

	StatusOK    lipgloss.Style
	StatusWarn  lipgloss.Style
	StatusError lipgloss.Style
	StatusBusy  lipgloss.Style

	RowSelected lipgloss.Style

	LogDebug lipgloss.Style
	LogInfo  lipgloss.Style
	LogWarn  lipgloss.Style
	LogError lipgloss.Style

	HelpKey  lipgloss.Style
	HelpText lipgloss.Style
}

// newStyles creates the default style set.
func newStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	green := lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}
	yellow := lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"}
	red := lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}
	blue := lipgloss.AdaptiveColor{Light: "#0366d6", Dark: "#58a6ff"}

	return &Styles{
		ActiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight),

		InactiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			MarginBottom(1),

		Label: lipgloss.NewStyle().
			Foreground(subtle),

		Value: lipgloss.NewStyle().
			Bold(true),

		Highlight: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(subtle),

		StatusOK: lipgloss.NewStyle().
			Foreground(green).
			Bold(true),

		StatusWarn: lipgloss.NewStyle().
			Foreground(yellow).
			Bold(true),

		StatusError: lipgloss.NewStyle().
			Foreground(red).
			Bold(true),

		StatusBusy: lipgloss.NewStyle().
			Foreground(blue).
			Bold(true),

		RowSelected: lipgloss.NewStyle().
			Background(highlight).
			Foreground(lipgloss.Color("#fff")).
			Bold(true),

		LogDebug: lipgloss.NewStyle().Foreground(subtle),
		LogInfo:  lipgloss.NewStyle().Foreground(blue),
		LogWarn:  lipgloss.NewStyle().Foreground(yellow),
		LogError: lipgloss.NewStyle().Foreground(red),

		HelpKey: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		HelpText: lipgloss.NewStyle().
			Foreground(subtle),
	}
}

// tickMsg is sent periodically to update the UI.
type tickMsg time.Time

// RefreshMsg replaces the displayed data. Senders poll the engine's stores
// and push snapshots through the running program.
type RefreshMsg struct {
	Cycles []CycleItem
	Trust  []TrustItem
}

// New creates a new TUI model.
func New() *Model {
	return &Model{
		width:       80,
		height:      24,
		activePanel: PanelCycles,
		cycles:      make([]CycleItem, 0),
		trust:       make([]TrustItem, 0),
		events:      make([]EventEntry, 0),
		styles:      newStyles(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

// tickCmd returns a command that ticks every second.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.progressTick++
		return m, tickCmd()

	case RefreshMsg:
		m.cycles = msg.Cycles
		m.trust = msg.Trust
		if m.selectedCycle >= len(m.cycles) {
			m.selectedCycle = 0
			m.cycleScroll = 0
		}
		return m, nil
	}

	return m, nil
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "right", "l":
		m.activePanel = (m.activePanel + 1) % 3
		return m, nil

	case "shift+tab", "left", "h":
		m.activePanel = (m.activePanel + 2) % 3
		return m, nil

	case "up", "k":
		return m.handleUp(), nil

	case "down", "j":
		return m.handleDown(), nil

	case "home", "g":
		return m.handleHome(), nil

	case "end", "G":
		return m.handleEnd(), nil
	}

	return m, nil
}

func (m Model) handleUp() Model {
	switch m.activePanel {
	case PanelCycles:
		if m.selectedCycle > 0 {
			m.selectedCycle--
		}
	case PanelActivity:
		if m.eventScroll > 0 {
			m.eventScroll--
		}
	}
	return m
}

func (m Model) handleDown() Model {
	switch m.activePanel {
	case PanelCycles:
		if m.selectedCycle < len(m.cycles)-1 {
			m.selectedCycle++
		}
	case PanelActivity:
		if m.eventScroll < len(m.events)-1 {
			m.eventScroll++
		}
	}
	return m
}

func (m Model) handleHome() Model {
	switch m.activePanel {
	case PanelCycles:
		m.selectedCycle = 0
	case PanelActivity:
		m.eventScroll = 0
	}
	return m
}

func (m Model) handleEnd() Model {
	switch m.activePanel {
	case PanelCycles:
		if len(m.cycles) > 0 {
			m.selectedCycle = len(m.cycles) - 1
		}
	case PanelActivity:
		if len(m.events) > 0 {
			m.eventScroll = len(m.events) - 1
		}
	}
	return m
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	topHeight := m.height / 2
	bottomHeight := m.height - topHeight - 3
	leftWidth := m.width / 2
	rightWidth := m.width - leftWidth

	cyclePanel := m.renderCyclePanel(leftWidth-2, topHeight-2)
	trustPanel := m.renderTrustPanel(rightWidth-2, topHeight-2)
	activityPanel := m.renderActivityPanel(m.width-2, bottomHeight-2)

	cycleBorder := m.getBorder(PanelCycles).Width(leftWidth - 2).Height(topHeight - 2)
	trustBorder := m.getBorder(PanelTrust).Width(rightWidth - 2).Height(topHeight - 2)
	activityBorder := m.getBorder(PanelActivity).Width(m.width - 2).Height(bottomHeight - 2)

	topRow := lipgloss.JoinHorizontal(
		lipgloss.Top,
		cycleBorder.Render(cyclePanel),
		trustBorder.Render(trustPanel),
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		topRow,
		activityBorder.Render(activityPanel),
		m.renderHelpBar(),
	)
}

func (m Model) getBorder(panel Panel) lipgloss.Style {
	if m.activePanel == panel {
		return m.styles.ActiveBorder
	}
	return m.styles.InactiveBorder
}

// renderCyclePanel renders the governed task list with per-task phase
// progress.
func (m Model) renderCyclePanel(width, height int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Cycles"))
	b.WriteString("\n\n")

	if len(m.cycles) == 0 {
		b.WriteString(m.styles.Muted.Render("No tasks in cycle"))
		return b.String()
	}

	visible := height - 4
	if visible < 1 {
		visible = 1
	}
	if m.selectedCycle < m.cycleScroll {
		m.cycleScroll = m.selectedCycle
	} else if m.selectedCycle >= m.cycleScroll+visible {
		m.cycleScroll = m.selectedCycle - visible + 1
	}

	for i := m.cycleScroll; i < len(m.cycles) && i < m.cycleScroll+visible; i++ {
		item := m.cycles[i]

		var statusStyle lipgloss.Style
		var icon string
		switch item.Status {
		case "done":
			icon, statusStyle = "*", m.styles.StatusOK
		case "failed":
			icon, statusStyle = "x", m.styles.StatusError
		case "active":
			icon, statusStyle = m.spinner(), m.styles.StatusBusy
		default:
			icon, statusStyle = "o", m.styles.Muted
		}

		line := fmt.Sprintf(" %s %s %s %s",
			statusStyle.Render(icon),
			item.TaskID,
			m.styles.Highlight.Render(item.Phase.String()),
			m.renderPhaseBar(item.Phase, width/3),
		)
		if item.HeldBy != "" {
			line += m.styles.Muted.Render(" held by " + item.HeldBy)
		}

		if i == m.selectedCycle && m.activePanel == PanelCycles {
			line = m.styles.RowSelected.Render(line)
		}

		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(m.cycles) > visible {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" [%d/%d]", m.cycleScroll+1, len(m.cycles))))
	}

	return b.String()
}

// renderPhaseBar shows how far along the lifecycle a task is.
func (m Model) renderPhaseBar(ph phase.Phase, width int) string {
	if width < 9 {
		width = 9
	}
	idx := ph.Index()
	if idx < 0 {
		idx = 0
	}
	filled := width * (idx + 1) / len(phase.Sequence)
	if filled > width {
		filled = width
	}

	bar := strings.Repeat("=", filled) + strings.Repeat("-", width-filled)
	style := m.styles.StatusBusy
	if ph.IsLast() {
		style = m.styles.StatusOK
	}
	return "[" + style.Render(bar) + "]"
}

// renderTrustPanel renders per-phase trust scores.
func (m Model) renderTrustPanel(width, height int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Trust"))
	b.WriteString("\n\n")

	if len(m.trust) == 0 {
		b.WriteString(m.styles.Muted.Render("No scores recorded"))
		return b.String()
	}

	for _, item := range m.trust {
		style := m.styles.StatusOK
		if item.Trust < 0.3 {
			style = m.styles.StatusError
		} else if item.Trust < 0.6 {
			style = m.styles.StatusWarn
		}

		b.WriteString(fmt.Sprintf(" %-11s %s %s\n",
			item.Phase.String(),
			style.Render(fmt.Sprintf("%.3f", item.Trust)),
			m.styles.Muted.Render(fmt.Sprintf("(%d pass / %d fail)", item.Successes, item.Failures)),
		))
	}

	return b.String()
}

// spinner returns a spinner character based on the current tick.
func (m Model) spinner() string {
	frames := []string{"|", "/", "-", "\\"}
	return frames[m.progressTick%len(frames)]
}

// renderActivityPanel renders the engine activity log.
func (m Model) renderActivityPanel(width, height int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Activity"))
	b.WriteString("\n\n")

	if len(m.events) == 0 {
		b.WriteString(m.styles.Muted.Render("No activity yet"))
		return b.String()
	}

	visible := height - 4
	if visible < 1 {
		visible = 1
	}

	start := m.eventScroll
	if start+visible > len(m.events) {
		start = len(m.events) - visible
		if start < 0 {
			start = 0
		}
	}

	for i := start; i < len(m.events) && i < start+visible; i++ {
		entry := m.events[i]

		var levelStyle lipgloss.Style
		switch entry.Level {
		case "debug":
			levelStyle = m.styles.LogDebug
		case "info":
			levelStyle = m.styles.LogInfo
		case "warn":
			levelStyle = m.styles.LogWarn
		case "error":
			levelStyle = m.styles.LogError
		default:
			levelStyle = m.styles.Muted
		}

		maxMsgLen := width - 20
		msg := entry.Message
		if len(msg) > maxMsgLen && maxMsgLen > 3 {
			msg = msg[:maxMsgLen-3] + "..."
		}

		b.WriteString(fmt.Sprintf("%s %s %s\n",
			m.styles.Muted.Render(entry.Time.Format("15:04:05")),
			levelStyle.Render(fmt.Sprintf("[%-5s]", entry.Level)),
			msg,
		))
	}

	if len(m.events) > visible {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" [%d/%d]", m.eventScroll+1, len(m.events))))
	}

	return b.String()
}

// renderHelpBar renders the help bar at the bottom.
func (m Model) renderHelpBar() string {
	helpItems := []struct {
		key  string
		desc string
	}{
		{"tab", "switch panel"},
		{"j/k", "up/down"},
		{"q", "quit"},
	}

	var parts []string
	for _, item := range helpItems {
		parts = append(parts, fmt.Sprintf("%s %s",
			m.styles.HelpKey.Render(item.key),
			m.styles.HelpText.Render(item.desc),
		))
	}

	return "  " + strings.Join(parts, "  |  ")
}

// SetCycles replaces the cycle list.
func (m *Model) SetCycles(items []CycleItem) {
	m.cycles = items
	if m.selectedCycle >= len(items) {
		m.selectedCycle = 0
		m.cycleScroll = 0
	}
}

// SetTrust replaces the trust panel contents.
func (m *Model) SetTrust(items []TrustItem) {
	m.trust = items
}

// AddEvent appends an activity line, auto-scrolling when the view is at the
// bottom.
func (m *Model) AddEvent(level, message string) {
	m.events = append(m.events, EventEntry{
		Time:    time.Now(),
		Level:   level,
		Message: message,
	})
	if m.eventScroll == len(m.events)-2 || len(m.events) == 1 {
		m.eventScroll = len(m.events) - 1
	}
}

// ClearEvents removes all activity lines.
func (m *Model) ClearEvents() {
	m.events = make([]EventEntry, 0)
	m.eventScroll = 0
}

// Run starts the TUI.
func (m *Model) Run() error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RunWithProgram starts the TUI and returns the program for external control.
func (m *Model) RunWithProgram() (*tea.Program, error) {
	p := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		_, _ = p.Run()
	}()
	return p, nil
}

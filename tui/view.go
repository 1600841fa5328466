package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/hochfrequenz/oa-pipeline/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	queuedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	barFilledStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	barEmptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	succeeded, failed := m.snap.Counts()
	header := fmt.Sprintf(" %s │ %s │ %d/%d │ ✓ %d ✗ %d ",
		m.title, phaseLabel(m.snap.Phase), len(m.snap.Outcomes), m.snap.Total, succeeded, failed)
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	var section string
	switch m.activeTab {
	case TabOutcomes:
		section = m.renderOutcomes()
	case TabLog:
		section = m.renderLog(m.contentHeight())
	default:
		section = m.renderProgress()
	}
	b.WriteString(sectionStyle.Width(m.width - 2).Render(section))
	b.WriteString("\n")

	if m.statusMsg != "" {
		style := queuedStyle
		switch {
		case strings.HasPrefix(m.statusMsg, "Error"):
			style = errorStyle
		case m.snap.Phase == domain.PhasePaused || m.snap.Phase == domain.PhaseStopped:
			style = warningStyle
		case m.snap.Phase == domain.PhaseRunning || m.snap.Phase == domain.PhaseCompleted:
			style = runningStyle
		}
		b.WriteString(style.Width(m.width).Render(" " + m.statusMsg + " "))
		b.WriteString("\n")
	}

	b.WriteString(statusBarStyle.Width(m.width).Render(m.statusBar()))
	return b.String()
}

func (m Model) statusBar() string {
	switch m.snap.Phase {
	case domain.PhaseRunning:
		return " [tab]switch [p]ause [s]top [q]uit "
	case domain.PhasePaused:
		return " [tab]switch [r]esume [s]top [q]uit "
	default:
		return " [tab]switch [j/k]scroll [q]uit "
	}
}

func (m Model) contentHeight() int {
	h := m.height - 8
	if h < 5 {
		h = 5
	}
	return h
}

func phaseLabel(p domain.RunPhase) string {
	switch p {
	case domain.PhaseRunning:
		return "▶ running"
	case domain.PhasePaused:
		return "⏸ paused"
	case domain.PhaseCompleted:
		return "✓ completed"
	case domain.PhaseStopped:
		return "■ stopped"
	default:
		return "idle"
	}
}

func (m Model) renderTabs() string {
	tabs := []string{"Progress", "Outcomes", "Log"}
	var parts []string

	for i, tab := range tabs {
		if i == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		} else {
			parts = append(parts, tabInactiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		}
	}

	return strings.Join(parts, "│")
}

func (m Model) renderProgress() string {
	var b strings.Builder

	b.WriteString(progressBar(len(m.snap.Outcomes), m.snap.Total, m.width-12))
	b.WriteString("\n\n")

	if item := m.snap.CurrentItem; item != nil {
		b.WriteString(fmt.Sprintf("Question %d/%d: %s (ID: %s)\n", m.snap.Cursor+1, m.snap.Total, truncate(item.Title, m.width-30), item.ID))
		stage := string(m.snap.Stage)
		if stage == "" {
			stage = "waiting"
		}
		line := "Stage: " + stage
		if m.snap.RetryAttempts > 0 {
			line += fmt.Sprintf("  (retry %d)", m.snap.RetryAttempts)
		}
		b.WriteString(runningStyle.Render(line))
		b.WriteString("\n")
	} else {
		b.WriteString(queuedStyle.Render("No question in progress"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderLog(6))
	return b.String()
}

// progressBar renders done/total as a bar of the given width
func progressBar(done, total, width int) string {
	if width < 10 {
		width = 10
	}
	filled := 0
	if total > 0 {
		filled = done * width / total
	}
	pct := 0
	if total > 0 {
		pct = done * 100 / total
	}
	return barFilledStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %3d%%", pct)
}

func (m Model) renderOutcomes() string {
	if len(m.snap.Outcomes) == 0 {
		return queuedStyle.Render("No outcomes yet")
	}

	var b strings.Builder
	for _, o := range m.snap.Outcomes {
		if o.Status == domain.OutcomeSuccess {
			b.WriteString(runningStyle.Render("✓ " + o.ItemID))
		} else {
			b.WriteString(errorStyle.Render("✗ " + o.ItemID))
		}
		b.WriteString("  ")
		b.WriteString(truncate(o.Message, m.width-20))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// renderLog shows the last n lines, offset by the scroll position
func (m Model) renderLog(n int) string {
	if len(m.log) == 0 {
		return queuedStyle.Render("Log is empty")
	}

	end := len(m.log) - m.logScroll
	if end < 1 {
		end = 1
	}
	start := end - n
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for _, e := range m.log[start:end] {
		line := truncate(e.String(), m.width-6)
		if strings.Contains(e.Text, "Error") {
			b.WriteString(errorStyle.Render(line))
		} else if strings.HasPrefix(e.Text, "Retrying") {
			b.WriteString(warningStyle.Render(line))
		} else {
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func truncate(s string, max int) string {
	if max < 4 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

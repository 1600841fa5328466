package tui

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	"github.com/hochfrequenz/oa-pipeline/internal/queue"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "s":
			if !m.snap.Phase.Terminal() && m.run != nil {
				m.run.Stop()
				m.stopped = true
			}
			m.refresh()
			return m, tea.Quit
		case "p":
			if m.snap.Phase == domain.PhaseRunning {
				m.run.Pause()
				m.statusMsg = "Pausing after the current question..."
			}
		case "r":
			if m.snap.Phase == domain.PhasePaused {
				m.run.Resume()
				m.statusMsg = "Resumed"
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.logScroll = 0
		case "o":
			m.activeTab = TabOutcomes
		case "l":
			m.activeTab = TabLog
			m.logScroll = 0
		case "k", "up":
			if m.activeTab == TabLog && m.logScroll < len(m.log)-1 {
				m.logScroll++
			}
		case "j", "down":
			if m.activeTab == TabLog && m.logScroll > 0 {
				m.logScroll--
			}
		}
		m.refresh()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		m.refresh()
		if m.done {
			return m, nil
		}
		return m, tickCmd()

	case RunDoneMsg:
		m.done = true
		if msg.Err != nil && !errors.Is(msg.Err, queue.ErrStopped) {
			m.runErr = msg.Err
			m.statusMsg = "Error: " + msg.Err.Error()
		} else if m.snap.Phase == domain.PhaseStopped || errors.Is(msg.Err, queue.ErrStopped) {
			m.statusMsg = "Stopped"
		} else {
			m.statusMsg = "All questions processed! Press q to exit"
		}
		m.refresh()
	}

	return m, nil
}

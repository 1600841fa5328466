package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/oa-pipeline/internal/domain"
)

// Tabs
const (
	TabProgress = iota
	TabOutcomes
	TabLog
	tabCount
)

const refreshInterval = 250 * time.Millisecond

// RunController is the run shown by the TUI. *queue.Processor satisfies it.
type RunController interface {
	Snapshot() domain.RunSnapshot
	Log() []domain.LogEntry
	Pause()
	Resume()
	Stop()
}

// Model is the TUI application model
type Model struct {
	run   RunController
	title string

	// Data, refreshed on every tick
	snap domain.RunSnapshot
	log  []domain.LogEntry

	// UI state
	width     int
	height    int
	activeTab int
	logScroll int // lines scrolled up from the bottom
	statusMsg string

	done    bool
	runErr  error
	stopped bool
}

// ModelConfig holds initial data for the TUI model
type ModelConfig struct {
	Run   RunController
	Title string
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	title := cfg.Title
	if title == "" {
		title = "OA Question Pipeline"
	}
	m := Model{run: cfg.Run, title: title}
	m.refresh()
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// TickMsg triggers a refresh
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// RunDoneMsg is sent when the processor's Run returns
type RunDoneMsg struct {
	Err error
}

func (m *Model) refresh() {
	if m.run == nil {
		return
	}
	m.snap = m.run.Snapshot()
	m.log = m.run.Log()
}

// Stopped reports whether the user stopped the run from the TUI
func (m Model) Stopped() bool {
	return m.stopped
}

// Err returns the error the run finished with, if any
func (m Model) Err() error {
	return m.runErr
}

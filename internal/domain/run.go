package domain

import (
	"fmt"
	"time"
)

// Outcome records how a single work item finished
type Outcome struct {
	ItemID  string        `json:"item_id"`
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message"`
}

// LogEntry represents one line of a run's append-only audit trail
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// String renders the entry the way the run log displays it
func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.Timestamp.Format("15:04:05"), e.Text)
}

// RunSnapshot is a read-only copy of a queue run's state
type RunSnapshot struct {
	RunID         string    `json:"run_id"`
	Phase         RunPhase  `json:"phase"`
	Stage         Stage     `json:"stage"`
	Cursor        int       `json:"cursor"`
	Total         int       `json:"total"`
	RetryAttempts int       `json:"retry_attempts"`
	CurrentItem   *WorkItem `json:"current_item,omitempty"`
	Outcomes      []Outcome `json:"outcomes"`
}

// Counts returns the number of successful and failed outcomes
func (s RunSnapshot) Counts() (succeeded, failed int) {
	for _, o := range s.Outcomes {
		switch o.Status {
		case OutcomeSuccess:
			succeeded++
		case OutcomeError:
			failed++
		}
	}
	return succeeded, failed
}

// Package notify reports finished runs to Slack and the desktop.
package notify

import (
	"errors"
	"fmt"

	"github.com/hochfrequenz/oa-pipeline/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	RunID   string // Optional run reference
	Summary *Summary
}

// Summary carries the counts of a finished run
type Summary struct {
	Phase     domain.RunPhase
	Succeeded int
	Failed    int
	Processed int
	Total     int
	// Failures lists failed items in processing order
	Failures []domain.Outcome
}

// Progress renders processed/total, e.g. "3/5"
func (s Summary) Progress() string {
	return fmt.Sprintf("%d/%d", s.Processed, s.Total)
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// RunSummary builds the end-of-run notification for a snapshot
func RunSummary(snap domain.RunSnapshot) Notification {
	succeeded, failed := snap.Counts()
	summary := &Summary{
		Phase:     snap.Phase,
		Succeeded: succeeded,
		Failed:    failed,
		Processed: len(snap.Outcomes),
		Total:     snap.Total,
	}
	for _, o := range snap.Outcomes {
		if o.Status == domain.OutcomeError {
			summary.Failures = append(summary.Failures, o)
		}
	}

	n := Notification{
		Title:   "Question run finished",
		Message: fmt.Sprintf("%d succeeded, %d failed", succeeded, failed),
		Type:    NotifySuccess,
		RunID:   snap.RunID,
		Summary: summary,
	}
	switch {
	case snap.Phase == domain.PhaseStopped:
		n.Title = "Question run stopped"
		n.Message = fmt.Sprintf("%s (%d of %d processed)", n.Message, summary.Processed, snap.Total)
		n.Type = NotifyWarning
	case failed > 0 && succeeded == 0:
		n.Type = NotifyError
	case failed > 0:
		n.Type = NotifyWarning
	}
	return n
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers and joins their errors
func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// FromSettings builds the notifier for the configured channels
func FromSettings(desktop bool, slackWebhook string) Notifier {
	var notifiers []Notifier
	if desktop {
		notifiers = append(notifiers, NewDesktopNotifier(true))
	}
	if slackWebhook != "" {
		notifiers = append(notifiers, NewSlackNotifier(slackWebhook))
	}
	if len(notifiers) == 0 {
		return NoopNotifier{}
	}
	return NewMultiNotifier(notifiers...)
}

package runstore

import (
	"context"

	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	"github.com/hochfrequenz/oa-pipeline/internal/logger"
	"github.com/hochfrequenz/oa-pipeline/internal/queue"
)

// Recorder mirrors a processor's log and outcomes into the store.
// Store failures are logged and never interrupt the run.
type Recorder struct {
	store *Store
	runID string
	seq   map[string]int
	log   logger.Logger
}

// NewRecorder creates the run row and returns a Recorder for it
func (s *Store) NewRecorder(ctx context.Context, runID, source string, items []domain.WorkItem, log logger.Logger) (*Recorder, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if err := s.CreateRun(ctx, runID, source, len(items)); err != nil {
		return nil, err
	}
	seq := make(map[string]int, len(items))
	for i, item := range items {
		seq[item.ID] = i
	}
	return &Recorder{store: s, runID: runID, seq: seq, log: log}, nil
}

// Hooks returns processor hooks that write to the store
func (r *Recorder) Hooks() queue.Hooks {
	ctx := context.Background()
	return queue.Hooks{
		OnLog: func(entry domain.LogEntry) {
			if err := r.store.AppendLog(ctx, r.runID, entry); err != nil {
				r.log.Warn("Failed to store log entry", logger.String("run_id", r.runID), logger.Error(err))
			}
		},
		OnOutcome: func(item domain.WorkItem, o domain.Outcome) {
			if err := r.store.RecordOutcome(ctx, r.runID, r.seq[item.ID], o); err != nil {
				r.log.Warn("Failed to store outcome", logger.String("item_id", item.ID), logger.Error(err))
			}
		},
		OnComplete: func(domain.RunSnapshot) {
			r.Finish(domain.PhaseCompleted)
		},
	}
}

// Finish stores the run's final phase
func (r *Recorder) Finish(phase domain.RunPhase) {
	if err := r.store.FinishRun(context.Background(), r.runID, phase); err != nil {
		r.log.Warn("Failed to finish run", logger.String("run_id", r.runID), logger.Error(err))
	}
}

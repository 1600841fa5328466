// Package queue drives a batch of work items through the solve, scaffold
// and persist stages one item at a time.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	"github.com/hochfrequenz/oa-pipeline/internal/logger"
)

const (
	DefaultMaxRetries = 2
	DefaultBackoff    = 2 * time.Second

	successMessage = "Processed successfully"
)

// ErrStopped is returned by Run and Step once the run has been stopped
var ErrStopped = errors.New("run stopped")

// Pipeline is the per-item work. *generation.Client satisfies it.
type Pipeline interface {
	RequestSolution(ctx context.Context, item domain.WorkItem) (*domain.GeneratedSolution, error)
	RequestScaffold(ctx context.Context, item domain.WorkItem, sourceCode string) (*domain.GeneratedScaffold, error)
	Persist(ctx context.Context, item domain.WorkItem, solution domain.GeneratedSolution, scaffold domain.GeneratedScaffold) error
}

// Hooks observe a run. They are called on the processor's goroutine,
// never while its lock is held.
type Hooks struct {
	OnLog      func(entry domain.LogEntry)
	OnStage    func(item domain.WorkItem, stage domain.Stage)
	OnOutcome  func(item domain.WorkItem, outcome domain.Outcome)
	OnComplete func(snap domain.RunSnapshot)
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Processor runs a fixed list of items sequentially with a bounded retry
// policy. Controls may be called from any goroutine.
type Processor struct {
	runID      string
	items      []domain.WorkItem
	pipeline   Pipeline
	maxRetries int
	backoff    time.Duration
	sleep      SleepFunc
	now        func() time.Time
	hooks      Hooks
	log        logger.Logger

	mu            sync.Mutex
	phase         domain.RunPhase
	stage         domain.Stage
	cursor        int
	retryAttempts int
	outcomes      map[string]domain.Outcome
	order         []string
	entries       []domain.LogEntry
	cancelStep    context.CancelFunc
	wake          chan struct{}
}

// Option configures a Processor
type Option func(*Processor)

// WithMaxRetries sets how many times a failed item is retried
func WithMaxRetries(n int) Option {
	return func(p *Processor) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// WithBackoff sets the fixed delay before each retry
func WithBackoff(d time.Duration) Option {
	return func(p *Processor) { p.backoff = d }
}

// WithSleep replaces the back-off wait, mainly for tests
func WithSleep(fn SleepFunc) Option {
	return func(p *Processor) { p.sleep = fn }
}

// WithClock sets the time source for log timestamps
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithHooks registers run observers
func WithHooks(h Hooks) Option {
	return func(p *Processor) { p.hooks = h }
}

// WithLogger mirrors the run log to a structured logger
func WithLogger(log logger.Logger) Option {
	return func(p *Processor) { p.log = log }
}

// WithRunID overrides the generated run id
func WithRunID(id string) Option {
	return func(p *Processor) { p.runID = id }
}

// New creates an idle processor over items. The slice is copied.
func New(items []domain.WorkItem, pipeline Pipeline, opts ...Option) *Processor {
	p := &Processor{
		runID:      uuid.New().String(),
		items:      append([]domain.WorkItem(nil), items...),
		pipeline:   pipeline,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
		sleep:      sleepContext,
		now:        time.Now,
		log:        logger.NewNop(),
		phase:      domain.PhaseIdle,
		outcomes:   make(map[string]domain.Outcome),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(logger.String("run_id", p.runID))
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RunID returns the run's identifier
func (p *Processor) RunID() string {
	return p.runID
}

// Items returns a copy of the queue
func (p *Processor) Items() []domain.WorkItem {
	return append([]domain.WorkItem(nil), p.items...)
}

// Start moves an idle run to running. A paused run is resumed.
func (p *Processor) Start() {
	p.mu.Lock()
	switch p.phase {
	case domain.PhaseIdle, domain.PhasePaused:
		p.phase = domain.PhaseRunning
	}
	p.mu.Unlock()
	p.signal()
}

// Pause stops new items from starting. The in-flight item, including its
// retries, runs to completion.
func (p *Processor) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase == domain.PhaseRunning {
		p.phase = domain.PhasePaused
	}
}

// Resume continues a paused run
func (p *Processor) Resume() {
	p.mu.Lock()
	resumed := p.phase == domain.PhasePaused
	if resumed {
		p.phase = domain.PhaseRunning
	}
	p.mu.Unlock()
	if resumed {
		p.signal()
	}
}

// Stop ends the run. The in-flight call and any pending back-off are
// cancelled and their results discarded.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.phase.Terminal() {
		p.mu.Unlock()
		return
	}
	p.phase = domain.PhaseStopped
	p.stage = domain.StageNone
	cancel := p.cancelStep
	p.cancelStep = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.log.Info("Run stopped")
	p.signal()
}

func (p *Processor) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run drives the run on the calling goroutine until it completes, is
// stopped, or ctx is done. While paused it waits at the item boundary.
func (p *Processor) Run(ctx context.Context) ([]domain.Outcome, error) {
	p.Start()
	for {
		p.mu.Lock()
		phase := p.phase
		gated := phase == domain.PhasePaused && p.retryAttempts == 0 && p.cursor < len(p.items)
		p.mu.Unlock()

		switch {
		case phase == domain.PhaseStopped:
			return p.Outcomes(), ErrStopped
		case phase == domain.PhaseCompleted:
			return p.Outcomes(), nil
		case gated:
			select {
			case <-ctx.Done():
				return p.Outcomes(), ctx.Err()
			case <-p.wake:
			}
			continue
		}

		if err := ctx.Err(); err != nil {
			return p.Outcomes(), err
		}
		if _, err := p.Step(ctx); err != nil && !errors.Is(err, ErrStopped) {
			return p.Outcomes(), err
		}
	}
}

// Step performs one unit of work: completing the run, skipping an item
// that already has an outcome, or making one attempt at the current item.
// It returns true once the run is terminal.
func (p *Processor) Step(ctx context.Context) (bool, error) {
	p.mu.Lock()
	switch {
	case p.phase == domain.PhaseStopped:
		p.mu.Unlock()
		return true, ErrStopped
	case p.phase == domain.PhaseCompleted:
		p.mu.Unlock()
		return true, nil
	case p.phase == domain.PhaseIdle:
		p.mu.Unlock()
		return false, nil
	}

	// Finishing the run is not starting an item, so a paused run completes too.
	if p.cursor >= len(p.items) {
		p.phase = domain.PhaseCompleted
		p.stage = domain.StageNone
		p.mu.Unlock()
		p.logf("All questions processed!")
		if p.hooks.OnComplete != nil {
			p.hooks.OnComplete(p.Snapshot())
		}
		return true, nil
	}

	if p.phase == domain.PhasePaused && p.retryAttempts == 0 {
		p.mu.Unlock()
		return false, nil
	}

	item := p.items[p.cursor]
	if _, done := p.outcomes[item.ID]; done {
		p.cursor++
		p.retryAttempts = 0
		p.mu.Unlock()
		return false, nil
	}

	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancelStep = cancel
	index := p.cursor
	p.mu.Unlock()

	p.logf("Processing Question %d/%d: %s (ID: %s)", index+1, len(p.items), item.Title, item.ID)
	err := p.attempt(stepCtx, item)

	p.mu.Lock()
	p.cancelStep = nil
	if p.phase == domain.PhaseStopped {
		p.mu.Unlock()
		return true, ErrStopped
	}
	p.stage = domain.StageNone
	if ctx.Err() != nil {
		// cancelled by the caller, not a failure of the item
		p.mu.Unlock()
		return false, ctx.Err()
	}
	if err == nil {
		p.mu.Unlock()
		if !p.record(item, domain.OutcomeSuccess, successMessage) {
			return true, ErrStopped
		}
		p.logf("Successfully updated Question %s", item.ID)
		return false, nil
	}
	retry := p.retryAttempts < p.maxRetries
	if retry {
		p.retryAttempts++
	}
	attempt := p.retryAttempts
	p.mu.Unlock()

	p.errorf("Error processing Question %s: %s", item.ID, err.Error())

	if !retry {
		if !p.record(item, domain.OutcomeError, err.Error()) {
			return true, ErrStopped
		}
		return false, nil
	}

	p.logf("Retrying... (%d/%d)", attempt, p.maxRetries)
	if err := p.sleep(stepCtx, p.backoff); err != nil {
		if p.Snapshot().Phase == domain.PhaseStopped {
			return true, ErrStopped
		}
		return false, err
	}
	return false, nil
}

// attempt runs the whole pipeline for one item
func (p *Processor) attempt(ctx context.Context, item domain.WorkItem) error {
	p.setStage(item, domain.StageSolving)
	p.logf("Generating C++ solution and test cases...")
	solution, err := p.pipeline.RequestSolution(ctx, item)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	p.setStage(item, domain.StageScaffolding)
	p.logf("Generating boilerplate code...")
	scaffold, err := p.pipeline.RequestScaffold(ctx, item, solution.SourceCode)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	p.setStage(item, domain.StagePersisting)
	p.logf("Saving updated question to database...")
	return p.pipeline.Persist(ctx, item, *solution, *scaffold)
}

func (p *Processor) setStage(item domain.WorkItem, stage domain.Stage) {
	p.mu.Lock()
	if p.phase == domain.PhaseStopped {
		p.mu.Unlock()
		return
	}
	p.stage = stage
	p.mu.Unlock()
	if p.hooks.OnStage != nil {
		p.hooks.OnStage(item, stage)
	}
}

// record stores the item's outcome and advances the cursor.
// An existing outcome is never overwritten, and nothing is written once the
// run is stopped. It reports whether the run may continue.
func (p *Processor) record(item domain.WorkItem, status domain.OutcomeStatus, message string) bool {
	p.mu.Lock()
	if p.phase == domain.PhaseStopped {
		p.mu.Unlock()
		return false
	}
	if _, exists := p.outcomes[item.ID]; exists {
		p.mu.Unlock()
		return true
	}
	outcome := domain.Outcome{ItemID: item.ID, Status: status, Message: message}
	p.outcomes[item.ID] = outcome
	p.order = append(p.order, item.ID)
	p.cursor++
	p.retryAttempts = 0
	p.mu.Unlock()

	if p.hooks.OnOutcome != nil {
		p.hooks.OnOutcome(item, outcome)
	}
	return true
}

func (p *Processor) logf(format string, args ...any) {
	entry := p.appendLog(fmt.Sprintf(format, args...))
	p.log.Info(entry.Text)
}

func (p *Processor) errorf(format string, args ...any) {
	entry := p.appendLog(fmt.Sprintf(format, args...))
	p.log.Error(entry.Text)
}

func (p *Processor) appendLog(text string) domain.LogEntry {
	entry := domain.LogEntry{Timestamp: p.now(), Text: text}
	p.mu.Lock()
	p.entries = append(p.entries, entry)
	p.mu.Unlock()
	if p.hooks.OnLog != nil {
		p.hooks.OnLog(entry)
	}
	return entry
}

// Snapshot returns a copy of the run state
func (p *Processor) Snapshot() domain.RunSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := domain.RunSnapshot{
		RunID:         p.runID,
		Phase:         p.phase,
		Stage:         p.stage,
		Cursor:        p.cursor,
		Total:         len(p.items),
		RetryAttempts: p.retryAttempts,
		Outcomes:      p.outcomesLocked(),
	}
	if p.cursor < len(p.items) && !p.phase.Terminal() {
		item := p.items[p.cursor]
		snap.CurrentItem = &item
	}
	return snap
}

// Outcomes returns recorded outcomes in the order they were recorded
func (p *Processor) Outcomes() []domain.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcomesLocked()
}

func (p *Processor) outcomesLocked() []domain.Outcome {
	out := make([]domain.Outcome, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.outcomes[id])
	}
	return out
}

// Outcome returns the outcome recorded for an item, if any
func (p *Processor) Outcome(itemID string) (domain.Outcome, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.outcomes[itemID]
	return o, ok
}

// Log returns a copy of the run log
func (p *Processor) Log() []domain.LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.LogEntry(nil), p.entries...)
}

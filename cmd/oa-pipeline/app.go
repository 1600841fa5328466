package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hochfrequenz/oa-pipeline/internal/config"
	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	"github.com/hochfrequenz/oa-pipeline/internal/generation"
	"github.com/hochfrequenz/oa-pipeline/internal/logger"
	"github.com/hochfrequenz/oa-pipeline/internal/notify"
	"github.com/hochfrequenz/oa-pipeline/internal/prompts"
	"github.com/hochfrequenz/oa-pipeline/internal/queue"
	"github.com/hochfrequenz/oa-pipeline/internal/runstore"
	"github.com/hochfrequenz/oa-pipeline/internal/solver"
)

// app holds the wiring shared by all commands
type app struct {
	cfg      *config.Config
	log      logger.Logger
	prompts  *prompts.Loader
	client   *generation.Client
	notifier notify.Notifier
	store    *runstore.Store
}

// newApp loads configuration and builds the generation client. The run
// store is opened only when withStore is set.
func newApp(withStore bool) (*app, error) {
	cfg, err := config.LoadWithLocalFallback(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	loader := prompts.DefaultLoader(cfg.General.PromptsDir)
	a := &app{
		cfg:     cfg,
		log:     log,
		prompts: loader,
		client: generation.New(generation.Config{
			GenerateURL: cfg.Backend.GenerateURL,
			PersistURL:  cfg.Backend.PersistURL,
			APIKey:      cfg.Backend.APIKey,
			Model:       cfg.Backend.Model,
			HTTPTimeout: cfg.Backend.Timeout.Std(),
		}, generation.WithLogger(log), generation.WithPrompts(loader)),
		notifier: notify.FromSettings(cfg.Notifications.Desktop, cfg.Notifications.SlackWebhook),
	}

	if withStore {
		store, err := runstore.New(cfg.General.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("open run store: %w", err)
		}
		a.store = store
	}
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	_ = a.log.Sync()
}

// requireBackend fails early when the endpoints are not configured
func (a *app) requireBackend() error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (a *app) newWorkflow(opts ...solver.Option) *solver.Workflow {
	base := []solver.Option{
		solver.WithPrompts(a.prompts),
		solver.WithMaxTokens(a.cfg.Backend.MaxTokens),
		solver.WithLogger(a.log),
	}
	return solver.New(a.client, append(base, opts...)...)
}

// run is one queue run with its store recorder attached
type run struct {
	proc     *queue.Processor
	recorder *runstore.Recorder
	notify   bool
	app      *app
}

// newRun builds a processor over items. extra hooks are chained after the
// store recorder.
func (a *app) newRun(ctx context.Context, items []domain.WorkItem, source string, notifyOnComplete bool, extra ...queue.Hooks) (*run, error) {
	if err := a.store.UpsertItems(ctx, items); err != nil {
		return nil, fmt.Errorf("store items: %w", err)
	}

	runID := uuid.NewString()
	recorder, err := a.store.NewRecorder(ctx, runID, source, items, a.log)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	r := &run{app: a, recorder: recorder, notify: notifyOnComplete}
	hooks := append([]queue.Hooks{recorder.Hooks()}, extra...)
	hooks = append(hooks, queue.Hooks{OnComplete: r.complete})

	r.proc = queue.New(items, a.client,
		queue.WithRunID(runID),
		queue.WithMaxRetries(a.cfg.Queue.MaxRetries),
		queue.WithBackoff(a.cfg.Queue.RetryDelay.Std()),
		queue.WithHooks(queue.ChainHooks(hooks...)),
		queue.WithLogger(a.log),
	)
	return r, nil
}

func (r *run) complete(snap domain.RunSnapshot) {
	if !r.notify {
		return
	}
	n := notify.RunSummary(snap)
	if err := r.app.notifier.Send(n); err != nil {
		r.app.log.Warn("Failed to send notification", logger.String("run_id", snap.RunID), logger.Error(err))
	}
}

// execute starts the processor and drives it to the end. A stopped run is
// recorded as stopped and notified like a completed one.
func (r *run) execute(ctx context.Context) ([]domain.Outcome, error) {
	outcomes, err := r.proc.Run(ctx)
	if errors.Is(err, queue.ErrStopped) {
		r.recorder.Finish(domain.PhaseStopped)
		r.complete(r.proc.Snapshot())
		return outcomes, nil
	}
	if err != nil {
		r.recorder.Finish(domain.PhaseStopped)
		return outcomes, err
	}
	return outcomes, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/hochfrequenz/oa-pipeline/internal/batch"
	"github.com/hochfrequenz/oa-pipeline/internal/config"
	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	"github.com/hochfrequenz/oa-pipeline/internal/inbox"
	"github.com/hochfrequenz/oa-pipeline/internal/logger"
	"github.com/hochfrequenz/oa-pipeline/internal/runstore"
	"github.com/hochfrequenz/oa-pipeline/web/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	servePort  int
	daemonPort int
)

func init() {
	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve [FILE]",
		Short: "Run questions behind the HTTP control API",
		Long: `Start the HTTP control API. When FILE is given its questions are
processed as a run that can be paused, resumed and stopped over the API.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)

	// daemon command
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Process inbox files and scheduled batches",
		Long: `Watch the inbox directory for question exports and run the configured
[[schedule]] batches, serving the HTTP control API for the active run.`,
		RunE: runDaemon,
	}
	daemonCmd.Flags().IntVar(&daemonPort, "port", 0, "port to listen on (default from config)")
	rootCmd.AddCommand(daemonCmd)
}

func listenAddr(web config.WebConfig, port int) string {
	if port == 0 {
		port = web.Port
	}
	return fmt.Sprintf("%s:%d", web.Host, port)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireBackend(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(listenAddr(a.cfg.Web, servePort),
		api.WithSolver(a.newWorkflow()),
		api.WithHistory(a.store),
		api.WithLogger(a.log),
	)

	var r *run
	if len(args) == 1 {
		items, err := readItems(args[0])
		if err != nil {
			return err
		}
		r, err = a.newRun(ctx, items, filepath.Base(args[0]), true, srv.Hooks())
		if err != nil {
			return err
		}
		srv.SetRun(r.proc)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if r != nil {
		g.Go(func() error {
			stopOnCancel := context.AfterFunc(gctx, r.proc.Stop)
			defer stopOnCancel()

			_, err := r.execute(context.Background())
			printSummary(r.proc.Snapshot())
			// The server keeps running until interrupted so the run stays inspectable.
			return err
		})
	}

	return g.Wait()
}

// runSerializer lets inbox files and scheduled batches share the server
// without overlapping.
type runSerializer struct {
	mu  sync.Mutex
	app *app
	srv *api.Server
}

func (s *runSerializer) process(ctx context.Context, items []domain.WorkItem, source string, notifyOnComplete bool) error {
	if len(items) == 0 {
		s.app.log.Info("Nothing to process", logger.String("source", source))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.app.newRun(ctx, items, source, notifyOnComplete, s.srv.Hooks())
	if err != nil {
		return err
	}
	s.srv.SetRun(r.proc)

	stopOnCancel := context.AfterFunc(ctx, r.proc.Stop)
	defer stopOnCancel()

	_, err = r.execute(context.Background())
	succeeded, failed := r.proc.Snapshot().Counts()
	s.app.log.Info("Run finished",
		logger.String("run_id", r.proc.RunID()),
		logger.String("source", source),
		logger.Int("succeeded", succeeded),
		logger.Int("failed", failed),
	)
	return err
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireBackend(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(listenAddr(a.cfg.Web, daemonPort),
		api.WithSolver(a.newWorkflow()),
		api.WithHistory(a.store),
		api.WithLogger(a.log),
	)
	runner := &runSerializer{app: a, srv: srv}

	watcher, err := inbox.NewWatcher(a.cfg.General.InboxDir,
		func(ctx context.Context, path string, items []domain.WorkItem) error {
			return runner.process(ctx, items, filepath.Base(path), true)
		}, a.log)
	if err != nil {
		return err
	}

	sched, err := batch.NewScheduler(a.cfg.Schedules, a.log)
	if err != nil {
		return err
	}

	a.log.Info("Daemon started",
		logger.String("inbox", a.cfg.General.InboxDir),
		logger.Int("schedules", len(a.cfg.Schedules)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		watcher.Start(gctx)
		<-gctx.Done()
		watcher.Stop()
		return nil
	})
	g.Go(func() error {
		sched.Start(gctx, func(ctx context.Context, c batch.BatchConfig) error {
			items, err := a.store.ListItems(ctx, runstore.ListOptions{OnlyPending: true, Limit: c.MaxItems})
			if err != nil {
				return err
			}
			return runner.process(ctx, items, "schedule:"+c.Name, c.NotifyOnComplete)
		})
		return nil
	})

	return g.Wait()
}

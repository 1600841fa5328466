// Package api serves a small HTTP control surface for a running queue and
// the screenshot solver.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	"github.com/hochfrequenz/oa-pipeline/internal/logger"
	"github.com/hochfrequenz/oa-pipeline/internal/queue"
	"github.com/hochfrequenz/oa-pipeline/internal/runstore"
	"github.com/hochfrequenz/oa-pipeline/internal/solver"
)

// RunController is the live run. *queue.Processor satisfies it.
type RunController interface {
	Snapshot() domain.RunSnapshot
	Outcomes() []domain.Outcome
	Log() []domain.LogEntry
	Pause()
	Resume()
	Stop()
}

// Solver runs the screenshot workflow. *solver.Workflow satisfies it.
type Solver interface {
	Run(ctx context.Context, images []solver.Image, targetLanguage string) (*solver.Result, error)
}

// History reads past runs. *runstore.Store satisfies it.
type History interface {
	ListRuns(ctx context.Context, limit int) ([]*runstore.Run, error)
	GetRun(ctx context.Context, id string) (*runstore.Run, error)
	ListOutcomes(ctx context.Context, runID string) ([]domain.Outcome, error)
	ListLogs(ctx context.Context, runID string) ([]domain.LogEntry, error)
}

// Server is the HTTP API server
type Server struct {
	mu      sync.RWMutex
	run     RunController
	solver  Solver
	history History
	addr    string
	mux     *http.ServeMux
	sseHub  *SSEHub
	log     logger.Logger
}

// Option configures a Server
type Option func(*Server)

// WithRun attaches the live run
func WithRun(run RunController) Option {
	return func(s *Server) { s.run = run }
}

// WithSolver enables POST /api/solve
func WithSolver(sv Solver) Option {
	return func(s *Server) { s.solver = sv }
}

// WithHistory enables the /api/runs endpoints
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithLogger sets the structured logger
func WithLogger(log logger.Logger) Option {
	return func(s *Server) { s.log = log }
}

// NewServer creates a new API server
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		mux:    http.NewServeMux(),
		sseHub: NewSSEHub(),
		log:    logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// SetRun attaches a run after construction, e.g. when the server outlives several runs
func (s *Server) SetRun(run RunController) {
	s.mu.Lock()
	s.run = run
	s.mu.Unlock()
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/outcomes", s.outcomesHandler())
	s.mux.HandleFunc("/api/logs", s.logsHandler())
	s.mux.HandleFunc("/api/run/", s.controlHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/solve", s.solveHandler())
	s.mux.HandleFunc("/api/runs", s.listRunsHandler())
	s.mux.HandleFunc("/api/runs/", s.getRunHandler())
}

// Handler returns the server's routes
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API server listening", logger.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.sseHub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Broadcast sends an event to all SSE clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

// Hooks returns processor hooks that stream run events to SSE clients
func (s *Server) Hooks() queue.Hooks {
	return queue.Hooks{
		OnLog: func(e domain.LogEntry) {
			s.Broadcast(SSEEvent{Type: EventLog, Data: logToResponse(e)})
		},
		OnStage: func(item domain.WorkItem, stage domain.Stage) {
			s.Broadcast(SSEEvent{Type: EventStage, Data: StageResponse{ItemID: item.ID, Stage: string(stage)}})
		},
		OnOutcome: func(_ domain.WorkItem, o domain.Outcome) {
			s.Broadcast(SSEEvent{Type: EventOutcome, Data: o})
		},
		OnComplete: func(snap domain.RunSnapshot) {
			s.Broadcast(SSEEvent{Type: EventComplete, Data: snapshotToResponse(snap)})
		},
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

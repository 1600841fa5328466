package api

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	"github.com/hochfrequenz/oa-pipeline/internal/generation"
	"github.com/hochfrequenz/oa-pipeline/internal/logger"
	"github.com/hochfrequenz/oa-pipeline/internal/runstore"
	"github.com/hochfrequenz/oa-pipeline/internal/solver"
)

const maxUploadBytes = 32 << 20

// StatusResponse is the API response for the live run
type StatusResponse struct {
	RunID         string        `json:"run_id"`
	Phase         string        `json:"phase"`
	Stage         string        `json:"stage,omitempty"`
	Cursor        int           `json:"cursor"`
	Total         int           `json:"total"`
	RetryAttempts int           `json:"retry_attempts"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	CurrentItem   *ItemResponse `json:"current_item,omitempty"`
}

// ItemResponse is the API response for a work item
type ItemResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// StageResponse is the payload of a stage event
type StageResponse struct {
	ItemID string `json:"item_id"`
	Stage  string `json:"stage"`
}

// LogResponse is one run log line
type LogResponse struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
	Line      string `json:"line"`
}

// RunResponse is the API response for a recorded run
type RunResponse struct {
	ID         string  `json:"id"`
	Source     string  `json:"source,omitempty"`
	Phase      string  `json:"phase"`
	Total      int     `json:"total"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
}

// RunDetailResponse adds outcomes and log to a recorded run
type RunDetailResponse struct {
	RunResponse
	Outcomes []domain.Outcome `json:"outcomes"`
	Logs     []LogResponse    `json:"logs"`
}

// SolveResponse is the API response for the screenshot workflow
type SolveResponse struct {
	Language         string             `json:"language"`
	ProblemStatement string             `json:"problem_statement"`
	SolutionCode     string             `json:"solution_code"`
	Usage            *domain.TokenUsage `json:"usage,omitempty"`
	ExtractSeconds   float64            `json:"extract_seconds"`
	SolveSeconds     float64            `json:"solve_seconds"`
	Logs             []LogResponse      `json:"logs"`
}

func snapshotToResponse(snap domain.RunSnapshot) StatusResponse {
	succeeded, failed := snap.Counts()
	resp := StatusResponse{
		RunID:         snap.RunID,
		Phase:         string(snap.Phase),
		Stage:         string(snap.Stage),
		Cursor:        snap.Cursor,
		Total:         snap.Total,
		RetryAttempts: snap.RetryAttempts,
		Succeeded:     succeeded,
		Failed:        failed,
	}
	if snap.CurrentItem != nil {
		resp.CurrentItem = &ItemResponse{ID: snap.CurrentItem.ID, Title: snap.CurrentItem.Title}
	}
	return resp
}

func logToResponse(e domain.LogEntry) LogResponse {
	return LogResponse{
		Timestamp: e.Timestamp.Format(time.RFC3339),
		Text:      e.Text,
		Line:      e.String(),
	}
}

func logsToResponse(entries []domain.LogEntry) []LogResponse {
	out := make([]LogResponse, len(entries))
	for i, e := range entries {
		out[i] = logToResponse(e)
	}
	return out
}

func runToResponse(r *runstore.Run) RunResponse {
	resp := RunResponse{
		ID:        r.ID,
		Source:    r.Source,
		Phase:     string(r.Phase),
		Total:     r.Total,
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		StartedAt: r.StartedAt.Format(time.RFC3339),
	}
	if r.FinishedAt != nil {
		t := r.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &t
	}
	return resp
}

func (s *Server) requireRun(w http.ResponseWriter) (RunController, bool) {
	s.mu.RLock()
	run := s.run
	s.mu.RUnlock()
	if run == nil {
		writeError(w, http.StatusServiceUnavailable, "no active run")
		return nil, false
	}
	return run, true
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		run, ok := s.requireRun(w)
		if !ok {
			return
		}
		writeJSON(w, snapshotToResponse(run.Snapshot()))
	}
}

func (s *Server) outcomesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		run, ok := s.requireRun(w)
		if !ok {
			return
		}
		writeJSON(w, run.Outcomes())
	}
}

func (s *Server) logsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		run, ok := s.requireRun(w)
		if !ok {
			return
		}

		entries := run.Log()
		// Optional tail
		if tail, err := strconv.Atoi(r.URL.Query().Get("tail")); err == nil && tail > 0 && tail < len(entries) {
			entries = entries[len(entries)-tail:]
		}
		writeJSON(w, logsToResponse(entries))
	}
}

// controlHandler serves POST /api/run/{pause|resume|stop}
func (s *Server) controlHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		run, ok := s.requireRun(w)
		if !ok {
			return
		}

		action := strings.TrimPrefix(r.URL.Path, "/api/run/")
		switch action {
		case "pause":
			run.Pause()
		case "resume":
			run.Resume()
		case "stop":
			run.Stop()
		default:
			writeError(w, http.StatusNotFound, "unknown action")
			return
		}

		s.log.Info("Run control", logger.String("action", action))
		writeJSON(w, snapshotToResponse(run.Snapshot()))
	}
}

func (s *Server) solveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.solver == nil {
			writeError(w, http.StatusServiceUnavailable, "solver not configured")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}

		images, err := uploadedImages(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := s.solver.Run(r.Context(), images, r.FormValue("language"))
		if err != nil {
			var ge *generation.Error
			switch {
			case errors.Is(err, solver.ErrNoImages):
				writeError(w, http.StatusBadRequest, err.Error())
			case errors.As(err, &ge):
				writeError(w, http.StatusBadGateway, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}

		writeJSON(w, SolveResponse{
			Language:         res.Language,
			ProblemStatement: res.ProblemStatement,
			SolutionCode:     res.SolutionCode,
			Usage:            res.Usage,
			ExtractSeconds:   res.ExtractDuration.Seconds(),
			SolveSeconds:     res.SolveDuration.Seconds(),
			Logs:             logsToResponse(res.Log),
		})
	}
}

// uploadedImages collects image_<N> parts in index order
func uploadedImages(r *http.Request) ([]solver.Image, error) {
	type indexed struct {
		n   int
		img solver.Image
	}
	var parts []indexed

	for field, headers := range r.MultipartForm.File {
		if !strings.HasPrefix(field, "image_") || len(headers) == 0 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(field, "image_"))
		if err != nil {
			continue
		}
		fh := headers[0]
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		ct := fh.Header.Get("Content-Type")
		if ct == "" || ct == "application/octet-stream" {
			ct = solver.DetectContentType(fh.Filename, data)
		}
		parts = append(parts, indexed{n: n, img: solver.Image{Filename: fh.Filename, ContentType: ct, Data: data}})
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].n < parts[j].n })
	images := make([]solver.Image, len(parts))
	for i, p := range parts {
		images[i] = p.img
	}
	return images, nil
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.history == nil {
			writeError(w, http.StatusServiceUnavailable, "history not configured")
			return
		}

		limit := 20
		if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
			limit = n
		}

		runs, err := s.history.ListRuns(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := make([]RunResponse, len(runs))
		for i, run := range runs {
			resp[i] = runToResponse(run)
		}
		writeJSON(w, resp)
	}
}

func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.history == nil {
			writeError(w, http.StatusServiceUnavailable, "history not configured")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "run id required")
			return
		}

		run, err := s.history.GetRun(r.Context(), id)
		if errors.Is(err, runstore.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		outcomes, err := s.history.ListOutcomes(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		logs, err := s.history.ListLogs(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		if outcomes == nil {
			outcomes = []domain.Outcome{}
		}
		writeJSON(w, RunDetailResponse{
			RunResponse: runToResponse(run),
			Outcomes:    outcomes,
			Logs:        logsToResponse(logs),
		})
	}
}

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	"github.com/hochfrequenz/oa-pipeline/internal/generation"
	"github.com/hochfrequenz/oa-pipeline/internal/runstore"
	"github.com/hochfrequenz/oa-pipeline/internal/solver"
)

type mockRun struct {
	snap    domain.RunSnapshot
	log     []domain.LogEntry
	actions []string
}

func (m *mockRun) Snapshot() domain.RunSnapshot { return m.snap }
func (m *mockRun) Outcomes() []domain.Outcome   { return m.snap.Outcomes }
func (m *mockRun) Log() []domain.LogEntry       { return m.log }
func (m *mockRun) Pause()                       { m.actions = append(m.actions, "pause") }
func (m *mockRun) Resume()                      { m.actions = append(m.actions, "resume") }
func (m *mockRun) Stop()                        { m.actions = append(m.actions, "stop") }

func newMockRun() *mockRun {
	return &mockRun{
		snap: domain.RunSnapshot{
			RunID:       "run-1",
			Phase:       domain.PhaseRunning,
			Stage:       domain.StageScaffolding,
			Cursor:      1,
			Total:       3,
			CurrentItem: &domain.WorkItem{ID: "2", Title: "Two Sum"},
			Outcomes:    []domain.Outcome{{ItemID: "1", Status: domain.OutcomeSuccess, Message: "Processed successfully"}},
		},
		log: []domain.LogEntry{
			{Timestamp: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), Text: "one"},
			{Timestamp: time.Date(2025, 1, 1, 9, 0, 1, 0, time.UTC), Text: "two"},
			{Timestamp: time.Date(2025, 1, 1, 9, 0, 2, 0, time.UTC), Text: "three"},
		},
	}
}

func TestStatusHandler(t *testing.T) {
	server := NewServer(":8080", WithRun(newMockRun()))
	handler := server.statusHandler()

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}

	var status StatusResponse
	json.NewDecoder(w.Body).Decode(&status)

	if status.Phase != "running" || status.Stage != "scaffolding" || status.Total != 3 {
		t.Errorf("status = %+v", status)
	}
	if status.Succeeded != 1 || status.CurrentItem == nil || status.CurrentItem.ID != "2" {
		t.Errorf("status = %+v", status)
	}
}

func TestStatusHandler_NoRun(t *testing.T) {
	server := NewServer(":8080")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/status", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want 503", w.Code)
	}
}

func TestOutcomesAndLogs(t *testing.T) {
	server := NewServer(":8080", WithRun(newMockRun()))

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/outcomes", nil))
	var outcomes []domain.Outcome
	json.NewDecoder(w.Body).Decode(&outcomes)
	if len(outcomes) != 1 || outcomes[0].Status != domain.OutcomeSuccess {
		t.Errorf("outcomes = %+v", outcomes)
	}

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/logs?tail=2", nil))
	var logs []LogResponse
	json.NewDecoder(w.Body).Decode(&logs)
	if len(logs) != 2 || logs[0].Text != "two" {
		t.Errorf("logs = %+v", logs)
	}
	if !strings.HasSuffix(logs[1].Line, "] three") {
		t.Errorf("line = %q", logs[1].Line)
	}
}

func TestControlHandler(t *testing.T) {
	run := newMockRun()
	server := NewServer(":8080", WithRun(run))

	for _, action := range []string{"pause", "resume", "stop"} {
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/run/"+action, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s: Status = %d", action, w.Code)
		}
	}
	if strings.Join(run.actions, ",") != "pause,resume,stop" {
		t.Errorf("actions = %v", run.actions)
	}

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/run/explode", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown action: Status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/run/pause", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: Status = %d", w.Code)
	}
}

type mockSolver struct {
	images []solver.Image
	lang   string
	err    error
}

func (m *mockSolver) Run(ctx context.Context, images []solver.Image, lang string) (*solver.Result, error) {
	m.images = images
	m.lang = lang
	if m.err != nil {
		return nil, m.err
	}
	return &solver.Result{
		Language:         lang,
		ProblemStatement: "statement",
		SolutionCode:     "code",
		ExtractDuration:  1500 * time.Millisecond,
		SolveDuration:    2 * time.Second,
	}, nil
}

func solveRequest(t *testing.T, files map[string]string, lang string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for field, name := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte("\x89PNG\r\n\x1a\n" + field))
	}
	mw.WriteField("language", lang)
	mw.Close()

	req := httptest.NewRequest("POST", "/api/solve", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestSolveHandler(t *testing.T) {
	sv := &mockSolver{}
	server := NewServer(":8080", WithSolver(sv))

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, solveRequest(t, map[string]string{
		"image_1": "second.png",
		"image_0": "first.png",
		"other":   "ignored.png",
	}, "Java"))

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d: %s", w.Code, w.Body.String())
	}
	var resp SolveResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.SolutionCode != "code" || resp.ExtractSeconds != 1.5 {
		t.Errorf("resp = %+v", resp)
	}
	if sv.lang != "Java" || len(sv.images) != 2 {
		t.Fatalf("solver got lang=%q images=%d", sv.lang, len(sv.images))
	}
	if sv.images[0].Filename != "first.png" || sv.images[1].Filename != "second.png" {
		t.Errorf("image order = %s, %s", sv.images[0].Filename, sv.images[1].Filename)
	}
	if sv.images[0].ContentType != "image/png" {
		t.Errorf("content type = %s", sv.images[0].ContentType)
	}
}

func TestSolveHandler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"no images", solver.ErrNoImages, http.StatusBadRequest},
		{"backend", &generation.Error{Kind: generation.KindTransport, Message: "HTTP error! status: 500"}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(":8080", WithSolver(&mockSolver{err: tt.err}))
			w := httptest.NewRecorder()
			server.Handler().ServeHTTP(w, solveRequest(t, map[string]string{"image_0": "a.png"}, ""))
			if w.Code != tt.wantCode {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestRunsHandlers(t *testing.T) {
	store, err := runstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	_ = store.CreateRun(ctx, "r1", "batch.json", 1)
	_ = store.RecordOutcome(ctx, "r1", 0, domain.Outcome{ItemID: "1", Status: domain.OutcomeError, Message: "HTTP error! status: 500"})
	_ = store.AppendLog(ctx, "r1", domain.LogEntry{Timestamp: time.Now(), Text: "hello"})
	_ = store.FinishRun(ctx, "r1", domain.PhaseCompleted)

	server := NewServer(":8080", WithHistory(store))

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/runs", nil))
	var runs []RunResponse
	json.NewDecoder(w.Body).Decode(&runs)
	if len(runs) != 1 || runs[0].Failed != 1 || runs[0].FinishedAt == nil {
		t.Errorf("runs = %+v", runs)
	}

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/runs/r1", nil))
	var detail RunDetailResponse
	json.NewDecoder(w.Body).Decode(&detail)
	if detail.ID != "r1" || len(detail.Outcomes) != 1 || len(detail.Logs) != 1 {
		t.Errorf("detail = %+v", detail)
	}

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/runs/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing run: Status = %d", w.Code)
	}
}

func TestSSE_StreamsHookEvents(t *testing.T) {
	server := NewServer(":8080")
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for server.sseHub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	hooks := server.Hooks()
	hooks.OnStage(domain.WorkItem{ID: "9"}, domain.StageSolving)
	hooks.OnOutcome(domain.WorkItem{ID: "9"}, domain.Outcome{ItemID: "9", Status: domain.OutcomeSuccess})

	reader := bufio.NewReader(resp.Body)
	var events []string
	for len(events) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimSpace(strings.TrimPrefix(line, "event: ")))
		}
	}
	if events[0] != EventStage || events[1] != EventOutcome {
		t.Errorf("events = %v", events)
	}
}

func TestSSEHub_Close(t *testing.T) {
	hub := NewSSEHub()
	ch := hub.Subscribe()
	hub.Close()

	if _, ok := <-ch; ok {
		t.Error("client channel should be closed")
	}
	if hub.ClientCount() != 0 {
		t.Error("no clients after Close")
	}
	// Unsubscribe after Close must not panic
	hub.Unsubscribe(ch)
	if _, ok := <-hub.Subscribe(); ok {
		t.Error("subscribing to a closed hub yields a closed channel")
	}
}

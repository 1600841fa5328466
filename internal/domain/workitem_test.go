package domain

import (
	"testing"
	"time"
)

func TestParseWorkItems(t *testing.T) {
	data := []byte(`[
		{"id": 1, "title": "Two Sum", "problem_statement": "<p>Given nums...</p>"},
		{"id": "abc-2", "title": "Reverse", "problem_statement": "reverse it"}
	]`)

	items, err := ParseWorkItems(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].ID != "1" {
		t.Errorf("items[0].ID = %q, want %q", items[0].ID, "1")
	}
	if items[0].ProblemStatementHTML != "<p>Given nums...</p>" {
		t.Errorf("ProblemStatementHTML = %q", items[0].ProblemStatementHTML)
	}
	if items[1].ID != "abc-2" {
		t.Errorf("items[1].ID = %q, want %q", items[1].ID, "abc-2")
	}
}

func TestParseWorkItems_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not an array", `{"id": 1}`},
		{"missing id", `[{"title": "x"}]`},
		{"null id", `[{"id": null, "title": "x"}]`},
		{"blank id", `[{"id": "  ", "title": "x"}]`},
		{"bool id", `[{"id": true, "title": "x"}]`},
		{"duplicate id", `[{"id": 7}, {"id": "7"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseWorkItems([]byte(tt.data)); err == nil {
				t.Errorf("ParseWorkItems(%s) should fail", tt.data)
			}
		})
	}
}

func TestRunPhase_Terminal(t *testing.T) {
	tests := []struct {
		phase RunPhase
		want  bool
	}{
		{PhaseIdle, false},
		{PhaseRunning, false},
		{PhasePaused, false},
		{PhaseCompleted, true},
		{PhaseStopped, true},
	}
	for _, tt := range tests {
		if got := tt.phase.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.phase, got, tt.want)
		}
	}
}

func TestRunSnapshot_Counts(t *testing.T) {
	snap := RunSnapshot{Outcomes: []Outcome{
		{ItemID: "1", Status: OutcomeSuccess},
		{ItemID: "2", Status: OutcomeError},
		{ItemID: "3", Status: OutcomeSuccess},
	}}
	ok, failed := snap.Counts()
	if ok != 2 || failed != 1 {
		t.Errorf("Counts() = (%d, %d), want (2, 1)", ok, failed)
	}
}

func TestLogEntry_String(t *testing.T) {
	e := LogEntry{Timestamp: time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC), Text: "hello"}
	if got := e.String(); got != "[15:04:05] hello" {
		t.Errorf("String() = %q", got)
	}
}

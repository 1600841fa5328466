package batch

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 22 * * *", false},   // 10 PM daily
		{"0 12 * * 1-5", false}, // noon weekdays
		{"*/5 * * * *", false},  // every 5 minutes
		{"invalid", true},
		{"* * * * * *", true}, // seconds field not accepted
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestBatchConfig_Validate(t *testing.T) {
	cfg := BatchConfig{Name: "overnight", Cron: "0 22 * * *"}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Valid config should not error: %v", err)
	}
	if cfg.MaxItems != DefaultMaxItems {
		t.Errorf("MaxItems = %d, want default %d", cfg.MaxItems, DefaultMaxItems)
	}

	cfg.Name = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Empty name should error")
	}

	cfg = BatchConfig{Name: "x", Cron: "not cron"}
	if err := cfg.Validate(); err == nil {
		t.Error("Invalid cron should error")
	}
}

func TestScheduler_NextRun(t *testing.T) {
	sched, err := NewScheduler([]BatchConfig{{Name: "test", Cron: "0 22 * * *"}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	next := sched.NextRun("test")
	if next.IsZero() {
		t.Fatal("NextRun should return a time")
	}
	if !next.After(time.Now()) {
		t.Error("NextRun should be in the future")
	}
	if !sched.NextRun("unknown").IsZero() {
		t.Error("unknown batch should have zero NextRun")
	}
}

func TestScheduler_ShouldRun(t *testing.T) {
	sched, err := NewScheduler([]BatchConfig{{Name: "test", Cron: "* * * * *"}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if sched.ShouldRun("test") {
		t.Error("Should not run immediately after start-up")
	}

	sched.lastRun["test"] = time.Now().Add(-2 * time.Minute)
	if !sched.ShouldRun("test") {
		t.Error("Should run after cron interval passed")
	}

	sched.MarkRunning("test")
	sched.lastRun["test"] = time.Now().Add(-2 * time.Minute)
	if sched.ShouldRun("test") {
		t.Error("Should not overlap a running batch")
	}

	sched.MarkComplete("test")
	if !sched.ShouldRun("test") {
		t.Error("Should run again once complete")
	}
}

func TestScheduler_FireDue(t *testing.T) {
	sched, err := NewScheduler([]BatchConfig{
		{Name: "a", Cron: "* * * * *"},
		{Name: "b", Cron: "0 0 1 1 *"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	sched.lastRun["a"] = time.Now().Add(-2 * time.Minute)

	var mu sync.Mutex
	var ran []string
	sched.fireDue(context.Background(), func(ctx context.Context, cfg BatchConfig) error {
		mu.Lock()
		ran = append(ran, cfg.Name)
		mu.Unlock()
		return nil
	})
	sched.wg.Wait()

	if len(ran) != 1 || ran[0] != "a" {
		t.Errorf("ran = %v, want [a]", ran)
	}
	if sched.ShouldRun("a") {
		t.Error("a should not be due again right after running")
	}
}

func TestScheduler_ListBatches(t *testing.T) {
	sched, err := NewScheduler([]BatchConfig{
		{Name: "zeta", Cron: "0 1 * * *"},
		{Name: "alpha", Cron: "0 2 * * *"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := sched.ListBatches()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Errorf("ListBatches() = %v", got)
	}
}

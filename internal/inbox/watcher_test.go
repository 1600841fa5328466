package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hochfrequenz/oa-pipeline/internal/domain"
)

type received struct {
	mu    sync.Mutex
	files map[string][]domain.WorkItem
}

func (r *received) callback(fail bool) QueueFileCallback {
	return func(ctx context.Context, path string, items []domain.WorkItem) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.files == nil {
			r.files = map[string][]domain.WorkItem{}
		}
		r.files[filepath.Base(path)] = items
		if fail {
			return errors.New("run failed")
		}
		return nil
	}
}

func (r *received) get(name string) ([]domain.WorkItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items, ok := r.files[name]
	return items, ok
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestWatcher_PicksUpNewFile(t *testing.T) {
	dir := t.TempDir()
	var rec received

	w, err := NewWatcher(dir, rec.callback(false), nil)
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebounce(20 * time.Millisecond)
	w.Start(context.Background())
	defer w.Stop()

	body := `[{"id": 1, "title": "Two Sum", "problem_statement": "<p>x</p>"}]`
	if err := os.WriteFile(filepath.Join(dir, "batch.json"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	// ignored
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644)

	waitFor(t, func() bool { return exists(filepath.Join(dir, DoneDir, "batch.json")) })

	items, ok := rec.get("batch.json")
	if !ok || len(items) != 1 || items[0].ID != "1" {
		t.Errorf("items = %+v", items)
	}
	if _, ok := rec.get("notes.txt"); ok {
		t.Error("non-json file should be ignored")
	}
}

func TestWatcher_ProcessesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "a.json"), []byte(`[{"id": "a1", "title": "A"}]`), 0644)
	_ = os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{not json`), 0644)

	var rec received
	w, err := NewWatcher(dir, rec.callback(false), nil)
	if err != nil {
		t.Fatal(err)
	}
	w.Start(context.Background())
	defer w.Stop()

	waitFor(t, func() bool {
		return exists(filepath.Join(dir, DoneDir, "a.json")) && exists(filepath.Join(dir, FailedDir, "bad.json"))
	})
	if _, ok := rec.get("bad.json"); ok {
		t.Error("unparseable file should not reach the callback")
	}
}

func TestWatcher_CallbackErrorMovesToFailed(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "q.json"), []byte(`[]`), 0644)

	var rec received
	w, err := NewWatcher(dir, rec.callback(true), nil)
	if err != nil {
		t.Fatal(err)
	}
	w.Start(context.Background())
	defer w.Stop()

	waitFor(t, func() bool { return exists(filepath.Join(dir, FailedDir, "q.json")) })
}

func TestWatcher_MoveAvoidsOverwrite(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	_ = os.WriteFile(filepath.Join(dir, DoneDir, "x.json"), []byte("old"), 0644)
	src := filepath.Join(dir, "x.json")
	_ = os.WriteFile(src, []byte("new"), 0644)

	if err := w.move(src, DoneDir); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, DoneDir))
	if len(entries) != 2 {
		t.Errorf("done/ has %d files, want 2", len(entries))
	}
}

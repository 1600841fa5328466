// Package inbox picks up queue files dropped into a directory.
package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	"github.com/hochfrequenz/oa-pipeline/internal/logger"
)

const (
	DoneDir   = "done"
	FailedDir = "failed"
)

// QueueFileCallback processes one parsed queue file. Returning an error
// moves the file to the failed directory.
type QueueFileCallback func(ctx context.Context, path string, items []domain.WorkItem) error

// Watcher monitors a directory for *.json queue files. Files are handled
// one at a time in name order, then moved to done/ or failed/.
type Watcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	callback QueueFileCallback
	debounce time.Duration
	log      logger.Logger

	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	files  chan []string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher for dir, creating it when missing
func NewWatcher(dir string, callback QueueFileCallback, log logger.Logger) (*Watcher, error) {
	if log == nil {
		log = logger.NewNop()
	}
	for _, d := range []string{dir, filepath.Join(dir, DoneDir), filepath.Join(dir, FailedDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, err
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		dir:      dir,
		watcher:  fw,
		callback: callback,
		debounce: 500 * time.Millisecond, // Debounce rapid writes
		log:      log,
		pending:  make(map[string]struct{}),
		files:    make(chan []string, 16),
	}, nil
}

// SetDebounce sets how long a file must be quiet before it is handled
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Start handles files already in the directory, then watches for new ones
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	if existing := w.existing(); len(existing) > 0 {
		w.files <- existing
	}

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("Inbox watch error", logger.Error(err))
			}
		}
	}()

	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case batch := <-w.files:
				for _, path := range batch {
					if ctx.Err() != nil {
						return
					}
					w.process(ctx, path)
				}
			}
		}
	}()
}

// Stop stops watching and waits for the file being processed
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.watcher.Close()
	w.wg.Wait()
}

func isQueueFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json")
}

func (w *Watcher) existing() []string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && isQueueFile(e.Name()) {
			files = append(files, filepath.Join(w.dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !isQueueFile(event.Name) || filepath.Dir(event.Name) != filepath.Clean(w.dir) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[event.Name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	files := make([]string, 0, len(pending))
	for f := range pending {
		files = append(files, f)
	}
	if len(files) == 0 {
		return
	}
	sort.Strings(files)
	w.files <- files
}

func (w *Watcher) process(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		// already moved or deleted
		if !os.IsNotExist(err) {
			w.log.Warn("Failed to read queue file", logger.String("path", path), logger.Error(err))
		}
		return
	}

	items, err := domain.ParseWorkItems(data)
	if err == nil {
		w.log.Info("Processing queue file",
			logger.String("path", path),
			logger.Int("items", len(items)))
		err = w.callback(ctx, path, items)
	}

	target := DoneDir
	if err != nil {
		target = FailedDir
		w.log.Error("Queue file failed", logger.String("path", path), logger.Error(err))
	}
	if err := w.move(path, target); err != nil {
		w.log.Warn("Failed to move queue file", logger.String("path", path), logger.Error(err))
	}
}

func (w *Watcher) move(path, sub string) error {
	dest := filepath.Join(w.dir, sub, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(dest)
		dest = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(dest, ext), time.Now().UnixNano(), ext)
	}
	return os.Rename(path, dest)
}

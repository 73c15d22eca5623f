// Package watch re-runs work when local access logs change.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change describes a watched log whose contents changed.
type Change struct {
	Path string
	Size int64

	// Truncated is set when the log shrank, usually because it was rotated
	// or rewritten in place.
	Truncated bool
}

// Watcher monitors access logs and reports changes in debounced batches.
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]*fileState
	dirs     map[string]bool
	mu       sync.Mutex
	debounce time.Duration
	pending  map[string]bool
	timer    *time.Timer
	running  bool

	// OnChange receives every log that changed since the previous call.
	// Calls never overlap.
	OnChange func(changes []Change) error
	OnError  func(path string, err error)
}

type fileState struct {
	path         string
	lastModified time.Time
	size         int64
}

// NewWatcher creates a watcher that waits debounce after the last event
// before reporting. Zero uses 500ms.
func NewWatcher(debounce time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &Watcher{
		watcher:  fsWatcher,
		files:    make(map[string]*fileState),
		dirs:     make(map[string]bool),
		pending:  make(map[string]bool),
		debounce: debounce,
	}, nil
}

// Watch adds a log file.
func (w *Watcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[absPath] = &fileState{
		path:         absPath,
		lastModified: stat.ModTime(),
		size:         stat.Size(),
	}

	// Watch the directory so rotated logs are seen when they are recreated.
	dir := filepath.Dir(absPath)
	if w.dirs[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	w.dirs[dir] = true
	return nil
}

// Paths returns the watched logs, sorted.
func (w *Watcher) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Run starts the watch loop. Blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			absPath, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			w.mark(absPath)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if w.OnError != nil {
				w.OnError("", err)
			}
		}
	}
}

// mark queues path and restarts the debounce timer.
func (w *Watcher) mark(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.files[path]; !ok {
		return
	}
	w.pending[path] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.running {
		// A callback is in progress; it will re-check pending when done.
		w.mu.Unlock()
		return
	}
	w.running = true
	changes := w.collect()
	w.mu.Unlock()

	for len(changes) > 0 {
		if w.OnChange != nil {
			if err := w.OnChange(changes); err != nil && w.OnError != nil {
				w.OnError(changes[0].Path, err)
			}
		}
		w.mu.Lock()
		changes = w.collect()
		w.mu.Unlock()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

// collect stats pending logs and returns those that actually changed.
// Callers hold w.mu.
func (w *Watcher) collect() []Change {
	var changes []Change
	for path := range w.pending {
		delete(w.pending, path)
		state := w.files[path]

		// A log that vanished mid-rotation is picked up again on Create.
		stat, err := os.Stat(path)
		if err != nil {
			continue
		}
		if stat.ModTime().Equal(state.lastModified) && stat.Size() == state.size {
			continue
		}

		changes = append(changes, Change{
			Path:      path,
			Size:      stat.Size(),
			Truncated: stat.Size() < state.size,
		})
		state.lastModified = stat.ModTime()
		state.size = stat.Size()
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

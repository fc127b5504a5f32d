// Package watch imports files as they appear in watched directories.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Watcher monitors directories and hands each new file to OnFile once it
// has stopped changing for the debounce period. Each path is delivered at
// most once; later writes to a delivered file are reported through
// OnIgnored. Callbacks run one at a time on a single goroutine.
type Watcher struct {
	watcher  *fsnotify.Watcher
	pattern  string
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	done   map[string]bool

	ready chan string

	OnFile    func(ctx context.Context, path string) error
	OnError   func(path string, err error)
	OnIgnored func(path string)
}

// NewWatcher creates a watcher for files whose base name matches pattern.
// An empty pattern matches every file.
func NewWatcher(pattern string, debounce time.Duration) (*Watcher, error) {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid watch pattern %q", pattern)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:  fsWatcher,
		pattern:  pattern,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
		done:     make(map[string]bool),
		ready:    make(chan string, 64),
	}, nil
}

// WatchDir starts watching dir. Files already present are not delivered.
func (w *Watcher) WatchDir(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	stat, err := os.Stat(absDir)
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !stat.IsDir() {
		return fmt.Errorf("%s is not a directory", absDir)
	}

	if err := w.watcher.Add(absDir); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	return nil
}

// Run starts the watch loop. Blocks until ctx is canceled, then waits for
// the callback in progress to finish.
func (w *Watcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.deliver(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !w.matches(event.Name) {
				continue
			}
			w.schedule(event.Name)

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

func (w *Watcher) matches(path string) bool {
	if w.pattern == "" {
		return true
	}
	ok, err := doublestar.Match(w.pattern, filepath.Base(path))
	return err == nil && ok
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done[path] {
		if w.OnIgnored != nil {
			w.OnIgnored(path)
		}
		return
	}

	if timer, exists := w.timers[path]; exists {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		if w.done[path] {
			w.mu.Unlock()
			return
		}
		w.done[path] = true
		w.mu.Unlock()

		w.ready <- path
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
}

// deliver runs OnFile for settled paths until ctx is canceled.
func (w *Watcher) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.ready:
			info, err := os.Stat(path)
			if err != nil {
				if w.OnError != nil {
					w.OnError(path, err)
				}
				continue
			}
			if info.IsDir() || w.OnFile == nil {
				continue
			}
			if err := w.OnFile(ctx, path); err != nil && w.OnError != nil {
				w.OnError(path, err)
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

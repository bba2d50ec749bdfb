// Package watch reports debounced batches of C# source changes under a
// directory tree.
package watch

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jward/codefacts/internal/discover"
)

// Handler receives one batch of changed paths. Errors are logged and do not
// stop the watcher.
type Handler func(ctx context.Context, paths []string) error

// Watcher watches root recursively, skipping the directories discovery
// skips.
type Watcher struct {
	root     string
	debounce time.Duration
	extra    []string
	logger   *slog.Logger
	fsw      *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger for watch events.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithExtraIgnores skips additional directory names.
func WithExtraIgnores(names ...string) Option {
	return func(w *Watcher) { w.extra = names }
}

// New creates a watcher. Nothing is watched until Run.
func New(root string, debounce time.Duration, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:     root,
		debounce: debounce,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		fsw:      fsw,
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run blocks until ctx is done, calling h with each quiet batch of changes.
// A batch is flushed once no path in it has changed for the debounce
// interval.
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	tick := max(w.debounce/5, 10*time.Millisecond)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch.error", "err", err)

		case <-ticker.C:
			batch := w.due(time.Now())
			if len(batch) == 0 {
				continue
			}
			w.logger.Info("watch.change", "files", len(batch))
			if err := h(ctx, batch); err != nil {
				w.logger.Error("watch.handler", "err", err)
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !discover.IgnoredDir(filepath.Base(ev.Name), w.extra...) {
				if err := w.addRecursive(ev.Name); err != nil {
					w.logger.Warn("watch.add", "path", ev.Name, "err", err)
				}
			}
			return
		}
	}
	if !relevant(ev.Name) {
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	w.pending[ev.Name] = time.Now()
	w.mu.Unlock()
}

// due removes and returns the pending paths that have been quiet for the
// debounce interval, sorted. Nothing is returned while any path is still
// settling, so one edit burst yields one batch.
func (w *Watcher) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	for _, at := range w.pending {
		if now.Sub(at) < w.debounce {
			return nil
		}
	}
	batch := make([]string, 0, len(w.pending))
	for p := range w.pending {
		batch = append(batch, p)
	}
	clear(w.pending)
	sort.Strings(batch)
	return batch
}

func relevant(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cs", ".csproj", ".sln":
		return !strings.HasPrefix(filepath.Base(path), ".")
	}
	return false
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && discover.IgnoredDir(d.Name(), w.extra...) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("watch.add", "path", path, "err", err)
		}
		return nil
	})
}

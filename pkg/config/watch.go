package config

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period a [Watcher] waits for before it
// reports a batch of changes.
const DefaultDebounce = 250 * time.Millisecond

// ChangeHandler receives the deduplicated, sorted paths that changed.
type ChangeHandler func(paths []string)

// Watcher reports changes to a fixed set of files.
//
// fsnotify loses track of a file that an editor replaces by rename, so the
// watcher subscribes to each file's directory and filters by name.
// Bursts of events are coalesced into one call per debounce window.
type Watcher struct {
	files    map[string]bool
	handler  ChangeHandler
	debounce time.Duration
	logger   *log.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
}

// WatcherOptions configures [NewWatcher].
type WatcherOptions struct {
	Debounce time.Duration
	Logger   *log.Logger
}

// NewWatcher creates a watcher for paths. Empty paths are ignored.
func NewWatcher(paths []string, handler ChangeHandler, opts WatcherOptions) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	files := make(map[string]bool, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		files[abs] = true
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		files:    files,
		handler:  handler,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		watcher:  fw,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Files returns the absolute paths being watched.
func (w *Watcher) Files() []string {
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Start subscribes to the parent directories and begins delivering changes
// until ctx is cancelled or [Watcher.Stop] is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	dirs := make(map[string]bool)
	for f := range w.files {
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.started = true
	go w.loop(ctx)
	return nil
}

// Stop ends delivery and waits for the event loop to exit. Safe to call more
// than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
		w.mu.Lock()
		started := w.started
		w.mu.Unlock()
		if started {
			<-w.stopped
		}
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.stopped)

	pending := make(map[string]bool)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) > 0 && w.handler != nil {
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			slices.Sort(paths)
			w.handler(paths)
		}
		clear(pending)
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("file changed", "path", ev.Name, "op", ev.Op.String())
			pending[filepath.Clean(ev.Name)] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	return w.files[abs]
}

// WatchFile reloads the config at path whenever it changes and passes the
// result to onChange. Invalid edits are logged and skipped, leaving the
// previous configuration in effect.
func WatchFile(ctx context.Context, path string, logger *log.Logger, onChange func(*Config)) (*Watcher, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	w, err := NewWatcher([]string{path}, func([]string) {
		cfg, err := Load(path)
		if err != nil {
			logger.Warn("config reload failed", "path", path, "error", err)
			return
		}
		logger.Info("config reloaded", "path", path)
		onChange(cfg)
	}, WatcherOptions{Logger: logger})
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		_ = w.watcher.Close()
		return nil, err
	}
	return w, nil
}

// Package kbwatch reports knowledge-base file changes that the learning
// pipeline did not make itself.
//
// The pipeline announces every file it is about to write through Expect.
// Changes to a watched file inside that window are treated as its own; any
// other create, write, rename or remove is logged as an external edit and
// counted.
package kbwatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DefaultWindow is how long a change announced through Expect is attributed
// to the pipeline.
const DefaultWindow = 2 * time.Second

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Change is one external modification.
type Change struct {
	Path string
	Op   string
	At   time.Time
}

// Watcher watches a fixed set of files.
type Watcher struct {
	paths   map[string]struct{}
	dirs    []string
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	window  time.Duration
	now     func() time.Time
	counter prometheus.Counter
	notify  func(Change)

	mu       sync.Mutex
	started  bool
	expected map[string]time.Time
	reported map[string]time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithWindow sets how long an expected write suppresses events.
func WithWindow(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.window = d
		}
	}
}

// WithCounter counts external edits.
func WithCounter(c prometheus.Counter) Option {
	return func(w *Watcher) { w.counter = c }
}

// WithNotify registers a callback for every external edit.
func WithNotify(fn func(Change)) Option {
	return func(w *Watcher) { w.notify = fn }
}

// New creates a watcher for paths. Paths are made absolute; their parent
// directories are what is actually watched, since files written by rename
// replace the inode a file watch would follow.
func New(paths []string, logger *zap.Logger, opts ...Option) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, errors.New("at least one path is required")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	w := &Watcher{
		paths:    make(map[string]struct{}, len(paths)),
		logger:   logger,
		window:   DefaultWindow,
		now:      time.Now,
		expected: make(map[string]time.Time),
		reported: make(map[string]time.Time),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	seen := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		w.paths[abs] = struct{}{}
		dir := filepath.Dir(abs)
		if _, ok := seen[dir]; !ok {
			seen[dir] = struct{}{}
			w.dirs = append(w.dirs, dir)
		}
	}
	for _, opt := range opts {
		opt(w)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	w.watcher = fw
	return w, nil
}

// Expect marks path as about to be written by the pipeline. It matches the
// write hooks of kb.Store and backup.Manager.
func (w *Watcher) Expect(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.expected[abs] = w.now().Add(w.window)
	w.mu.Unlock()
}

// Start begins watching in a background goroutine. Call Stop to release the
// watcher.
func (w *Watcher) Start(ctx context.Context) error {
	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.processEvents(ctx)
	w.logger.Info("knowledge-base watcher started", zap.Strings("dirs", w.dirs))
	return nil
}

// Stop stops the watcher and waits for the event loop to exit. It is safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.done
	}
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("knowledge-base watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if _, ok := w.paths[path]; !ok {
		return
	}
	now := w.now()

	w.mu.Lock()
	if until, ok := w.expected[path]; ok {
		if now.Before(until) {
			w.mu.Unlock()
			return
		}
		delete(w.expected, path)
	}
	// editors emit several events per save
	if last, ok := w.reported[path]; ok && now.Sub(last) < w.window {
		w.mu.Unlock()
		return
	}
	w.reported[path] = now
	w.mu.Unlock()

	change := Change{Path: path, Op: event.Op.String(), At: now}
	w.logger.Warn("knowledge-base file changed outside the learning pipeline",
		zap.String("path", path),
		zap.String("op", change.Op),
	)
	if w.counter != nil {
		w.counter.Inc()
	}
	if w.notify != nil {
		w.notify(change)
	}
}

// Package watch reindexes explicitly registered transcript files when they
// change on disk.
//
// Only files passed to Add are watched; there is no directory discovery.
// fsnotify watches each file's parent directory so that editors which save
// by renaming a temp file over the original are still observed. Bursts of
// events for one path are coalesced by a debounce timer, and handler calls
// are throttled by a token bucket.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrClosed is returned by Add and Run after Close.
var ErrClosed = errors.New("watcher closed")

// Op says what a Change asks for.
type Op int

const (
	// OpUpdate means the file exists and should be reindexed.
	OpUpdate Op = iota
	// OpRemove means the file is gone and its sequence should be dropped.
	OpRemove
)

func (o Op) String() string {
	if o == OpRemove {
		return "remove"
	}
	return "update"
}

// Change is one debounced file change.
type Change struct {
	Path string
	Op   Op
}

// Handler reacts to a change. Errors are logged and do not stop the watcher.
type Handler func(ctx context.Context, ch Change) error

// Config tunes debouncing and throttling.
type Config struct {
	Debounce time.Duration
	// Rate is handler calls per second; Burst is the bucket size.
	Rate  float64
	Burst int
}

// DefaultConfig returns 250ms debounce and 20 calls/s with a burst of 10.
func DefaultConfig() Config {
	return Config{Debounce: 250 * time.Millisecond, Rate: 20, Burst: 10}
}

// ChangesTotal counts handled changes by op and outcome.
var ChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chatindex_watch_changes_total",
	Help: "Debounced file changes delivered to the index.",
}, []string{"op", "outcome"})

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l.Named("watch")
		}
	}
}

// Watcher delivers debounced changes for registered files.
type Watcher struct {
	cfg     Config
	fsw     *fsnotify.Watcher
	handler Handler
	limiter *rate.Limiter
	log     *zap.Logger

	mu      sync.Mutex
	paths   map[string]struct{}
	dirs    map[string]int
	pending map[string]*time.Timer
	closed  bool

	queue chan string
	stop  chan struct{}
}

// New creates a watcher. Run must be called to deliver changes.
func New(cfg Config, handler Handler, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watch: nil handler")
	}
	if cfg.Debounce < 0 || cfg.Rate <= 0 || cfg.Burst <= 0 {
		return nil, fmt.Errorf("watch: invalid config %+v", cfg)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		cfg:     cfg,
		fsw:     fsw,
		handler: handler,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		log:     zap.NewNop(),
		paths:   make(map[string]struct{}),
		dirs:    make(map[string]int),
		pending: make(map[string]*time.Timer),
		queue:   make(chan string, 64),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Add registers a file. The file need not exist yet, but its directory must.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch: resolve %s: %w", path, err)
	}
	abs = filepath.Clean(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if _, ok := w.paths[abs]; ok {
		return nil
	}
	dir := filepath.Dir(abs)
	if w.dirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watch: add %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.paths[abs] = struct{}{}
	return nil
}

// Remove unregisters a file. Unknown paths are ignored.
func (w *Watcher) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch: resolve %s: %w", path, err)
	}
	abs = filepath.Clean(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.paths[abs]; !ok {
		return nil
	}
	delete(w.paths, abs)
	if t, ok := w.pending[abs]; ok {
		t.Stop()
		delete(w.pending, abs)
	}
	dir := filepath.Dir(abs)
	w.dirs[dir]--
	if w.dirs[dir] == 0 {
		delete(w.dirs, dir)
		if !w.closed {
			return w.fsw.Remove(dir)
		}
	}
	return nil
}

// Paths returns the registered files, sorted.
func (w *Watcher) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.paths))
	for p := range w.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Run delivers changes until ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.deliver(ctx)
	}()
	defer func() { <-done }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.observe(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("fsnotify error", zap.Error(err))
		}
	}
}

// observe (re)arms the debounce timer of a registered path.
func (w *Watcher) observe(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	path := filepath.Clean(ev.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.paths[path]; !ok || w.closed {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.cfg.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() { w.fire(path) })
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()

	select {
	case w.queue <- path:
	case <-w.stop:
	}
}

// deliver runs the handler for queued paths under the rate limit. The op is
// decided when the change is delivered, so a remove followed by a create
// within the debounce window is an update.
func (w *Watcher) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case path := <-w.queue:
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			ch := Change{Path: path, Op: OpUpdate}
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				ch.Op = OpRemove
			}
			outcome := "ok"
			if err := w.handler(ctx, ch); err != nil {
				outcome = "error"
				w.log.Warn("change handler failed",
					zap.String("source", path),
					zap.Stringer("op", ch.Op),
					zap.Error(err),
				)
			} else {
				w.log.Debug("change handled", zap.String("source", path), zap.Stringer("op", ch.Op))
			}
			ChangesTotal.WithLabelValues(ch.Op.String(), outcome).Inc()
		}
	}
}

// Close stops the watcher and pending timers. It is idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
	w.mu.Unlock()

	close(w.stop)
	return w.fsw.Close()
}

package feed

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remediator/internal/logging"
	"github.com/fyrsmithlabs/remediator/internal/problem"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce is the quiet period before a written feed is read.
const DefaultDebounce = 500 * time.Millisecond

// Handler is called once per settled feed file. Handlers run one at a time.
type Handler func(ctx context.Context, path string, feed []problem.RawProblem) error

// WatcherOptions configure a Watcher.
type WatcherOptions struct {
	Dir      string
	Pattern  string // filepath.Match pattern on the base name, default "*.json"
	Debounce time.Duration
	Logger   *logging.Logger
}

// Watcher runs a Handler for each feed file created or rewritten in a
// directory. Bursts of writes to one file collapse into a single call.
type Watcher struct {
	opts    WatcherOptions
	handler Handler
	watcher *fsnotify.Watcher
	logger  *logging.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
	done    chan struct{}
}

// NewWatcher creates a watcher on opts.Dir.
func NewWatcher(opts WatcherOptions, handler Handler) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("feed watcher: handler is required")
	}
	if opts.Pattern == "" {
		opts.Pattern = "*.json"
	}
	if _, err := filepath.Match(opts.Pattern, "feed.json"); err != nil {
		return nil, fmt.Errorf("feed watcher: bad pattern %q: %w", opts.Pattern, err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := fw.Add(opts.Dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", opts.Dir, err)
	}

	return &Watcher{
		opts:    opts,
		handler: handler,
		watcher: fw,
		logger:  logger.Named("feed-watcher"),
		pending: make(map[string]*time.Timer),
		ready:   make(chan string, 16),
		done:    make(chan struct{}),
	}, nil
}

// Run blocks until ctx is cancelled. Handler errors are logged and do not
// stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()
	w.logger.Info(ctx, "watching feed directory",
		zap.String("dir", w.opts.Dir), zap.String("pattern", w.opts.Pattern))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
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
			w.logger.Warn(ctx, "feed watcher error", zap.Error(err))

		case path := <-w.ready:
			w.handle(ctx, path)
		}
	}
}

func (w *Watcher) matches(path string) bool {
	ok, _ := filepath.Match(w.opts.Pattern, filepath.Base(path))
	return ok
}

// schedule (re)starts the debounce timer of path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) handle(ctx context.Context, path string) {
	feed, err := Load(path)
	if err != nil {
		w.logger.Warn(ctx, "skipping unreadable feed", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info(ctx, "feed settled", zap.String("path", path), zap.Int("problems", len(feed)))
	if err := w.handler(ctx, path, feed); err != nil {
		w.logger.Error(ctx, "feed handler failed", zap.String("path", path), zap.Error(err))
	}
}

func (w *Watcher) close() {
	close(w.done)
	w.mu.Lock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	_ = w.watcher.Close()
}

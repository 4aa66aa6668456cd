// Package watch forwards file system changes to a language server as
// workspace/didChangeWatchedFiles notifications.
//
// Raw fsnotify events are converted to LSP file events, coalesced per file
// over a short debounce window, and delivered to a Notifier in batches.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/lspsession/internal/logging"
	"github.com/dshills/lspsession/internal/lsp"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrPathNotExist    = errors.New("path does not exist")
)

// DefaultDebounce is how long events are collected before a batch is sent.
const DefaultDebounce = 100 * time.Millisecond

// Notifier receives batches of file events. *lsp.Session implements it.
type Notifier interface {
	DidChangeWatchedFiles(ctx context.Context, events []lsp.FileEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, events []lsp.FileEvent) error

// DidChangeWatchedFiles calls f.
func (f NotifierFunc) DidChangeWatchedFiles(ctx context.Context, events []lsp.FileEvent) error {
	return f(ctx, events)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the coalescing window. Zero sends every event alone.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithIgnore adds glob patterns matched against each path's base name.
func WithIgnore(patterns ...string) Option {
	return func(w *Watcher) {
		w.ignore = append(w.ignore, patterns...)
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// Watcher watches directories and forwards changes to a Notifier.
type Watcher struct {
	fsw      *fsnotify.Watcher
	notifier Notifier
	debounce time.Duration
	ignore   []string
	log      *logging.Logger

	mu     sync.Mutex
	paths  map[string]bool
	closed bool
}

// New creates a watcher delivering to notifier.
func New(notifier Notifier, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		notifier: notifier,
		debounce: DefaultDebounce,
		ignore:   []string{".git", "node_modules", "*.swp", "*~"},
		log:      logging.Nop(),
		paths:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.WithComponent("watch")
	return w, nil
}

// Add watches a single directory (or file).
func (w *Watcher) Add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}
	if w.paths[absPath] {
		return ErrAlreadyWatching
	}

	if err := w.fsw.Add(absPath); err != nil {
		return err
	}
	w.paths[absPath] = true
	return nil
}

// AddRecursive watches root and every directory below it that is not
// ignored.
func (w *Watcher) AddRecursive(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}
	if !info.IsDir() {
		return w.Add(absRoot)
	}

	return filepath.WalkDir(absRoot, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != absRoot && w.ignored(p) {
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil && !errors.Is(err, ErrAlreadyWatching) {
			w.log.Warn("watch %s: %v", p, err)
		}
		return nil
	})
}

// Watching returns the watched paths.
func (w *Watcher) Watching() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths := make([]string, 0, len(w.paths))
	for p := range w.paths {
		paths = append(paths, p)
	}
	return paths
}

// Run forwards events until ctx is done or the watcher is closed. A
// pending batch is flushed before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		b     batch
		timer *time.Timer
		fire  <-chan time.Time
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, fire = nil, nil
		}
		events := b.take()
		if len(events) == 0 {
			return
		}
		// The caller's ctx may already be done; deliver the last batch anyway.
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lsp.DefaultRequestTimeout)
		defer cancel()
		if err := w.notifier.DidChangeWatchedFiles(sendCtx, events); err != nil {
			w.log.Warn("forward %d file events: %v", len(events), err)
			return
		}
		w.log.Debug("forwarded %d file events", len(events))
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			fe, ok := w.convert(ev)
			if !ok {
				continue
			}
			b.add(fe)
			switch fe.Type {
			case lsp.FileCreated:
				for _, existing := range w.watchNewDir(ev.Name) {
					b.add(existing)
				}
			case lsp.FileDeleted:
				w.forget(ev.Name)
			}
			if w.debounce == 0 {
				flush()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			}

		case <-fire:
			timer, fire = nil, nil
			flush()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("fsnotify: %v", err)
		}
	}
}

// Close stops watching. Run returns once the event channel closes.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	return w.fsw.Close()
}

func (w *Watcher) convert(ev fsnotify.Event) (lsp.FileEvent, bool) {
	typ, ok := convertOp(ev.Op)
	if !ok || w.ignored(ev.Name) {
		return lsp.FileEvent{}, false
	}
	return lsp.FileEvent{URI: lsp.FilePathToURI(ev.Name), Type: typ}, true
}

// watchNewDir watches a directory that appeared while running. Files
// created in it before the watch was in place are returned as created.
func (w *Watcher) watchNewDir(path string) []lsp.FileEvent {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() || w.ignored(path) {
		return nil
	}
	if err := w.Add(path); err != nil {
		if !errors.Is(err, ErrAlreadyWatching) {
			w.log.Debug("watch new directory %s: %v", path, err)
		}
		return nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}
	var events []lsp.FileEvent
	for _, e := range entries {
		p := filepath.Join(path, e.Name())
		if w.ignored(p) {
			continue
		}
		if e.IsDir() {
			events = append(events, w.watchNewDir(p)...)
			continue
		}
		events = append(events, lsp.FileEvent{URI: lsp.FilePathToURI(p), Type: lsp.FileCreated})
	}
	return events
}

// forget drops path and everything below it from the watch list, so a
// directory recreated at the same path is watched again.
func (w *Watcher) forget(path string) {
	prefix := path + string(filepath.Separator)

	w.mu.Lock()
	var gone []string
	for p := range w.paths {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(w.paths, p)
			gone = append(gone, p)
		}
	}
	w.mu.Unlock()

	for _, p := range gone {
		// The kernel watch is usually gone already.
		_ = w.fsw.Remove(p)
	}
}

func (w *Watcher) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.ignore {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// convertOp maps an fsnotify operation to an LSP change type. Chmod alone
// is not a change.
func convertOp(op fsnotify.Op) (lsp.FileChangeType, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return lsp.FileDeleted, true
	case op.Has(fsnotify.Create):
		return lsp.FileCreated, true
	case op.Has(fsnotify.Write):
		return lsp.FileChanged, true
	default:
		return 0, false
	}
}

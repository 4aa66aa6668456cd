package lsp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/lspsession/internal/logging"
)

// Manager runs one session per configured file type, starting each
// lazily the first time a matching file is requested.
type Manager struct {
	mu       sync.Mutex
	configs  map[string]ServerConfig // filetype -> config
	sessions map[string]*Session

	requestTimeout  time.Duration
	shutdownTimeout time.Duration
	rootPath        string
	log             *logging.Logger
	onNotification  NotificationHandler
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithRequestTimeout sets the request timeout for every session.
func WithRequestTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.requestTimeout = d
	}
}

// WithShutdownTimeout sets the shutdown timeout for every session.
func WithShutdownTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.shutdownTimeout = d
	}
}

// WithRootPath sets the workspace root sent in initialize.
func WithRootPath(root string) ManagerOption {
	return func(m *Manager) {
		m.rootPath = root
	}
}

// WithLogger sets the logger handed to each session.
func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = l
	}
}

// WithNotificationHandler subscribes h to every notification of every
// session the manager starts.
func WithNotificationHandler(h NotificationHandler) ManagerOption {
	return func(m *Manager) {
		m.onNotification = h
	}
}

// NewManager creates a manager for the given servers. Each config's Name
// is the file type it serves.
func NewManager(servers []ServerConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		configs:  make(map[string]ServerConfig, len(servers)),
		sessions: make(map[string]*Session),
		log:      logging.Nop(),
	}
	for _, cfg := range servers {
		m.configs[cfg.Name] = cfg
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FiletypeFor returns the configured file type serving path: the file
// extension without its dot ("py"), or the detected language id
// ("python"). ok is false if neither is configured.
func (m *Manager) FiletypeFor(path string) (string, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if _, ok := m.configs[ext]; ok && ext != "" {
		return ext, true
	}
	if lang := DetectLanguageID(path); lang != "plaintext" {
		if _, ok := m.configs[lang]; ok {
			return lang, true
		}
	}
	return "", false
}

// SessionFor returns an initialized session for path's file type,
// starting the server if it is not running or has died.
func (m *Manager) SessionFor(ctx context.Context, path string) (*Session, error) {
	filetype, ok := m.FiletypeFor(path)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNoServer)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[filetype]; ok {
		if s.State() == StateInitialized && s.Alive() {
			return s, nil
		}
		m.log.Warn("restarting %s server (state %s)", filetype, s.State())
		s.Shutdown(ctx)
		delete(m.sessions, filetype)
	}

	s, err := m.start(ctx, m.configs[filetype])
	if err != nil {
		return nil, &ServerError{Filetype: filetype, Err: err}
	}
	m.sessions[filetype] = s
	return s, nil
}

func (m *Manager) start(ctx context.Context, cfg ServerConfig) (*Session, error) {
	s, err := Start(cfg, Options{
		RequestTimeout:  m.requestTimeout,
		ShutdownTimeout: m.shutdownTimeout,
		RootPath:        m.rootPath,
		LanguageID:      cfg.LanguageID,
		Logger:          m.log,
	})
	if err != nil {
		return nil, err
	}

	if m.onNotification != nil {
		s.Router().Subscribe(AllMethods, m.onNotification)
	}

	if err := s.Initialize(ctx); err != nil {
		s.Shutdown(ctx)
		return nil, err
	}
	return s, nil
}

// Session returns the running session for filetype, if any.
func (m *Manager) Session(filetype string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[filetype]
	return s, ok
}

// Filetypes returns the configured file types, sorted.
func (m *Manager) Filetypes() []string {
	fts := make([]string, 0, len(m.configs))
	for ft := range m.configs {
		fts = append(fts, ft)
	}
	sort.Strings(fts)
	return fts
}

// ShutdownAll shuts down every running session.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	// Every session is shut down even when others fail, and every
	// failure is reported.
	var g errgroup.Group
	errs := make([]error, 0, len(sessions))
	results := make(chan error, len(sessions))
	for ft, s := range sessions {
		ft, s := ft, s
		g.Go(func() error {
			if err := s.Shutdown(ctx); err != nil {
				results <- &ServerError{Filetype: ft, Err: err}
			}
			return nil
		})
	}
	g.Wait()
	close(results)
	for err := range results {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

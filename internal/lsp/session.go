package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/dshills/lspsession/internal/logging"
)

// Default timeouts.
const (
	DefaultRequestTimeout  = 10 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

// State is the handshake progress of a session.
type State int32

const (
	// StateUninitialized is the state before initialize, and after a
	// failed initialize.
	StateUninitialized State = iota
	// StateInitializing means the initialize request is in flight.
	StateInitializing
	// StateInitialized means capabilities are negotiated.
	StateInitialized
	// StateShutDown means shutdown has been issued. It is terminal.
	StateShutDown
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateShutDown:
		return "shut down"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Options configures a Session.
type Options struct {
	// RequestTimeout bounds every correlated request. Zero means
	// DefaultRequestTimeout.
	RequestTimeout time.Duration

	// ShutdownTimeout bounds the shutdown request and the wait for the
	// process to exit. Zero means DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// RootPath is sent as rootUri and the single workspace folder.
	RootPath string

	// LanguageID is used by DidOpen when the caller passes none. Empty
	// means detect from the file extension.
	LanguageID string

	// InitializationOptions are sent verbatim in initialize.
	InitializationOptions any

	// IDs allocates request ids. Nil gives the session its own allocator.
	IDs *IDAllocator

	// Logger receives session logs. Nil disables logging.
	Logger *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.IDs == nil {
		o.IDs = NewIDAllocator()
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	return o
}

// Session drives one language server: the initialize handshake,
// correlated requests, document sync notifications and the shutdown
// sequence.
//
// At most one correlated request is outstanding at a time. Callers from
// several goroutines are serialised, and whichever call holds the turn is
// the only consumer of the inbound queue. Notifications it drains on the
// way are dispatched to the Router, never dropped.
type Session struct {
	// ID identifies the session in logs.
	ID string

	opts      Options
	log       *logging.Logger
	transport *Transport
	process   *Process

	state atomic.Int32

	// turn holds a token while a call owns the inbound queue. It
	// serialises correlated requests and inbound consumption.
	turn chan struct{}

	capsMu     sync.RWMutex
	caps       ServerCapabilities
	serverInfo *InitializeServerInfo

	router      *Router
	diagnostics *DiagnosticsCache
	docs        *documentStore

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewSession wraps a running transport. The session owns the transport
// from here on.
func NewSession(t *Transport, opts Options) *Session {
	opts = opts.withDefaults()
	id := uuid.New().String()

	s := &Session{
		ID:          id,
		opts:        opts,
		log:         opts.Logger.WithComponent("lsp").WithField("session", id),
		transport:   t,
		turn:        make(chan struct{}, 1),
		router:      NewRouter(),
		diagnostics: NewDiagnosticsCache(),
		docs:        newDocumentStore(),
	}
	s.state.Store(int32(StateUninitialized))

	s.router.Subscribe("textDocument/publishDiagnostics", s.diagnostics.handleNotification)
	s.router.Subscribe("window/logMessage", s.logServerMessage)
	s.router.Subscribe("window/showMessage", s.logServerMessage)
	return s
}

// Start spawns the server described by cfg and wires a transport to its
// pipes. The returned session still needs Initialize.
func Start(cfg ServerConfig, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	proc, err := StartProcess(cfg, opts.Logger.WithComponent("lsp").WithField("server", cfg.Name))
	if err != nil {
		return nil, err
	}

	t := NewTransport(proc.Stdout(), proc.Stdin(),
		WithTransportLogger(opts.Logger.WithComponent("lsp").WithField("process", proc.ID)))

	s := NewSession(t, opts)
	s.process = proc
	s.log.Info("started %s (pid %d)", cfg.Name, proc.PID())
	return s, nil
}

// State returns the current handshake state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Router returns the notification router. Subscribe to receive server
// notifications as they are drained.
func (s *Session) Router() *Router {
	return s.router
}

// Diagnostics returns the diagnostics cache.
func (s *Session) Diagnostics() *DiagnosticsCache {
	return s.diagnostics
}

// Process returns the server process, or nil if the session was built on
// a bare transport.
func (s *Session) Process() *Process {
	return s.process
}

// Alive returns false once the server's stdout has ended.
func (s *Session) Alive() bool {
	select {
	case <-s.transport.ReaderDone():
		return false
	default:
		return true
	}
}

// Capabilities returns the capabilities negotiated by Initialize.
func (s *Session) Capabilities() (ServerCapabilities, error) {
	if err := s.requireInitialized("capabilities"); err != nil {
		return ServerCapabilities{}, err
	}
	s.capsMu.RLock()
	defer s.capsMu.RUnlock()
	return s.caps, nil
}

// ServerInfo returns the server's self-description, if it sent one.
func (s *Session) ServerInfo() *InitializeServerInfo {
	s.capsMu.RLock()
	defer s.capsMu.RUnlock()
	return s.serverInfo
}

// Initialize performs the initialize handshake. On success the
// capabilities are cached and the initialized notification is sent,
// exactly once. On failure the session stays uninitialized and the caller
// may retry.
func (s *Session) Initialize(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		switch s.State() {
		case StateShutDown:
			return &SessionError{Op: "initialize", Err: ErrShutdown}
		default:
			return &SessionError{Op: "initialize", Err: ErrAlreadyInitialized}
		}
	}

	params := DefaultInitializeParams(s.opts.RootPath)
	params.InitializationOptions = s.opts.InitializationOptions

	result, err := s.call(ctx, "initialize", params, s.opts.RequestTimeout)
	if err != nil {
		s.state.CompareAndSwap(int32(StateInitializing), int32(StateUninitialized))
		return fmt.Errorf("initialize: %w", err)
	}

	caps, info, err := decodeInitializeResult(result)
	if err != nil {
		s.state.CompareAndSwap(int32(StateInitializing), int32(StateUninitialized))
		return err
	}

	s.capsMu.Lock()
	s.caps = caps
	s.serverInfo = info
	s.capsMu.Unlock()

	if !s.state.CompareAndSwap(int32(StateInitializing), int32(StateInitialized)) {
		return &SessionError{Op: "initialize", Err: ErrShutdown}
	}

	if info != nil {
		s.log.Info("initialized %s %s", info.Name, info.Version)
	} else {
		s.log.Info("initialized")
	}
	return s.send(ctx, &Notification{Method: "initialized", Params: struct{}{}})
}

func decodeInitializeResult(result json.RawMessage) (ServerCapabilities, *InitializeServerInfo, error) {
	var caps ServerCapabilities

	raw := gjson.GetBytes(result, "capabilities")
	if !raw.Exists() {
		return caps, nil, &DecodeError{Method: "initialize", Err: errors.New("result has no capabilities")}
	}
	if !raw.IsObject() {
		return caps, nil, &DecodeError{Method: "initialize", Err: fmt.Errorf("capabilities is %s, want object", raw.Type)}
	}
	if err := json.Unmarshal([]byte(raw.Raw), &caps); err != nil {
		return caps, nil, &DecodeError{Method: "initialize", Err: err}
	}
	caps.Raw = json.RawMessage(raw.Raw)

	var info *InitializeServerInfo
	if si := gjson.GetBytes(result, "serverInfo"); si.IsObject() {
		info = &InitializeServerInfo{
			Name:    si.Get("name").String(),
			Version: si.Get("version").String(),
		}
	}
	return caps, info, nil
}

// Request sends a correlated request and returns its raw result. It is
// the escape hatch for methods without a typed helper.
func (s *Session) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := s.requireInitialized(method); err != nil {
		return nil, err
	}
	return s.call(ctx, method, params, s.opts.RequestTimeout)
}

// Notify sends a notification without waiting.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	if err := s.requireInitialized(method); err != nil {
		return err
	}
	return s.send(ctx, &Notification{Method: method, Params: params})
}

// Poll drains whatever the server has already sent without blocking,
// dispatching notifications. It returns ErrTransportClosed wrapped in a
// *TransportError once the server's stdout has ended.
func (s *Session) Poll(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case msg, ok := <-s.transport.Inbound():
			if !ok {
				return &TransportError{Op: "poll", Err: ErrTransportClosed}
			}
			s.handle(msg)
		default:
			return nil
		}
	}
}

// WaitForNotification blocks until a notification satisfying match is
// drained, dispatching it and everything before it. It is bounded by the
// request timeout.
func (s *Session) WaitForNotification(parent context.Context, match func(*ServerNotification) bool) (*ServerNotification, error) {
	const op = "wait for notification"
	timeout := s.opts.RequestTimeout
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if err := s.acquire(ctx); err != nil {
		return nil, expired(parent, err, op, timeout)
	}
	defer s.release()

	for {
		select {
		case <-ctx.Done():
			return nil, expired(parent, ctx.Err(), op, timeout)
		case msg, ok := <-s.transport.Inbound():
			if !ok {
				return nil, &TransportError{Op: op, Err: ErrTransportClosed}
			}
			s.handle(msg)
			if n, isNotif := msg.(*ServerNotification); isNotif && match(n) {
				return n, nil
			}
		}
	}
}

// Shutdown ends the session: a shutdown request bounded by the shutdown
// timeout, the exit notification, then the outbound queue and the
// server's stdin are closed and the process is waited for, and killed if
// it outlives the timeout. Shutdown is idempotent; later calls return the
// first result.
func (s *Session) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

// Close is Shutdown with a background context.
func (s *Session) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Session) shutdown(ctx context.Context) error {
	prev := State(s.state.Swap(int32(StateShutDown)))
	s.log.Debug("shutting down from %s", prev)

	var errs []error
	if prev == StateInitialized && s.Alive() {
		if _, err := s.call(ctx, "shutdown", nil, s.opts.ShutdownTimeout); err != nil {
			s.log.Warn("shutdown request: %v", err)
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
		}
		ectx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		if err := s.send(ectx, &Notification{Method: "exit"}); err != nil {
			s.log.Warn("exit notification: %v", err)
		}
		cancel()
	}

	s.transport.Close()

	// Nobody consumes inbound any more. Keep draining so the reader
	// reaches EOF instead of blocking on a full queue.
	go func() {
		for msg := range s.transport.Inbound() {
			s.handle(msg)
		}
	}()

	wctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if s.process != nil {
		if err := s.process.Wait(wctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for server: %w", err))
		}
		s.process.Close()
	}

	select {
	case <-s.transport.ReaderDone():
	case <-wctx.Done():
		s.log.Warn("server stdout still open after shutdown")
	}

	s.docs.reset()
	s.log.Info("shut down")
	return errors.Join(errs...)
}

func (s *Session) requireInitialized(op string) error {
	switch s.State() {
	case StateInitialized:
		return nil
	case StateShutDown:
		return &SessionError{Op: op, Err: ErrShutdown}
	default:
		return &SessionError{Op: op, Err: ErrNotInitialized}
	}
}

// send enqueues a notification, waiting at most the request timeout for
// room in the outbound queue.
func (s *Session) send(parent context.Context, n *Notification) error {
	ctx, cancel := context.WithTimeout(parent, s.opts.RequestTimeout)
	defer cancel()

	if err := s.transport.Send(ctx, n); err != nil {
		return expired(parent, err, n.Method, s.opts.RequestTimeout)
	}
	s.log.Debug("notify %s", n.Method)
	return nil
}

// call sends a request and blocks until its response, an error for it,
// the timeout, ctx, or the end of the server's stdout. The timeout covers
// waiting for the turn, for room in the outbound queue and for the reply.
func (s *Session) call(parent context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if err := s.acquire(ctx); err != nil {
		return nil, expired(parent, err, method, timeout)
	}
	defer s.release()

	if s.State() == StateShutDown && method != "shutdown" {
		return nil, &SessionError{Op: method, Err: ErrShutdown}
	}

	id := s.opts.IDs.Next()
	op := fmt.Sprintf("%s (id %d)", method, id)
	if err := s.transport.Send(ctx, &Request{ID: id, Method: method, Params: params}); err != nil {
		return nil, expired(parent, err, op, timeout)
	}
	s.log.Debug("request %s", op)

	for {
		select {
		case <-ctx.Done():
			return nil, expired(parent, ctx.Err(), op, timeout)
		case msg, ok := <-s.transport.Inbound():
			if !ok {
				return nil, &TransportError{Op: method, Err: ErrTransportClosed}
			}
			if !matches(msg, id) {
				s.handle(msg)
				continue
			}
			switch m := msg.(type) {
			case *Response:
				return m.Result, nil
			case *RPCError:
				return nil, m
			}
		}
	}
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) release() {
	<-s.turn
}

// expired translates the end of a context derived from parent with a
// timeout. The caller's own cancellation or deadline wins; otherwise the
// derived deadline becomes ErrTimeout. Other errors pass through.
func expired(parent context.Context, err error, op string, timeout time.Duration) error {
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	if perr := parent.Err(); perr != nil {
		return perr
	}
	return fmt.Errorf("%s after %s: %w", op, timeout, ErrTimeout)
}

// handle disposes of an inbound message no call is waiting for.
func (s *Session) handle(msg InboundMessage) {
	switch m := msg.(type) {
	case *ServerNotification:
		n, errs := s.router.Dispatch(m)
		for _, err := range errs {
			s.log.Warn("notification %s: %v", m.Method, err)
		}
		if n == 0 {
			s.log.Debug("unhandled notification %s", m.Method)
		}
	case *Response:
		if m.Method != "" {
			s.log.Debug("ignoring server request %s (id %d)", m.Method, m.ID)
			return
		}
		s.log.Debug("discarding stale response id %d", m.ID)
	case *RPCError:
		s.log.Debug("discarding stale error: %v", m)
	}
}

func (s *Session) logServerMessage(n *ServerNotification) error {
	var params LogMessageParams
	if err := json.Unmarshal(n.Params, &params); err != nil {
		return &DecodeError{Method: n.Method, Err: err}
	}

	switch params.Type {
	case MessageTypeError:
		s.log.Error("server: %s", params.Message)
	case MessageTypeWarning:
		s.log.Warn("server: %s", params.Message)
	case MessageTypeInfo:
		s.log.Info("server: %s", params.Message)
	default:
		s.log.Debug("server: %s", params.Message)
	}
	return nil
}

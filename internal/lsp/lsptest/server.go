// Package lsptest provides a scripted fake language server for tests.
//
// The server speaks real Content-Length framing. It can run over in-memory
// pipes (NewServer) or over a process's stdio (Serve), so the same script
// drives both unit tests and end-to-end tests that spawn a helper process.
package lsptest

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/lspsession/internal/lsp"
)

// Message is a frame the client sent to the server.
type Message struct {
	// ID is nil for notifications.
	ID     *int64
	Method string
	Params json.RawMessage
	Raw    string
}

// IsRequest reports whether the message carries an id.
func (m Message) IsRequest() bool {
	return m.ID != nil
}

// Handler answers a message. Requests without a handler get a null result.
type Handler func(s *Server, msg Message)

// Server is a fake language server.
type Server struct {
	in  io.Reader
	out io.WriteCloser

	// Client ends when created by NewServer.
	clientStdin  io.WriteCloser
	clientStdout io.Reader

	mu       sync.Mutex
	handlers map[string]Handler
	received []Message
	arrived  chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// NewServer starts a server over in-memory pipes. Hand ClientStdout and
// ClientStdin to lsp.NewTransport.
func NewServer() *Server {
	clientToServerR, clientToServerW := io.Pipe()
	serverToClientR, serverToClientW := io.Pipe()

	s := newServer(clientToServerR, serverToClientW)
	s.clientStdin = clientToServerW
	s.clientStdout = serverToClientR
	go s.serve()
	return s
}

// Serve starts a server reading in and writing out, e.g. os.Stdin and
// os.Stdout of a helper process.
func Serve(in io.Reader, out io.WriteCloser) *Server {
	s := newServer(in, out)
	go s.serve()
	return s
}

func newServer(in io.Reader, out io.WriteCloser) *Server {
	s := &Server{
		in:       in,
		out:      out,
		handlers: make(map[string]Handler),
		arrived:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.Handle("exit", func(s *Server, _ Message) { s.CloseStdout() })
	return s
}

// ClientStdin is the pipe the client writes to.
func (s *Server) ClientStdin() io.WriteCloser {
	return s.clientStdin
}

// ClientStdout is the pipe the client reads from.
func (s *Server) ClientStdout() io.Reader {
	return s.clientStdout
}

// Transport wires a client transport to the server.
func (s *Server) Transport(opts ...lsp.TransportOption) *lsp.Transport {
	return lsp.NewTransport(s.clientStdout, s.clientStdin, opts...)
}

// Handle installs h for method, replacing any previous handler.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	s.handlers[method] = h
	s.mu.Unlock()
}

// HandleResult answers every request for method with result.
func (s *Server) HandleResult(method string, result any) {
	s.Handle(method, func(s *Server, msg Message) {
		s.Reply(*msg.ID, result)
	})
}

// Reply sends a successful response.
func (s *Server) Reply(id int64, result any) error {
	return s.send(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

// ReplyError sends an error response.
func (s *Server) ReplyError(id int64, code int, message string) error {
	return s.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
}

// Notify sends a server notification.
func (s *Server) Notify(method string, params any) error {
	return s.send(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

// PublishDiagnostics pushes diagnostics for uri.
func (s *Server) PublishDiagnostics(uri lsp.DocumentURI, diags []lsp.Diagnostic) error {
	if diags == nil {
		diags = []lsp.Diagnostic{}
	}
	return s.Notify("textDocument/publishDiagnostics", lsp.PublishDiagnosticsParams{URI: uri, Diagnostics: diags})
}

// SendFrame frames body as-is.
func (s *Server) SendFrame(body string) error {
	return lsp.WriteFrame(s.out, []byte(body))
}

// SendRaw writes bytes without framing.
func (s *Server) SendRaw(data string) error {
	_, err := io.WriteString(s.out, data)
	return err
}

func (s *Server) send(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return lsp.WriteFrame(s.out, body)
}

// CloseStdout ends the client's view of the server, as if it exited.
func (s *Server) CloseStdout() {
	s.closeOnce.Do(func() {
		s.out.Close()
	})
}

// Close shuts down both directions.
func (s *Server) Close() {
	s.CloseStdout()
	if c, ok := s.in.(io.Closer); ok {
		c.Close()
	}
	if s.clientStdin != nil {
		s.clientStdin.Close()
	}
}

// Done is closed when the server has stopped reading.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Received returns every message the client has sent so far.
func (s *Server) Received() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.received))
	copy(out, s.received)
	return out
}

// Methods returns the method of every received message, in order.
func (s *Server) Methods() []string {
	var methods []string
	for _, m := range s.Received() {
		methods = append(methods, m.Method)
	}
	return methods
}

// Count returns how many messages with method were received.
func (s *Server) Count(method string) int {
	n := 0
	for _, m := range s.Received() {
		if m.Method == method {
			n++
		}
	}
	return n
}

// WaitFor blocks until a message with method has been received, or the
// timeout passes.
func (s *Server) WaitFor(method string, timeout time.Duration) (Message, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		for _, m := range s.Received() {
			if m.Method == method {
				return m, true
			}
		}
		select {
		case <-s.arrived:
		case <-s.done:
			for _, m := range s.Received() {
				if m.Method == method {
					return m, true
				}
			}
			return Message{}, false
		case <-deadline.C:
			return Message{}, false
		}
	}
}

func (s *Server) serve() {
	defer close(s.done)

	fr := lsp.NewFrameReader(s.in)
	for {
		body, err := fr.Next()
		if err != nil {
			var fe *lsp.FramingError
			if errors.As(err, &fe) {
				continue
			}
			s.CloseStdout()
			return
		}

		msg := parseMessage(body)

		s.mu.Lock()
		s.received = append(s.received, msg)
		h := s.handlers[msg.Method]
		s.mu.Unlock()

		select {
		case s.arrived <- struct{}{}:
		default:
		}

		switch {
		case h != nil:
			h(s, msg)
		case msg.IsRequest():
			s.Reply(*msg.ID, nil)
		}
	}
}

func parseMessage(body []byte) Message {
	v := gjson.ParseBytes(body)
	msg := Message{
		Method: v.Get("method").String(),
		Raw:    string(body),
	}
	if id := v.Get("id"); id.Type == gjson.Number {
		n := id.Int()
		msg.ID = &n
	}
	if params := v.Get("params"); params.Exists() {
		msg.Params = json.RawMessage(params.Raw)
	}
	return msg
}

package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the LSP session.
var (
	// ErrNotInitialized indicates an operation was attempted before the
	// initialize handshake completed.
	ErrNotInitialized = errors.New("lsp session not initialized")

	// ErrAlreadyInitialized indicates initialize was called twice.
	ErrAlreadyInitialized = errors.New("lsp session already initialized")

	// ErrShutdown indicates the session has been shut down.
	ErrShutdown = errors.New("lsp session shut down")

	// ErrTimeout indicates a correlated request did not receive its response in time.
	ErrTimeout = errors.New("request timed out")

	// ErrTransportClosed indicates the server's stdout reached EOF or the
	// transport was closed while a response was awaited.
	ErrTransportClosed = errors.New("transport closed")

	// ErrProtocolViolation indicates an inbound frame was valid JSON but not a
	// well-formed JSON-RPC message.
	ErrProtocolViolation = errors.New("json-rpc protocol violation")

	// ErrNoServer indicates no server is configured for the file type.
	ErrNoServer = errors.New("no server configured for file type")

	// ErrDocumentNotOpen indicates the document is not open.
	ErrDocumentNotOpen = errors.New("document not open")

	// ErrDocumentAlreadyOpen indicates the document is already open.
	ErrDocumentAlreadyOpen = errors.New("document already open")
)

// TransportError reports a failure to spawn the server or to move bytes
// to or from it. It is fatal to the session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FramingError reports a malformed frame. The reader skips the frame and
// keeps going.
type FramingError struct {
	Reason string
	Err    error

	// IO is set when the stream itself failed to read, as opposed to the
	// frame being malformed.
	IO bool
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("framing: %s: %v", e.Reason, e.Err)
	}
	return "framing: " + e.Reason
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// RPCError is a JSON-RPC error object returned by the server for a request.
type RPCError struct {
	// ID is the id of the failed request, or nil if the server sent null.
	ID      *int64 `json:"-"`
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// DecodeError reports a result payload that does not have the expected shape.
type DecodeError struct {
	Method string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s result: %v", e.Method, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// SessionError reports an operation attempted in the wrong session state.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeServerCancelled      = -32802
	CodeRequestFailed        = -32803
)

// ServerError wraps an error with the file type whose server produced it.
type ServerError struct {
	Filetype string
	Err      error
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server %s: %v", e.Filetype, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Err
}

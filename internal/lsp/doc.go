// Package lsp is a client-side engine for Language Server Protocol sessions.
//
// It spawns a language server, speaks Content-Length framed JSON-RPC 2.0
// over the server's stdin and stdout, performs the initialize handshake,
// and exposes correlated requests (hover, completion) and document sync
// notifications to an editor.
//
// # Architecture
//
// The package is organized around these core components:
//
//   - IDAllocator: monotonically increasing request ids
//   - Process: the spawned server with piped stdin and stdout
//   - Transport: a writer goroutine framing the outbound queue onto stdin,
//     and a reader goroutine classifying stdout frames onto the inbound queue
//   - Session: the handshake state machine and request helpers
//   - Router and DiagnosticsCache: where unsolicited notifications go
//   - Manager: one lazily started Session per file type
//
// # Quick Start
//
//	s, err := lsp.Start(lsp.ServerConfig{Name: "py", Command: "pyrefly lsp"}, lsp.Options{})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	if err := s.Initialize(ctx); err != nil {
//	    return err
//	}
//	s.DidOpen(ctx, "main.py", "", text)
//	hover, err := s.Hover(ctx, "main.py", 3, 7)
//
// # Correlation
//
// One correlated request is outstanding at a time. The call holding the
// turn reads the inbound queue until the response with its id arrives,
// dispatching any notifications it passes to the Router. Responses with
// other ids are stale and discarded. Every wait is bounded by
// Options.RequestTimeout and by the caller's context.
//
// # Malformed Input
//
// A frame with a bad header, a bad length, a short body, or a body that is
// not a JSON-RPC message is logged and skipped. Only EOF on the server's
// stdout ends the reader.
package lsp

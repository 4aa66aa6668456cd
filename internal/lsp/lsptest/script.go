package lsptest

import (
	"github.com/tidwall/gjson"

	"github.com/dshills/lspsession/internal/lsp"
)

// HoverText is what the default script answers to every hover.
const HoverText = "fake hover"

// Capabilities is the initialize result the default script returns.
var Capabilities = map[string]any{
	"textDocumentSync":   1,
	"hoverProvider":      true,
	"completionProvider": map[string]any{"triggerCharacters": []string{"."}},
}

// InstallDefaults scripts a small well-behaved server:
//
//   - initialize returns Capabilities and serverInfo "lsptest"
//   - hover returns HoverText as plaintext
//   - completion returns the items "alpha" and "beta"
//   - didOpen and didChange publish one warning at 0:0-0:1 for the document
//   - didClose publishes an empty set
func InstallDefaults(s *Server) {
	s.HandleResult("initialize", map[string]any{
		"capabilities": Capabilities,
		"serverInfo":   map[string]any{"name": "lsptest", "version": "1"},
	})
	s.HandleResult("textDocument/hover", map[string]any{
		"contents": map[string]any{"kind": "plaintext", "value": HoverText},
	})
	s.HandleResult("textDocument/completion", map[string]any{
		"isIncomplete": false,
		"items": []map[string]any{
			{"label": "alpha", "kind": 3},
			{"label": "beta", "kind": 6},
		},
	})

	publish := func(s *Server, msg Message) {
		uri := lsp.DocumentURI(gjson.GetBytes(msg.Params, "textDocument.uri").String())
		s.PublishDiagnostics(uri, []lsp.Diagnostic{{
			Range:    lsp.Range{Start: lsp.Position{}, End: lsp.Position{Character: 1}},
			Severity: lsp.DiagnosticSeverityWarning,
			Source:   "lsptest",
			Message:  "fake warning",
		}})
	}
	s.Handle("textDocument/didOpen", publish)
	s.Handle("textDocument/didChange", publish)
	s.Handle("textDocument/didClose", func(s *Server, msg Message) {
		uri := lsp.DocumentURI(gjson.GetBytes(msg.Params, "textDocument.uri").String())
		s.PublishDiagnostics(uri, nil)
	})
}

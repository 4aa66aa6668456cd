package lsp

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// PublishedDiagnostics is the latest diagnostic set the server pushed for
// one document.
type PublishedDiagnostics struct {
	URI         DocumentURI
	Version     *int
	Diagnostics []Diagnostic
	UpdatedAt   time.Time

	ErrorCount   int
	WarningCount int
	InfoCount    int
	HintCount    int
}

// At returns the diagnostics whose range contains the position.
func (p *PublishedDiagnostics) At(line, character int) []Diagnostic {
	var out []Diagnostic
	for _, d := range p.Diagnostics {
		if d.Range.Contains(line, character) {
			out = append(out, d)
		}
	}
	return out
}

// DiagnosticsCache keeps the most recent textDocument/publishDiagnostics
// payload per document. Each publish replaces the previous set.
type DiagnosticsCache struct {
	mu    sync.RWMutex
	byURI map[DocumentURI]*PublishedDiagnostics
}

// NewDiagnosticsCache creates an empty cache.
func NewDiagnosticsCache() *DiagnosticsCache {
	return &DiagnosticsCache{byURI: make(map[DocumentURI]*PublishedDiagnostics)}
}

// Update stores params, replacing whatever was cached for its URI.
func (c *DiagnosticsCache) Update(params PublishDiagnosticsParams) {
	entry := &PublishedDiagnostics{
		URI:         params.URI,
		Version:     params.Version,
		Diagnostics: params.Diagnostics,
		UpdatedAt:   time.Now(),
	}
	for _, d := range params.Diagnostics {
		switch d.Severity {
		case DiagnosticSeverityError:
			entry.ErrorCount++
		case DiagnosticSeverityWarning:
			entry.WarningCount++
		case DiagnosticSeverityInformation:
			entry.InfoCount++
		case DiagnosticSeverityHint:
			entry.HintCount++
		}
	}

	c.mu.Lock()
	c.byURI[params.URI] = entry
	c.mu.Unlock()
}

// Get returns the cached diagnostics for uri. ok is false if the server has
// never published for it.
func (c *DiagnosticsCache) Get(uri DocumentURI) (*PublishedDiagnostics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byURI[uri]
	return entry, ok
}

// URIs returns every document with cached diagnostics, sorted.
func (c *DiagnosticsCache) URIs() []DocumentURI {
	c.mu.RLock()
	defer c.mu.RUnlock()

	uris := make([]DocumentURI, 0, len(c.byURI))
	for uri := range c.byURI {
		uris = append(uris, uri)
	}
	sort.Slice(uris, func(i, j int) bool { return uris[i] < uris[j] })
	return uris
}

// Forget drops the entry for uri.
func (c *DiagnosticsCache) Forget(uri DocumentURI) {
	c.mu.Lock()
	delete(c.byURI, uri)
	c.mu.Unlock()
}

// handleNotification is the router subscription for publishDiagnostics.
func (c *DiagnosticsCache) handleNotification(n *ServerNotification) error {
	var params PublishDiagnosticsParams
	if err := json.Unmarshal(n.Params, &params); err != nil {
		return &DecodeError{Method: n.Method, Err: err}
	}
	c.Update(params)
	return nil
}

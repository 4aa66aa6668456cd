package lsp

import (
	"context"
	"encoding/json"
	"sync"
)

// Document is a document the session has opened on the server.
type Document struct {
	URI        DocumentURI
	Path       string
	LanguageID string
	Version    int
}

// documentStore tracks open documents and their versions.
type documentStore struct {
	mu   sync.Mutex
	docs map[DocumentURI]*Document
}

func newDocumentStore() *documentStore {
	return &documentStore{docs: make(map[DocumentURI]*Document)}
}

func (ds *documentStore) open(doc *Document) bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if _, ok := ds.docs[doc.URI]; ok {
		return false
	}
	ds.docs[doc.URI] = doc
	return true
}

// bump increments the version and returns the new one.
func (ds *documentStore) bump(uri DocumentURI) (int, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	doc, ok := ds.docs[uri]
	if !ok {
		return 0, false
	}
	doc.Version++
	return doc.Version, true
}

// unbump undoes a bump to version, unless the document moved on since.
func (ds *documentStore) unbump(uri DocumentURI, version int) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if doc, ok := ds.docs[uri]; ok && doc.Version == version {
		doc.Version--
	}
}

func (ds *documentStore) close(uri DocumentURI) bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if _, ok := ds.docs[uri]; !ok {
		return false
	}
	delete(ds.docs, uri)
	return true
}

func (ds *documentStore) get(uri DocumentURI) (Document, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	doc, ok := ds.docs[uri]
	if !ok {
		return Document{}, false
	}
	return *doc, true
}

func (ds *documentStore) reset() {
	ds.mu.Lock()
	ds.docs = make(map[DocumentURI]*Document)
	ds.mu.Unlock()
}

// Document returns the open document for path.
func (s *Session) Document(path string) (Document, bool) {
	return s.docs.get(FilePathToURI(path))
}

// DidOpen opens path on the server at version 1 with its full text. An
// empty languageID falls back to Options.LanguageID, then to detection by
// extension.
func (s *Session) DidOpen(ctx context.Context, path, languageID, text string) error {
	const method = "textDocument/didOpen"
	if err := s.requireInitialized(method); err != nil {
		return err
	}

	if languageID == "" {
		languageID = s.opts.LanguageID
	}
	if languageID == "" {
		languageID = DetectLanguageID(path)
	}

	uri := FilePathToURI(path)
	doc := &Document{URI: uri, Path: path, LanguageID: languageID, Version: 1}
	if !s.docs.open(doc) {
		return &SessionError{Op: method, Err: ErrDocumentAlreadyOpen}
	}

	err := s.send(ctx, &Notification{Method: method, Params: DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    1,
			Text:       text,
		},
	}})
	if err != nil {
		s.docs.close(uri)
		return err
	}
	return nil
}

// DidChange replaces the whole text of an open document and bumps its
// version. The version is left alone if the notification cannot be sent.
func (s *Session) DidChange(ctx context.Context, path, text string) error {
	const method = "textDocument/didChange"
	if err := s.requireInitialized(method); err != nil {
		return err
	}

	uri := FilePathToURI(path)
	version, ok := s.docs.bump(uri)
	if !ok {
		return &SessionError{Op: method, Err: ErrDocumentNotOpen}
	}

	err := s.send(ctx, &Notification{Method: method, Params: DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{URI: uri, Version: version},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: text}},
	}})
	if err != nil {
		s.docs.unbump(uri, version)
		return err
	}
	return nil
}

// DidSave tells the server path was saved. text is included when non-nil.
func (s *Session) DidSave(ctx context.Context, path string, text *string) error {
	const method = "textDocument/didSave"
	if err := s.requireInitialized(method); err != nil {
		return err
	}

	return s.send(ctx, &Notification{Method: method, Params: DidSaveTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Text:         text,
	}})
}

// DidClose closes an open document and forgets its version.
func (s *Session) DidClose(ctx context.Context, path string) error {
	const method = "textDocument/didClose"
	if err := s.requireInitialized(method); err != nil {
		return err
	}

	uri := FilePathToURI(path)
	if !s.docs.close(uri) {
		return &SessionError{Op: method, Err: ErrDocumentNotOpen}
	}

	return s.send(ctx, &Notification{Method: method, Params: DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	}})
}

// DidChangeWatchedFiles forwards file system events to the server.
func (s *Session) DidChangeWatchedFiles(ctx context.Context, events []FileEvent) error {
	const method = "workspace/didChangeWatchedFiles"
	if err := s.requireInitialized(method); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	return s.send(ctx, &Notification{Method: method, Params: DidChangeWatchedFilesParams{Changes: events}})
}

// Hover requests hover information at a zero-based position. A nil Hover
// with a nil error means the server has nothing to show.
func (s *Session) Hover(ctx context.Context, path string, line, character int) (*Hover, error) {
	const method = "textDocument/hover"
	if err := s.requireInitialized(method); err != nil {
		return nil, err
	}

	result, err := s.call(ctx, method, positionParams(path, line, character), s.opts.RequestTimeout)
	if err != nil {
		return nil, err
	}
	if isNullResult(result) {
		return nil, nil
	}

	var hover Hover
	if err := json.Unmarshal(result, &hover); err != nil {
		return nil, &DecodeError{Method: method, Err: err}
	}
	if hover.Contents.Value == "" {
		return nil, nil
	}
	return &hover, nil
}

// RequestCompletion requests completions at a zero-based position. A nil
// list with a nil error means there are none.
func (s *Session) RequestCompletion(ctx context.Context, path string, line, character int) (*CompletionList, error) {
	const method = "textDocument/completion"
	if err := s.requireInitialized(method); err != nil {
		return nil, err
	}

	result, err := s.call(ctx, method, positionParams(path, line, character), s.opts.RequestTimeout)
	if err != nil {
		return nil, err
	}

	list, err := ParseCompletionResult(result)
	if err != nil {
		return nil, &DecodeError{Method: method, Err: err}
	}
	return list, nil
}

// FileDiagnostics returns the diagnostics the server most recently pushed
// for path. It drains queued notifications first but sends no request.
// ok is false if nothing has been published for path.
func (s *Session) FileDiagnostics(ctx context.Context, path string) (*PublishedDiagnostics, bool) {
	if err := s.Poll(ctx); err != nil {
		s.log.Debug("poll before diagnostics: %v", err)
	}
	return s.diagnostics.Get(FilePathToURI(path))
}

// WaitForDiagnostics blocks until the server publishes diagnostics for
// path, bounded by the request timeout.
func (s *Session) WaitForDiagnostics(ctx context.Context, path string) (*PublishedDiagnostics, error) {
	uri := FilePathToURI(path)
	_, err := s.WaitForNotification(ctx, func(n *ServerNotification) bool {
		return n.Method == "textDocument/publishDiagnostics" &&
			DocumentURI(gjsonString(n.Params, "uri")) == uri
	})
	if err != nil {
		return nil, err
	}
	diags, _ := s.diagnostics.Get(uri)
	return diags, nil
}

func positionParams(path string, line, character int) TextDocumentPositionParams {
	return TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Position:     Position{Line: line, Character: character},
	}
}

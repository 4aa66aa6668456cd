package lsp

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tidwall/gjson"
)

// DocumentURI represents a URI as used in LSP.
// It is typically a file:// URI.
type DocumentURI string

// Position in a text document expressed as zero-based line and character offset.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Before reports whether p comes strictly before o.
func (p Position) Before(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

// Range in a text document expressed as start and end positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Contains reports whether the position (line, character) lies in r. The
// end is exclusive, except that an empty range contains its own start.
func (r Range) Contains(line, character int) bool {
	pos := Position{Line: line, Character: character}
	if pos.Before(r.Start) {
		return false
	}
	if r.Start == r.End {
		return pos == r.Start
	}
	return pos.Before(r.End)
}

// TextDocumentIdentifier identifies a text document.
type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

// VersionedTextDocumentIdentifier identifies a specific version of a text document.
type VersionedTextDocumentIdentifier struct {
	URI     DocumentURI `json:"uri"`
	Version int         `json:"version"`
}

// TextDocumentItem transfers a whole document to the server.
type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int         `json:"version"`
	Text       string      `json:"text"`
}

// TextDocumentPositionParams addresses a position inside a document.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// TextDocumentContentChangeEvent is a full-text content change.
type TextDocumentContentChangeEvent struct {
	Text string `json:"text"`
}

// DidOpenTextDocumentParams are parameters for textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidChangeTextDocumentParams are parameters for textDocument/didChange.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// DidSaveTextDocumentParams are parameters for textDocument/didSave.
type DidSaveTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Text         *string                `json:"text,omitempty"`
}

// DidCloseTextDocumentParams are parameters for textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// FileChangeType describes a watched file event.
type FileChangeType int

const (
	FileCreated FileChangeType = 1
	FileChanged FileChangeType = 2
	FileDeleted FileChangeType = 3
)

// String returns the event name.
func (t FileChangeType) String() string {
	switch t {
	case FileCreated:
		return "created"
	case FileChanged:
		return "changed"
	case FileDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("FileChangeType(%d)", int(t))
	}
}

// FileEvent describes a change to a watched file.
type FileEvent struct {
	URI  DocumentURI    `json:"uri"`
	Type FileChangeType `json:"type"`
}

// DidChangeWatchedFilesParams are parameters for workspace/didChangeWatchedFiles.
type DidChangeWatchedFilesParams struct {
	Changes []FileEvent `json:"changes"`
}

// --- Markup and hover ---

// MarkupKind describes the content type.
type MarkupKind string

const (
	MarkupKindPlainText MarkupKind = "plaintext"
	MarkupKindMarkdown  MarkupKind = "markdown"
)

// MarkupContent represents human readable text.
type MarkupContent struct {
	Kind  MarkupKind `json:"kind"`
	Value string     `json:"value"`
}

// Hover is the result of textDocument/hover.
type Hover struct {
	Contents MarkupContent `json:"contents"`
	Range    *Range        `json:"range,omitempty"`
}

// UnmarshalJSON accepts every form servers send for contents: MarkupContent,
// a MarkedString (a string or {language, value}), or an array of
// MarkedStrings. Arrays are joined with blank lines.
func (h *Hover) UnmarshalJSON(data []byte) error {
	var raw struct {
		Contents json.RawMessage `json:"contents"`
		Range    *Range          `json:"range,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	contents, err := parseHoverContents(gjson.ParseBytes(raw.Contents))
	if err != nil {
		return err
	}
	h.Contents = contents
	h.Range = raw.Range
	return nil
}

func parseHoverContents(v gjson.Result) (MarkupContent, error) {
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return MarkupContent{Kind: MarkupKindPlainText}, nil
	case v.Type == gjson.String:
		return MarkupContent{Kind: MarkupKindMarkdown, Value: v.String()}, nil
	case v.IsArray():
		var parts []string
		kind := MarkupKindPlainText
		for _, item := range v.Array() {
			part, err := parseHoverContents(item)
			if err != nil {
				return MarkupContent{}, err
			}
			if part.Value == "" {
				continue
			}
			if part.Kind == MarkupKindMarkdown {
				kind = MarkupKindMarkdown
			}
			parts = append(parts, part.Value)
		}
		return MarkupContent{Kind: kind, Value: strings.Join(parts, "\n\n")}, nil
	case v.IsObject():
		if kind := v.Get("kind"); kind.Exists() {
			return MarkupContent{Kind: MarkupKind(kind.String()), Value: v.Get("value").String()}, nil
		}
		lang := v.Get("language").String()
		value := v.Get("value").String()
		return MarkupContent{Kind: MarkupKindMarkdown, Value: "```" + lang + "\n" + value + "\n```"}, nil
	default:
		return MarkupContent{}, fmt.Errorf("unexpected hover contents %s", v.Raw)
	}
}

// --- Completion ---

// CompletionItemKind represents the type of completion item.
type CompletionItemKind int

const (
	CompletionItemKindText     CompletionItemKind = 1
	CompletionItemKindMethod   CompletionItemKind = 2
	CompletionItemKindFunction CompletionItemKind = 3
	CompletionItemKindField    CompletionItemKind = 5
	CompletionItemKindVariable CompletionItemKind = 6
	CompletionItemKindClass    CompletionItemKind = 7
	CompletionItemKindModule   CompletionItemKind = 9
	CompletionItemKindProperty CompletionItemKind = 10
	CompletionItemKindKeyword  CompletionItemKind = 14
	CompletionItemKindSnippet  CompletionItemKind = 15
	CompletionItemKindConstant CompletionItemKind = 21
	CompletionItemKindStruct   CompletionItemKind = 22
)

// CompletionItemTag represents a tag for completion items.
type CompletionItemTag int

// CompletionItemTagDeprecated marks an item as deprecated.
const CompletionItemTagDeprecated CompletionItemTag = 1

// InsertTextMode controls whitespace handling of inserted text.
type InsertTextMode int

const (
	InsertTextModeAsIs              InsertTextMode = 1
	InsertTextModeAdjustIndentation InsertTextMode = 2
)

// CompletionItemLabelDetails carries secondary label text.
type CompletionItemLabelDetails struct {
	Detail      string `json:"detail,omitempty"`
	Description string `json:"description,omitempty"`
}

// CompletionItem represents a completion suggestion.
type CompletionItem struct {
	Label         string                      `json:"label"`
	LabelDetails  *CompletionItemLabelDetails `json:"labelDetails,omitempty"`
	Kind          CompletionItemKind          `json:"kind,omitempty"`
	Tags          []CompletionItemTag         `json:"tags,omitempty"`
	Detail        string                      `json:"detail,omitempty"`
	Documentation json.RawMessage             `json:"documentation,omitempty"`
	Deprecated    bool                        `json:"deprecated,omitempty"`
	Preselect     bool                        `json:"preselect,omitempty"`
	SortText      string                      `json:"sortText,omitempty"`
	FilterText    string                      `json:"filterText,omitempty"`
	InsertText    string                      `json:"insertText,omitempty"`
}

// DocumentationText returns the item's documentation as plain text,
// whether the server sent a string or MarkupContent.
func (c CompletionItem) DocumentationText() string {
	doc := gjson.ParseBytes(c.Documentation)
	if doc.IsObject() {
		return doc.Get("value").String()
	}
	return doc.String()
}

// CompletionList represents a collection of completion items.
type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

// ParseCompletionResult decodes a completion result, which servers send as
// either a CompletionList or a bare array of items. A null result or one
// without items yields nil.
func ParseCompletionResult(data json.RawMessage) (*CompletionList, error) {
	result := gjson.ParseBytes(data)

	var list CompletionList
	switch {
	case len(data) == 0 || result.Type == gjson.Null:
		return nil, nil
	case result.IsArray():
		if err := json.Unmarshal(data, &list.Items); err != nil {
			return nil, err
		}
	case result.IsObject():
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unexpected completion result %s", result.Raw)
	}

	if len(list.Items) == 0 {
		return nil, nil
	}
	return &list, nil
}

// --- Diagnostics ---

// DiagnosticSeverity represents the severity of a diagnostic.
type DiagnosticSeverity int

const (
	DiagnosticSeverityError       DiagnosticSeverity = 1
	DiagnosticSeverityWarning     DiagnosticSeverity = 2
	DiagnosticSeverityInformation DiagnosticSeverity = 3
	DiagnosticSeverityHint        DiagnosticSeverity = 4
)

// String returns the lower-case severity name.
func (s DiagnosticSeverity) String() string {
	switch s {
	case DiagnosticSeverityError:
		return "error"
	case DiagnosticSeverityWarning:
		return "warning"
	case DiagnosticSeverityInformation:
		return "info"
	case DiagnosticSeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Diagnostic represents a diagnostic (error, warning, info, hint).
type Diagnostic struct {
	Range    Range              `json:"range"`
	Severity DiagnosticSeverity `json:"severity,omitempty"`
	Code     json.RawMessage    `json:"code,omitempty"`
	Source   string             `json:"source,omitempty"`
	Message  string             `json:"message"`
}

// PublishDiagnosticsParams are parameters for textDocument/publishDiagnostics.
type PublishDiagnosticsParams struct {
	URI         DocumentURI  `json:"uri"`
	Version     *int         `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// --- Window ---

// MessageType is the severity of a window message.
type MessageType int

const (
	MessageTypeError   MessageType = 1
	MessageTypeWarning MessageType = 2
	MessageTypeInfo    MessageType = 3
	MessageTypeLog     MessageType = 4
)

// LogMessageParams are parameters for window/logMessage and window/showMessage.
type LogMessageParams struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// --- Initialize ---

// ClientInfo identifies the client to the server.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// WorkspaceFolder represents a workspace folder.
type WorkspaceFolder struct {
	URI  DocumentURI `json:"uri"`
	Name string      `json:"name"`
}

// InitializeParams are the parameters sent in an initialize request.
type InitializeParams struct {
	// ProcessID is the client's pid, or nil.
	ProcessID             *int               `json:"processId"`
	ClientInfo            *ClientInfo        `json:"clientInfo,omitempty"`
	RootURI               *DocumentURI       `json:"rootUri"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	InitializationOptions any                `json:"initializationOptions,omitempty"`
	WorkspaceFolders      []WorkspaceFolder  `json:"workspaceFolders,omitempty"`
}

// InitializeServerInfo contains information about the language server.
type InitializeServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ServerCapabilities is the feature set the server returned from
// initialize. Only the fields the session reads are typed; Raw keeps the
// whole document.
type ServerCapabilities struct {
	TextDocumentSync   any                `json:"textDocumentSync,omitempty"`
	HoverProvider      any                `json:"hoverProvider,omitempty"`
	CompletionProvider *CompletionOptions `json:"completionProvider,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// CompletionOptions define options for completion.
type CompletionOptions struct {
	TriggerCharacters []string `json:"triggerCharacters,omitempty"`
	ResolveProvider   bool     `json:"resolveProvider,omitempty"`
}

// TextDocumentSyncKind defines how the server wants to sync.
type TextDocumentSyncKind int

const (
	TextDocumentSyncKindNone        TextDocumentSyncKind = 0
	TextDocumentSyncKindFull        TextDocumentSyncKind = 1
	TextDocumentSyncKindIncremental TextDocumentSyncKind = 2
)

// SupportsHover reports whether the server advertised hover.
func (c ServerCapabilities) SupportsHover() bool {
	return HasCapability(c.HoverProvider)
}

// SupportsCompletion reports whether the server advertised completion.
func (c ServerCapabilities) SupportsCompletion() bool {
	return c.CompletionProvider != nil
}

// SyncKind returns the document sync kind, which servers send either as a
// number or as an options object.
func (c ServerCapabilities) SyncKind() TextDocumentSyncKind {
	switch v := c.TextDocumentSync.(type) {
	case float64:
		return TextDocumentSyncKind(v)
	case map[string]any:
		if change, ok := v["change"].(float64); ok {
			return TextDocumentSyncKind(change)
		}
		return TextDocumentSyncKindNone
	default:
		return TextDocumentSyncKindNone
	}
}

// HasCapability checks if a capability is enabled (can be bool or object).
func HasCapability(cap any) bool {
	switch v := cap.(type) {
	case nil:
		return false
	case bool:
		return v
	default:
		return true
	}
}

// --- Paths ---

// FilePathToURI converts a file path to a file:// DocumentURI.
func FilePathToURI(path string) DocumentURI {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	path = filepath.ToSlash(path)
	if runtime.GOOS == "windows" && len(path) >= 2 && path[1] == ':' {
		path = "/" + path
	}

	u := url.URL{Scheme: "file", Path: path}
	return DocumentURI(u.String())
}

// URIToFilePath converts a file:// DocumentURI back to a path. Other
// schemes are returned unchanged.
func URIToFilePath(uri DocumentURI) string {
	u, err := url.Parse(string(uri))
	if err != nil || u.Scheme != "file" {
		return string(uri)
	}

	path := u.Path
	if runtime.GOOS == "windows" && len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	return filepath.FromSlash(path)
}

var languageIDs = map[string]string{
	".c":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".h":     "c",
	".hpp":   "cpp",
	".cs":    "csharp",
	".css":   "css",
	".go":    "go",
	".hs":    "haskell",
	".html":  "html",
	".java":  "java",
	".js":    "javascript",
	".jsx":   "javascriptreact",
	".json":  "json",
	".lua":   "lua",
	".md":    "markdown",
	".py":    "python",
	".rb":    "ruby",
	".rs":    "rust",
	".sh":    "shellscript",
	".toml":  "toml",
	".ts":    "typescript",
	".tsx":   "typescriptreact",
	".yaml":  "yaml",
	".yml":   "yaml",
	".zig":   "zig",
	".swift": "swift",
}

// DetectLanguageID returns the LSP language id for a file path, or
// "plaintext" when the extension is unknown.
func DetectLanguageID(path string) string {
	if id, ok := languageIDs[strings.ToLower(filepath.Ext(path))]; ok {
		return id
	}
	if strings.EqualFold(filepath.Base(path), "makefile") {
		return "makefile"
	}
	return "plaintext"
}

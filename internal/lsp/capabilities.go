package lsp

import (
	"os"
	"path/filepath"
)

// ClientName and ClientVersion are reported in clientInfo.
const (
	ClientName    = "lspsession"
	ClientVersion = "0.1.0"
)

// ClientCapabilities define capabilities the client provides.
type ClientCapabilities struct {
	TextDocument *TextDocumentClientCapabilities `json:"textDocument,omitempty"`
	Workspace    *WorkspaceClientCapabilities    `json:"workspace,omitempty"`
}

// WorkspaceClientCapabilities define workspace-level capabilities.
type WorkspaceClientCapabilities struct {
	DidChangeWatchedFiles *DynamicRegistration `json:"didChangeWatchedFiles,omitempty"`
}

// DynamicRegistration is the common {dynamicRegistration} capability shape.
type DynamicRegistration struct {
	DynamicRegistration bool `json:"dynamicRegistration"`
}

// TextDocumentClientCapabilities define capabilities for text documents.
type TextDocumentClientCapabilities struct {
	Synchronization    *TextDocumentSyncClientCapabilities   `json:"synchronization,omitempty"`
	Hover              *HoverClientCapabilities              `json:"hover,omitempty"`
	Completion         *CompletionClientCapabilities         `json:"completion,omitempty"`
	PublishDiagnostics *PublishDiagnosticsClientCapabilities `json:"publishDiagnostics,omitempty"`
}

// TextDocumentSyncClientCapabilities define capabilities for document sync.
type TextDocumentSyncClientCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration"`
	DidSave             bool `json:"didSave"`
}

// HoverClientCapabilities define capabilities for hover.
type HoverClientCapabilities struct {
	DynamicRegistration bool         `json:"dynamicRegistration"`
	ContentFormat       []MarkupKind `json:"contentFormat,omitempty"`
}

// CompletionClientCapabilities define capabilities for completion.
type CompletionClientCapabilities struct {
	DynamicRegistration bool                        `json:"dynamicRegistration"`
	CompletionItem      *CompletionItemCapabilities `json:"completionItem,omitempty"`
	ContextSupport      bool                        `json:"contextSupport"`
	InsertTextMode      InsertTextMode              `json:"insertTextMode,omitempty"`
}

// CompletionItemCapabilities define capabilities for completion items.
type CompletionItemCapabilities struct {
	SnippetSupport        bool                         `json:"snippetSupport"`
	DocumentationFormat   []MarkupKind                 `json:"documentationFormat,omitempty"`
	DeprecatedSupport     bool                         `json:"deprecatedSupport"`
	PreselectSupport      bool                         `json:"preselectSupport"`
	TagSupport            *ValueSet[CompletionItemTag] `json:"tagSupport,omitempty"`
	InsertReplaceSupport  bool                         `json:"insertReplaceSupport"`
	InsertTextModeSupport *ValueSet[InsertTextMode]    `json:"insertTextModeSupport,omitempty"`
	LabelDetailsSupport   bool                         `json:"labelDetailsSupport"`
}

// ValueSet is the {valueSet: [...]} capability shape.
type ValueSet[T any] struct {
	ValueSet []T `json:"valueSet"`
}

// PublishDiagnosticsClientCapabilities define capabilities for diagnostics.
type PublishDiagnosticsClientCapabilities struct {
	VersionSupport bool `json:"versionSupport"`
}

// DefaultClientCapabilities returns the features this client implements:
// plain-text hover, non-snippet completion, full-text sync with save, and
// pushed diagnostics.
func DefaultClientCapabilities() ClientCapabilities {
	return ClientCapabilities{
		TextDocument: &TextDocumentClientCapabilities{
			Synchronization: &TextDocumentSyncClientCapabilities{
				DidSave: true,
			},
			Hover: &HoverClientCapabilities{
				ContentFormat: []MarkupKind{MarkupKindPlainText},
			},
			Completion: &CompletionClientCapabilities{
				CompletionItem: &CompletionItemCapabilities{
					DocumentationFormat:  []MarkupKind{MarkupKindPlainText},
					DeprecatedSupport:    true,
					PreselectSupport:     true,
					TagSupport:           &ValueSet[CompletionItemTag]{ValueSet: []CompletionItemTag{CompletionItemTagDeprecated}},
					InsertReplaceSupport: true,
					InsertTextModeSupport: &ValueSet[InsertTextMode]{
						ValueSet: []InsertTextMode{InsertTextModeAsIs, InsertTextModeAdjustIndentation},
					},
					LabelDetailsSupport: true,
				},
				InsertTextMode: InsertTextModeAsIs,
			},
			PublishDiagnostics: &PublishDiagnosticsClientCapabilities{
				VersionSupport: true,
			},
		},
		Workspace: &WorkspaceClientCapabilities{
			DidChangeWatchedFiles: &DynamicRegistration{},
		},
	}
}

// DefaultInitializeParams builds initialize params for a workspace rooted
// at root. An empty root sends a null rootUri.
func DefaultInitializeParams(root string) InitializeParams {
	pid := os.Getpid()
	params := InitializeParams{
		ProcessID:    &pid,
		ClientInfo:   &ClientInfo{Name: ClientName, Version: ClientVersion},
		Capabilities: DefaultClientCapabilities(),
	}

	if root != "" {
		uri := FilePathToURI(root)
		params.RootURI = &uri
		params.WorkspaceFolders = []WorkspaceFolder{{URI: uri, Name: filepath.Base(root)}}
	}
	return params
}

package lsp

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tidwall/gjson"
)

func TestRange_Contains(t *testing.T) {
	r := Range{Start: Position{Line: 1, Character: 4}, End: Position{Line: 3, Character: 2}}
	empty := Range{Start: Position{Line: 2, Character: 5}, End: Position{Line: 2, Character: 5}}

	tests := []struct {
		name      string
		r         Range
		line, chr int
		want      bool
	}{
		{"start is inside", r, 1, 4, true},
		{"before start", r, 1, 3, false},
		{"line before", r, 0, 10, false},
		{"middle line", r, 2, 100, true},
		{"just before end", r, 3, 1, true},
		{"end is exclusive", r, 3, 2, false},
		{"after end", r, 4, 0, false},
		{"empty range contains its start", empty, 2, 5, true},
		{"empty range excludes next", empty, 2, 6, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Contains(tt.line, tt.chr); got != tt.want {
				t.Errorf("Contains(%d, %d) = %v, want %v", tt.line, tt.chr, got, tt.want)
			}
		})
	}
}

func TestHover_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		json string
		want MarkupContent
	}{
		{
			name: "markup content",
			json: `{"contents":{"kind":"plaintext","value":"func Foo()"}}`,
			want: MarkupContent{Kind: MarkupKindPlainText, Value: "func Foo()"},
		},
		{
			name: "plain string",
			json: `{"contents":"**bold**"}`,
			want: MarkupContent{Kind: MarkupKindMarkdown, Value: "**bold**"},
		},
		{
			name: "language string",
			json: `{"contents":{"language":"go","value":"var x int"}}`,
			want: MarkupContent{Kind: MarkupKindMarkdown, Value: "```go\nvar x int\n```"},
		},
		{
			name: "array",
			json: `{"contents":["first",{"language":"go","value":"x"},""]}`,
			want: MarkupContent{Kind: MarkupKindMarkdown, Value: "first\n\n```go\nx\n```"},
		},
		{
			name: "null contents",
			json: `{"contents":null}`,
			want: MarkupContent{Kind: MarkupKindPlainText},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h Hover
			if err := json.Unmarshal([]byte(tt.json), &h); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, h.Contents); diff != "" {
				t.Errorf("contents mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHover_UnmarshalRange(t *testing.T) {
	var h Hover
	data := `{"contents":"x","range":{"start":{"line":1,"character":2},"end":{"line":1,"character":5}}}`
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	want := &Range{Start: Position{Line: 1, Character: 2}, End: Position{Line: 1, Character: 5}}
	if diff := cmp.Diff(want, h.Range); diff != "" {
		t.Errorf("range mismatch (-want +got):\n%s", diff)
	}
}

func TestHover_UnmarshalBadContents(t *testing.T) {
	var h Hover
	if err := json.Unmarshal([]byte(`{"contents":42}`), &h); err == nil {
		t.Error("expected error for numeric contents")
	}
}

func TestParseCompletionResult(t *testing.T) {
	tests := []struct {
		name           string
		data           string
		wantLabels     []string
		wantIncomplete bool
		wantErr        bool
	}{
		{name: "null", data: `null`},
		{name: "empty", data: ``},
		{name: "empty array", data: `[]`},
		{name: "list without items", data: `{"isIncomplete":true,"items":[]}`},
		{name: "array", data: `[{"label":"a"},{"label":"b"}]`, wantLabels: []string{"a", "b"}},
		{name: "list", data: `{"isIncomplete":true,"items":[{"label":"c"}]}`, wantLabels: []string{"c"}, wantIncomplete: true},
		{name: "string", data: `"nope"`, wantErr: true},
		{name: "bad item", data: `[{"label":5}]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := ParseCompletionResult(json.RawMessage(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCompletionResult() error = %v", err)
			}
			if tt.wantLabels == nil {
				if list != nil {
					t.Errorf("ParseCompletionResult() = %+v, want nil", list)
				}
				return
			}
			if list == nil {
				t.Fatal("ParseCompletionResult() = nil")
			}
			var labels []string
			for _, item := range list.Items {
				labels = append(labels, item.Label)
			}
			if diff := cmp.Diff(tt.wantLabels, labels); diff != "" {
				t.Errorf("labels mismatch (-want +got):\n%s", diff)
			}
			if list.IsIncomplete != tt.wantIncomplete {
				t.Errorf("IsIncomplete = %v, want %v", list.IsIncomplete, tt.wantIncomplete)
			}
		})
	}
}

func TestCompletionItem_DocumentationText(t *testing.T) {
	tests := []struct {
		doc  string
		want string
	}{
		{``, ""},
		{`"plain docs"`, "plain docs"},
		{`{"kind":"markdown","value":"*docs*"}`, "*docs*"},
	}
	for _, tt := range tests {
		item := CompletionItem{Label: "x", Documentation: json.RawMessage(tt.doc)}
		if got := item.DocumentationText(); got != tt.want {
			t.Errorf("DocumentationText(%s) = %q, want %q", tt.doc, got, tt.want)
		}
	}
}

func TestServerCapabilities_SyncKind(t *testing.T) {
	tests := []struct {
		name string
		json string
		want TextDocumentSyncKind
	}{
		{"number", `{"textDocumentSync":2}`, TextDocumentSyncKindIncremental},
		{"options", `{"textDocumentSync":{"openClose":true,"change":1}}`, TextDocumentSyncKindFull},
		{"options without change", `{"textDocumentSync":{"openClose":true}}`, TextDocumentSyncKindNone},
		{"missing", `{}`, TextDocumentSyncKindNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var caps ServerCapabilities
			if err := json.Unmarshal([]byte(tt.json), &caps); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if got := caps.SyncKind(); got != tt.want {
				t.Errorf("SyncKind() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestServerCapabilities_Providers(t *testing.T) {
	tests := []struct {
		json           string
		wantHover      bool
		wantCompletion bool
	}{
		{`{}`, false, false},
		{`{"hoverProvider":false}`, false, false},
		{`{"hoverProvider":true}`, true, false},
		{`{"hoverProvider":{"workDoneProgress":true},"completionProvider":{}}`, true, true},
	}

	for _, tt := range tests {
		var caps ServerCapabilities
		if err := json.Unmarshal([]byte(tt.json), &caps); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", tt.json, err)
		}
		if got := caps.SupportsHover(); got != tt.wantHover {
			t.Errorf("%s: SupportsHover() = %v, want %v", tt.json, got, tt.wantHover)
		}
		if got := caps.SupportsCompletion(); got != tt.wantCompletion {
			t.Errorf("%s: SupportsCompletion() = %v, want %v", tt.json, got, tt.wantCompletion)
		}
	}
}

func TestFilePathToURI_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "main.go"),
		filepath.Join(dir, "with space", "file.py"),
		filepath.Join(dir, "ünïcode.rs"),
	}

	for _, path := range paths {
		uri := FilePathToURI(path)
		if got := string(uri); len(got) < 8 || got[:8] != "file:///" {
			t.Errorf("FilePathToURI(%q) = %q, want file:/// prefix", path, got)
		}
		if got := URIToFilePath(uri); got != path {
			t.Errorf("URIToFilePath(FilePathToURI(%q)) = %q", path, got)
		}
	}

	if got := FilePathToURI(""); got != "" {
		t.Errorf("FilePathToURI(\"\") = %q, want empty", got)
	}
	if got := URIToFilePath("untitled:Untitled-1"); got != "untitled:Untitled-1" {
		t.Errorf("URIToFilePath(untitled) = %q", got)
	}
}

func TestDetectLanguageID(t *testing.T) {
	tests := map[string]string{
		"main.go":       "go",
		"lib.RS":        "rust",
		"app.tsx":       "typescriptreact",
		"conf.yml":      "yaml",
		"src/Makefile":  "makefile",
		"README":        "plaintext",
		"notes.unknown": "plaintext",
	}
	for path, want := range tests {
		if got := DetectLanguageID(path); got != want {
			t.Errorf("DetectLanguageID(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestFileChangeType_String(t *testing.T) {
	tests := map[FileChangeType]string{
		FileCreated: "created",
		FileChanged: "changed",
		FileDeleted: "deleted",
	}
	for ct, want := range tests {
		if got := ct.String(); got != want {
			t.Errorf("String(%d) = %q, want %q", ct, got, want)
		}
	}
}

func TestDefaultInitializeParams(t *testing.T) {
	root := t.TempDir()
	data, err := json.Marshal(DefaultInitializeParams(root))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	v := gjson.ParseBytes(data)

	if !v.Get("processId").Exists() || v.Get("processId").Int() == 0 {
		t.Errorf("processId = %s", v.Get("processId").Raw)
	}
	if got := v.Get("clientInfo.name").String(); got != ClientName {
		t.Errorf("clientInfo.name = %q, want %q", got, ClientName)
	}
	if got := v.Get("rootUri").String(); got != string(FilePathToURI(root)) {
		t.Errorf("rootUri = %q", got)
	}
	if got := v.Get("workspaceFolders.#").Int(); got != 1 {
		t.Errorf("workspaceFolders = %s", v.Get("workspaceFolders").Raw)
	}
	if !v.Get("capabilities.textDocument.synchronization.didSave").Bool() {
		t.Error("didSave capability not declared")
	}
	if got := v.Get("capabilities.textDocument.hover.contentFormat.0").String(); got != "plaintext" {
		t.Errorf("hover contentFormat = %q", got)
	}
	if v.Get("capabilities.textDocument.completion.completionItem.snippetSupport").Bool() {
		t.Error("snippetSupport should be off")
	}
	if !v.Get("capabilities.textDocument.publishDiagnostics.versionSupport").Bool() {
		t.Error("publishDiagnostics.versionSupport not declared")
	}
	if !v.Get("capabilities.workspace.didChangeWatchedFiles").Exists() {
		t.Error("didChangeWatchedFiles not declared")
	}
}

func TestDefaultInitializeParams_NoRoot(t *testing.T) {
	data, err := json.Marshal(DefaultInitializeParams(""))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	v := gjson.ParseBytes(data)
	if rootURI := v.Get("rootUri"); !rootURI.Exists() || rootURI.Type != gjson.Null {
		t.Errorf("rootUri = %s, want null", rootURI.Raw)
	}
	if v.Get("workspaceFolders").Exists() {
		t.Errorf("workspaceFolders = %s, want omitted", v.Get("workspaceFolders").Raw)
	}
}

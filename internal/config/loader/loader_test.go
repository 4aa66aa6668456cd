package loader

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// MemFS is an in-memory file system for testing.
type MemFS struct {
	files map[string][]byte
	err   error
}

func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

func (m *MemFS) AddFile(path string, content string) {
	m.files[path] = []byte(content)
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

type sample struct {
	Name    string   `toml:"name" yaml:"name"`
	Count   int      `toml:"count" yaml:"count"`
	Tags    []string `toml:"tags" yaml:"tags"`
	Section struct {
		Enabled bool `toml:"enabled" yaml:"enabled"`
	} `toml:"section" yaml:"section"`
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"/etc/lspsession.toml", FormatTOML, false},
		{"CONFIG.TOML", FormatTOML, false},
		{"a.yaml", FormatYAML, false},
		{"a.yml", FormatYAML, false},
		{"a.json", 0, true},
		{"noext", 0, true},
	}

	for _, tt := range tests {
		got, err := FormatFor(tt.path)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownFormat) {
				t.Errorf("FormatFor(%q) error = %v, want ErrUnknownFormat", tt.path, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("FormatFor(%q) = %v, %v; want %v", tt.path, got, err, tt.want)
		}
	}
}

func TestFileLoader_LoadInto(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/c.toml", `
name = "toml"
count = 3
tags = ["a", "b"]

[section]
enabled = true
`)
	memfs.AddFile("/c.yaml", `
name: yaml
tags: [x]
section:
  enabled: true
`)

	tests := []struct {
		path string
		want sample
	}{
		{"/c.toml", sample{Name: "toml", Count: 3, Tags: []string{"a", "b"}}},
		{"/c.yaml", sample{Name: "yaml", Count: 7, Tags: []string{"x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := sample{Count: 7}
			found, err := NewWithFS(memfs).LoadInto(tt.path, &got)
			if err != nil {
				t.Fatalf("LoadInto() error = %v", err)
			}
			if !found {
				t.Fatal("LoadInto() found = false")
			}
			tt.want.Section.Enabled = true
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("decoded mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFileLoader_Missing(t *testing.T) {
	got := sample{Name: "default"}
	found, err := NewWithFS(NewMemFS()).LoadInto("/missing.toml", &got)
	if err != nil {
		t.Fatalf("LoadInto() error = %v", err)
	}
	if found {
		t.Error("found = true for missing file")
	}
	if got.Name != "default" {
		t.Errorf("Name = %q, want untouched default", got.Name)
	}
}

func TestFileLoader_ReadError(t *testing.T) {
	memfs := NewMemFS()
	memfs.err = fs.ErrPermission

	_, err := NewWithFS(memfs).LoadInto("/c.toml", &sample{})
	if !errors.Is(err, fs.ErrPermission) {
		t.Errorf("LoadInto() error = %v, want ErrPermission", err)
	}
}

func TestDecode_ParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		format   Format
		data     string
		wantLine int
	}{
		{"toml syntax", FormatTOML, "name = \"ok\"\ncount = = 3\n", 2},
		{"toml type", FormatTOML, "count = \"three\"\n", 0},
		{"yaml syntax", FormatYAML, "name: ok\ntags: [a\n", 0},
		{"yaml type", FormatYAML, "name: ok\ncount: three\n", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Decode(tt.format, "test", []byte(tt.data), &sample{})
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Decode() error = %v (%T), want *ParseError", err, err)
			}
			if perr.Path != "test" || perr.Err == nil {
				t.Errorf("ParseError = %+v", perr)
			}
			if tt.wantLine > 0 && perr.Line != tt.wantLine {
				t.Errorf("Line = %d, want %d", perr.Line, tt.wantLine)
			}
		})
	}
}

func TestParseError_Error(t *testing.T) {
	tests := []struct {
		err  ParseError
		want string
	}{
		{ParseError{Path: "a.toml", Message: "bad"}, "parse error in a.toml: bad"},
		{ParseError{Path: "a.toml", Line: 3, Message: "bad"}, "parse error in a.toml at line 3: bad"},
		{ParseError{Path: "a.toml", Line: 3, Column: 9, Message: "bad"}, "parse error in a.toml at line 3, column 9: bad"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

package lsp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"
)

func TestWriteFrame_ExactBytes(t *testing.T) {
	var buf bytes.Buffer
	body := []byte(`{"jsonrpc":"2.0","method":"exit"}`)

	if err := WriteFrame(&buf, body); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	want := "Content-Length: 33\r\n\r\n" + string(body)
	if buf.String() != want {
		t.Errorf("WriteFrame() wrote %q, want %q", buf.String(), want)
	}
}

func TestWriteFrame_MultiByteLength(t *testing.T) {
	var buf bytes.Buffer
	body := []byte(`{"text":"héllo ✓"}`)

	if err := WriteFrame(&buf, body); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	header := "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n"
	if !strings.HasPrefix(buf.String(), header) {
		t.Errorf("header should count bytes, got %q", buf.String())
	}
}

func TestWriteFrame_Flushes(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)

	if err := WriteFrame(bw, []byte(`{}`)); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	if buf.String() != "Content-Length: 2\r\n\r\n{}" {
		t.Errorf("buffered writer was not flushed, underlying = %q", buf.String())
	}
}

func TestFraming_RoundTrip(t *testing.T) {
	messages := []OutboundMessage{
		&Request{ID: 1, Method: "initialize", Params: map[string]any{"processId": 42.0}},
		&Notification{Method: "initialized", Params: struct{}{}},
		&Request{ID: 2, Method: "textDocument/hover", Params: map[string]any{
			"textDocument": map[string]any{"uri": "file:///tmp/a.go"},
			"position":     map[string]any{"line": 3.0, "character": 7.0},
		}},
		&Notification{Method: "exit"},
	}

	var buf bytes.Buffer
	for _, msg := range messages {
		body, err := EncodeMessage(msg)
		if err != nil {
			t.Fatalf("EncodeMessage(%s) error = %v", msg.MethodName(), err)
		}
		if err := WriteFrame(&buf, body); err != nil {
			t.Fatalf("WriteFrame() error = %v", err)
		}
	}

	fr := NewFrameReader(&buf)
	for _, msg := range messages {
		body, err := fr.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}

		var got map[string]any
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("body is not JSON: %v", err)
		}

		want := map[string]any{"jsonrpc": "2.0", "method": msg.MethodName()}
		switch m := msg.(type) {
		case *Request:
			want["id"] = float64(m.ID)
			if m.Params != nil {
				want["params"] = roundTripJSON(t, m.Params)
			}
		case *Notification:
			if m.Params != nil {
				want["params"] = roundTripJSON(t, m.Params)
			}
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("envelope mismatch for %s (-want +got):\n%s", msg.MethodName(), diff)
		}
	}

	if _, err := fr.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after last frame = %v, want io.EOF", err)
	}
}

func TestFrameReader_SkipsMalformedHeader(t *testing.T) {
	stream := "garbage line\r\n" +
		"Content-Length: 2\r\n\r\n{}"
	fr := NewFrameReader(strings.NewReader(stream))

	_, err := fr.Next()
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("first Next() = %v, want *FramingError", err)
	}
	if fe.IO {
		t.Errorf("malformed header reported as a read failure: %v", fe)
	}

	body, err := fr.Next()
	if err != nil {
		t.Fatalf("second Next() error = %v", err)
	}
	if string(body) != "{}" {
		t.Errorf("body = %q, want {}", body)
	}
}

func TestFrameReader_SkipsInvalidLength(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"not a number", "Content-Length: abc\r\n"},
		{"negative", "Content-Length: -4\r\n"},
		{"too large", "Content-Length: 999999999999\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := tt.header + "Content-Length: 14\r\n\r\n" + `{"method":"x"}`
			fr := NewFrameReader(strings.NewReader(stream))

			_, err := fr.Next()
			var fe *FramingError
			if !errors.As(err, &fe) {
				t.Fatalf("first Next() = %v, want *FramingError", err)
			}

			body, err := fr.Next()
			if err != nil {
				t.Fatalf("second Next() error = %v", err)
			}
			if string(body) != `{"method":"x"}` {
				t.Errorf("body = %q, want the second frame", body)
			}
		})
	}
}

func TestFrameReader_ToleratesExtraHeader(t *testing.T) {
	stream := "Content-Length: 2\r\n" +
		"Content-Type: application/vscode-jsonrpc; charset=utf-8\r\n" +
		"\r\n{}"
	fr := NewFrameReader(strings.NewReader(stream))

	body, err := fr.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if string(body) != "{}" {
		t.Errorf("body = %q, want {}", body)
	}
}

func TestFrameReader_ShortBody(t *testing.T) {
	fr := NewFrameReader(strings.NewReader("Content-Length: 10\r\n\r\n{}"))

	_, err := fr.Next()
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("Next() = %v, want *FramingError for short body", err)
	}
	if fe.IO {
		t.Errorf("short body reported as a read failure: %v", fe)
	}

	if _, err := fr.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after short body = %v, want io.EOF", err)
	}
}

func TestFrameReader_EOF(t *testing.T) {
	fr := NewFrameReader(strings.NewReader(""))
	if _, err := fr.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() on empty stream = %v, want io.EOF", err)
	}
}

func TestFrameReader_ClosedPipe(t *testing.T) {
	r, w := io.Pipe()
	r.Close()
	defer w.Close()

	fr := NewFrameReader(r)
	if _, err := fr.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() on closed pipe = %v, want io.EOF", err)
	}
}

func TestFrameReader_ReadFailure(t *testing.T) {
	fr := NewFrameReader(iotest.ErrReader(errors.New("device error")))

	_, err := fr.Next()
	var fe *FramingError
	if !errors.As(err, &fe) || !fe.IO {
		t.Fatalf("Next() = %v, want *FramingError with IO set", err)
	}
}

func roundTripJSON(t *testing.T, v any) any {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

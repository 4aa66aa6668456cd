package lsp

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func int64Ptr(v int64) *int64 { return &v }

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want InboundMessage
	}{
		{
			name: "response",
			body: `{"jsonrpc":"2.0","id":3,"result":{"ok":true}}`,
			want: &Response{ID: 3, Result: json.RawMessage(`{"ok":true}`)},
		},
		{
			name: "response with null result",
			body: `{"id":4,"result":null}`,
			want: &Response{ID: 4, Result: json.RawMessage(`null`)},
		},
		{
			name: "response without result",
			body: `{"id":5}`,
			want: &Response{ID: 5},
		},
		{
			name: "error wins over id and result",
			body: `{"id":1,"result":{},"error":{"code":-32601,"message":"no"}}`,
			want: &RPCError{ID: int64Ptr(1), Code: CodeMethodNotFound, Message: "no"},
		},
		{
			name: "error with data and null id",
			body: `{"id":null,"error":{"code":-32700,"message":"parse","data":"line 1"}}`,
			want: &RPCError{Code: CodeParseError, Message: "parse", Data: "line 1"},
		},
		{
			name: "error without id",
			body: `{"error":{"code":-32603,"message":"boom"}}`,
			want: &RPCError{Code: CodeInternalError, Message: "boom"},
		},
		{
			name: "notification",
			body: `{"jsonrpc":"2.0","method":"window/logMessage","params":{"type":3,"message":"hi"}}`,
			want: &ServerNotification{Method: "window/logMessage", Params: json.RawMessage(`{"type":3,"message":"hi"}`)},
		},
		{
			name: "notification without params",
			body: `{"method":"$/ping"}`,
			want: &ServerNotification{Method: "$/ping"},
		},
		{
			name: "server request keeps method",
			body: `{"id":7,"method":"window/workDoneProgress/create","params":{}}`,
			want: &Response{ID: 7, Method: "window/workDoneProgress/create"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClassifyMessage([]byte(tt.body))
			if err != nil {
				t.Fatalf("ClassifyMessage() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ClassifyMessage() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClassifyMessage_Violations(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		framing bool
	}{
		{name: "invalid json", body: `{"id":`, framing: true},
		{name: "array", body: `[1,2]`},
		{name: "error missing code", body: `{"id":1,"error":{"message":"x"}}`},
		{name: "error missing message", body: `{"id":1,"error":{"code":1}}`},
		{name: "notification missing method", body: `{"params":{}}`},
		{name: "non-string method", body: `{"method":12}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ClassifyMessage([]byte(tt.body))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var fe *FramingError
			if tt.framing {
				if !errors.As(err, &fe) {
					t.Errorf("expected *FramingError, got %T: %v", err, err)
				}
				return
			}
			if !errors.Is(err, ErrProtocolViolation) {
				t.Errorf("expected ErrProtocolViolation, got %v", err)
			}
		})
	}
}

func TestEncodeMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  OutboundMessage
		want string
	}{
		{
			name: "request with params",
			msg:  &Request{ID: 9, Method: "textDocument/hover", Params: map[string]int{"line": 1}},
			want: `{"jsonrpc":"2.0","id":9,"method":"textDocument/hover","params":{"line":1}}`,
		},
		{
			name: "request without params",
			msg:  &Request{ID: 2, Method: "shutdown"},
			want: `{"jsonrpc":"2.0","id":2,"method":"shutdown"}`,
		},
		{
			name: "notification",
			msg:  &Notification{Method: "initialized", Params: struct{}{}},
			want: `{"jsonrpc":"2.0","method":"initialized","params":{}}`,
		},
		{
			name: "notification without params",
			msg:  &Notification{Method: "exit"},
			want: `{"jsonrpc":"2.0","method":"exit"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeMessage(tt.msg)
			if err != nil {
				t.Fatalf("EncodeMessage() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeMessage() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name string
		msg  InboundMessage
		id   int64
		want bool
	}{
		{"same id", &Response{ID: 6}, 6, true},
		{"other id", &Response{ID: 5}, 6, false},
		{"server request", &Response{ID: 6, Method: "workspace/configuration"}, 6, false},
		{"error same id", &RPCError{ID: int64Ptr(6)}, 6, true},
		{"error other id", &RPCError{ID: int64Ptr(5)}, 6, false},
		{"error null id", &RPCError{}, 6, true},
		{"notification", &ServerNotification{Method: "x"}, 6, false},
	}

	for _, tt := range tests {
		if got := matches(tt.msg, tt.id); got != tt.want {
			t.Errorf("%s: matches() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

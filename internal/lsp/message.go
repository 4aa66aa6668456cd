package lsp

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

const jsonRPCVersion = "2.0"

// OutboundMessage is a unit of work for the frame writer: a *Request or a
// *Notification.
type OutboundMessage interface {
	outbound()
	// MethodName returns the JSON-RPC method.
	MethodName() string
}

// Request is a JSON-RPC request that expects a correlated response.
type Request struct {
	ID     int64
	Method string
	Params any
}

// Notification is a fire-and-forget JSON-RPC message.
type Notification struct {
	Method string
	Params any
}

func (*Request) outbound()      {}
func (*Notification) outbound() {}

// MethodName implements OutboundMessage.
func (r *Request) MethodName() string { return r.Method }

// MethodName implements OutboundMessage.
func (n *Notification) MethodName() string { return n.Method }

// requestEnvelope and notificationEnvelope are the wire shapes. Params is
// omitted when nil.
type requestEnvelope struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type notificationEnvelope struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// EncodeMessage serializes msg to its JSON-RPC 2.0 envelope.
func EncodeMessage(msg OutboundMessage) ([]byte, error) {
	switch m := msg.(type) {
	case *Request:
		return json.Marshal(requestEnvelope{
			JSONRPC: jsonRPCVersion,
			ID:      m.ID,
			Method:  m.Method,
			Params:  m.Params,
		})
	case *Notification:
		return json.Marshal(notificationEnvelope{
			JSONRPC: jsonRPCVersion,
			Method:  m.Method,
			Params:  m.Params,
		})
	default:
		return nil, fmt.Errorf("unsupported outbound message %T", msg)
	}
}

// InboundMessage is a classified frame read from the server: a *Response,
// an *RPCError or a *ServerNotification.
type InboundMessage interface {
	inbound()
}

// Response is a successful reply to a request.
type Response struct {
	ID int64
	// Result is the raw "result" value; nil when the field was absent.
	Result json.RawMessage
	// Method is set only when the frame carried both an id and a method,
	// i.e. it was a request initiated by the server.
	Method string
}

// ServerNotification is an unsolicited message from the server.
type ServerNotification struct {
	Method string
	Params json.RawMessage
}

func (*Response) inbound()           {}
func (*RPCError) inbound()           {}
func (*ServerNotification) inbound() {}

// ClassifyMessage parses a frame body and classifies it:
//  1. an "error" member makes it an *RPCError (code and message required);
//  2. otherwise an "id" member makes it a *Response;
//  3. otherwise it is a *ServerNotification (method required).
func ClassifyMessage(body []byte) (InboundMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, &FramingError{Reason: "body is not valid JSON"}
	}

	msg := gjson.ParseBytes(body)
	if !msg.IsObject() {
		return nil, fmt.Errorf("%w: message is not an object", ErrProtocolViolation)
	}

	if errObj := msg.Get("error"); errObj.Exists() {
		code := errObj.Get("code")
		message := errObj.Get("message")
		if code.Type != gjson.Number || message.Type != gjson.String {
			return nil, fmt.Errorf("%w: error object needs numeric code and string message", ErrProtocolViolation)
		}

		rpcErr := &RPCError{
			Code:    code.Int(),
			Message: message.String(),
		}
		if id := msg.Get("id"); id.Type == gjson.Number {
			v := id.Int()
			rpcErr.ID = &v
		}
		if data := errObj.Get("data"); data.Exists() {
			var v any
			if err := json.Unmarshal([]byte(data.Raw), &v); err == nil {
				rpcErr.Data = v
			}
		}
		return rpcErr, nil
	}

	if id := msg.Get("id"); id.Exists() {
		resp := &Response{}
		if id.Type == gjson.Number {
			resp.ID = id.Int()
		}
		if result := msg.Get("result"); result.Exists() {
			resp.Result = json.RawMessage(result.Raw)
		}
		if method := msg.Get("method"); method.Type == gjson.String {
			resp.Method = method.String()
		}
		return resp, nil
	}

	method := msg.Get("method")
	if method.Type != gjson.String {
		return nil, fmt.Errorf("%w: notification without method", ErrProtocolViolation)
	}

	notif := &ServerNotification{Method: method.String()}
	if params := msg.Get("params"); params.Exists() {
		notif.Params = json.RawMessage(params.Raw)
	}
	return notif, nil
}

// matches reports whether in answers the request with the given id.
func matches(in InboundMessage, id int64) bool {
	switch m := in.(type) {
	case *Response:
		return m.Method == "" && m.ID == id
	case *RPCError:
		return m.ID == nil || *m.ID == id
	default:
		return false
	}
}

func isNullResult(result json.RawMessage) bool {
	return len(result) == 0 || gjson.ParseBytes(result).Type == gjson.Null
}

func gjsonString(data json.RawMessage, path string) string {
	return gjson.GetBytes(data, path).String()
}

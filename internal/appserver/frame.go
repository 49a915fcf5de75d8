// Package appserver implements the line-delimited JSON-RPC 2.0 dispatcher
// that fronts this engine as a long-lived subprocess: one JSON value per
// line on stdin/stdout, request/response/notification framing, and the
// initialize/initialized handshake gate.
//
// Grounded on the teacher's internal/interfaces/websocket/handler.go
// (per-connection reader/writer goroutines, a registered message handler,
// a buffered single-writer send channel) generalized from WebSocket text
// frames to newline-delimited stdio, and on the wire-struct shapes of
// haasonsaas-nexus's internal/mcp JSONRPCRequest/Response/Notification/Error
// (the closest real stdio JSON-RPC implementation in the example pack).
package appserver

import (
	"encoding/json"
	"fmt"
)

const jsonrpcVersion = "2.0"

// ID is a JSON-RPC request id: either an integer or a string on the wire.
type ID struct {
	str    string
	num    int64
	isStr  bool
	isNum  bool
}

func NewIntID(n int64) ID { return ID{num: n, isNum: true} }
func NewStringID(s string) ID { return ID{str: s, isStr: true} }

func (id ID) String() string {
	if id.isStr {
		return id.str
	}
	if id.isNum {
		return fmt.Sprintf("%d", id.num)
	}
	return ""
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	if id.isNum {
		return json.Marshal(id.num)
	}
	return []byte("null"), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*id = ID{num: n, isNum: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID{str: s, isStr: true}
		return nil
	}
	return fmt.Errorf("appserver: id is neither an integer nor a string: %s", data)
}

// RPCError is the `error` member of a JSON-RPC error response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message) }

// Standard JSON-RPC 2.0 error codes, per the spec.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// frame is the wire envelope every line on the connection decodes into.
// Its shape is classified after decoding: Method+ID present -> a request;
// Method present with no ID -> a notification; Method absent -> a
// response (matched to a pending ID by whoever sent the original request).
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Request is an inbound or server-initiated JSON-RPC request: expects
// exactly one matching Response or Error frame in reply.
type Request struct {
	ID     ID
	Method string
	Params json.RawMessage
}

// Notification is a one-way JSON-RPC message: no reply is expected.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Response is a successful reply to a Request, matched by ID.
type Response struct {
	ID     ID
	Result json.RawMessage
}

// ErrorResponse is a failed reply to a Request, matched by ID.
type ErrorResponse struct {
	ID    ID
	Error *RPCError
}

func (f frame) classify() (req *Request, notif *Notification, resp *Response, errResp *ErrorResponse) {
	switch {
	case f.Method != "" && f.ID != nil:
		return &Request{ID: *f.ID, Method: f.Method, Params: f.Params}, nil, nil, nil
	case f.Method != "" && f.ID == nil:
		return nil, &Notification{Method: f.Method, Params: f.Params}, nil, nil
	case f.ID != nil && f.Error != nil:
		return nil, nil, nil, &ErrorResponse{ID: *f.ID, Error: f.Error}
	case f.ID != nil:
		return nil, nil, &Response{ID: *f.ID, Result: f.Result}, nil
	default:
		return nil, nil, nil, nil
	}
}

func encodeRequest(id ID, method string, params any) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{JSONRPC: jsonrpcVersion, ID: &id, Method: method, Params: raw})
}

func encodeNotification(method string, params any) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{JSONRPC: jsonrpcVersion, Method: method, Params: raw})
}

func encodeResponse(id ID, result any) ([]byte, error) {
	raw, err := marshalParams(result)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{JSONRPC: jsonrpcVersion, ID: &id, Result: raw})
}

func encodeError(id ID, rpcErr *RPCError) ([]byte, error) {
	return json.Marshal(frame{JSONRPC: jsonrpcVersion, ID: &id, Error: rpcErr})
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

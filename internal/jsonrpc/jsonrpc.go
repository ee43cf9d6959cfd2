// Package jsonrpc implements the JSON-RPC 2.0 envelope subset spoken by
// the router: requests with an optional numeric id, success and error
// replies, and server-push notifications.
package jsonrpc

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/rpcgate/rpcgate/internal/rpcerr"
	"github.com/rpcgate/rpcgate/internal/schema"
)

// Version is the only protocol version accepted in envelopes.
const Version = "2.0"

// envelopeShape is the structural contract for an inbound request: the
// four known members only, jsonrpc pinned to the literal "2.0", method a
// string, id a number when present, params an object when present.
var validEnvelope = schema.MustCompile(&schema.Shape{
	Required: []string{"jsonrpc", "method"},
	Properties: map[string]*schema.Shape{
		"jsonrpc": {Type: schema.TypeString, Pattern: `2\.0`},
		"method":  {Type: schema.TypeString},
		"id":      {Type: schema.TypeNumber},
		"params":  {AdditionalProperties: true},
	},
})

// Request is a parsed, structurally valid inbound request.
type Request struct {
	Method string
	ID     *float64
	Params map[string]any
}

// Module splits the request method into its module and method parts.
// "auth/login" yields ("auth", "login"); a method with no separator
// yields an empty method name, which dispatch reports as not found.
func (r *Request) Module() (string, string) {
	moduleName, methodName, _ := strings.Cut(r.Method, "/")
	return moduleName, methodName
}

// ParseRequest decodes and structurally validates one request envelope.
// Malformed JSON maps to PARSE_ERROR and structural violations to
// INVALID_REQUEST, both as passable errors built from catalog.
func ParseRequest(buf []byte, catalog *rpcerr.Catalog) (*Request, error) {
	var raw map[string]any
	if err := json.Unmarshal(buf, &raw); err != nil {
		return nil, catalog.New(rpcerr.ParseError)
	}
	if !validEnvelope(raw) {
		return nil, catalog.New(rpcerr.InvalidRequest)
	}

	req := &Request{Method: raw["method"].(string)}
	if id, ok := raw["id"].(float64); ok {
		req.ID = &id
	}
	if params, ok := raw["params"].(map[string]any); ok {
		req.Params = params
	}
	return req, nil
}

// Response is a success reply. The id is echoed from the request and
// omitted entirely when the request carried none.
type Response struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      *float64       `json:"id,omitempty"`
	Result  map[string]any `json:"result"`
}

// NewResponse builds the success reply for a request id.
func NewResponse(id *float64, result map[string]any) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// ErrorBody is the error member of an error reply.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse is an error reply. Unlike a success reply, the id member
// is always present and defaults to null.
type ErrorResponse struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      *float64   `json:"id"`
	Error   *ErrorBody `json:"error"`
}

// NewErrorResponse builds the error reply for a passable protocol error.
// Data tags along only when present and object- or array-shaped; scalar
// data is dropped silently.
func NewErrorResponse(id *float64, e *rpcerr.Error) *ErrorResponse {
	body := &ErrorBody{Code: e.Code, Message: e.Message}
	if structured(e.Data) {
		body.Data = e.Data
	}
	return &ErrorResponse{JSONRPC: Version, ID: id, Error: body}
}

func structured(v any) bool {
	switch v.(type) {
	case nil:
		return false
	case map[string]any, []any:
		return true
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return true
	}
	return false
}

// Event is the payload of a server-push notification.
type Event struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// Notification is a server-initiated push. It carries no id: it is not a
// reply to any request.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Result  *Event `json:"result"`
}

// NewNotification builds the push envelope for an emitted event.
func NewNotification(event string, data map[string]any) *Notification {
	return &Notification{JSONRPC: Version, Result: &Event{Event: event, Data: data}}
}

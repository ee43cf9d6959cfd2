// Package rpcerr defines the protocol error catalog and the error type
// carried through the dispatch pipeline.
//
// Errors split into two kinds. A *Error is "passable": it represents an
// expected, client-attributable protocol fault and its code, message and
// data are safe to serialize verbatim into a JSON-RPC error envelope.
// Any other error value is internal: the caller receives a generic
// INTERNAL_ERROR envelope and the original error is surfaced to the
// operator through logging.
package rpcerr

import (
	"errors"
	"fmt"
	"sync"
)

// Labels of the built-in catalog entries.
const (
	ParseError           = "PARSE_ERROR"
	InvalidRequest       = "INVALID_REQUEST"
	MethodNotFound       = "METHOD_NOT_FOUND"
	InvalidParams        = "INVALID_PARAMS"
	InternalError        = "INTERNAL_ERROR"
	Unauthorized         = "UNAUTHORIZED"
	Forbidden            = "FORBIDDEN"
	AuthenticationFailed = "AUTHENTICATION_FAILED"
	DataConflict         = "DATA_CONFLICT"
	DataError            = "DATA_ERROR"
	ServiceUnavailable   = "SERVICE_UNAVAILABLE"
	InvalidHTTPMethod    = "INVALID_HTTP_METHOD"
	BadTransport         = "BAD_TRANSPORT"
	PayloadTooLarge      = "PAYLOAD_TOO_LARGE"
	BodyReceiveError     = "BODY_RECEIVE_ERROR"
)

// Entry is one catalog record: a numeric protocol code and its default
// message.
type Entry struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Catalog is a mutable mapping from symbolic label to Entry. The zero
// value is unusable; use NewCatalog, which seeds the built-in entries.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewCatalog returns a catalog seeded with the built-in protocol errors.
// The -32xxx codes follow JSON-RPC 2.0; the -40xxx family covers
// application faults and the -50xxx family transport faults.
func NewCatalog() *Catalog {
	return &Catalog{entries: map[string]Entry{
		ParseError:           {-32700, "Invalid JSON was received by the server."},
		InvalidRequest:       {-32600, "The JSON sent is not a valid Request object."},
		MethodNotFound:       {-32601, "The method does not exist / is not available."},
		InvalidParams:        {-32602, "Invalid method parameter(s)."},
		InternalError:        {-32603, "Internal server error."},
		Unauthorized:         {-40401, "Authentication credentials required."},
		Forbidden:            {-40403, "Permission denied."},
		AuthenticationFailed: {-40300, "Authentication failed."},
		DataConflict:         {-40409, "Conflict error."},
		DataError:            {-40410, "Data error."},
		ServiceUnavailable:   {-40503, "Service temporarily unavailable."},
		InvalidHTTPMethod:    {-50400, "Request method must be POST."},
		BadTransport:         {-50405, "Inappropriate transport protocol."},
		PayloadTooLarge:      {-50413, "Request payload size exceeds the limit."},
		BodyReceiveError:     {-50502, "An error occurred while receiving body data."},
	}}
}

// Register adds or replaces a catalog entry. A later registration under
// the same label wins. Empty labels and zero codes are usage faults and
// are rejected immediately.
func (c *Catalog) Register(label string, code int, message string) error {
	if label == "" || code == 0 {
		return errors.New("rpcerr: label and code for new error types must be provided")
	}
	c.mu.Lock()
	c.entries[label] = Entry{Code: code, Message: message}
	c.mu.Unlock()
	return nil
}

// Lookup returns the entry registered under label.
func (c *Catalog) Lookup(label string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[label]
	c.mu.RUnlock()
	return e, ok
}

// Snapshot returns a copy of the catalog for read-only exposure through
// introspection.
func (c *Catalog) Snapshot() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Entry, len(c.entries))
	for label, e := range c.entries {
		out[label] = e
	}
	return out
}

// New constructs a passable error from the catalog entry registered
// under label. Unknown labels fall back to INTERNAL_ERROR so a typo in
// an error site cannot crash dispatch.
func (c *Catalog) New(label string) *Error {
	return c.NewWithData(label, nil)
}

// NewWithData is New with an attached data payload. Only object- and
// array-shaped payloads survive serialization; see Error.Data.
func (c *Catalog) NewWithData(label string, data any) *Error {
	e, ok := c.Lookup(label)
	if !ok {
		e = Entry{Code: -32603, Message: "Internal server error."}
		label = InternalError
	}
	return &Error{Label: label, Code: e.Code, Message: e.Message, Data: data}
}

// Error is a passable protocol fault. It is safe to describe verbatim to
// the caller.
type Error struct {
	Label   string
	Code    int
	Message string

	// Data is optional structured detail included in the error
	// envelope. Objects and arrays are carried verbatim; anything
	// scalar is dropped silently at serialization.
	Data any
}

func (e *Error) Error() string {
	if len(e.Message) == 0 {
		return fmt.Sprintf("rpc error %d", e.Code)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// AsError reports whether err is (or wraps) a passable protocol error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

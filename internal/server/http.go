package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rpcgate/rpcgate/internal/modules"
	"github.com/rpcgate/rpcgate/internal/rpcerr"
	"github.com/rpcgate/rpcgate/internal/session"
	"github.com/rpcgate/rpcgate/internal/user"
)

// securityHeaders are attached to every HTTP response, replies and
// preflights alike.
var securityHeaders = map[string]string{
	"X-Content-Type-Options":           "nosniff",
	"X-Frame-Options":                  "DENY",
	"Strict-Transport-Security":        "max-age=31536000; includeSubDomains",
	"Cache-Control":                    "no-store",
	"Access-Control-Allow-Methods":     "POST, OPTIONS",
	"Access-Control-Allow-Headers":     "Content-Type",
	"Access-Control-Allow-Credentials": "true",
}

var (
	errPayloadTooLarge = errors.New("server: request body exceeds the payload limit")
)

// httpConn is the one-shot transport adapter: bound at construction to
// exactly one request/response pair.
type httpConn struct {
	*Conn

	w           http.ResponseWriter
	cors        bool
	allowOrigin []string

	mu        sync.Mutex
	finalized bool
}

func newHTTPConn(m *modules.Compiled, registry *Registry, sessions session.Service, users *user.Service, w http.ResponseWriter, r *http.Request, cors bool, allowOrigin []string) *httpConn {
	h := &httpConn{
		w:           w,
		cors:        cors,
		allowOrigin: allowOrigin,
	}
	h.Conn = newConn(m, registry, sessions, users, r)
	h.Conn.tr = h
	return h
}

func (h *httpConn) kind() modules.Transport {
	return modules.TransportHTTP
}

// alive reports whether a reply can still be written. Once the response
// is finalized the principal is unreachable: an emit against it must
// fail with BAD_TRANSPORT rather than vanish.
func (h *httpConn) alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.finalized
}

// send writes the single JSON reply. It is a no-op after the response
// has been finalized, guarding the race between a normal completion and
// a close-triggered destroy.
func (h *httpConn) send(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finalized {
		return nil
	}
	h.finalized = true

	header := h.w.Header()
	h.applyHeaders(header)
	header.Set("Content-Type", "application/json")
	h.w.WriteHeader(http.StatusOK)
	_, err := h.w.Write(data)
	return err
}

func (h *httpConn) closeTransport() {
	h.mu.Lock()
	h.finalized = true
	h.mu.Unlock()
}

// applyHeaders sets the security headers and the computed CORS
// allow-origin: the request origin is echoed back when CORS checking is
// disabled or the origin is allow-listed, otherwise the header stays
// empty and cross-origin reads are denied.
func (h *httpConn) applyHeaders(header http.Header) {
	for name, value := range securityHeaders {
		header.Set(name, value)
	}
	origin := h.request.Header.Get("Origin")
	if !h.cors || originAllowed(h.allowOrigin, origin) {
		header.Set("Access-Control-Allow-Origin", origin)
	} else {
		header.Set("Access-Control-Allow-Origin", "")
	}
}

func originAllowed(allowOrigin []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range allowOrigin {
		if allowed == origin {
			return true
		}
	}
	return false
}

// serveRequest drives the one-shot lifecycle: preflight for OPTIONS,
// bounded body accumulation plus dispatch for POST, an error for any
// other verb. The returned error is non-nil only for internal faults.
func (h *httpConn) serveRequest(ctx context.Context, maxPayload int64) error {
	switch h.request.Method {
	case http.MethodOptions:
		h.preflight()
		return nil

	case http.MethodPost:
		body, err := receiveBody(h.request.Body, maxPayload)
		if err != nil {
			if errors.Is(err, errPayloadTooLarge) {
				h.sendError(nil, h.catalog().New(rpcerr.PayloadTooLarge))
			} else {
				h.sendError(nil, h.catalog().New(rpcerr.BodyReceiveError))
			}
			return nil
		}
		if err := h.initialise(ctx); err != nil {
			h.sendError(nil, h.catalog().New(rpcerr.InternalError))
			return err
		}
		return h.message(ctx, body)

	default:
		h.sendError(nil, h.catalog().New(rpcerr.InvalidHTTPMethod))
		return nil
	}
}

// preflight answers a CORS preflight: headers only, no body, no auth,
// no dispatch.
func (h *httpConn) preflight() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finalized {
		return
	}
	h.finalized = true
	h.applyHeaders(h.w.Header())
	h.w.WriteHeader(http.StatusOK)
}

// startUserSession and deleteUserSession make httpConn the transport
// that can persist sessions: the cookie rides on this response.
func (h *httpConn) startUserSession(u user.User) (session.Session, error) {
	h.mu.Lock()
	finalized := h.finalized
	h.mu.Unlock()
	if finalized {
		return session.Session{}, fmt.Errorf("server: response already finalized")
	}
	return h.sessions.Start(h.request.Context(), h.w, h.request, u.Username)
}

func (h *httpConn) deleteUserSession() (session.Session, error) {
	h.mu.Lock()
	finalized := h.finalized
	h.mu.Unlock()
	if finalized {
		return session.Session{}, fmt.Errorf("server: response already finalized")
	}
	return h.sessions.End(h.request.Context(), h.w, h.request)
}

// receiveBody accumulates the request body up to max bytes. Exceeding
// the limit aborts the read with errPayloadTooLarge, distinct from a
// transport-level receive failure.
func receiveBody(body io.Reader, max int64) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(body, max+1))
	if err != nil {
		return nil, fmt.Errorf("server: receive body: %w", err)
	}
	if int64(len(buf)) > max {
		return nil, errPayloadTooLarge
	}
	return buf, nil
}

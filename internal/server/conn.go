package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rpcgate/rpcgate/internal/jsonrpc"
	"github.com/rpcgate/rpcgate/internal/logging"
	"github.com/rpcgate/rpcgate/internal/modules"
	"github.com/rpcgate/rpcgate/internal/rpcerr"
	"github.com/rpcgate/rpcgate/internal/session"
	"github.com/rpcgate/rpcgate/internal/storage"
	"github.com/rpcgate/rpcgate/internal/user"
)

// transport is the adapter contract the shared state machine writes
// through. send must deliver one whole framed message atomically.
type transport interface {
	kind() modules.Transport
	send(data []byte) error
	alive() bool
}

// terminator is implemented by transports that can be force-closed
// during shutdown.
type terminator interface {
	closeTransport()
}

// sessionStarter and sessionEnder are transport capabilities: only
// adapters that can persist a session (HTTP, via cookies) implement
// them. Client.StartSession/DeleteSession probe for them and surface
// BAD_TRANSPORT where they are missing.
type sessionStarter interface {
	startUserSession(u user.User) (session.Session, error)
}

type sessionEnder interface {
	deleteUserSession() (session.Session, error)
}

// Conn is the transport-independent JSON-RPC message state machine. A
// Conn exclusively owns one Client; transports embed it and install
// themselves as tr.
type Conn struct {
	client   *Client
	modules  *modules.Compiled
	registry *Registry
	sessions session.Service
	users    *user.Service
	request  *http.Request
	tr       transport

	// initialised is closed once session restore finished and the conn
	// is registered. Message processing waits on it so a frame arriving
	// before the async restore completes is neither dropped nor handled
	// with a stale identity.
	initialised chan struct{}

	destroyOnce sync.Once
	destroyed   chan struct{}
}

func newConn(m *modules.Compiled, registry *Registry, sessions session.Service, users *user.Service, r *http.Request) *Conn {
	return &Conn{
		client:      NewClient(registry, m.Catalog()),
		modules:     m,
		registry:    registry,
		sessions:    sessions,
		users:       users,
		request:     r,
		initialised: make(chan struct{}),
		destroyed:   make(chan struct{}),
	}
}

// Client returns the principal this connection owns.
func (c *Conn) Client() *Client {
	return c.client
}

func (c *Conn) catalog() *rpcerr.Catalog {
	return c.modules.Catalog()
}

// initialise restores the session from the transport's request context,
// resolves the user identity, registers the connection, and releases
// any messages queued behind the initialised gate. Safe to call once.
func (c *Conn) initialise(ctx context.Context) error {
	sess, err := c.sessions.Restore(ctx, c.request)
	if err != nil {
		return fmt.Errorf("server: restore session: %w", err)
	}
	if sess.Active() {
		u, err := c.users.GetByUsername(ctx, sess.Username)
		switch {
		case err == nil:
			c.client.setIdentity(u, sess)
		case errors.Is(err, storage.ErrNotFound):
			// a session for a deleted user restores as anonymous
		default:
			return fmt.Errorf("server: resolve user %q: %w", sess.Username, err)
		}
	}
	c.registry.register(c.client, c)
	close(c.initialised)
	return nil
}

// message runs one inbound buffer through the dispatch pipeline and
// writes the reply. Passable faults are replied to the caller (echoing
// the request id where it is known) and logged; the returned error is
// non-nil only for internal faults, which the caller received masked as
// INTERNAL_ERROR and the transport layer must surface to operators.
func (c *Conn) message(ctx context.Context, buf []byte) error {
	req, err := jsonrpc.ParseRequest(buf, c.catalog())
	if err != nil {
		pe, _ := rpcerr.AsError(err)
		c.sendError(nil, pe)
		logging.Error("invalid request envelope", zap.Error(pe))
		return nil
	}

	moduleName, methodName := req.Module()
	logging.LogCall(c.remoteAddr(), string(c.tr.kind()), req.Method)

	result, err := c.modules.Call(ctx, moduleName, methodName, req.Params, c.client, c.tr.kind())
	if err != nil {
		if pe, ok := rpcerr.AsError(err); ok {
			c.sendError(req.ID, pe)
			logging.Error("call failed",
				zap.String("method", req.Method),
				zap.Int("code", pe.Code),
				zap.Error(pe),
			)
			return nil
		}
		c.sendError(req.ID, c.catalog().New(rpcerr.InternalError))
		return err
	}

	return c.send(jsonrpc.NewResponse(req.ID, result))
}

// emitEvent validates and pushes one event notification. Violating the
// declared emit shape is a server-side bug, reported as a plain error.
func (c *Conn) emitEvent(event string, data map[string]any) error {
	moduleName, methodName, _ := strings.Cut(event, "/")
	validate, ok := c.modules.EmitValidator(moduleName, methodName)
	if !ok {
		return fmt.Errorf("server: emit for unknown method %q", event)
	}
	if data == nil {
		data = map[string]any{}
	}
	if !validate(data) {
		return fmt.Errorf("server: emit payload for %q violates its declared shape", event)
	}
	return c.send(jsonrpc.NewNotification(event, data))
}

// send serializes one envelope and hands it to the transport as a
// single atomic write.
func (c *Conn) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("server: marshal reply: %w", err)
	}
	return c.tr.send(data)
}

// sendError writes a protocol error envelope. Write failures here are
// logged and dropped: the connection is usually already going away.
func (c *Conn) sendError(id *float64, e *rpcerr.Error) {
	if err := c.send(jsonrpc.NewErrorResponse(id, e)); err != nil {
		logging.Debug("failed to write error reply", zap.Error(err))
	}
}

// serviceUnavailable is the shutdown kiss-off for stragglers.
func (c *Conn) serviceUnavailable() {
	c.sendError(nil, c.catalog().New(rpcerr.ServiceUnavailable))
}

// destroy deregisters the connection. Idempotent; safe after partial
// initialisation.
func (c *Conn) destroy() {
	c.destroyOnce.Do(func() {
		c.registry.deregister(c.client, c)
		close(c.destroyed)
	})
}

// terminate force-closes the underlying transport and destroys the
// connection. Used by server shutdown after the grace period.
func (c *Conn) terminate() {
	if t, ok := c.tr.(terminator); ok {
		t.closeTransport()
	}
	c.destroy()
}

func (c *Conn) remoteAddr() string {
	if c.request != nil {
		return c.request.RemoteAddr
	}
	return ""
}

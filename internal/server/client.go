package server

import (
	"sync"

	"github.com/rpcgate/rpcgate/internal/rpcerr"
	"github.com/rpcgate/rpcgate/internal/session"
	"github.com/rpcgate/rpcgate/internal/user"
)

// Client is the transport-independent principal behind a connection: the
// current identity and session, plus the operations modules may perform
// against whichever live connection currently owns the principal. It
// satisfies modules.Caller.
type Client struct {
	mu       sync.RWMutex
	usr      user.User
	sess     session.Session
	registry *Registry
	catalog  *rpcerr.Catalog
}

// NewClient returns an anonymous client bound to registry.
func NewClient(registry *Registry, catalog *rpcerr.Catalog) *Client {
	if catalog == nil {
		catalog = rpcerr.NewCatalog()
	}
	return &Client{registry: registry, catalog: catalog}
}

// User returns the client's current identity; the zero User is
// anonymous.
func (c *Client) User() user.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usr
}

// Session returns the client's current session.
func (c *Client) Session() session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

func (c *Client) setIdentity(u user.User, s session.Session) {
	c.mu.Lock()
	c.usr, c.sess = u, s
	c.mu.Unlock()
}

func (c *Client) clearIdentity() {
	c.mu.Lock()
	c.usr, c.sess = user.User{}, session.Session{}
	c.mu.Unlock()
}

// CheckConnection reports whether this client currently has a live,
// usable transport registered.
func (c *Client) CheckConnection() bool {
	conn, ok := c.registry.lookup(c)
	return ok && conn.tr.alive()
}

// Emit pushes an event notification through the client's current
// connection. It fails with BAD_TRANSPORT when no live connection is
// registered (an HTTP request already completed, a closed socket). The
// payload is validated against the event method's declared emit shape
// before anything is written.
func (c *Client) Emit(event string, data map[string]any) error {
	conn, ok := c.registry.lookup(c)
	if !ok || !conn.tr.alive() {
		return c.catalog.New(rpcerr.BadTransport)
	}
	return conn.emitEvent(event, data)
}

// StartSession establishes a session for u on the client's current
// connection. Transports that cannot persist sessions (WebSocket has no
// response to set a cookie on) surface BAD_TRANSPORT.
func (c *Client) StartSession(u user.User) error {
	conn, ok := c.registry.lookup(c)
	if !ok {
		return c.catalog.New(rpcerr.BadTransport)
	}
	starter, ok := conn.tr.(sessionStarter)
	if !ok {
		return c.catalog.New(rpcerr.BadTransport)
	}
	sess, err := starter.startUserSession(u)
	if err != nil {
		return err
	}
	c.setIdentity(u, sess)
	return nil
}

// DeleteSession ends the session on the client's current connection.
// Like StartSession, it is a transport capability.
func (c *Client) DeleteSession() error {
	conn, ok := c.registry.lookup(c)
	if !ok {
		return c.catalog.New(rpcerr.BadTransport)
	}
	ender, ok := conn.tr.(sessionEnder)
	if !ok {
		return c.catalog.New(rpcerr.BadTransport)
	}
	if _, err := ender.deleteUserSession(); err != nil {
		return err
	}
	c.clearIdentity()
	return nil
}

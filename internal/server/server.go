package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rpcgate/rpcgate/internal/config"
	"github.com/rpcgate/rpcgate/internal/discovery"
	"github.com/rpcgate/rpcgate/internal/logging"
	"github.com/rpcgate/rpcgate/internal/modules"
	"github.com/rpcgate/rpcgate/internal/rpcerr"
	"github.com/rpcgate/rpcgate/internal/session"
	"github.com/rpcgate/rpcgate/internal/user"
)

// Server accepts HTTP and WebSocket uplinks on a single listener and
// routes every inbound message through the compiled module set.
type Server struct {
	cfg      *config.Config
	sessions session.Service
	users    *user.Service
	registry *Registry
	catalog  *rpcerr.Catalog

	modules    *modules.Compiled
	listener   net.Listener
	httpServer *http.Server
	advertiser *discovery.Advertiser

	// base is the lifetime context for websocket read pumps, which
	// outlive the upgrade handler that spawned them.
	base       context.Context
	cancelBase context.CancelFunc
}

// New creates a Server. The catalog is shared with the module
// definitions so custom errors registered by modules are visible to
// introspection; nil means the default catalog. Start must be called
// before the server serves anything.
func New(cfg *config.Config, sessions session.Service, users *user.Service, registry *Registry, catalog *rpcerr.Catalog) *Server {
	if catalog == nil {
		catalog = rpcerr.NewCatalog()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		sessions:   sessions,
		users:      users,
		registry:   registry,
		catalog:    catalog,
		base:       base,
		cancelBase: cancel,
	}
}

// Start compiles the module definitions, binds the listener, and begins
// serving in the background. It returns once the listener is bound, so
// callers (and tests using port 0) can read Addr immediately.
func (s *Server) Start(defs map[string]*modules.Definition) error {
	compiled, err := modules.Build(defs, s.catalog)
	if err != nil {
		return fmt.Errorf("server: build modules: %w", err)
	}
	s.modules = compiled

	listener, err := s.listen()
	if err != nil {
		return err
	}
	s.listener = listener

	s.httpServer = &http.Server{Handler: http.HandlerFunc(s.handle)}

	logging.Info("Server listening",
		zap.String("addr", listener.Addr().String()),
		zap.Bool("tls", s.cfg.Secure),
		zap.Strings("modules", compiled.Names()),
	)

	if s.cfg.Advertise {
		adv, err := discovery.Advertise("rpcgate", s.port())
		if err != nil {
			logging.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			s.advertiser = adv
		}
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("serve failed", zap.Error(err))
		}
	}()

	return nil
}

// Run starts the server and blocks until SIGINT or SIGTERM, then shuts
// down gracefully.
func (s *Server) Run(defs map[string]*modules.Definition) error {
	if err := s.Start(defs); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logging.Info("Shutdown signal received, stopping server...")
	return s.Close()
}

// Close stops accepting new uplinks, gives in-flight requests the
// configured grace period, then forcibly terminates the stragglers:
// pending HTTP requests get a SERVICE_UNAVAILABLE reply before their
// sockets are severed, websockets are simply closed.
func (s *Server) Close() error {
	s.advertiser.Shutdown()

	graceCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ServerCloseTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(graceCtx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logging.Error("shutdown failed", zap.Error(err))
	}

	stragglers := s.registry.snapshot()
	for _, conn := range stragglers {
		if conn.tr.kind() == modules.TransportHTTP {
			conn.serviceUnavailable()
		}
		conn.terminate()
	}

	// Shutdown leaves the sockets of still-running handlers open. Sever
	// them so a request stuck inside a module method cannot hold its
	// connection past shutdown; the handler's request context cancels
	// with the socket.
	if err := s.httpServer.Close(); err != nil {
		logging.Debug("close http server", zap.Error(err))
	}

	s.cancelBase()
	logging.Info("Server stopped", zap.Int("terminated", len(stragglers)))
	logging.Sync()
	return nil
}

// Addr returns the bound listener address, useful when the configured
// port is 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) listen() (net.Listener, error) {
	if !s.cfg.Secure {
		listener, err := net.Listen("tcp", s.cfg.Addr())
		if err != nil {
			return nil, fmt.Errorf("server: listen on %s: %w", s.cfg.Addr(), err)
		}
		return listener, nil
	}

	tlsConfig, err := NewTLSConfig(s.cfg.CertPath, s.cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	listener, err := tls.Listen("tcp", s.cfg.Addr(), tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("server: listen on %s: %w", s.cfg.Addr(), err)
	}
	return listener, nil
}

func (s *Server) port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return s.cfg.Port
}

// handle is the single entrypoint for both transports: requests that
// carry a websocket upgrade handshake become persistent connections,
// everything else is a one-shot exchange.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r)
		return
	}
	s.handleHTTP(w, r)
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	conn := newHTTPConn(s.modules, s.registry, s.sessions, s.users, w, r, s.cfg.CORS, s.cfg.AllowOrigin)
	defer conn.destroy()

	logging.LogConnection(r.RemoteAddr, "http_request")
	if err := conn.serveRequest(r.Context(), s.cfg.MaxPayload); err != nil {
		logging.Error("request failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.CORS {
		if origin := r.Header.Get("Origin"); origin != "" && !originAllowed(s.cfg.AllowOrigin, origin) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
	}

	// Origin was checked above; the upgrader must not re-apply its
	// same-origin default.
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	conn := newWSConn(s.modules, s.registry, s.sessions, s.users, ws, r, s.cfg.MaxPayload)
	logging.LogConnection(r.RemoteAddr, "websocket_open")

	go conn.readPump(s.base)

	if err := conn.initialise(s.base); err != nil {
		logging.Error("connection initialisation failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		conn.sendError(nil, conn.catalog().New(rpcerr.InternalError))
		conn.terminate()
	}
}

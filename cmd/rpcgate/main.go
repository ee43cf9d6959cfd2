// Rpcgate is a transport-agnostic JSON-RPC 2.0 server.
//
// It accepts the same procedure calls over one-shot HTTP requests and
// persistent WebSocket connections, routes them through declarative
// module schemas, and pushes server-initiated events to WebSocket
// clients. The built-in auth module provides cookie-session accounts;
// the counter module demonstrates server push.
//
// Usage:
//
//	rpcgate serve [flags]
//
// See 'rpcgate serve --help' for available options.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rpcgate/rpcgate/internal/auth"
	"github.com/rpcgate/rpcgate/internal/config"
	"github.com/rpcgate/rpcgate/internal/counter"
	"github.com/rpcgate/rpcgate/internal/logging"
	"github.com/rpcgate/rpcgate/internal/modules"
	"github.com/rpcgate/rpcgate/internal/rpcerr"
	"github.com/rpcgate/rpcgate/internal/server"
	"github.com/rpcgate/rpcgate/internal/session"
	"github.com/rpcgate/rpcgate/internal/storage"
	"github.com/rpcgate/rpcgate/internal/user"
	"github.com/rpcgate/rpcgate/internal/version"
)

func main() {
	// A missing .env file is fine; it only ever supplies defaults.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "rpcgate",
	Short:   "JSON-RPC 2.0 server over HTTP and WebSocket",
	Long:    `A JSON-RPC 2.0 server that routes the same module methods over one-shot HTTP requests and persistent WebSocket connections, with schema validation, cookie sessions, and server-pushed events.`,
	Version: version.Version,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Serve command and flags
var (
	configPath string
	host       string
	port       int
	logLevel   string
	certPath   string
	keyPath    string
	secure     bool
	advertise  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON-RPC server",
	Long: `Start the JSON-RPC server and block until SIGINT or SIGTERM.

Configuration is read from the YAML file given with --config, with
command-line flags taking precedence. Without --config the built-in
defaults are used. The session store is in-memory unless a Postgres
DSN is configured.`,
	Example: `  # Start with defaults (localhost:8080, in-memory store)
  rpcgate serve

  # Start on a custom port with debug logging
  rpcgate serve --port 9090 --log-level debug

  # Start from a config file, with TLS
  rpcgate serve --config rpcgate.yaml --secure --cert cert.pem --key key.pem`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML configuration file")
	serveCmd.Flags().StringVar(&host, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides config)")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	serveCmd.Flags().StringVar(&certPath, "cert", "", "Path to TLS certificate file")
	serveCmd.Flags().StringVar(&keyPath, "key", "", "Path to TLS private key file")
	serveCmd.Flags().BoolVar(&secure, "secure", false, "Serve TLS (requires --cert and --key or config equivalents)")
	serveCmd.Flags().BoolVar(&advertise, "advertise", false, "Advertise the server on mDNS")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	users := user.NewService(store)
	sessions := session.NewCookieService(store, sessionKey(cfg))
	catalog := rpcerr.NewCatalog()

	counts := counter.New()
	defs := map[string]*modules.Definition{
		auth.ModuleName:    auth.Definition(users, catalog),
		counter.ModuleName: counts.Definition(),
	}

	tickCtx, stopTicks := context.WithCancel(cmd.Context())
	defer stopTicks()
	go counts.Run(tickCtx, 2*time.Second)

	srv := server.New(cfg, sessions, users, server.NewRegistry(), catalog)
	return srv.Run(defs)
}

// applyFlags overrides config fields with any flags the user set
// explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Host = host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("cert") {
		cfg.CertPath = certPath
	}
	if cmd.Flags().Changed("key") {
		cfg.KeyPath = keyPath
	}
	if cmd.Flags().Changed("secure") {
		cfg.Secure = secure
	}
	if cmd.Flags().Changed("advertise") {
		cfg.Advertise = advertise
	}
}

// store is the combined persistence surface both services share.
type store interface {
	user.Store
	session.Store
}

func openStore(ctx context.Context, cfg *config.Config) (store, error) {
	if dsn := cfg.PostgresDSN; dsn != "" {
		pg, err := storage.OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open Postgres store: %w", err)
		}
		logging.Info("Using Postgres store")
		return pg, nil
	}
	logging.Info("Using in-memory store")
	return storage.NewMemory(), nil
}

// sessionKey returns the configured cookie signing key, or a random
// per-process key when none is configured. A random key invalidates
// existing session cookies on restart.
func sessionKey(cfg *config.Config) []byte {
	if cfg.SessionKey != "" {
		return []byte(cfg.SessionKey)
	}
	logging.Warn("No session key configured, using a random per-process key")
	return securecookie.GenerateRandomKey(32)
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rpcgate %s (commit: %s)\n", version.Version, version.Commit)
	},
}

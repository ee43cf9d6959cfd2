// Package config defines the server configuration: defaults, YAML file
// loading, and validation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the server configuration. Zero values are filled in from
// Default; command-line flags may override fields after loading.
type Config struct {
	// Host and Port form the listen address.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// CORS enables origin checking. When false, every origin is treated
	// as allowed, both for response headers and for WebSocket upgrades.
	CORS bool `yaml:"cors"`

	// AllowOrigin is the list of origins allowed when CORS is enabled.
	AllowOrigin []string `yaml:"allow_origin"`

	// ServerCloseTimeout is the grace period Close waits for in-flight
	// work before force-terminating remaining connections.
	ServerCloseTimeout time.Duration `yaml:"server_close_timeout"`

	// Secure enables TLS using CertPath/KeyPath.
	Secure   bool   `yaml:"secure"`
	CertPath string `yaml:"cert"`
	KeyPath  string `yaml:"key"`

	// MaxPayload bounds an HTTP request body and a single WebSocket
	// frame, in bytes.
	MaxPayload int64 `yaml:"max_payload"`

	// SessionKey signs the session cookie. Empty means a random key per
	// process, which invalidates cookies across restarts.
	SessionKey string `yaml:"session_key"`

	// PostgresDSN selects the Postgres store when set; otherwise the
	// in-memory store is used.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Advertise registers the server on mDNS while it is running.
	Advertise bool `yaml:"advertise"`

	// LogLevel is passed to the logging package (debug, info, warn,
	// error; empty means silent).
	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Host:               "localhost",
		Port:               8080,
		CORS:               true,
		AllowOrigin:        []string{},
		ServerCloseTimeout: 500 * time.Millisecond,
		MaxPayload:         1 << 20,
	}
}

// Load reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports configuration errors that must stop startup.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.MaxPayload <= 0 {
		return fmt.Errorf("config: max_payload must be positive")
	}
	if c.Secure && (c.CertPath == "" || c.KeyPath == "") {
		return fmt.Errorf("config: secure mode requires cert and key paths")
	}
	if c.ServerCloseTimeout <= 0 {
		return fmt.Errorf("config: server_close_timeout must be positive")
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

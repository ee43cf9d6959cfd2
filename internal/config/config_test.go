package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Addr() != "localhost:8080" {
		t.Errorf("Addr() = %q, want localhost:8080", cfg.Addr())
	}
	if !cfg.CORS {
		t.Error("CORS should default to enabled")
	}
	if cfg.MaxPayload != 1<<20 {
		t.Errorf("MaxPayload = %d, want %d", cfg.MaxPayload, 1<<20)
	}
	if cfg.ServerCloseTimeout != 500*time.Millisecond {
		t.Errorf("ServerCloseTimeout = %v, want 500ms", cfg.ServerCloseTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Port)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rpcgate.yaml")
	data := `
host: 0.0.0.0
port: 9090
cors: false
allow_origin:
  - https://app.example.com
server_close_timeout: 2s
max_payload: 4096
log_level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr() != "0.0.0.0:9090" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
	if cfg.CORS {
		t.Error("cors: false not honored")
	}
	if len(cfg.AllowOrigin) != 1 || cfg.AllowOrigin[0] != "https://app.example.com" {
		t.Errorf("AllowOrigin = %v", cfg.AllowOrigin)
	}
	if cfg.ServerCloseTimeout != 2*time.Second {
		t.Errorf("ServerCloseTimeout = %v", cfg.ServerCloseTimeout)
	}
	if cfg.MaxPayload != 4096 {
		t.Errorf("MaxPayload = %d", cfg.MaxPayload)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rpcgate.yaml")
	if err := os.WriteFile(path, []byte("port: 9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if cfg.Host != "localhost" {
		t.Errorf("Host = %q, want default localhost", cfg.Host)
	}
	if cfg.MaxPayload != 1<<20 {
		t.Errorf("MaxPayload = %d, want default", cfg.MaxPayload)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of a missing file should fail")
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("port: [not a port\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load of malformed YAML should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"port zero is allowed", func(c *Config) { c.Port = 0 }, false},
		{"negative port", func(c *Config) { c.Port = -1 }, true},
		{"port too large", func(c *Config) { c.Port = 70000 }, true},
		{"zero max payload", func(c *Config) { c.MaxPayload = 0 }, true},
		{"secure without key", func(c *Config) { c.Secure = true; c.CertPath = "cert.pem" }, true},
		{"secure with both", func(c *Config) {
			c.Secure = true
			c.CertPath = "cert.pem"
			c.KeyPath = "key.pem"
		}, false},
		{"zero close timeout", func(c *Config) { c.ServerCloseTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

package server

import (
	"crypto/tls"
	"fmt"

	"go.uber.org/zap"

	"github.com/rpcgate/rpcgate/internal/logging"
)

// NewTLSConfig creates the listener TLS configuration from certificate
// and key files. TLS 1.2 is the floor; cipher selection is left to the
// runtime.
func NewTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	logging.Info("TLS configuration created",
		zap.String("cert", certPath),
		zap.String("key", keyPath),
	)

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

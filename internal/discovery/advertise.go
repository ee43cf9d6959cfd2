// Package discovery advertises a running server on the local network
// via mDNS, so clients can find the RPC endpoint without configuration.
package discovery

import (
	"fmt"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type the server registers under.
	ServiceType = "_jsonrpc._tcp"

	// ServiceDomain is the mDNS domain (typically "local.").
	ServiceDomain = "local."
)

// Advertiser keeps an mDNS registration alive until Shutdown.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers instance on mDNS for the given port. The
// registration stays active until Shutdown is called.
func Advertise(instance string, port int) (*Advertiser, error) {
	srv, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port,
		[]string{"proto=jsonrpc-2.0"}, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register mDNS service: %w", err)
	}
	return &Advertiser{server: srv}, nil
}

// Shutdown withdraws the mDNS registration.
func (a *Advertiser) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

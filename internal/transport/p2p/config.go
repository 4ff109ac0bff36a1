// Package p2p is the concrete libp2p-backed adapter satisfying
// orchestrator.Transport: a QUIC/TCP host for the request/response RPC the
// engine speaks, mDNS for LAN discovery, and the Kademlia DHT for global
// discovery, with a small identity-exchange protocol bridging libp2p's own
// peer.ID space to the application's ids.PeerId space.
package p2p

import (
	"time"

	"github.com/amaydixit11/syncd/internal/logging"
)

// Config configures the p2p transport.
type Config struct {
	// ListenAddrs are the multiaddrs the host listens on.
	// Default: /ip4/0.0.0.0/tcp/0 (random port)
	ListenAddrs []string

	// EnableMDNS enables LAN peer discovery via mDNS.
	// Default: true.
	EnableMDNS bool

	// EnableDHT enables global peer discovery via the Kademlia DHT.
	// Default: false.
	EnableDHT bool

	// DataDir is where the peer-identity registry (ids.PeerId <-> libp2p
	// peer.ID/addresses) is persisted. Empty disables persistence.
	DataDir string

	// DeviceName is announced during the identify handshake.
	DeviceName string

	// IdentifyTimeout bounds the one-shot identity handshake run against
	// every newly discovered libp2p peer before it is surfaced as a
	// DiscoveredPeer.
	// Default: 10s.
	IdentifyTimeout time.Duration

	// RequestTimeout bounds SendRequest's open-stream-write-read-close
	// round trip.
	// Default: 30s.
	RequestTimeout time.Duration

	Logger logging.Logger
}

// DefaultConfig returns the transport's default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddrs:     []string{"/ip4/0.0.0.0/tcp/0"},
		EnableMDNS:      true,
		EnableDHT:       false,
		IdentifyTimeout: 10 * time.Second,
		RequestTimeout:  30 * time.Second,
	}
}

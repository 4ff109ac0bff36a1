package orchestrator

import (
	"context"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/message"
)

// DiscoveryMethod classifies how a peer was found.
type DiscoveryMethod string

const (
	DiscoveryMdns       DiscoveryMethod = "mdns"
	DiscoveryDht        DiscoveryMethod = "dht"
	DiscoveryCloudRelay DiscoveryMethod = "cloud_relay"
	DiscoveryManual     DiscoveryMethod = "manual"
)

// DiscoveredPeer is one entry of Transport.DiscoveredPeersAsync.
type DiscoveredPeer struct {
	PeerID          ids.PeerId
	DeviceName      string
	DiscoveryMethod DiscoveryMethod
	Addresses       []string
}

// ResponseToken is the opaque one-shot reply handle RecvRequest returns
// alongside an incoming message; SendResponse consumes it exactly once.
type ResponseToken interface{}

// IncomingSyncRequest is one inbound message awaiting a reply.
type IncomingSyncRequest struct {
	PeerID        ids.PeerId
	Message       message.SyncMessage
	ResponseToken ResponseToken
}

// Transport is the polymorphic peer-to-peer transport the orchestrator
// consumes. Keeping it an interface lets the sync core stay
// transport-agnostic and unit-testable against a fake; the concrete
// libp2p-backed adapter lives in internal/transport/p2p.
type Transport interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
	LocalPeerID() ids.PeerId

	// DiscoveredPeersAsync returns the peers currently known via any
	// discovery method. Called once per discovery tick.
	DiscoveredPeersAsync(ctx context.Context) ([]DiscoveredPeer, error)

	// SendRequest is an await-for-response RPC: it blocks (up to the
	// transport's own configured timeout) until a reply arrives or the
	// send fails.
	SendRequest(ctx context.Context, peer ids.PeerId, msg message.SyncMessage) (message.SyncMessage, error)

	// RecvRequest blocks until the next inbound request arrives, or
	// returns (nil, nil) once the request stream is closed (e.g. on
	// Stop()).
	RecvRequest(ctx context.Context) (*IncomingSyncRequest, error)

	// SendResponse replies to the request token obtained from RecvRequest.
	SendResponse(ctx context.Context, token ResponseToken, msg message.SyncMessage) error
}

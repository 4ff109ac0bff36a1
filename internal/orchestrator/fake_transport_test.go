package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/message"
)

// fakeNetwork connects a set of fakeTransports in memory, so orchestrator
// tests can exercise the full Hello/SyncRequest/EventBatch wire protocol
// without a real libp2p host.
type fakeNetwork struct {
	mu         sync.Mutex
	transports map[ids.PeerId]*fakeTransport
	discovered map[ids.PeerId][]DiscoveredPeer
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		transports: make(map[ids.PeerId]*fakeTransport),
		discovered: make(map[ids.PeerId][]DiscoveredPeer),
	}
}

func (n *fakeNetwork) newTransport(peer ids.PeerId) *fakeTransport {
	t := &fakeTransport{local: peer, network: n, incoming: make(chan *IncomingSyncRequest, 16)}
	n.mu.Lock()
	n.transports[peer] = t
	n.mu.Unlock()
	return t
}

// announce makes observer's next DiscoveredPeersAsync call report discovered.
func (n *fakeNetwork) announce(observer ids.PeerId, discovered DiscoveredPeer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.discovered[observer] = append(n.discovered[observer], discovered)
}

type fakeTransport struct {
	local   ids.PeerId
	network *fakeNetwork

	mu      sync.Mutex
	running bool

	incoming chan *IncomingSyncRequest
}

type fakeToken chan message.SyncMessage

func (t *fakeTransport) Start(context.Context) error { t.mu.Lock(); t.running = true; t.mu.Unlock(); return nil }
func (t *fakeTransport) Stop() error                 { t.mu.Lock(); t.running = false; t.mu.Unlock(); close(t.incoming); return nil }
func (t *fakeTransport) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
func (t *fakeTransport) LocalPeerID() ids.PeerId { return t.local }

func (t *fakeTransport) DiscoveredPeersAsync(context.Context) ([]DiscoveredPeer, error) {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	out := t.network.discovered[t.local]
	t.network.discovered[t.local] = nil
	return out, nil
}

func (t *fakeTransport) SendRequest(ctx context.Context, peer ids.PeerId, msg message.SyncMessage) (message.SyncMessage, error) {
	t.network.mu.Lock()
	target, ok := t.network.transports[peer]
	t.network.mu.Unlock()
	if !ok {
		return message.SyncMessage{}, fmt.Errorf("peer %s not reachable", peer)
	}

	respCh := make(fakeToken, 1)
	req := &IncomingSyncRequest{PeerID: t.local, Message: msg, ResponseToken: respCh}
	select {
	case target.incoming <- req:
	case <-ctx.Done():
		return message.SyncMessage{}, ctx.Err()
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		return message.SyncMessage{}, ctx.Err()
	}
}

func (t *fakeTransport) RecvRequest(ctx context.Context) (*IncomingSyncRequest, error) {
	select {
	case req, ok := <-t.incoming:
		if !ok {
			return nil, nil
		}
		return req, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) SendResponse(_ context.Context, token ResponseToken, msg message.SyncMessage) error {
	ch, ok := token.(fakeToken)
	if !ok {
		return fmt.Errorf("malformed response token")
	}
	ch <- msg
	return nil
}

package p2p

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/logging"
	"github.com/amaydixit11/syncd/internal/message"
	"github.com/amaydixit11/syncd/internal/orchestrator"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"
)

// syncProtocolID carries the request/response SyncMessage pairs the engine
// produces: one stream per request.
const syncProtocolID = protocol.ID("/syncd/sync/1.0.0")

// discoveredQueueCapacity bounds the buffer DiscoveredPeersAsync drains;
// a slow orchestrator just sees a backlog on its next poll rather than
// stalling discovery.
const discoveredQueueCapacity = 64

// Transport is the libp2p-backed orchestrator.Transport implementation.
type Transport struct {
	config     Config
	localPeer  ids.PeerId
	logger     logging.Logger

	host host.Host

	registry *registry

	mdnsService mdns.Service
	dht         *dhtDiscovery

	seenMu gosync.Mutex
	seen   map[peer.ID]struct{}

	discovered chan orchestrator.DiscoveredPeer

	incoming chan *orchestrator.IncomingSyncRequest

	ctx    context.Context
	cancel context.CancelFunc

	runningMu gosync.Mutex
	running   bool
}

// New constructs a Transport for localPeer. It does not start listening or
// discovering until Start is called.
func New(localPeer ids.PeerId, cfg Config) (*Transport, error) {
	if cfg.IdentifyTimeout <= 0 {
		cfg.IdentifyTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.ListenAddrs))
	for _, addr := range cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	h, err := libp2p.New(libp2p.ListenAddrs(listenAddrs...))
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	reg := newRegistry(cfg.DataDir)
	if err := reg.load(); err != nil {
		return nil, fmt.Errorf("load peer registry: %w", err)
	}

	t := &Transport{
		config:     cfg,
		localPeer:  localPeer,
		logger:     logging.Default(cfg.Logger),
		host:       h,
		registry:   reg,
		seen:       make(map[peer.ID]struct{}),
		discovered: make(chan orchestrator.DiscoveredPeer, discoveredQueueCapacity),
		incoming:   make(chan *orchestrator.IncomingSyncRequest),
	}
	return t, nil
}

// Start registers the protocol handlers and begins discovery.
func (t *Transport) Start(ctx context.Context) error {
	t.runningMu.Lock()
	defer t.runningMu.Unlock()
	if t.running {
		return nil
	}

	t.ctx, t.cancel = context.WithCancel(ctx)
	t.host.SetStreamHandler(syncProtocolID, t.handleSyncStream)
	t.host.SetStreamHandler(identifyProtocolID, t.handleIdentifyStream)

	if t.config.EnableMDNS {
		t.mdnsService = mdns.NewMdnsService(t.host, "_syncd-discovery._udp", t)
		if err := t.mdnsService.Start(); err != nil {
			return fmt.Errorf("start mDNS: %w", err)
		}
	}

	if t.config.EnableDHT {
		d, err := newDHTDiscovery(t.host, func(pi peer.AddrInfo) { t.onPeerFound(pi, orchestrator.DiscoveryDht) })
		if err != nil {
			return fmt.Errorf("create DHT discovery: %w", err)
		}
		if err := d.start(); err != nil {
			return fmt.Errorf("start DHT discovery: %w", err)
		}
		t.dht = d
	}

	t.RegisterSelf()
	t.running = true
	t.logger.Printf("p2p transport listening on %v", t.host.Addrs())
	return nil
}

// Stop tears down discovery and closes the host.
func (t *Transport) Stop() error {
	t.runningMu.Lock()
	defer t.runningMu.Unlock()
	if !t.running {
		return nil
	}
	t.running = false

	if t.cancel != nil {
		t.cancel()
	}
	if t.mdnsService != nil {
		t.mdnsService.Close()
	}
	if t.dht != nil {
		t.dht.stop()
	}
	close(t.incoming)
	return t.host.Close()
}

// IsRunning reports whether Start has been called without a matching Stop.
func (t *Transport) IsRunning() bool {
	t.runningMu.Lock()
	defer t.runningMu.Unlock()
	return t.running
}

// LocalPeerID returns the application-level peer id this transport speaks
// for.
func (t *Transport) LocalPeerID() ids.PeerId { return t.localPeer }

// Addrs returns this host's dialable multiaddrs, each with its libp2p peer
// id appended (p2p/<peer-id>), for embedding in an out-of-band invite.
func (t *Transport) Addrs() []string {
	id := t.host.ID()
	addrs := t.host.Addrs()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, id))
	}
	return out
}

// RegisterSelf persists this transport's own libp2p identity under
// localPeer's application id, so a peer we invite (and who dials us
// straight from the invite, skipping discovery) can still be attributed
// once it reaches the identify handshake.
func (t *Transport) RegisterSelf() {
	t.registry.register(t.localPeer, peer.AddrInfo{ID: t.host.ID(), Addrs: t.host.Addrs()}, t.config.DeviceName)
}

// ConnectPeer dials remotePeer at one of addrs (each a full multiaddr
// ending in /p2p/<id>, as produced by Addrs) and registers the mapping
// between its application-level id and libp2p identity directly — skipping
// the identify handshake, since a redeemed invite already authenticates
// remotePeer via its signature.
func (t *Transport) ConnectPeer(ctx context.Context, remotePeer ids.PeerId, addrs []string) error {
	var lastErr error
	for _, raw := range addrs {
		ma, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			lastErr = err
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			lastErr = err
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, t.config.RequestTimeout)
		err = t.host.Connect(dialCtx, *info)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		t.registry.register(remotePeer, *info, "")
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses supplied")
	}
	return fmt.Errorf("connect to %s: %w", remotePeer, lastErr)
}

// DiscoveredPeersAsync drains whatever peers have been identified since the
// last call.
func (t *Transport) DiscoveredPeersAsync(ctx context.Context) ([]orchestrator.DiscoveredPeer, error) {
	var out []orchestrator.DiscoveredPeer
	for {
		select {
		case dp := <-t.discovered:
			out = append(out, dp)
		case <-ctx.Done():
			return out, ctx.Err()
		default:
			return out, nil
		}
	}
}

func (t *Transport) pushDiscovered(dp orchestrator.DiscoveredPeer) {
	select {
	case t.discovered <- dp:
	default:
		t.logger.Printf("discovered-peer queue full, dropping %s", dp.PeerID)
	}
}

// SendRequest opens one stream to peer, writes msg, reads the response, and
// closes the stream — one request per stream.
func (t *Transport) SendRequest(ctx context.Context, peerID ids.PeerId, msg message.SyncMessage) (message.SyncMessage, error) {
	info, ok := t.registry.addrInfo(peerID)
	if !ok {
		return message.SyncMessage{}, fmt.Errorf("no known address for peer %s", peerID)
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.config.RequestTimeout)
	defer cancel()

	stream, err := t.host.NewStream(reqCtx, info.ID, syncProtocolID)
	if err != nil {
		return message.SyncMessage{}, fmt.Errorf("open stream to %s: %w", peerID, err)
	}
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(t.config.RequestTimeout))

	data, err := msg.Encode()
	if err != nil {
		return message.SyncMessage{}, err
	}
	if err := writeFrame(stream, data); err != nil {
		return message.SyncMessage{}, fmt.Errorf("write request: %w", err)
	}

	respData, err := readFrame(stream)
	if err != nil {
		return message.SyncMessage{}, fmt.Errorf("read response: %w", err)
	}
	return message.Decode(respData)
}

// handleSyncStream reads one request, wraps the still-open stream as the
// ResponseToken, and hands it to the orchestrator's recv loop. The stream
// stays open until SendResponse (or Stop) closes it.
func (t *Transport) handleSyncStream(s network.Stream) {
	s.SetDeadline(time.Now().Add(t.config.RequestTimeout))

	data, err := readFrame(s)
	if err != nil {
		s.Close()
		return
	}
	msg, err := message.Decode(data)
	if err != nil {
		s.Close()
		return
	}

	peerID, ok := t.registry.peerIDFor(s.Conn().RemotePeer())
	if !ok {
		// Unidentified peer reaching the sync protocol directly (no
		// identify handshake and no registry entry): the stream is closed
		// and the request dropped.
		s.Close()
		return
	}

	req := &orchestrator.IncomingSyncRequest{PeerID: peerID, Message: msg, ResponseToken: s}
	select {
	case t.incoming <- req:
	case <-t.ctx.Done():
		s.Close()
	}
}

// RecvRequest returns the next inbound request, or (nil, nil) once Stop has
// closed the request stream.
func (t *Transport) RecvRequest(ctx context.Context) (*orchestrator.IncomingSyncRequest, error) {
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

// SendResponse writes msg to the stream behind token and closes it.
func (t *Transport) SendResponse(ctx context.Context, token orchestrator.ResponseToken, msg message.SyncMessage) error {
	stream, ok := token.(network.Stream)
	if !ok {
		return fmt.Errorf("malformed response token")
	}
	defer stream.Close()

	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return writeFrame(stream, data)
}

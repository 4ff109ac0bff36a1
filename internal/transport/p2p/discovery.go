package p2p

import (
	"context"
	gosync "sync"
	"time"

	"github.com/amaydixit11/syncd/internal/orchestrator"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
)

// rendezvousNamespace is the DHT namespace peers advertise and search
// under.
const rendezvousNamespace = "/syncd/1.0.0"

// HandlePeerFound satisfies mdns.Notifee; it is called synchronously by the
// mDNS service for every peer found on the LAN.
func (t *Transport) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == t.host.ID() {
		return
	}
	t.onPeerFound(pi, orchestrator.DiscoveryMdns)
}

// onPeerFound runs the identify handshake against a newly seen libp2p peer
// (from either mDNS or the DHT) and, on success, surfaces it to the
// orchestrator as a DiscoveredPeer.
func (t *Transport) onPeerFound(pi peer.AddrInfo, method orchestrator.DiscoveryMethod) {
	t.seenMu.Lock()
	if _, already := t.seen[pi.ID]; already {
		t.seenMu.Unlock()
		return
	}
	t.seen[pi.ID] = struct{}{}
	t.seenMu.Unlock()

	ctx, cancel := context.WithTimeout(t.ctx, t.config.IdentifyTimeout)
	defer cancel()
	if err := t.host.Connect(ctx, pi); err != nil {
		t.logger.Printf("p2p: connect to %s failed: %v", pi.ID, err)
		t.seenMu.Lock()
		delete(t.seen, pi.ID)
		t.seenMu.Unlock()
		return
	}

	peerID, deviceName, err := t.identify(pi)
	if err != nil {
		t.logger.Printf("p2p: identify %s failed: %v", pi.ID, err)
		return
	}
	t.registry.register(peerID, pi, deviceName)
	t.pushDiscovered(orchestrator.DiscoveredPeer{
		PeerID:          peerID,
		DeviceName:      deviceName,
		DiscoveryMethod: method,
		Addresses:       addrStrings(pi),
	})
}

func addrStrings(pi peer.AddrInfo) []string {
	out := make([]string, 0, len(pi.Addrs))
	for _, a := range pi.Addrs {
		out = append(out, a.String())
	}
	return out
}

// dhtDiscovery wraps Kademlia DHT bootstrapping and rendezvous-based peer
// finding.
type dhtDiscovery struct {
	host   host.Host
	kad    *dht.IpfsDHT
	notify func(peer.AddrInfo)

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

func newDHTDiscovery(h host.Host, notify func(peer.AddrInfo)) (*dhtDiscovery, error) {
	ctx, cancel := context.WithCancel(context.Background())
	kad, err := dht.New(ctx, h, dht.Mode(dht.ModeAutoServer))
	if err != nil {
		cancel()
		return nil, err
	}
	return &dhtDiscovery{host: h, kad: kad, notify: notify, ctx: ctx, cancel: cancel}, nil
}

func (d *dhtDiscovery) start() error {
	if err := d.kad.Bootstrap(d.ctx); err != nil {
		return err
	}
	d.wg.Add(1)
	go d.loop()
	return nil
}

func (d *dhtDiscovery) loop() {
	defer d.wg.Done()

	discovery := drouting.NewRoutingDiscovery(d.kad)
	dutil.Advertise(d.ctx, discovery, rendezvousNamespace)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.findPeers(discovery)
		}
	}
}

func (d *dhtDiscovery) findPeers(discovery *drouting.RoutingDiscovery) {
	ctx, cancel := context.WithTimeout(d.ctx, 10*time.Second)
	defer cancel()

	peerCh, err := discovery.FindPeers(ctx, rendezvousNamespace)
	if err != nil {
		return
	}
	for pi := range peerCh {
		if pi.ID == d.host.ID() || len(pi.Addrs) == 0 {
			continue
		}
		if d.notify != nil {
			d.notify(pi)
		}
	}
}

func (d *dhtDiscovery) stop() error {
	d.cancel()
	d.wg.Wait()
	return d.kad.Close()
}

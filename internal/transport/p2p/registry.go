package p2p

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// registryEntry is one peer's persisted identity mapping.
type registryEntry struct {
	PeerID     string   `json:"peer_id"`      // ids.PeerId
	LibP2PID   string   `json:"libp2p_id"`    // peer.ID
	Addresses  []string `json:"addresses"`
	DeviceName string   `json:"device_name,omitempty"`
}

type registryFile struct {
	Entries []registryEntry `json:"entries"`
}

// registry maps application-level ids.PeerId to libp2p connection info,
// bridging the two identity spaces. It is an address book, not a trust
// gate: trust decisions live in internal/pairing.
type registry struct {
	mu      gosync.RWMutex
	path    string
	byPeer  map[ids.PeerId]peer.AddrInfo
	names   map[ids.PeerId]string
	byLibP2P map[peer.ID]ids.PeerId
}

func newRegistry(dataDir string) *registry {
	r := &registry{
		byPeer:   make(map[ids.PeerId]peer.AddrInfo),
		names:    make(map[ids.PeerId]string),
		byLibP2P: make(map[peer.ID]ids.PeerId),
	}
	if dataDir != "" {
		r.path = filepath.Join(dataDir, "peer_registry.json")
	}
	return r
}

func (r *registry) load() error {
	if r.path == "" {
		return nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var f registryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse peer registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range f.Entries {
		peerID, err := ids.ParsePeerId(e.PeerID)
		if err != nil {
			continue
		}
		libp2pID, err := peer.Decode(e.LibP2PID)
		if err != nil {
			continue
		}
		addrs := make([]multiaddr.Multiaddr, 0, len(e.Addresses))
		for _, a := range e.Addresses {
			if ma, err := multiaddr.NewMultiaddr(a); err == nil {
				addrs = append(addrs, ma)
			}
		}
		r.byPeer[peerID] = peer.AddrInfo{ID: libp2pID, Addrs: addrs}
		r.byLibP2P[libp2pID] = peerID
		r.names[peerID] = e.DeviceName
	}
	return nil
}

func (r *registry) save() error {
	if r.path == "" {
		return nil
	}
	r.mu.RLock()
	f := registryFile{Entries: make([]registryEntry, 0, len(r.byPeer))}
	for peerID, info := range r.byPeer {
		addrs := make([]string, 0, len(info.Addrs))
		for _, a := range info.Addrs {
			addrs = append(addrs, a.String())
		}
		f.Entries = append(f.Entries, registryEntry{
			PeerID:     peerID.String(),
			LibP2PID:   info.ID.String(),
			Addresses:  addrs,
			DeviceName: r.names[peerID],
		})
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0o600)
}

func (r *registry) register(peerID ids.PeerId, info peer.AddrInfo, deviceName string) {
	r.mu.Lock()
	r.byPeer[peerID] = info
	r.byLibP2P[info.ID] = peerID
	r.names[peerID] = deviceName
	r.mu.Unlock()
	_ = r.save()
}

func (r *registry) addrInfo(peerID ids.PeerId) (peer.AddrInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byPeer[peerID]
	return info, ok
}

func (r *registry) peerIDFor(libp2pID peer.ID) (ids.PeerId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byLibP2P[libp2pID]
	return id, ok
}

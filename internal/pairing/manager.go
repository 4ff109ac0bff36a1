package pairing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/amaydixit11/syncd/internal/ids"
)

// PendingPeer is a discovered, untrusted peer awaiting out-of-band approval.
type PendingPeer struct {
	PeerID       ids.PeerId
	DeviceName   string
	DiscoveredAt time.Time
}

// Manager is the concrete PairingManager the orchestrator consumes: a
// trusted-peer set, a pending-approval queue gated by an activatable sync
// code, and per-peer device-name bookkeeping. Safe for concurrent use.
// The trusted set and device names survive restarts in a JSON file under
// the data directory; the pending queue stays in-memory only.
type Manager struct {
	mu sync.Mutex

	path string

	trusted     map[ids.PeerId]struct{}
	pending     map[ids.PeerId]*PendingPeer
	deviceNames map[ids.PeerId]string

	syncCodeUntil time.Time
}

// trustedFile is the on-disk persistence format.
type trustedFile struct {
	Peers []trustedPeer `json:"peers"`
}

type trustedPeer struct {
	PeerID     string `json:"peer_id"`
	DeviceName string `json:"device_name,omitempty"`
}

// NewManager returns an empty, unpersisted pairing manager: no trusted
// peers, no active sync code.
func NewManager() *Manager {
	return &Manager{
		trusted:     make(map[ids.PeerId]struct{}),
		pending:     make(map[ids.PeerId]*PendingPeer),
		deviceNames: make(map[ids.PeerId]string),
	}
}

// NewManagerFromFile returns a pairing manager backed by <dir>/peers.json,
// loading any previously trusted peers.
func NewManagerFromFile(dir string) (*Manager, error) {
	m := NewManager()
	m.path = filepath.Join(dir, "peers.json")

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}

	var f trustedFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	for _, p := range f.Peers {
		peerID, err := ids.ParsePeerId(p.PeerID)
		if err != nil {
			continue
		}
		m.trusted[peerID] = struct{}{}
		if p.DeviceName != "" {
			m.deviceNames[peerID] = p.DeviceName
		}
	}
	return m, nil
}

// save persists the trusted set; a no-op for a manager with no backing
// file (NewManager).
func (m *Manager) save() error {
	if m.path == "" {
		return nil
	}
	f := trustedFile{Peers: make([]trustedPeer, 0, len(m.trusted))}
	for peer := range m.trusted {
		f.Peers = append(f.Peers, trustedPeer{PeerID: peer.String(), DeviceName: m.deviceNames[peer]})
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0700); err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0600)
}

// IsTrusted reports whether peer has completed pairing.
func (m *Manager) IsTrusted(peer ids.PeerId) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.trusted[peer]
	return ok
}

// IsSyncCodeActive reports whether an out-of-band pairing window is
// currently open.
func (m *Manager) IsSyncCodeActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Now().Before(m.syncCodeUntil)
}

// OpenSyncCode opens a pairing window for ttl, during which newly discovered
// untrusted peers are queued for approval rather than silently ignored.
func (m *Manager) OpenSyncCode(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncCodeUntil = time.Now().Add(ttl)
}

// CloseSyncCode closes the pairing window immediately.
func (m *Manager) CloseSyncCode() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncCodeUntil = time.Time{}
}

// AddPending records an untrusted, discovered peer as awaiting approval.
func (m *Manager) AddPending(peer ids.PeerId, deviceName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[peer]; ok {
		return
	}
	m.pending[peer] = &PendingPeer{PeerID: peer, DeviceName: deviceName, DiscoveredAt: time.Now()}
}

// UpdateDeviceName records the announced device name for peer.
func (m *Manager) UpdateDeviceName(peer ids.PeerId, deviceName string) {
	if deviceName == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceNames[peer] = deviceName
	if p, ok := m.pending[peer]; ok {
		p.DeviceName = deviceName
	}
}

// Pending returns a snapshot of peers awaiting approval.
func (m *Manager) Pending() []PendingPeer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingPeer, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, *p)
	}
	return out
}

// Approve moves peer from pending to trusted.
func (m *Manager) Approve(peer ids.PeerId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, peer)
	m.trusted[peer] = struct{}{}
	return m.save()
}

// Deny removes peer from the pending queue without trusting it.
func (m *Manager) Deny(peer ids.PeerId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, peer)
}

// Trust directly trusts peer, bypassing the pending queue — used when
// pairing completes out of band via a verified Invite rather than passive
// discovery.
func (m *Manager) Trust(peer ids.PeerId, deviceName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, peer)
	m.trusted[peer] = struct{}{}
	if deviceName != "" {
		m.deviceNames[peer] = deviceName
	}
	return m.save()
}

// Revoke removes peer from the trusted set.
func (m *Manager) Revoke(peer ids.PeerId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trusted, peer)
	return m.save()
}

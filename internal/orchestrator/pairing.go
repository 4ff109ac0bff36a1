package orchestrator

import "github.com/amaydixit11/syncd/internal/ids"

// PairingManager gates which newly-discovered peers the orchestrator is
// willing to sync with before they've gone through the out-of-band pairing
// handshake. A concrete implementation backed by signed, expiring invites
// lives in internal/pairing; installing one is optional — an orchestrator
// with none treats every discovered peer as trusted.
type PairingManager interface {
	// IsTrusted reports whether peer has already completed pairing.
	IsTrusted(peer ids.PeerId) bool
	// IsSyncCodeActive reports whether an out-of-band pairing code is
	// currently open for new peers to redeem. Gates whether an untrusted
	// peer is even added to the pending-approval list, preventing LAN-wide
	// enumeration by a passive discovery listener.
	IsSyncCodeActive() bool
	// AddPending records an untrusted, discovered peer as awaiting
	// approval. Safe to call repeatedly for the same peer.
	AddPending(peer ids.PeerId, deviceName string)
	// UpdateDeviceName records the announced device name for peer,
	// trusted or not, so the UI can show a human-readable name once
	// approval is requested.
	UpdateDeviceName(peer ids.PeerId, deviceName string)
}

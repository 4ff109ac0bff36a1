package orchestrator

import "time"

// Config holds the orchestrator's tunables. DefaultConfig returns the
// documented defaults; New uses the Config it is given as is, except that a
// zero or negative SyncInterval or DiscoveryInterval runs that ticker every
// 30s.
type Config struct {
	// SyncInterval is how often the orchestrator initiates a periodic sync
	// with every currently-synced peer.
	// Default: 30s.
	SyncInterval time.Duration

	// DiscoveryInterval is how often the orchestrator polls the transport
	// for newly discovered peers.
	// Default: 10s.
	DiscoveryInterval time.Duration

	// MaxEntitiesPerSync caps how many entities a single sync_with_peer
	// call processes; 0 means unbounded. Remaining entities are picked up
	// on a subsequent cycle — the sync ledger tracks per-entity state, so
	// truncating here never loses progress.
	// Default: 0 (unbounded).
	MaxEntitiesPerSync int

	// AutoSync triggers an immediate sync_with_peer on newly discovered
	// trusted peers, rather than waiting for the next periodic tick.
	// Default: true.
	AutoSync bool

	// DeviceName is announced in Hello/HelloAck messages.
	DeviceName string
}

// DefaultConfig returns the orchestrator's default configuration.
func DefaultConfig() Config {
	return Config{
		SyncInterval:       30 * time.Second,
		DiscoveryInterval:  10 * time.Second,
		MaxEntitiesPerSync: 0,
		AutoSync:           true,
		DeviceName:         "syncd",
	}
}

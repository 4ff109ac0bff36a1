// Package keystore bridges the on-disk master key (pkg/crypto.FileKeyStore)
// to the entity store's encryptor.DataEncryptor capability: before the
// replica is unlocked, every read/write goes through encryptor.Passthrough;
// once Unlock succeeds, the Keystore atomically swaps in a real
// XChaCha20-Poly1305 encryptor keyed off the recovered master key.
package keystore

import (
	"errors"
	"sync"

	"github.com/amaydixit11/syncd/internal/encryptor"
	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/pkg/crypto"
)

// ErrAlreadyUnlocked is returned by Unlock once a master key is already
// active.
var ErrAlreadyUnlocked = errors.New("keystore: already unlocked")

// Keystore owns the lifecycle of the replica's master encryption key and
// exposes the currently active encryptor.DataEncryptor. It is itself a
// DataEncryptor, delegating to whichever implementation is currently
// active, so the entity store can be wired to the Keystore once at startup
// and never learn about the unlock transition.
type Keystore struct {
	fileStore *crypto.FileKeyStore

	mu     sync.RWMutex
	active encryptor.DataEncryptor
	key    *crypto.Key
}

// New constructs a Keystore backed by the key file in dir. It starts locked
// (Passthrough active) until Unlock or Initialize succeeds.
func New(dir string) *Keystore {
	return &Keystore{
		fileStore: crypto.NewFileKeyStore(dir),
		active:    encryptor.Passthrough{},
	}
}

// IsInitialized reports whether a key file already exists on disk.
func (k *Keystore) IsInitialized() bool { return k.fileStore.IsInitialized() }

// IsUnlocked reports whether a real encryptor is currently active.
func (k *Keystore) IsUnlocked() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, locked := k.active.(encryptor.Passthrough)
	return !locked
}

// Initialize creates a new master key protected by password, persists it,
// and activates it immediately.
func (k *Keystore) Initialize(password []byte) error {
	if err := k.fileStore.Initialize(password); err != nil {
		return err
	}
	return k.Unlock(password)
}

// Unlock recovers the master key using password and activates a real
// encryptor keyed off it.
func (k *Keystore) Unlock(password []byte) error {
	k.mu.RLock()
	_, locked := k.active.(encryptor.Passthrough)
	k.mu.RUnlock()
	if !locked {
		return ErrAlreadyUnlocked
	}

	key, err := k.fileStore.Unlock(password)
	if err != nil {
		return err
	}

	k.mu.Lock()
	k.key = &key
	k.active = encryptor.NewReal(key)
	k.mu.Unlock()
	return nil
}

// Lock discards the in-memory master key and reverts to Passthrough. Rows
// written while unlocked remain encrypted on disk; they become unreadable
// until the next successful Unlock.
func (k *Keystore) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.key = nil
	k.active = encryptor.Passthrough{}
}

// Rekey re-encrypts the master key under a new password, without changing
// the key itself or requiring entity data to be touched.
func (k *Keystore) Rekey(oldPassword, newPassword []byte) error {
	key, err := k.fileStore.Unlock(oldPassword)
	if err != nil {
		return err
	}
	// FileKeyStore has no in-place rewrap; re-initializing with the
	// recovered key under the new password is the supported path.
	return k.fileStore.InitializeWithKey(newPassword, key)
}

// IsAvailable satisfies encryptor.DataEncryptor.
func (k *Keystore) IsAvailable() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active.IsAvailable()
}

// EncryptBytes satisfies encryptor.DataEncryptor.
func (k *Keystore) EncryptBytes(entityID ids.EntityId, plaintext []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active.EncryptBytes(entityID, plaintext)
}

// DecryptBytes satisfies encryptor.DataEncryptor.
func (k *Keystore) DecryptBytes(ciphertext []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active.DecryptBytes(ciphertext)
}

// ReencryptBytes satisfies encryptor.DataEncryptor.
func (k *Keystore) ReencryptBytes(ciphertext []byte, oldKey, newKey crypto.Key) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active.ReencryptBytes(ciphertext, oldKey, newKey)
}

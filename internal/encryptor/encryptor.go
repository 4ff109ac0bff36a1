// Package encryptor defines the capability the entity store uses to protect
// data_json at rest, plus two implementations: a passthrough (for pre-unlock
// state and tests) and a real XChaCha20-Poly1305 one keyed off pkg/crypto.
package encryptor

import (
	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/pkg/crypto"
)

// DataEncryptor is injected into the entity store. When IsAvailable is
// false, writes fall through to plaintext JSON (the pre-unlock state); the
// store's read path always tries a JSON parse first so plaintext and
// ciphertext rows are both handled transparently.
type DataEncryptor interface {
	IsAvailable() bool
	EncryptBytes(entityID ids.EntityId, plaintext []byte) ([]byte, error)
	DecryptBytes(ciphertext []byte) ([]byte, error)
	ReencryptBytes(ciphertext []byte, oldKey, newKey crypto.Key) ([]byte, error)
}

// Passthrough is always available and returns its input unchanged. Used in
// tests and before the vault is unlocked.
type Passthrough struct{}

func (Passthrough) IsAvailable() bool { return true }

func (Passthrough) EncryptBytes(_ ids.EntityId, plaintext []byte) ([]byte, error) {
	return plaintext, nil
}

func (Passthrough) DecryptBytes(ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}

func (Passthrough) ReencryptBytes(ciphertext []byte, _, _ crypto.Key) ([]byte, error) {
	return ciphertext, nil
}

// Real wraps a single symmetric key with XChaCha20-Poly1305.
type Real struct {
	key crypto.Key
}

func NewReal(key crypto.Key) *Real {
	return &Real{key: key}
}

func (r *Real) IsAvailable() bool { return true }

// EncryptBytes ignores entityID for the AAD binding: Decrypt's signature
// (mandated by the store interface) takes no entity id, so the two must
// agree on an empty AAD to stay symmetric.
func (r *Real) EncryptBytes(_ ids.EntityId, plaintext []byte) ([]byte, error) {
	return crypto.Encrypt(r.key, plaintext, nil)
}

func (r *Real) DecryptBytes(ciphertext []byte) ([]byte, error) {
	return crypto.Decrypt(r.key, ciphertext, nil)
}

func (r *Real) ReencryptBytes(ciphertext []byte, oldKey, newKey crypto.Key) ([]byte, error) {
	plaintext, err := crypto.Decrypt(oldKey, ciphertext, nil)
	if err != nil {
		return nil, err
	}
	return crypto.Encrypt(newKey, plaintext, nil)
}

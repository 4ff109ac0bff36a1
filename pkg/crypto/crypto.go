// Package crypto holds the replica's symmetric primitives: the 32-byte
// master-key type, Argon2id password stretching for the key file, and the
// XChaCha20-Poly1305 seal/open pair the at-rest entity encryptor and the
// keystore are built on.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the length of every symmetric key in this package.
	KeySize = 32
	// NonceSize is the XChaCha20 nonce length prefixed to each ciphertext.
	NonceSize = 24
	// SaltSize is the length of the per-key-file Argon2id salt.
	SaltSize = 16
)

// Argon2id parameters for password stretching. The key file records the
// parameters it was written with, so these can be raised without breaking
// existing files.
const (
	kdfPasses    = 3
	kdfMemoryKiB = 64 * 1024
	kdfThreads   = 2
)

// ErrDecrypt is returned for every open failure: wrong key, truncated
// input, or tampered ciphertext. Callers cannot tell the cases apart.
var ErrDecrypt = errors.New("crypto: decryption failed")

// Key is a 32-byte symmetric key. The master key wrapping entity data at
// rest is a Key, as are the wrapper keys derived from unlock passwords.
type Key [KeySize]byte

// GenerateKey draws a fresh random key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return k, err
	}
	return k, nil
}

// DeriveKey stretches password into a Key with Argon2id under this
// package's current parameters.
func DeriveKey(password, salt []byte) Key {
	return deriveKeyWith(password, salt, kdfPasses, kdfMemoryKiB, kdfThreads)
}

func deriveKeyWith(password, salt []byte, passes, memoryKiB uint32, threads uint8) Key {
	var k Key
	copy(k[:], argon2.IDKey(password, salt, passes, memoryKiB, threads, KeySize))
	return k
}

// Encrypt seals plaintext under key with XChaCha20-Poly1305. The result is
// nonce || ciphertext || tag, with a fresh random nonce per call; aad is
// authenticated but not stored.
func Encrypt(key Key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: build aead: %w", err)
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	return aead.Seal(out, out[:NonceSize], plaintext, aad), nil
}

// Decrypt opens a sealed value produced by Encrypt. aad must match what was
// passed to Encrypt.
func Decrypt(key Key, sealed, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: build aead: %w", err)
	}
	if len(sealed) < NonceSize+aead.Overhead() {
		return nil, ErrDecrypt
	}

	plaintext, err := aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// GenerateSalt draws a fresh random salt for DeriveKey.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// Package envelope implements the sealed-envelope scheme that wraps a
// data-encryption key (DEK) for a recipient's X25519 identity: an ECDH
// shared secret, an HKDF-derived symmetric key, and XChaCha20-Poly1305
// authenticated encryption.
package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	PublicKeySize = 32
	NonceSize     = 24
	hkdfInfo      = "syncd-envelope-v1"
)

// ErrDecryption is the single opaque failure kind returned by Open for
// every tamper or mismatch condition: wrong recipient key, altered
// ciphertext, altered nonce, altered or all-zero ephemeral key, or a
// truncated/empty ciphertext. The message intentionally does not
// distinguish between these causes.
var ErrDecryption = errors.New("envelope: decryption failed")

// KeyPair is an X25519 identity: Private never leaves the holding peer,
// Public is published to counterparties.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateKeyPair creates a fresh X25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return kp, fmt.Errorf("envelope: generate private key: %w", err)
	}
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64
	curve25519.ScalarBaseMult(&kp.Public, &kp.Private)
	return kp, nil
}

// SealedEnvelope is an authenticated-encryption payload wrapping a DEK for
// one recipient. Sealing is probabilistic: a fresh ephemeral key pair and
// nonce are generated on every call, so identical inputs never produce the
// same envelope twice.
type SealedEnvelope struct {
	EphemeralPublicKey [32]byte `json:"ephemeral_public_key"`
	Nonce              [24]byte `json:"nonce"`
	Ciphertext         []byte   `json:"ciphertext"`
}

// Seal wraps dek for the holder of recipientPublic. The DEK may be empty or
// arbitrarily large; both round-trip.
func Seal(dek []byte, recipientPublic [32]byte) (SealedEnvelope, error) {
	var env SealedEnvelope

	ephemeral, err := GenerateKeyPair()
	if err != nil {
		return env, err
	}
	env.EphemeralPublicKey = ephemeral.Public

	sharedKey, err := deriveSharedKey(ephemeral.Private, recipientPublic, ephemeral.Public)
	if err != nil {
		return env, err
	}

	aead, err := chacha20poly1305.NewX(sharedKey[:])
	if err != nil {
		return env, fmt.Errorf("envelope: build aead: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, env.Nonce[:]); err != nil {
		return env, fmt.Errorf("envelope: generate nonce: %w", err)
	}

	env.Ciphertext = aead.Seal(nil, env.Nonce[:], dek, recipientPublic[:])
	return env, nil
}

// Open recovers the DEK sealed in env for the holder of recipientSecret
// (recipientPublic is its matching public key, used as AEAD associated
// data exactly as Seal bound it). Any tamper or key mismatch returns
// ErrDecryption and nothing else.
func Open(env SealedEnvelope, recipientSecret [32]byte, recipientPublic [32]byte) ([]byte, error) {
	if len(env.Ciphertext) < chacha20poly1305.Overhead {
		return nil, ErrDecryption
	}
	if isAllZero(env.EphemeralPublicKey[:]) {
		return nil, ErrDecryption
	}

	sharedKey, err := deriveSharedKey(recipientSecret, env.EphemeralPublicKey, env.EphemeralPublicKey)
	if err != nil {
		return nil, ErrDecryption
	}

	aead, err := chacha20poly1305.NewX(sharedKey[:])
	if err != nil {
		return nil, ErrDecryption
	}

	plaintext, err := aead.Open(nil, env.Nonce[:], env.Ciphertext, recipientPublic[:])
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// deriveSharedKey runs X25519 ECDH between private and peerPublic, then
// HKDF-SHA256 over the shared secret keyed with the ephemeral public key,
// producing a 32-byte symmetric key. Seal and Open must supply the same
// ephemeral public key as the HKDF salt for the keys to match.
func deriveSharedKey(private [32]byte, peerPublic [32]byte, ephemeralPublic [32]byte) ([32]byte, error) {
	var key [32]byte

	shared, err := curve25519.X25519(private[:], peerPublic[:])
	if err != nil {
		return key, fmt.Errorf("envelope: ecdh: %w", err)
	}
	if isAllZero(shared) {
		return key, errors.New("envelope: ecdh produced all-zero shared secret")
	}

	h := hkdf.New(sha256.New, shared, ephemeralPublic[:], []byte(hkdfInfo))
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return key, fmt.Errorf("envelope: hkdf: %w", err)
	}
	return key, nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

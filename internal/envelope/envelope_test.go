package envelope

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func mustKeyPair(t *testing.T) KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return kp
}

func TestSealAndOpenRoundtrip(t *testing.T) {
	recipient := mustKeyPair(t)
	dek := []byte("a 32 byte data encryption key!!")

	env, err := Seal(dek, recipient.Public)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	got, err := Open(env, recipient.Private, recipient.Public)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, dek) {
		t.Fatalf("roundtrip mismatch: got %x want %x", got, dek)
	}
}

func TestSealIsRandomized(t *testing.T) {
	recipient := mustKeyPair(t)
	dek := []byte("same dek every time")

	env1, err := Seal(dek, recipient.Public)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	env2, err := Seal(dek, recipient.Public)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if bytes.Equal(env1.Ciphertext, env2.Ciphertext) {
		t.Error("identical inputs produced identical ciphertexts")
	}
	if env1.EphemeralPublicKey == env2.EphemeralPublicKey {
		t.Error("identical inputs produced identical ephemeral public keys")
	}
}

func TestOpenWithWrongSecretKeyFails(t *testing.T) {
	recipient := mustKeyPair(t)
	wrong := mustKeyPair(t)
	dek := []byte("secret")

	env, err := Seal(dek, recipient.Public)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := Open(env, wrong.Private, wrong.Public); err != ErrDecryption {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestTamperedCiphertextDetected(t *testing.T) {
	recipient := mustKeyPair(t)
	env, err := Seal([]byte("payload"), recipient.Public)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	env.Ciphertext[0] ^= 0xFF

	if _, err := Open(env, recipient.Private, recipient.Public); err != ErrDecryption {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestTamperedNonceDetected(t *testing.T) {
	recipient := mustKeyPair(t)
	env, err := Seal([]byte("payload"), recipient.Public)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	env.Nonce[0] ^= 0xFF

	if _, err := Open(env, recipient.Private, recipient.Public); err != ErrDecryption {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestTamperedEphemeralKeyDetected(t *testing.T) {
	recipient := mustKeyPair(t)
	env, err := Seal([]byte("payload"), recipient.Public)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	env.EphemeralPublicKey[0] ^= 0xFF

	if _, err := Open(env, recipient.Private, recipient.Public); err != ErrDecryption {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestAllZeroEphemeralKeyFails(t *testing.T) {
	recipient := mustKeyPair(t)
	env, err := Seal([]byte("payload"), recipient.Public)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	env.EphemeralPublicKey = [32]byte{}

	if _, err := Open(env, recipient.Private, recipient.Public); err != ErrDecryption {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestTruncatedCiphertextFails(t *testing.T) {
	recipient := mustKeyPair(t)
	env, err := Seal([]byte("payload"), recipient.Public)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	env.Ciphertext = env.Ciphertext[:len(env.Ciphertext)/2]

	if _, err := Open(env, recipient.Private, recipient.Public); err != ErrDecryption {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestEmptyCiphertextFails(t *testing.T) {
	recipient := mustKeyPair(t)
	env, err := Seal([]byte("payload"), recipient.Public)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	env.Ciphertext = nil

	if _, err := Open(env, recipient.Private, recipient.Public); err != ErrDecryption {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestEmptyDekRoundtrips(t *testing.T) {
	recipient := mustKeyPair(t)
	env, err := Seal(nil, recipient.Public)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := Open(env, recipient.Private, recipient.Public)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty dek, got %x", got)
	}
}

func TestLargeDekRoundtrips(t *testing.T) {
	recipient := mustKeyPair(t)
	dek := make([]byte, 4096)
	if _, err := rand.Read(dek); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	env, err := Seal(dek, recipient.Public)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := Open(env, recipient.Private, recipient.Public)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, dek) {
		t.Fatal("large dek roundtrip mismatch")
	}
}

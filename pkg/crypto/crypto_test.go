package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	plaintext := []byte("replica master data")

	sealed, err := Encrypt(key, plaintext, []byte("aad"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := Decrypt(key, sealed, []byte("aad"))
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("roundtrip mismatch: %s", got)
	}
}

func TestDecryptFailsOpaquely(t *testing.T) {
	key, _ := GenerateKey()
	wrong, _ := GenerateKey()
	sealed, err := Encrypt(key, []byte("payload"), nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(wrong, sealed, nil); err != ErrDecrypt {
		t.Fatalf("wrong key: expected ErrDecrypt, got %v", err)
	}
	if _, err := Decrypt(key, sealed, []byte("other-aad")); err != ErrDecrypt {
		t.Fatalf("aad mismatch: expected ErrDecrypt, got %v", err)
	}
	if _, err := Decrypt(key, sealed[:NonceSize], nil); err != ErrDecrypt {
		t.Fatalf("truncation: expected ErrDecrypt, got %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF
	if _, err := Decrypt(key, sealed, nil); err != ErrDecrypt {
		t.Fatalf("tamper: expected ErrDecrypt, got %v", err)
	}
}

func TestDeriveKeyIsDeterministicPerSalt(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	a := DeriveKey([]byte("password"), salt)
	b := DeriveKey([]byte("password"), salt)
	if a != b {
		t.Fatal("same password and salt must derive the same key")
	}

	other, _ := GenerateSalt()
	if a == DeriveKey([]byte("password"), other) {
		t.Fatal("a different salt must derive a different key")
	}
}

func TestFileKeyStoreLifecycle(t *testing.T) {
	dir := t.TempDir()
	s := NewFileKeyStore(dir)

	if s.IsInitialized() {
		t.Fatal("fresh store should not be initialized")
	}
	if err := s.Initialize([]byte("pw")); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.Initialize([]byte("pw")); err == nil {
		t.Fatal("second Initialize must fail")
	}

	key, err := s.Unlock([]byte("pw"))
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	again, err := s.Unlock([]byte("pw"))
	if err != nil || again != key {
		t.Fatalf("repeated unlock must recover the same key: %v", err)
	}
	if _, err := s.Unlock([]byte("wrong")); err == nil {
		t.Fatal("wrong password must fail")
	}
}

func TestFileKeyStoreBindsToDirectoryName(t *testing.T) {
	dirA := t.TempDir()
	s := NewFileKeyStore(dirA)
	if err := s.Initialize([]byte("pw")); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Copy the key file under a differently-named directory; the associated
	// data no longer matches, so unlock must refuse.
	dirB := t.TempDir()
	data, err := os.ReadFile(filepath.Join(dirA, KeyFileName))
	if err != nil {
		t.Fatalf("read key file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dirB, KeyFileName), data, 0600); err != nil {
		t.Fatalf("write copied key file: %v", err)
	}
	if _, err := NewFileKeyStore(dirB).Unlock([]byte("pw")); err == nil {
		t.Fatal("a key file moved to another directory must not unlock")
	}
}

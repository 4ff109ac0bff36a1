package encryptor

import (
	"bytes"
	"testing"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/pkg/crypto"
)

func TestPassthroughReturnsInputUnchanged(t *testing.T) {
	p := Passthrough{}
	if !p.IsAvailable() {
		t.Fatal("passthrough must always be available")
	}
	in := []byte(`{"title":"hi"}`)
	got, err := p.EncryptBytes(ids.NewEntityId(), in)
	if err != nil || !bytes.Equal(got, in) {
		t.Fatalf("EncryptBytes changed input: %v %v", got, err)
	}
	got, err = p.DecryptBytes(in)
	if err != nil || !bytes.Equal(got, in) {
		t.Fatalf("DecryptBytes changed input: %v %v", got, err)
	}
}

func TestRealEncryptDecryptRoundtrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	r := NewReal(key)
	plaintext := []byte(`{"title":"secret note"}`)

	ciphertext, err := r.EncryptBytes(ids.NewEntityId(), plaintext)
	if err != nil {
		t.Fatalf("EncryptBytes: %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("ciphertext should not equal plaintext")
	}

	got, err := r.DecryptBytes(ciphertext)
	if err != nil {
		t.Fatalf("DecryptBytes: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("roundtrip mismatch: got %s want %s", got, plaintext)
	}
}

func TestRealReencryptBytes(t *testing.T) {
	oldKey, _ := crypto.GenerateKey()
	newKey, _ := crypto.GenerateKey()
	r := NewReal(oldKey)

	plaintext := []byte(`{"title":"rotate me"}`)
	ciphertext, err := r.EncryptBytes(ids.NewEntityId(), plaintext)
	if err != nil {
		t.Fatalf("EncryptBytes: %v", err)
	}

	rewrapped, err := r.ReencryptBytes(ciphertext, oldKey, newKey)
	if err != nil {
		t.Fatalf("ReencryptBytes: %v", err)
	}

	newReal := NewReal(newKey)
	got, err := newReal.DecryptBytes(rewrapped)
	if err != nil {
		t.Fatalf("DecryptBytes after rotation: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("rotated data mismatch: got %s want %s", got, plaintext)
	}

	if _, err := r.DecryptBytes(rewrapped); err == nil {
		t.Error("old key should no longer decrypt rewrapped ciphertext")
	}
}

func TestRealDecryptWrongKeyFails(t *testing.T) {
	key, _ := crypto.GenerateKey()
	wrong, _ := crypto.GenerateKey()
	r := NewReal(key)

	ciphertext, err := r.EncryptBytes(ids.NewEntityId(), []byte("payload"))
	if err != nil {
		t.Fatalf("EncryptBytes: %v", err)
	}

	wrongReal := NewReal(wrong)
	if _, err := wrongReal.DecryptBytes(ciphertext); err == nil {
		t.Error("expected decryption failure with wrong key")
	}
}

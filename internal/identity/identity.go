// Package identity persists the replica's own peer id and ed25519 signing
// key across restarts: a small JSON file under the data directory, written
// once with 0600.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/amaydixit11/syncd/internal/ids"
)

// FileName is the identity file's name under DataDir.
const FileName = "identity.json"

// Identity is this replica's durable peer id and pairing signing key.
type Identity struct {
	PeerID     ids.PeerId
	SigningKey ed25519.PrivateKey
}

type identityFile struct {
	PeerID     string `json:"peer_id"`
	PrivateKey string `json:"private_key"`
}

// Load reads the identity file from dir, creating and persisting a new one
// if none exists yet.
func Load(dir string) (*Identity, error) {
	path := filepath.Join(dir, FileName)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return create(dir, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}

	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	peerID, err := ids.ParsePeerId(f.PeerID)
	if err != nil {
		return nil, fmt.Errorf("parse identity peer id: %w", err)
	}
	keyBytes, err := base64.StdEncoding.DecodeString(f.PrivateKey)
	if err != nil || len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("decode identity signing key")
	}
	return &Identity{PeerID: peerID, SigningKey: ed25519.PrivateKey(keyBytes)}, nil
}

func create(dir, path string) (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	id := &Identity{PeerID: ids.NewPeerId(), SigningKey: priv}

	f := identityFile{
		PeerID:     id.PeerID.String(),
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode identity: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("write identity: %w", err)
	}
	return id, nil
}

package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// KeyFileName is the key file's name under the replica's data directory.
const KeyFileName = "keys.json"

// KeyStore manages the replica's master encryption key: creation, password
// wrapping, and recovery at unlock time.
type KeyStore interface {
	// Initialize generates a fresh master key, wraps it under password, and
	// persists the key file. Fails if one already exists.
	Initialize(password []byte) error

	// InitializeWithKey persists an existing master key under a new
	// password wrapper, used when rotating the unlock password.
	InitializeWithKey(password []byte, key Key) error

	// Unlock recovers the master key from the key file using password.
	Unlock(password []byte) (Key, error)

	// IsInitialized reports whether a key file exists on disk.
	IsInitialized() bool
}

// FileKeyStore is the file-backed KeyStore, writing <dir>/keys.json.
type FileKeyStore struct {
	dir string
	mu  sync.RWMutex
}

// keyFile is the on-disk format: the password salt, the wrapped master key,
// and the Argon2id parameters the wrapper was derived with. Recording the
// parameters lets old files keep unlocking after the defaults change.
type keyFile struct {
	Salt      string    `json:"salt"`
	MasterKey string    `json:"master_key"` // sealed under the password-derived wrapper
	KDF       kdfParams `json:"kdf"`
}

type kdfParams struct {
	MemoryKiB uint32 `json:"memory_kib"`
	Passes    uint32 `json:"passes"`
	Threads   uint8  `json:"threads"`
}

// NewFileKeyStore returns a FileKeyStore rooted at dir.
func NewFileKeyStore(dir string) *FileKeyStore {
	return &FileKeyStore{dir: dir}
}

func (s *FileKeyStore) Initialize(password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isInitialized() {
		return fmt.Errorf("keystore already initialized")
	}

	masterKey, err := GenerateKey()
	if err != nil {
		return err
	}
	return s.writeKeyFile(password, masterKey)
}

func (s *FileKeyStore) InitializeWithKey(password []byte, masterKey Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isInitialized() {
		return fmt.Errorf("keystore already initialized")
	}
	return s.writeKeyFile(password, masterKey)
}

// writeKeyFile wraps masterKey under a password-derived key and persists the
// key file. The directory's base name is bound as associated data, so a key
// file copied into another replica's directory refuses to open.
func (s *FileKeyStore) writeKeyFile(password []byte, masterKey Key) error {
	salt, err := GenerateSalt()
	if err != nil {
		return err
	}
	kdf := kdfParams{MemoryKiB: kdfMemoryKiB, Passes: kdfPasses, Threads: kdfThreads}
	wrapper := deriveKeyWith(password, salt, kdf.Passes, kdf.MemoryKiB, kdf.Threads)

	sealed, err := Encrypt(wrapper, masterKey[:], []byte(filepath.Base(s.dir)))
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(keyFile{
		Salt:      base64.StdEncoding.EncodeToString(salt),
		MasterKey: base64.StdEncoding.EncodeToString(sealed),
		KDF:       kdf,
	}, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, KeyFileName), data, 0600)
}

func (s *FileKeyStore) Unlock(password []byte) (Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var k Key

	data, err := os.ReadFile(filepath.Join(s.dir, KeyFileName))
	if err != nil {
		return k, err
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return k, err
	}

	salt, err := base64.StdEncoding.DecodeString(kf.Salt)
	if err != nil {
		return k, err
	}
	sealed, err := base64.StdEncoding.DecodeString(kf.MasterKey)
	if err != nil {
		return k, err
	}

	// Derive with the parameters recorded in the file, not the current
	// defaults, so a parameter bump never locks out existing vaults.
	wrapper := deriveKeyWith(password, salt, kf.KDF.Passes, kf.KDF.MemoryKiB, kf.KDF.Threads)

	masterKey, err := Decrypt(wrapper, sealed, []byte(filepath.Base(s.dir)))
	if err != nil {
		return k, errors.New("incorrect password or corrupted key file")
	}
	if len(masterKey) != KeySize {
		return k, errors.New("invalid master key length")
	}

	copy(k[:], masterKey)
	return k, nil
}

func (s *FileKeyStore) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isInitialized()
}

func (s *FileKeyStore) isInitialized() bool {
	_, err := os.Stat(filepath.Join(s.dir, KeyFileName))
	return err == nil
}

package crypt

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// KeyStore produces the secret that encryption keys are derived from.
// It stands in for a platform key store.
type KeyStore interface {
	Secret() ([]byte, error)
}

// StaticKeyStore returns a fixed secret.
type StaticKeyStore []byte

// Secret implements KeyStore.
func (s StaticKeyStore) Secret() ([]byte, error) {
	if len(s) == 0 {
		return nil, errors.New("static key store is empty")
	}
	return []byte(s), nil
}

// UnavailableKeyStore always fails. Useful for exercising fail-closed paths.
type UnavailableKeyStore struct{}

// Secret implements KeyStore.
func (UnavailableKeyStore) Secret() ([]byte, error) {
	return nil, errors.New("key store unavailable")
}

// FileKeyStore keeps a hex-encoded 32-byte secret in a 0600 file, creating
// it on first use when Create is true.
type FileKeyStore struct {
	Path   string
	Create bool

	mu sync.Mutex
}

// NewFileKeyStore creates a file-backed key store.
func NewFileKeyStore(path string, create bool) *FileKeyStore {
	return &FileKeyStore{Path: path, Create: create}
}

// Secret implements KeyStore.
func (k *FileKeyStore) Secret() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := os.ReadFile(k.Path)
	if errors.Is(err, fs.ErrNotExist) && k.Create {
		return k.generate()
	}
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	secret, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("key file %s is corrupt: %w", k.Path, err)
	}
	return secret, nil
}

func (k *FileKeyStore) generate() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(k.Path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	f, err := os.OpenFile(k.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create key file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(hex.EncodeToString(secret) + "\n"); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return secret, nil
}

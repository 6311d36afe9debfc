package crypt

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// aeadPrefix marks ciphertexts produced by AEAD so foreign strings are
// rejected before any base64 or AEAD work.
const aeadPrefix = "x1:"

// hkdfInfo binds derived keys to their purpose.
const hkdfInfo = "syncspace/field-encryption/v1"

// AEAD encrypts values with XChaCha20-Poly1305 under a key derived (HKDF-SHA256)
// from the secret held by a KeyStore.
//
// The key is fetched lazily and cached after the first success. A failure
// is not cached, so a key store that becomes available later recovers.
type AEAD struct {
	keys KeyStore

	mu   sync.Mutex
	aead cipher.AEAD
}

// NewAEAD creates an encrypter backed by the given key store.
func NewAEAD(keys KeyStore) *AEAD {
	return &AEAD{keys: keys}
}

func (a *AEAD) load() (cipher.AEAD, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.aead != nil {
		return a.aead, nil
	}
	secret, err := a.keys.Secret()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrKeyUnavailable)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("%w: derive key: %w", ErrKeyUnavailable, err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
	a.aead = aead
	return aead, nil
}

// Encrypt seals plain and returns "x1:" + base64(nonce || ciphertext).
func (a *AEAD) Encrypt(plain string) (string, error) {
	aead, err := a.load()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypt: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plain), nil)
	return aeadPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (a *AEAD) Decrypt(text string) (string, error) {
	if len(text) < len(aeadPrefix) || text[:len(aeadPrefix)] != aeadPrefix {
		return "", fmt.Errorf("%w: missing prefix", ErrCiphertext)
	}
	raw, err := base64.StdEncoding.DecodeString(text[len(aeadPrefix):])
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCiphertext, err)
	}
	aead, err := a.load()
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("%w: too short", ErrCiphertext)
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCiphertext, err)
	}
	return string(plain), nil
}

// Seal encrypts a whole blob. Used by the codec's blob encryption layer.
func (a *AEAD) Seal(blob []byte) ([]byte, error) {
	aead, err := a.load()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(blob)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypt: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, blob, nil), nil
}

// Open decrypts a blob produced by Seal.
func (a *AEAD) Open(blob []byte) ([]byte, error) {
	aead, err := a.load()
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: too short", ErrCiphertext)
	}
	plain, err := aead.Open(nil, blob[:aead.NonceSize()], blob[aead.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCiphertext, err)
	}
	return plain, nil
}

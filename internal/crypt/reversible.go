package crypt

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const reversiblePrefix = "rev:"

// Reversible is an INSECURE encrypter for tests. It base64-encodes the
// reversed bytes so the pipeline can be verified without real cryptography.
type Reversible struct{}

// Encrypt implements Encrypter.
func (Reversible) Encrypt(plain string) (string, error) {
	b := []byte(plain)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return reversiblePrefix + base64.StdEncoding.EncodeToString(b), nil
}

// Decrypt implements Encrypter.
func (Reversible) Decrypt(text string) (string, error) {
	if !strings.HasPrefix(text, reversiblePrefix) {
		return "", fmt.Errorf("%w: missing prefix", ErrCiphertext)
	}
	b, err := base64.StdEncoding.DecodeString(text[len(reversiblePrefix):])
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCiphertext, err)
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b), nil
}

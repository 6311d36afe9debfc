// Package crypt encrypts individual string values at rest.
//
// Ciphertexts are base64 text so encrypted and plain string fields share
// the same blob format. Every implementation fails closed: when the key
// cannot be obtained the call returns ErrKeyUnavailable and never falls
// back to plaintext.
package crypt

import (
	"errors"

	"github.com/roach88/syncspace/internal/thing"
)

var (
	// ErrKeyUnavailable means the key store could not produce a key.
	ErrKeyUnavailable = errors.New("crypt: key unavailable")

	// ErrCiphertext means the input is not a ciphertext this encrypter produced,
	// or it was produced under a different key.
	ErrCiphertext = errors.New("crypt: invalid ciphertext")
)

// Encrypter encrypts and decrypts single string values.
// decrypt(encrypt(v)) == v for every string v.
type Encrypter interface {
	Encrypt(plain string) (string, error)
	Decrypt(cipher string) (string, error)
}

// EncryptValue encrypts a String value. Null passes through unchanged.
func EncryptValue(e Encrypter, v thing.Value) (thing.Value, error) {
	s, ok := v.(thing.String)
	if !ok {
		return v, nil
	}
	out, err := e.Encrypt(string(s))
	if err != nil {
		return nil, err
	}
	return thing.String(out), nil
}

// DecryptValue decrypts a String value. Null passes through unchanged.
func DecryptValue(e Encrypter, v thing.Value) (thing.Value, error) {
	s, ok := v.(thing.String)
	if !ok {
		return v, nil
	}
	out, err := e.Decrypt(string(s))
	if err != nil {
		return nil, err
	}
	return thing.String(out), nil
}

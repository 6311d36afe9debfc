package crypt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncspace/internal/thing"
)

func TestRoundTrip(t *testing.T) {
	encrypters := map[string]Encrypter{
		"aead":       NewAEAD(StaticKeyStore("correct horse battery staple")),
		"reversible": Reversible{},
	}
	inputs := []string{"", "hello", "ünïcödé ✓", string(make([]byte, 1024))}

	for name, e := range encrypters {
		t.Run(name, func(t *testing.T) {
			for _, in := range inputs {
				ct, err := e.Encrypt(in)
				require.NoError(t, err)
				if in != "" {
					assert.NotEqual(t, in, ct)
				}
				pt, err := e.Decrypt(ct)
				require.NoError(t, err)
				assert.Equal(t, in, pt)
			}
		})
	}
}

func TestValueHelpers_NullPassesThrough(t *testing.T) {
	e := Reversible{}

	out, err := EncryptValue(e, thing.Null{})
	require.NoError(t, err)
	assert.Equal(t, thing.Null{}, out)

	out, err = DecryptValue(e, thing.Null{})
	require.NoError(t, err)
	assert.Equal(t, thing.Null{}, out)

	ct, err := EncryptValue(e, thing.String("secret"))
	require.NoError(t, err)
	pt, err := DecryptValue(e, ct)
	require.NoError(t, err)
	assert.Equal(t, thing.String("secret"), pt)
}

func TestAEAD_FailsClosed(t *testing.T) {
	good := NewAEAD(StaticKeyStore("k1"))
	ct, err := good.Encrypt("secret")
	require.NoError(t, err)

	locked := NewAEAD(UnavailableKeyStore{})
	_, err = locked.Encrypt("secret")
	assert.ErrorIs(t, err, ErrKeyUnavailable)
	_, err = locked.Decrypt(ct)
	assert.ErrorIs(t, err, ErrKeyUnavailable)

	other := NewAEAD(StaticKeyStore("k2"))
	_, err = other.Decrypt(ct)
	assert.ErrorIs(t, err, ErrCiphertext)

	_, err = good.Decrypt("secret")
	assert.ErrorIs(t, err, ErrCiphertext, "plaintext is never accepted")
}

func TestAEAD_SealOpen(t *testing.T) {
	a := NewAEAD(StaticKeyStore("k"))
	sealed, err := a.Seal([]byte("blob"))
	require.NoError(t, err)
	opened, err := a.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), opened)

	sealed[len(sealed)-1] ^= 0xff
	_, err = a.Open(sealed)
	assert.ErrorIs(t, err, ErrCiphertext)
}

func TestFileKeyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "field.key")

	_, err := NewFileKeyStore(path, false).Secret()
	assert.Error(t, err, "missing file without create")

	ks := NewFileKeyStore(path, true)
	s1, err := ks.Secret()
	require.NoError(t, err)
	assert.Len(t, s1, 32)

	s2, err := NewFileKeyStore(path, false).Secret()
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, os.WriteFile(path, []byte("not hex"), 0o600))
	_, err = NewFileKeyStore(path, false).Secret()
	assert.Error(t, err)

	aead := NewAEAD(NewFileKeyStore(path, false))
	_, err = aead.Encrypt("x")
	assert.ErrorIs(t, err, ErrKeyUnavailable)
}

package thing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Domain prefixes for content-addressed keys.
// Version suffix enables future algorithm migration.
const (
	DomainIdentity = "syncspace/identity/v1"
	DomainAction   = "syncspace/action/v1"
)

// Identity is the stable key of an identifiable Thing: "<Type>:<sha256 hex>".
type Identity string

// TypeName returns the type prefix of the identity.
func (id Identity) TypeName() string {
	s := string(id)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return ""
}

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Identity computes the identity from the identity fields only.
// Returns ErrNoIdentity for identity-less types or when an identity field
// is absent or Null.
func (t *Thing) Identity() (Identity, error) {
	if !t.typ.Identifiable() {
		return "", fmt.Errorf("%w: %s is identity-less", ErrNoIdentity, t.typ.Name)
	}
	key := make(Map, len(t.typ.Identity))
	for _, name := range t.typ.Identity {
		v, ok := t.fields[name]
		if !ok {
			return "", fmt.Errorf("%w: %s.%s not declared", ErrNoIdentity, t.typ.Name, name)
		}
		if _, isNull := v.(Null); isNull {
			return "", fmt.Errorf("%w: %s.%s is null", ErrNoIdentity, t.typ.Name, name)
		}
		if nested, ok := v.(*Thing); ok {
			nid, err := nested.Identity()
			if err != nil {
				return "", fmt.Errorf("%s.%s: %w", t.typ.Name, name, err)
			}
			v = String(nid)
		}
		key[name] = v
	}
	data, err := MarshalCanonical(key)
	if err != nil {
		return "", fmt.Errorf("identity of %s: %w", t.typ.Name, err)
	}
	return Identity(t.typ.Name + ":" + hashWithDomain(DomainIdentity, data)), nil
}

// HasIdentity reports whether Identity would succeed.
func (t *Thing) HasIdentity() bool {
	_, err := t.Identity()
	return err == nil
}

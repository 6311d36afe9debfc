package space

import (
	"fmt"

	"github.com/google/uuid"
)

// HolderKind distinguishes session claims from persistent ones.
type HolderKind int

const (
	// Session holders are dropped by EndSession and never written to disk.
	Session HolderKind = iota
	// Persistent holders survive restarts when the space has a store.
	Persistent
)

func (k HolderKind) String() string {
	switch k {
	case Session:
		return "session"
	case Persistent:
		return "persistent"
	default:
		return fmt.Sprintf("holder-kind(%d)", int(k))
	}
}

// Holder is a named retention claim.
type Holder struct {
	Name string
	Kind HolderKind
}

// SessionHolder returns a session holder with the given name.
func SessionHolder(name string) Holder {
	return Holder{Name: name, Kind: Session}
}

// PersistentHolder returns a persistent holder with the given name.
func PersistentHolder(name string) Holder {
	return Holder{Name: name, Kind: Persistent}
}

// NewSessionHolder returns a session holder with a fresh UUIDv7 name.
func NewSessionHolder() Holder {
	return SessionHolder("session-" + uuid.Must(uuid.NewV7()).String())
}

func (h Holder) String() string {
	return fmt.Sprintf("%s(%s)", h.Kind, h.Name)
}

// HolderInfo summarizes one holder for listings.
type HolderInfo struct {
	Holder Holder
	Claims int
}

package store

import "fmt"

// Backend names accepted by Open.
const (
	BackendSQLite       = "sqlite"
	BackendSQLitePureGo = "sqlite-purego"
	BackendPebble       = "pebble"
	BackendMemory       = "memory"
)

// Open opens a backend by name. path is a file for SQLite and a directory
// for Pebble; it is ignored for memory.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendSQLite, "":
		return OpenSQLite(path, DriverCgo)
	case BackendSQLitePureGo:
		return OpenSQLite(path, DriverPureGo)
	case BackendPebble:
		return OpenPebble(path)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

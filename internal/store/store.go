package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("store: not found")

	// ErrMigration means a blob or the store marker cannot be brought to the
	// running format version. Callers must treat the store as unusable.
	ErrMigration = errors.New("store: migration failed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")

	// ErrInvalidScope rejects empty scopes and scopes containing NUL.
	ErrInvalidScope = errors.New("store: invalid scope")
)

// Store is durable key to blob storage partitioned by scope.
//
// Implementations must be safe for concurrent use. Get returns a copy the
// caller may retain. Keys returns keys in ascending byte order.
type Store interface {
	Put(ctx context.Context, scope, key string, blob []byte) error
	Get(ctx context.Context, scope, key string) ([]byte, error)
	Delete(ctx context.Context, scope, key string) error
	Keys(ctx context.Context, scope string) ([]string, error)
	DeleteScope(ctx context.Context, scope string) error

	// Version returns the store-level format marker (0 when never set).
	Version(ctx context.Context) (uint64, error)
	SetVersion(ctx context.Context, v uint64) error

	Close() error
}

func checkScope(scope string) error {
	if scope == "" || strings.ContainsRune(scope, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	return nil
}

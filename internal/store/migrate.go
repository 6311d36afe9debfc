package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/protobuf/encoding/protowire"
)

// Migration upgrades a blob payload from format version N to N+1.
type Migration func(payload []byte) ([]byte, error)

// Migrating stamps every blob with the running format version and upgrades
// older blobs on read, writing the upgraded blob back.
//
// It fails closed. A blob stamped newer than the running version, a blob
// without a readable stamp, a missing step or a failing step all return
// ErrMigration and the payload is never handed out.
type Migrating struct {
	inner   Store
	version uint64
	steps   map[uint64]Migration
	log     *slog.Logger
}

// MigratingOption configures a Migrating store.
type MigratingOption func(*Migrating)

// WithMigration registers the step that upgrades version from to from+1.
func WithMigration(from uint64, m Migration) MigratingOption {
	return func(s *Migrating) { s.steps[from] = m }
}

// WithMigrationLogger sets the logger for write-back failures.
func WithMigrationLogger(l *slog.Logger) MigratingOption {
	return func(s *Migrating) { s.log = l }
}

// NewMigrating wraps inner for format version. It checks the store marker:
// a marker newer than version, or an older marker with no complete step
// chain to version, fails with ErrMigration. Otherwise the marker is raised
// to version and individual blobs migrate lazily.
func NewMigrating(ctx context.Context, inner Store, version uint64, opts ...MigratingOption) (*Migrating, error) {
	s := &Migrating{
		inner:   inner,
		version: version,
		steps:   make(map[uint64]Migration),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	marker, err := inner.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read marker: %w", ErrMigration, err)
	}
	if marker > version {
		return nil, fmt.Errorf("%w: store format %d is newer than supported %d", ErrMigration, marker, version)
	}
	if marker > 0 {
		for v := marker; v < version; v++ {
			if _, ok := s.steps[v]; !ok {
				return nil, fmt.Errorf("%w: no migration from format %d", ErrMigration, v)
			}
		}
	}
	if marker != version {
		if err := inner.SetVersion(ctx, version); err != nil {
			return nil, fmt.Errorf("%w: write marker: %w", ErrMigration, err)
		}
	}
	return s, nil
}

// FormatVersion returns the running format version.
func (s *Migrating) FormatVersion() uint64 {
	return s.version
}

func (s *Migrating) stamp(payload []byte) []byte {
	b := make([]byte, 0, len(payload)+protowire.SizeVarint(s.version))
	b = protowire.AppendVarint(b, s.version)
	return append(b, payload...)
}

func (s *Migrating) Put(ctx context.Context, scope, key string, payload []byte) error {
	return s.inner.Put(ctx, scope, key, s.stamp(payload))
}

// Get returns the payload at the running version, migrating if needed.
func (s *Migrating) Get(ctx context.Context, scope, key string) ([]byte, error) {
	blob, err := s.inner.Get(ctx, scope, key)
	if err != nil {
		return nil, err
	}
	payload, migrated, err := s.upgrade(blob)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", scope, key, err)
	}
	if migrated {
		if err := s.inner.Put(ctx, scope, key, s.stamp(payload)); err != nil {
			s.log.Warn("store: migrated blob write-back failed", "scope", scope, "key", key, "error", err)
		}
	}
	return payload, nil
}

func (s *Migrating) upgrade(blob []byte) ([]byte, bool, error) {
	v, n := protowire.ConsumeVarint(blob)
	if n < 0 {
		return nil, false, fmt.Errorf("%w: unreadable format stamp", ErrMigration)
	}
	if v > s.version {
		return nil, false, fmt.Errorf("%w: blob format %d is newer than supported %d", ErrMigration, v, s.version)
	}
	payload := blob[n:]
	for from := v; from < s.version; from++ {
		step, ok := s.steps[from]
		if !ok {
			return nil, false, fmt.Errorf("%w: no migration from format %d", ErrMigration, from)
		}
		next, err := step(payload)
		if err != nil {
			return nil, false, fmt.Errorf("%w: format %d to %d: %w", ErrMigration, from, from+1, err)
		}
		payload = next
	}
	return payload, v != s.version, nil
}

// MigrateScope eagerly upgrades every blob in scope and returns how many
// were rewritten.
func (s *Migrating) MigrateScope(ctx context.Context, scope string) (int, error) {
	keys, err := s.inner.Keys(ctx, scope)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, k := range keys {
		blob, err := s.inner.Get(ctx, scope, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return count, err
		}
		payload, migrated, err := s.upgrade(blob)
		if err != nil {
			return count, fmt.Errorf("%s/%s: %w", scope, k, err)
		}
		if !migrated {
			continue
		}
		if err := s.inner.Put(ctx, scope, k, s.stamp(payload)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *Migrating) Delete(ctx context.Context, scope, key string) error {
	return s.inner.Delete(ctx, scope, key)
}

func (s *Migrating) Keys(ctx context.Context, scope string) ([]string, error) {
	return s.inner.Keys(ctx, scope)
}

func (s *Migrating) DeleteScope(ctx context.Context, scope string) error {
	return s.inner.DeleteScope(ctx, scope)
}

func (s *Migrating) Version(ctx context.Context) (uint64, error) {
	return s.inner.Version(ctx)
}

func (s *Migrating) SetVersion(ctx context.Context, v uint64) error {
	return s.inner.SetVersion(ctx, v)
}

func (s *Migrating) Close() error {
	return s.inner.Close()
}

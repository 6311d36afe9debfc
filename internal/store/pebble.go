package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
)

// metaVersionKey holds the format marker. Scopes never contain NUL, so no scope
// prefix can collide with it.
var metaVersionKey = []byte("\x00meta\x00format_version")

// Pebble is a Store backed by a pebble LSM. Keys are laid out as
// scope + 0x00 + key so a scope is one contiguous range.
type Pebble struct {
	db     *pebble.DB
	closed atomic.Bool
}

// OpenPebble opens or creates a pebble database in dir.
func OpenPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dir, err)
	}
	return &Pebble{db: db}, nil
}

func pebbleKey(scope, key string) []byte {
	b := make([]byte, 0, len(scope)+1+len(key))
	b = append(b, scope...)
	b = append(b, 0)
	return append(b, key...)
}

// scopeBounds returns [lower, upper) covering every key in scope.
func scopeBounds(scope string) ([]byte, []byte) {
	lower := append([]byte(scope), 0)
	upper := append([]byte(scope), 1)
	return lower, upper
}

func (p *Pebble) check(scope string) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return checkScope(scope)
}

func (p *Pebble) Put(_ context.Context, scope, key string, blob []byte) error {
	if err := p.check(scope); err != nil {
		return err
	}
	if err := p.db.Set(pebbleKey(scope, key), blob, pebble.Sync); err != nil {
		return fmt.Errorf("put %s/%s: %w", scope, key, err)
	}
	return nil
}

func (p *Pebble) Get(_ context.Context, scope, key string) ([]byte, error) {
	if err := p.check(scope); err != nil {
		return nil, err
	}
	return p.get(pebbleKey(scope, key))
}

func (p *Pebble) get(k []byte) ([]byte, error) {
	val, closer, err := p.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", k, err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func (p *Pebble) Delete(_ context.Context, scope, key string) error {
	if err := p.check(scope); err != nil {
		return err
	}
	if err := p.db.Delete(pebbleKey(scope, key), pebble.Sync); err != nil {
		return fmt.Errorf("delete %s/%s: %w", scope, key, err)
	}
	return nil
}

func (p *Pebble) Keys(_ context.Context, scope string) ([]string, error) {
	if err := p.check(scope); err != nil {
		return nil, err
	}
	lower, upper := scopeBounds(scope)
	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", scope, err)
	}
	var keys []string
	for it.First(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()[len(lower):]))
	}
	if err := it.Close(); err != nil {
		return nil, fmt.Errorf("keys %s: %w", scope, err)
	}
	return keys, nil
}

func (p *Pebble) DeleteScope(_ context.Context, scope string) error {
	if err := p.check(scope); err != nil {
		return err
	}
	lower, upper := scopeBounds(scope)
	if err := p.db.DeleteRange(lower, upper, pebble.Sync); err != nil {
		return fmt.Errorf("delete scope %s: %w", scope, err)
	}
	return nil
}

func (p *Pebble) Version(context.Context) (uint64, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	b, err := p.get(metaVersionKey)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: malformed format marker", ErrMigration)
	}
	return binary.BigEndian.Uint64(b), nil
}

func (p *Pebble) SetVersion(_ context.Context, v uint64) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.db.Set(metaVersionKey, binary.BigEndian.AppendUint64(nil, v), pebble.Sync); err != nil {
		return fmt.Errorf("set format version: %w", err)
	}
	return nil
}

func (p *Pebble) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.db.Close()
}

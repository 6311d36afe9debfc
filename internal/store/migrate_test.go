package store

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upper(p []byte) ([]byte, error) { return bytes.ToUpper(p), nil }

func suffix(s string) Migration {
	return func(p []byte) ([]byte, error) { return append(append([]byte{}, p...), s...), nil }
}

func TestMigrating_StampsAndReads(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	m, err := NewMigrating(ctx, inner, 2)
	require.NoError(t, err)

	require.NoError(t, m.Put(ctx, "things", "k", []byte("payload")))

	raw, err := inner.Get(ctx, "things", "k")
	require.NoError(t, err)
	assert.Equal(t, byte(2), raw[0], "blob carries the format stamp")

	got, err := m.Get(ctx, "things", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	v, err := inner.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
}

func TestMigrating_UpgradesLazilyAndWritesBack(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()

	v1, err := NewMigrating(ctx, inner, 1)
	require.NoError(t, err)
	require.NoError(t, v1.Put(ctx, "things", "k", []byte("abc")))

	v3, err := NewMigrating(ctx, inner, 3,
		WithMigration(1, upper),
		WithMigration(2, suffix("!")),
	)
	require.NoError(t, err)

	got, err := v3.Get(ctx, "things", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("ABC!"), got)

	raw, err := inner.Get(ctx, "things", "k")
	require.NoError(t, err)
	assert.Equal(t, append([]byte{3}, "ABC!"...), raw, "written back at the new version")
}

func TestMigrating_FailsClosed(t *testing.T) {
	ctx := context.Background()

	t.Run("newer store marker", func(t *testing.T) {
		inner := NewMemory()
		require.NoError(t, inner.SetVersion(ctx, 5))
		_, err := NewMigrating(ctx, inner, 4)
		assert.ErrorIs(t, err, ErrMigration)
	})

	t.Run("missing step at open", func(t *testing.T) {
		inner := NewMemory()
		require.NoError(t, inner.SetVersion(ctx, 1))
		_, err := NewMigrating(ctx, inner, 3, WithMigration(1, upper))
		assert.ErrorIs(t, err, ErrMigration)
	})

	t.Run("newer blob", func(t *testing.T) {
		inner := NewMemory()
		require.NoError(t, inner.Put(ctx, "things", "k", []byte{9, 'x'}))
		m, err := NewMigrating(ctx, inner, 2)
		require.NoError(t, err)
		_, err = m.Get(ctx, "things", "k")
		assert.ErrorIs(t, err, ErrMigration)
	})

	t.Run("missing step at read", func(t *testing.T) {
		inner := NewMemory()
		require.NoError(t, inner.Put(ctx, "things", "k", []byte{0, 'x'}))
		m, err := NewMigrating(ctx, inner, 2, WithMigration(1, upper))
		require.NoError(t, err)
		_, err = m.Get(ctx, "things", "k")
		assert.ErrorIs(t, err, ErrMigration)
	})

	t.Run("failing step", func(t *testing.T) {
		inner := NewMemory()
		require.NoError(t, inner.Put(ctx, "things", "k", []byte{1, 'x'}))
		boom := errors.New("boom")
		m, err := NewMigrating(ctx, inner, 2, WithMigration(1, func([]byte) ([]byte, error) { return nil, boom }))
		require.NoError(t, err)
		_, err = m.Get(ctx, "things", "k")
		assert.ErrorIs(t, err, ErrMigration)
		assert.ErrorIs(t, err, boom)

		raw, err := inner.Get(ctx, "things", "k")
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 'x'}, raw, "original blob untouched")
	})

	t.Run("unstamped blob", func(t *testing.T) {
		inner := NewMemory()
		require.NoError(t, inner.Put(ctx, "things", "k", []byte{0x80}))
		m, err := NewMigrating(ctx, inner, 1)
		require.NoError(t, err)
		_, err = m.Get(ctx, "things", "k")
		assert.ErrorIs(t, err, ErrMigration)
	})
}

func TestMigrating_NotFoundPassesThrough(t *testing.T) {
	ctx := context.Background()
	m, err := NewMigrating(ctx, NewMemory(), 1)
	require.NoError(t, err)
	_, err = m.Get(ctx, "things", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrMigration)
}

func TestMigrating_MigrateScope(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	require.NoError(t, inner.Put(ctx, "things", "a", []byte{1, 'a'}))
	require.NoError(t, inner.Put(ctx, "things", "b", []byte{2, 'B'}))
	require.NoError(t, inner.Put(ctx, "things", "c", []byte{1, 'c'}))

	m, err := NewMigrating(ctx, inner, 2, WithMigration(1, upper))
	require.NoError(t, err)

	n, err := m.MigrateScope(ctx, "things")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	raw, err := inner.Get(ctx, "things", "c")
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 'C'}, raw)

	n, err = m.MigrateScope(ctx, "things")
	require.NoError(t, err)
	assert.Zero(t, n, "second pass is a no-op")
}

package store

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached is a read-through LRU over another Store. Writes and deletes go to
// the inner store first and then invalidate the cached entry.
type Cached struct {
	inner Store
	cache *lru.Cache[string, []byte]
}

// NewCached wraps inner with an LRU of size entries.
func NewCached(inner Store, size int) (*Cached, error) {
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Cached{inner: inner, cache: c}, nil
}

func cacheKey(scope, key string) string {
	return scope + "\x00" + key
}

func (c *Cached) Get(ctx context.Context, scope, key string) ([]byte, error) {
	ck := cacheKey(scope, key)
	if b, ok := c.cache.Get(ck); ok {
		metrics.IncrCounter([]string{"store", "cache", "hit"}, 1)
		return slices.Clone(b), nil
	}
	metrics.IncrCounter([]string{"store", "cache", "miss"}, 1)
	b, err := c.inner.Get(ctx, scope, key)
	if err != nil {
		return nil, err
	}
	c.cache.Add(ck, slices.Clone(b))
	return b, nil
}

func (c *Cached) Put(ctx context.Context, scope, key string, blob []byte) error {
	defer c.cache.Remove(cacheKey(scope, key))
	return c.inner.Put(ctx, scope, key, blob)
}

func (c *Cached) Delete(ctx context.Context, scope, key string) error {
	defer c.cache.Remove(cacheKey(scope, key))
	return c.inner.Delete(ctx, scope, key)
}

func (c *Cached) Keys(ctx context.Context, scope string) ([]string, error) {
	return c.inner.Keys(ctx, scope)
}

func (c *Cached) DeleteScope(ctx context.Context, scope string) error {
	defer func() {
		prefix := scope + "\x00"
		for _, k := range c.cache.Keys() {
			if strings.HasPrefix(k, prefix) {
				c.cache.Remove(k)
			}
		}
	}()
	return c.inner.DeleteScope(ctx, scope)
}

func (c *Cached) Version(ctx context.Context) (uint64, error) {
	return c.inner.Version(ctx)
}

func (c *Cached) SetVersion(ctx context.Context, v uint64) error {
	return c.inner.SetVersion(ctx, v)
}

func (c *Cached) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

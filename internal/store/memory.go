package store

import (
	"context"
	"slices"
	"sync"
)

// Memory is a Store held in process memory. Nothing survives the process.
type Memory struct {
	mu      sync.RWMutex
	scopes  map[string]map[string][]byte
	version uint64
	closed  bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{scopes: make(map[string]map[string][]byte)}
}

func (m *Memory) check(scope string) error {
	if m.closed {
		return ErrClosed
	}
	return checkScope(scope)
}

func (m *Memory) Put(_ context.Context, scope, key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(scope); err != nil {
		return err
	}
	sc, ok := m.scopes[scope]
	if !ok {
		sc = make(map[string][]byte)
		m.scopes[scope] = sc
	}
	sc[key] = slices.Clone(blob)
	return nil
}

func (m *Memory) Get(_ context.Context, scope, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(scope); err != nil {
		return nil, err
	}
	b, ok := m.scopes[scope][key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(b), nil
}

func (m *Memory) Delete(_ context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(scope); err != nil {
		return err
	}
	delete(m.scopes[scope], key)
	return nil
}

func (m *Memory) Keys(_ context.Context, scope string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(scope); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m.scopes[scope]))
	for k := range m.scopes[scope] {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *Memory) DeleteScope(_ context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(scope); err != nil {
		return err
	}
	delete(m.scopes, scope)
	return nil
}

func (m *Memory) Version(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.version, nil
}

func (m *Memory) SetVersion(_ context.Context, v uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.version = v
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

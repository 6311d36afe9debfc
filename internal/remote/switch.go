package remote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Switch gates a Remote behind a network-enable flag. Disabling fails
// every in-flight send and every later send with ErrOffline until the
// flag is enabled again.
//
// Thread-safety: safe for concurrent use.
type Switch struct {
	inner   Remote
	enabled atomic.Bool

	mu       sync.Mutex
	nextID   uint64
	inflight map[uint64]context.CancelCauseFunc
}

var _ Remote = (*Switch)(nil)

// NewSwitch wraps inner, initially enabled.
func NewSwitch(inner Remote) *Switch {
	s := &Switch{inner: inner, inflight: make(map[uint64]context.CancelCauseFunc)}
	s.enabled.Store(true)
	return s
}

// SetEnabled flips the flag. Disabling cancels in-flight sends.
func (s *Switch) SetEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled.Store(on)
	if on {
		return
	}
	for id, cancel := range s.inflight {
		cancel(ErrOffline)
		delete(s.inflight, id)
	}
}

// Enabled reports the flag.
func (s *Switch) Enabled() bool {
	return s.enabled.Load()
}

func (s *Switch) Send(ctx context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	if !s.enabled.Load() {
		s.mu.Unlock()
		return nil, ErrOffline
	}
	ctx, cancel := context.WithCancelCause(ctx)
	id := s.nextID
	s.nextID++
	s.inflight[id] = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
		cancel(nil)
	}()

	resp, err := s.inner.Send(ctx, req)
	if errors.Is(context.Cause(ctx), ErrOffline) {
		return nil, ErrOffline
	}
	return resp, err
}

package source

import (
	"context"
	"sync"
)

// Update is one state of a Result. A Result may publish a provisional
// value (local data while a refresh is in flight) before its final one.
type Update[T any] struct {
	Value T
	Err   error
	Final bool
	seq   uint64
}

// Result is a deferred, re-resolvable value. Discarding a Result does not
// affect the work behind it.
//
// Thread-safety: safe for concurrent use.
type Result[T any] struct {
	pub Publisher

	mu   sync.Mutex
	last Update[T]
	has  bool
	seq  uint64
	subs []*subscriber[T]
	done chan struct{}
}

type subscriber[T any] struct {
	mu   sync.Mutex
	seen uint64
	fn   func(Update[T])
}

func (s *subscriber[T]) deliver(u Update[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.seq <= s.seen {
		return
	}
	s.seen = u.seq
	s.fn(u)
}

func newResult[T any](pub Publisher) *Result[T] {
	return &Result[T]{pub: pub, done: make(chan struct{})}
}

// Done is closed once the final update is set.
func (r *Result[T]) Done() <-chan struct{} {
	return r.done
}

// Wait blocks for the final value.
func (r *Result[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.last.Value, r.last.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Latest returns the most recent update, provisional or final.
func (r *Result[T]) Latest() (Update[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.has
}

// Subscribe calls fn on the Publisher for every later update, starting
// with the current one if any. Updates arrive in order; an update is
// skipped when a newer one was already delivered.
func (r *Result[T]) Subscribe(fn func(Update[T])) {
	sub := &subscriber[T]{fn: fn}
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	last, has := r.last, r.has
	r.mu.Unlock()
	if has {
		r.pub.Publish(func() { sub.deliver(last) })
	}
}

// update publishes a provisional value. Ignored after the final one.
func (r *Result[T]) update(v T) {
	r.set(Update[T]{Value: v}, nil)
}

// finish sets the final value. after runs on the Publisher once every
// subscriber has seen it.
func (r *Result[T]) finish(v T, err error, after func()) {
	r.set(Update[T]{Value: v, Err: err, Final: true}, after)
}

func (r *Result[T]) set(u Update[T], after func()) {
	r.mu.Lock()
	if r.last.Final {
		r.mu.Unlock()
		if after != nil {
			r.pub.Publish(after)
		}
		return
	}
	r.seq++
	u.seq = r.seq
	r.last, r.has = u, true
	subs := append([]*subscriber[T](nil), r.subs...)
	if u.Final {
		close(r.done)
	}
	r.mu.Unlock()

	r.pub.Publish(func() {
		for _, s := range subs {
			s.deliver(u)
		}
		if after != nil {
			after()
		}
	})
}

package source

import (
	"sync"
)

// Publisher runs completion callbacks. Publish must not block the caller
// for longer than it takes to hand fn over.
type Publisher interface {
	Publish(fn func())
}

// Inline runs callbacks on the goroutine that completed the work.
type Inline struct{}

func (Inline) Publish(fn func()) { fn() }

// Loop runs every callback on one dedicated goroutine, in submission order.
//
// The queue is unbounded so a worker never waits for a slow subscriber.
// After Close, Publish runs callbacks inline so nothing already promised
// is lost.
//
// Thread-safety: safe for concurrent use.
type Loop struct {
	mu     sync.Mutex
	fns    []func()
	closed bool
	signal chan struct{} // buffered, size 1
	done   chan struct{}
}

var _ Publisher = (*Loop)(nil)

// NewLoop starts the publishing goroutine. Call Close to stop it.
func NewLoop() *Loop {
	l := &Loop{
		fns:    make([]func(), 0, 64),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) Publish(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		fn()
		return
	}
	defer l.mu.Unlock()
	l.fns = append(l.fns, fn)
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.fns) == 0 {
		return nil, l.closed
	}
	fn := l.fns[0]
	l.fns[0] = nil
	if len(l.fns) == 1 {
		l.fns = l.fns[:0]
	} else {
		l.fns = l.fns[1:]
	}
	return fn, false
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		fn, closed := l.next()
		if fn != nil {
			fn()
			continue
		}
		if closed {
			return
		}
		<-l.signal
	}
}

// Close runs what is already queued, then stops the goroutine and waits
// for it to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.signal)
	}
	l.mu.Unlock()
	<-l.done
}

// Len returns the number of callbacks waiting to run.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

package source

import (
	"context"
	"runtime"
	"sync"
)

// Barrier tracks outstanding work for quiescence.
//
// Every Add bumps a generation counter. Wait returns only after it sees
// zero outstanding work twice with no Add in between, so work submitted
// while a waiter is parked is honored before it is released. Work that
// spawns follow-up work must Add the follow-up before it calls Done.
//
// Thread-safety: safe for concurrent use.
type Barrier struct {
	mu      sync.Mutex
	pending int
	gen     uint64
	idle    chan struct{} // closed while pending == 0
}

// NewBarrier returns an idle barrier.
func NewBarrier() *Barrier {
	idle := make(chan struct{})
	close(idle)
	return &Barrier{idle: idle}
}

// Add registers one unit of work.
func (b *Barrier) Add() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == 0 {
		b.idle = make(chan struct{})
	}
	b.pending++
	b.gen++
}

// Done finishes one unit of work.
func (b *Barrier) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == 0 {
		panic("source: Barrier.Done without Add")
	}
	b.pending--
	if b.pending == 0 {
		close(b.idle)
	}
}

// Pending returns the outstanding count.
func (b *Barrier) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Wait blocks until the barrier is quiescent or ctx ends.
func (b *Barrier) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		idle, gen, pending := b.idle, b.gen, b.pending
		b.mu.Unlock()

		if pending > 0 {
			select {
			case <-idle:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		// Let goroutines that are about to submit work run before the
		// second observation.
		runtime.Gosched()

		b.mu.Lock()
		quiet := b.pending == 0 && b.gen == gen
		b.mu.Unlock()
		if quiet {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

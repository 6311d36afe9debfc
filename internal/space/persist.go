package space

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-metrics"

	"github.com/roach88/syncspace/internal/codec"
	"github.com/roach88/syncspace/internal/store"
	"github.com/roach88/syncspace/internal/thing"
)

type opKind int

const (
	opPutThing opKind = iota
	opDeleteThing
	opPutHolder
	opDeleteHolder
	opClearScopes
)

// op is one store write decided under the retention lock.
type op struct {
	kind  opKind
	key   string
	thing *thing.Thing
	ids   []thing.Identity
	done  chan error // opClearScopes only
}

func hasPut(ops []op, id thing.Identity) bool {
	for _, o := range ops {
		if o.kind == opPutThing && o.key == string(id) {
			return true
		}
	}
	return false
}

// flush queues ops in decision order, releases mu and drains the queue.
// Caller holds mu.
func (s *Space) flush(ctx context.Context, ops []op) {
	s.writes.push(ops)
	s.mu.Unlock()
	s.writes.drain(ctx, s.execute)
}

// writeQueue orders store writes the way they were decided under mu. The
// caller that finds the queue idle drains it, including ops queued by
// others meanwhile; everyone else returns without waiting for the store.
type writeQueue struct {
	mu       sync.Mutex
	pending  []op
	draining bool
}

// push appends ops. Called while holding the space's mu.
func (q *writeQueue) push(ops []op) {
	if len(ops) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, ops...)
	q.mu.Unlock()
}

func (q *writeQueue) drain(ctx context.Context, exec func(context.Context, []op)) {
	q.mu.Lock()
	if q.draining || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	q.draining = true
	// ops may belong to callers whose contexts end before we get to them
	ctx = context.WithoutCancel(ctx)
	for len(q.pending) > 0 {
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()
		exec(ctx, batch)
		q.mu.Lock()
	}
	q.draining = false
	q.mu.Unlock()
}

// execute writes ops to the store. Failures are logged and counted: the
// in-memory state is already committed and stays authoritative.
func (s *Space) execute(ctx context.Context, ops []op) {
	for _, o := range ops {
		var err error
		switch o.kind {
		case opPutThing:
			var blob []byte
			if blob, err = s.codec.Marshal(o.thing); err == nil {
				err = s.store.Put(ctx, ScopeThings, o.key, blob)
			}
		case opDeleteThing:
			err = s.store.Delete(ctx, ScopeThings, o.key)
		case opPutHolder:
			keys := make([]string, len(o.ids))
			for i, id := range o.ids {
				keys[i] = string(id)
			}
			err = s.store.Put(ctx, ScopeHolders, o.key, codec.EncodeKeys(keys))
		case opDeleteHolder:
			err = s.store.Delete(ctx, ScopeHolders, o.key)
		case opClearScopes:
			for _, scope := range []string{ScopeThings, ScopeHolders} {
				if err = s.store.DeleteScope(ctx, scope); err != nil {
					err = fmt.Errorf("clear %s: %w", scope, err)
					break
				}
			}
			o.done <- err
			continue
		}
		if err != nil {
			metrics.IncrCounter(metricPersistErr, 1)
			s.log.Error("space: persist failed", "key", o.key, "error", err)
		}
	}
}

func (s *Space) holderPutLocked(name string) op {
	return op{kind: opPutHolder, key: name, ids: s.ret.holders[name].ids.sorted()}
}

// durableEligibleLocked reports whether id is claimed by a persistent
// holder or referenced by a durable record.
func (s *Space) durableEligibleLocked(id thing.Identity) bool {
	for name := range s.ret.claims[id] {
		if e := s.ret.holders[name]; e != nil && e.kind == Persistent {
			return true
		}
	}
	for from := range s.ret.refBy[id] {
		if s.durable.has(from) {
			return true
		}
	}
	return false
}

// planDurableLocked recomputes the set of records reachable from persistent
// roots and returns the writes that bring the store in line with it.
func (s *Space) planDurableLocked() []op {
	if !s.persistent() {
		return nil
	}
	target := sweep(s.ret.persistentRoots(), s.ret.refs)
	var ops []op
	for _, id := range target.sorted() {
		if s.durable.has(id) {
			continue
		}
		rec := s.load(id)
		if rec == nil {
			continue
		}
		s.durable.add(id)
		ops = append(ops, op{kind: opPutThing, key: string(id), thing: rec.Thing})
	}
	for _, id := range s.durable.sorted() {
		if !target.has(id) {
			delete(s.durable, id)
			ops = append(ops, op{kind: opDeleteThing, key: string(id)})
		}
	}
	return ops
}

// Restore loads persistent holders and their records from the store.
//
// A record that cannot be decoded is skipped and left absent. Store errors,
// including migration failures, are returned: the store cannot be trusted.
// Blobs no longer reachable from a persistent holder are deleted.
func (s *Space) Restore(ctx context.Context) error {
	if !s.persistent() {
		return nil
	}
	holders, err := s.loadHolders(ctx)
	if err != nil {
		return err
	}
	records, err := s.loadRecords(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for name, ids := range holders {
		for _, id := range ids {
			if _, err := s.ret.claim(PersistentHolder(name), id); err != nil {
				s.log.Warn("space: skipping restored claim", "holder", name, "error", err)
			}
		}
	}
	now := s.now()
	for id, t := range records {
		sl, _ := s.slots.LoadOrCompute(id, func() *slot { return &slot{} })
		if sl.rec.Load() != nil {
			continue
		}
		sl.rec.Store(&Record{Thing: t, Updated: now, Version: 1})
		s.ret.setEdges(id, edgesOf(t))
		s.durable.add(id)
	}
	ops := s.sweepLocked()
	ops = append(ops, s.planDurableLocked()...)
	n := s.slots.Size()
	s.flush(ctx, ops)

	s.log.Info("space: restored", "holders", len(holders), "records", n)
	return nil
}

func (s *Space) loadHolders(ctx context.Context) (map[string][]thing.Identity, error) {
	names, err := s.store.Keys(ctx, ScopeHolders)
	if err != nil {
		return nil, fmt.Errorf("restore holders: %w", err)
	}
	out := make(map[string][]thing.Identity, len(names))
	for _, name := range names {
		blob, err := s.store.Get(ctx, ScopeHolders, name)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("restore holder %s: %w", name, err)
		}
		keys, err := codec.DecodeKeys(blob)
		if err != nil {
			metrics.IncrCounter(metricDecodeError, 1)
			s.log.Warn("space: skipping undecodable holder", "holder", name, "error", err)
			continue
		}
		ids := make([]thing.Identity, len(keys))
		for i, k := range keys {
			ids[i] = thing.Identity(k)
		}
		out[name] = ids
	}
	return out, nil
}

func (s *Space) loadRecords(ctx context.Context) (map[thing.Identity]*thing.Thing, error) {
	keys, err := s.store.Keys(ctx, ScopeThings)
	if err != nil {
		return nil, fmt.Errorf("restore things: %w", err)
	}
	out := make(map[thing.Identity]*thing.Thing, len(keys))
	for _, key := range keys {
		blob, err := s.store.Get(ctx, ScopeThings, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("restore thing %s: %w", key, err)
		}
		t, err := s.codec.Unmarshal(blob)
		if err != nil {
			metrics.IncrCounter(metricDecodeError, 1)
			s.log.Warn("space: skipping undecodable record", "id", key, "error", err)
			continue
		}
		id, err := t.Identity()
		if err != nil || string(id) != key {
			metrics.IncrCounter(metricDecodeError, 1)
			s.log.Warn("space: skipping record with mismatched identity", "id", key)
			continue
		}
		out[id] = t
	}
	return out, nil
}

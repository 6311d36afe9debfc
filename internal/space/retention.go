package space

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/syncspace/internal/thing"
)

type idSet map[thing.Identity]struct{}

func (s idSet) add(id thing.Identity) { s[id] = struct{}{} }

func (s idSet) has(id thing.Identity) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) sorted() []thing.Identity {
	return slices.Sorted(maps.Keys(s))
}

type holderEntry struct {
	kind HolderKind
	ids  idSet
}

// retention is the claim table plus the reference edges between records.
// It is not safe for concurrent use; Space guards it with its retention lock.
type retention struct {
	holders map[string]*holderEntry
	claims  map[thing.Identity]map[string]struct{}
	refs    map[thing.Identity]idSet
	refBy   map[thing.Identity]idSet
}

func newRetention() *retention {
	return &retention{
		holders: make(map[string]*holderEntry),
		claims:  make(map[thing.Identity]map[string]struct{}),
		refs:    make(map[thing.Identity]idSet),
		refBy:   make(map[thing.Identity]idSet),
	}
}

// claim records that h holds id. It reports whether the claim is new.
func (r *retention) claim(h Holder, id thing.Identity) (bool, error) {
	e, ok := r.holders[h.Name]
	if !ok {
		e = &holderEntry{kind: h.Kind, ids: make(idSet)}
		r.holders[h.Name] = e
	} else if e.kind != h.Kind {
		return false, fmt.Errorf("%w: %s is %s", ErrHolderKind, h.Name, e.kind)
	}
	if e.ids.has(id) {
		return false, nil
	}
	e.ids.add(id)
	set, ok := r.claims[id]
	if !ok {
		set = make(map[string]struct{})
		r.claims[id] = set
	}
	set[h.Name] = struct{}{}
	return true, nil
}

// release removes every claim owned by the named holder.
func (r *retention) release(name string) (*holderEntry, bool) {
	e, ok := r.holders[name]
	if !ok {
		return nil, false
	}
	delete(r.holders, name)
	for id := range e.ids {
		set := r.claims[id]
		delete(set, name)
		if len(set) == 0 {
			delete(r.claims, id)
		}
	}
	return e, true
}

func (r *retention) claimed(id thing.Identity) bool {
	return len(r.claims[id]) > 0
}

// live reports whether id may hold a record: it is claimed, or a committed
// record points at it. Records only keep edges while they are live, so an
// incoming edge always comes from a live record.
func (r *retention) live(id thing.Identity) bool {
	return r.claimed(id) || len(r.refBy[id]) > 0
}

// setEdges replaces the outgoing edges of id. changed reports any
// difference; removed reports that an old edge went away, which may orphan
// its target.
func (r *retention) setEdges(id thing.Identity, edges idSet) (changed, removed bool) {
	prev := r.refs[id]
	for old := range prev {
		if !edges.has(old) {
			removed = true
			r.unlink(id, old)
		}
	}
	changed = removed || len(edges) != len(prev)
	if len(edges) == 0 {
		delete(r.refs, id)
		return changed, removed
	}
	r.refs[id] = edges
	for to := range edges {
		set, ok := r.refBy[to]
		if !ok {
			set = make(idSet)
			r.refBy[to] = set
		}
		set.add(id)
	}
	return changed, removed
}

func (r *retention) unlink(from, to thing.Identity) {
	set := r.refBy[to]
	delete(set, from)
	if len(set) == 0 {
		delete(r.refBy, to)
	}
}

// drop removes the outgoing edges of an evicted record.
func (r *retention) drop(id thing.Identity) {
	for to := range r.refs[id] {
		r.unlink(id, to)
	}
	delete(r.refs, id)
}

// roots returns the claimed identities, optionally only those claimed by a
// holder of the given kind.
func (r *retention) roots(kind *HolderKind) idSet {
	out := make(idSet)
	for _, e := range r.holders {
		if kind != nil && e.kind != *kind {
			continue
		}
		for id := range e.ids {
			out.add(id)
		}
	}
	return out
}

func (r *retention) persistentRoots() idSet {
	k := Persistent
	return r.roots(&k)
}

// sweep marks everything reachable from roots along refs.
func sweep(roots idSet, refs map[thing.Identity]idSet) idSet {
	live := make(idSet, len(roots))
	stack := make([]thing.Identity, 0, len(roots))
	for id := range roots {
		live.add(id)
		stack = append(stack, id)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for to := range refs[id] {
			if !live.has(to) {
				live.add(to)
				stack = append(stack, to)
			}
		}
	}
	return live
}

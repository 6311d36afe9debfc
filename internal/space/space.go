package space

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/roach88/syncspace/internal/codec"
	"github.com/roach88/syncspace/internal/store"
	"github.com/roach88/syncspace/internal/thing"
)

// Store scopes used for persistence.
const (
	ScopeThings  = "things"
	ScopeHolders = "holders"
)

var (
	metricImprint     = []string{"space", "imprint"}
	metricDropped     = []string{"space", "imprint", "dropped"}
	metricEvict       = []string{"space", "evict"}
	metricRecords     = []string{"space", "records"}
	metricPersistErr  = []string{"space", "persist", "error"}
	metricDecodeError = []string{"space", "decode", "error"}
)

// Record is the canonical state of one identity. Thing holds identity
// stubs in place of nested identified Things.
type Record struct {
	Thing   *thing.Thing
	Updated time.Time
	Version uint64
}

type slot struct {
	mu  sync.Mutex
	rec atomic.Pointer[Record]
}

// View is read access to a space.
type View interface {
	Get(template *thing.Thing) (*thing.Thing, bool)
	Lookup(template *thing.Thing) (Record, bool)
}

// Deriver computes fields the remote does not supply. Derive receives the
// current resolved record (or the template when nothing is stored) and
// returns a Thing of the same type carrying derived fields. Only fields
// the record lacks are taken from it.
type Deriver interface {
	Derive(t *thing.Thing, view View) (*thing.Thing, bool)
}

// DeriverFunc adapts a function to Deriver.
type DeriverFunc func(t *thing.Thing, view View) (*thing.Thing, bool)

func (f DeriverFunc) Derive(t *thing.Thing, view View) (*thing.Thing, bool) { return f(t, view) }

// Space is the graph cache.
//
// Thread-safety: all methods are safe for concurrent use.
type Space struct {
	slots *xsync.MapOf[thing.Identity, *slot]

	// mu is the retention lock. It guards ret and durable, and every record
	// commit happens while holding it.
	mu      sync.Mutex
	ret     *retention
	durable idSet

	// writes holds store ops in the order they were decided under mu. No
	// lock is held while the store runs.
	writes writeQueue

	store   store.Store
	codec   *codec.Codec
	deriver Deriver
	log     *slog.Logger
	now     func() time.Time
	merge   func(old, in *thing.Thing) (*thing.Thing, error)
}

// Option configures a Space.
type Option func(*Space)

// WithStore persists records reachable from persistent holders.
func WithStore(st store.Store, c *codec.Codec) Option {
	return func(s *Space) {
		s.store = st
		s.codec = c
	}
}

// WithDeriver installs the derive hook used by Get.
func WithDeriver(d Deriver) Option {
	return func(s *Space) { s.deriver = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Space) { s.log = l }
}

// WithClock sets the time source for Record.Updated.
func WithClock(now func() time.Time) Option {
	return func(s *Space) { s.now = now }
}

// New creates an empty space.
func New(opts ...Option) *Space {
	s := &Space{
		slots:   xsync.NewMapOf[thing.Identity, *slot](),
		ret:     newRetention(),
		durable: make(idSet),
		log:     slog.Default(),
		now:     time.Now,
		merge:   mergeThings,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func mergeThings(old, in *thing.Thing) (*thing.Thing, error) {
	if old == nil {
		return in, nil
	}
	return old.Merge(in)
}

func (s *Space) persistent() bool {
	return s.store != nil && s.codec != nil
}

// Remember claims the identities of things for h. It does not merge or
// fetch data. Every thing must carry an identity.
func (s *Space) Remember(ctx context.Context, h Holder, things ...*thing.Thing) error {
	if h.Name == "" {
		return ErrInvalidHolder
	}
	ids := make([]thing.Identity, 0, len(things))
	for _, t := range things {
		if t == nil {
			return fmt.Errorf("remember: nil thing")
		}
		id, err := t.Identity()
		if err != nil {
			return fmt.Errorf("remember: %w", err)
		}
		ids = append(ids, id)
	}

	s.mu.Lock()
	added := false
	for _, id := range ids {
		ok, err := s.ret.claim(h, id)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		added = added || ok
	}
	var ops []op
	if added && h.Kind == Persistent && s.persistent() {
		ops = append(ops, s.holderPutLocked(h.Name))
		ops = append(ops, s.planDurableLocked()...)
	}
	s.flush(ctx, ops)
	return nil
}

// Forget drops every claim of h and evicts what is no longer reachable.
func (s *Space) Forget(ctx context.Context, h Holder) error {
	if h.Name == "" {
		return ErrInvalidHolder
	}
	s.mu.Lock()
	e, ok := s.ret.release(h.Name)
	if !ok {
		s.mu.Unlock()
		return nil
	}
	ops := s.sweepLocked()
	if e.kind == Persistent && s.persistent() {
		ops = append(ops, op{kind: opDeleteHolder, key: h.Name})
	}
	ops = append(ops, s.planDurableLocked()...)
	s.flush(ctx, ops)
	return nil
}

// EndSession forgets every session holder at once.
func (s *Space) EndSession(ctx context.Context) {
	s.mu.Lock()
	released := 0
	for name, e := range s.ret.holders {
		if e.kind == Session {
			s.ret.release(name)
			released++
		}
	}
	var ops []op
	if released > 0 {
		ops = s.sweepLocked()
		ops = append(ops, s.planDurableLocked()...)
	}
	s.flush(ctx, ops)
	s.log.Debug("space: session ended", "holders", released)
}

// Imprint merges t into the canonical record for its identity, and every
// nested identified Thing into its own record. Identities that are neither
// claimed nor referenced by a live record are dropped without error. When
// any record fails to merge, nothing is committed.
func (s *Space) Imprint(ctx context.Context, t *thing.Thing) error {
	if t == nil {
		return fmt.Errorf("imprint: nil thing")
	}
	units, err := normalize(t)
	if err != nil {
		return fmt.Errorf("imprint %s: %w", t.TypeName(), err)
	}
	if err := s.checkMerge(units); err != nil {
		return err
	}
	for _, u := range units {
		if err := s.commit(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// checkMerge merges every unit against its current record without
// committing.
func (s *Space) checkMerge(units []unit) error {
	for _, u := range units {
		if _, err := s.safeMerge(s.load(u.id), u.thing); err != nil {
			return fmt.Errorf("imprint %s: %w", u.id, err)
		}
	}
	return nil
}

// Update imprints the Thing fn builds from the current stored record of
// the template's identity, holding that identity's slot lock from the read
// to the commit. cur is nil when nothing is stored, and nested identified
// Things in it are stubs. Returning nil changes nothing. fn may run more
// than once and must not call back into the space for the same identity.
func (s *Space) Update(ctx context.Context, template *thing.Thing, fn func(cur *thing.Thing) (*thing.Thing, error)) error {
	if template == nil {
		return fmt.Errorf("update: nil template")
	}
	id, err := template.Identity()
	if err != nil {
		return fmt.Errorf("update %s: %w", template.TypeName(), err)
	}
	var rest []unit
	err = s.commitWith(ctx, id, func(old *Record) (*thing.Thing, error) {
		var cur *thing.Thing
		if old != nil {
			cur = old.Thing
		}
		next, err := fn(cur)
		if err != nil || next == nil {
			return nil, err
		}
		units, err := normalize(next)
		if err != nil {
			return nil, err
		}
		if units[0].id != id {
			return nil, fmt.Errorf("%w: update of %s returned %s", ErrMerge, id, units[0].id)
		}
		if err := s.checkMerge(units[1:]); err != nil {
			return nil, err
		}
		rest = units[1:]
		return units[0].thing, nil
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	for _, u := range rest {
		if err := s.commit(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (s *Space) commit(ctx context.Context, u unit) error {
	err := s.commitWith(ctx, u.id, func(*Record) (*thing.Thing, error) { return u.thing, nil })
	if err != nil {
		return fmt.Errorf("imprint %s: %w", u.id, err)
	}
	return nil
}

// commitWith merges what build returns into the record for id. build runs
// under the slot lock and sees the record it will be merged into.
func (s *Space) commitWith(ctx context.Context, id thing.Identity, build func(old *Record) (*thing.Thing, error)) error {
	for {
		sl, _ := s.slots.LoadOrCompute(id, func() *slot { return &slot{} })
		sl.mu.Lock()
		old := sl.rec.Load()
		in, err := build(old)
		if err != nil || in == nil {
			if old == nil {
				s.dropEmptySlot(id, sl)
			}
			sl.mu.Unlock()
			return err
		}
		merged, err := s.safeMerge(old, in)
		if err != nil {
			sl.mu.Unlock()
			return err
		}

		s.mu.Lock()
		if cur, ok := s.slots.Load(id); !ok || cur != sl {
			// evicted or cleared since we loaded the slot
			s.mu.Unlock()
			sl.mu.Unlock()
			continue
		}
		if !s.ret.live(id) {
			if old == nil {
				s.slots.Delete(id)
			}
			s.mu.Unlock()
			sl.mu.Unlock()
			metrics.IncrCounter(metricDropped, 1)
			s.log.Debug("space: dropped imprint of unretained identity", "id", id)
			return nil
		}

		var version uint64 = 1
		if old != nil {
			version = old.Version + 1
		}
		rec := &Record{Thing: merged, Updated: s.now(), Version: version}
		sl.rec.Store(rec)
		metrics.IncrCounter(metricImprint, 1)

		changed, removed := s.ret.setEdges(id, edgesOf(merged))
		var ops []op
		if removed {
			ops = s.sweepLocked()
		}
		if s.persistent() {
			if changed {
				ops = append(ops, s.planDurableLocked()...)
			}
			if !s.durable.has(id) && s.durableEligibleLocked(id) {
				s.durable.add(id)
			}
			if s.durable.has(id) && !hasPut(ops, id) {
				ops = append(ops, op{kind: opPutThing, key: string(id), thing: merged})
			}
		}
		s.writes.push(ops)
		s.mu.Unlock()
		sl.mu.Unlock()
		s.writes.drain(ctx, s.execute)
		return nil
	}
}

// dropEmptySlot removes a slot that never got a record. Caller holds sl.mu.
func (s *Space) dropEmptySlot(id thing.Identity, sl *slot) {
	s.mu.Lock()
	if cur, ok := s.slots.Load(id); ok && cur == sl {
		s.slots.Delete(id)
	}
	s.mu.Unlock()
}

func (s *Space) safeMerge(old *Record, in *thing.Thing) (out *thing.Thing, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrMerge, r)
		}
	}()
	var base *thing.Thing
	if old != nil {
		base = old.Thing
	}
	out, err = s.merge(base, in)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMerge, err)
	}
	return out, nil
}

// sweepLocked evicts every record not reachable from a claimed root and
// returns the store deletions that follow. Caller holds mu.
func (s *Space) sweepLocked() []op {
	live := sweep(s.ret.roots(nil), s.ret.refs)
	var ops []op
	evicted := 0
	s.slots.Range(func(id thing.Identity, _ *slot) bool {
		if live.has(id) {
			return true
		}
		s.slots.Delete(id)
		s.ret.drop(id)
		evicted++
		if s.durable.has(id) {
			delete(s.durable, id)
			ops = append(ops, op{kind: opDeleteThing, key: string(id)})
		}
		return true
	})
	if evicted > 0 {
		metrics.IncrCounter(metricEvict, float32(evicted))
		s.log.Debug("space: evicted records", "count", evicted)
	}
	metrics.SetGauge(metricRecords, float32(s.slots.Size()))
	return ops
}

func (s *Space) load(id thing.Identity) *Record {
	sl, ok := s.slots.Load(id)
	if !ok {
		return nil
	}
	return sl.rec.Load()
}

// Lookup returns the stored record for the template's identity without
// resolving stubs or deriving fields.
func (s *Space) Lookup(template *thing.Thing) (Record, bool) {
	if template == nil {
		return Record{}, false
	}
	id, err := template.Identity()
	if err != nil {
		return Record{}, false
	}
	rec := s.load(id)
	if rec == nil {
		return Record{}, false
	}
	return *rec, true
}

// Get returns the canonical record matching the template's identity with
// nested stubs resolved. Missing fields are filled by the deriver, which may
// also produce a value when nothing is stored. When the template declares
// non-identity fields, the result is projected to those fields.
func (s *Space) Get(template *thing.Thing) (*thing.Thing, bool) {
	return s.get(template, s.deriver)
}

func (s *Space) get(template *thing.Thing, d Deriver) (*thing.Thing, bool) {
	if template == nil {
		return nil, false
	}
	var out *thing.Thing
	if id, err := template.Identity(); err == nil {
		if rec := s.load(id); rec != nil {
			r := &resolver{load: s.load, visiting: idSet{id: {}}}
			out = r.thing(rec.Thing)
		}
	}
	if d != nil {
		out = s.derive(d, template, out)
	}
	if out == nil {
		return nil, false
	}
	if req := template.Requested(); len(req) > 0 {
		out = out.Project(req...)
	}
	return out, true
}

func (s *Space) derive(d Deriver, template, current *thing.Thing) (out *thing.Thing) {
	out = current
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("space: deriver panicked", "type", template.TypeName(), "panic", r)
			out = current
		}
	}()
	base := current
	if base == nil {
		base = template
	}
	derived, ok := d.Derive(base, rawView{s})
	if !ok || derived == nil || derived.TypeName() != template.TypeName() {
		return current
	}
	if current == nil {
		return derived
	}
	out = current
	derived.Each(func(f *thing.Field, v thing.Value) {
		if out.Declared(f.Name) {
			return
		}
		if next, err := out.With(f.Name, v); err == nil {
			out = next
		}
	})
	return out
}

// rawView reads without deriving so derivers cannot recurse into themselves.
type rawView struct{ s *Space }

func (v rawView) Get(template *thing.Thing) (*thing.Thing, bool) { return v.s.get(template, nil) }

func (v rawView) Lookup(template *thing.Thing) (Record, bool) { return v.s.Lookup(template) }

// ClearOption configures Clear.
type ClearOption func(*clearOptions)

type clearOptions struct {
	persistent bool
}

// IncludePersistent also wipes the store scopes.
func IncludePersistent() ClearOption {
	return func(o *clearOptions) { o.persistent = true }
}

// Clear drops all in-memory records and claims.
func (s *Space) Clear(ctx context.Context, opts ...ClearOption) error {
	var o clearOptions
	for _, opt := range opts {
		opt(&o)
	}
	s.mu.Lock()
	s.slots.Clear()
	s.ret = newRetention()
	s.durable = make(idSet)
	metrics.SetGauge(metricRecords, 0)

	if !o.persistent || s.store == nil {
		s.mu.Unlock()
		return nil
	}
	// queued behind earlier writes so none of them lands after the wipe
	done := make(chan error, 1)
	s.flush(ctx, []op{{kind: opClearScopes, done: done}})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of stored records.
func (s *Space) Len() int {
	return s.slots.Size()
}

// Holders lists the holders and how many identities each claims.
func (s *Space) Holders() []HolderInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HolderInfo, 0, len(s.ret.holders))
	for name, e := range s.ret.holders {
		out = append(out, HolderInfo{Holder: Holder{Name: name, Kind: e.kind}, Claims: len(e.ids)})
	}
	slices.SortFunc(out, func(a, b HolderInfo) int {
		return cmp.Compare(a.Holder.Name, b.Holder.Name)
	})
	return out
}

// Claims returns the identities claimed by the named holder, sorted.
func (s *Space) Claims(name string) []thing.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.ret.holders[name]
	if !ok {
		return nil
	}
	return e.ids.sorted()
}

// Identities returns the identities with a stored record, sorted.
func (s *Space) Identities() []thing.Identity {
	ids := make([]thing.Identity, 0, s.slots.Size())
	s.slots.Range(func(id thing.Identity, sl *slot) bool {
		if sl.rec.Load() != nil {
			ids = append(ids, id)
		}
		return true
	})
	slices.Sort(ids)
	return ids
}

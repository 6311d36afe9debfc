package spec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/syncspace/internal/space"
	"github.com/roach88/syncspace/internal/thing"
)

// Mode declares whether an action handler may run more than once.
type Mode int

const (
	// Idempotent handlers produce the same effect however often they run.
	Idempotent Mode = iota
	// Guarded handlers run at most once per action key.
	Guarded
)

func (m Mode) String() string {
	if m == Guarded {
		return "guarded"
	}
	return "idempotent"
}

// Handler performs the local effect of one action.
type Handler func(ctx context.Context, a thing.Action, s Space) error

// FieldFunc computes one derived field from t and the space.
type FieldFunc func(t *thing.Thing, view space.View) (thing.Value, bool)

type rule struct {
	mode    Mode
	handler Handler
}

type derivedField struct {
	field string
	fn    FieldFunc
}

// DefaultGuardSize bounds how many guarded action keys Rules remembers.
const DefaultGuardSize = 4096

// Rules is a Spec assembled from registered handlers and field derivers.
//
// Thread-safety: registration and Apply/Derive may run concurrently.
type Rules struct {
	mu       sync.RWMutex
	handlers map[string]rule
	derivers map[string][]derivedField
	applied  *lru.Cache[string, struct{}]
	log      *slog.Logger
}

var _ Spec = (*Rules)(nil)

// RulesOption configures Rules.
type RulesOption func(*Rules)

// WithGuardSize sets how many guarded action keys are remembered.
func WithGuardSize(n int) RulesOption {
	return func(r *Rules) {
		if c, err := lru.New[string, struct{}](n); err == nil {
			r.applied = c
		}
	}
}

// WithRulesLogger sets the logger.
func WithRulesLogger(l *slog.Logger) RulesOption {
	return func(r *Rules) { r.log = l }
}

// NewRules creates an empty rule set.
func NewRules(opts ...RulesOption) *Rules {
	applied, _ := lru.New[string, struct{}](DefaultGuardSize)
	r := &Rules{
		handlers: make(map[string]rule),
		derivers: make(map[string][]derivedField),
		applied:  applied,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle registers the handler for an action name. It panics on an empty
// name or a duplicate registration.
func (r *Rules) Handle(name string, mode Mode, h Handler) {
	if name == "" || h == nil {
		panic("spec: Handle needs a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[name]; dup {
		panic(fmt.Sprintf("spec: duplicate handler for %q", name))
	}
	r.handlers[name] = rule{mode: mode, handler: h}
}

// DeriveField registers fn as the source of field on typeName.
func (r *Rules) DeriveField(typeName, field string, fn FieldFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.derivers[typeName] = append(r.derivers[typeName], derivedField{field: field, fn: fn})
}

// Actions returns the registered action names.
func (r *Rules) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	return names
}

// Apply runs the handler for a. Guarded handlers whose action key was
// already applied successfully are skipped.
func (r *Rules) Apply(ctx context.Context, a thing.Action, s Space) (err error) {
	r.mu.RLock()
	rl, ok := r.handlers[a.Name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, a.Name)
	}

	var key string
	if rl.mode == Guarded {
		if key, err = a.Key(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrApply, a.Name, err)
		}
		if seen, _ := r.applied.ContainsOrAdd(key, struct{}{}); seen {
			r.log.Debug("spec: skipping already applied action", "action", a.Name, "key", key)
			return nil
		}
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s: panic: %v", ErrApply, a.Name, p)
		}
		if err != nil && key != "" {
			r.applied.Remove(key)
		}
	}()
	if err := rl.handler(ctx, a, s); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrApply, a.Name, err)
	}
	return nil
}

// Derive computes the registered fields t lacks. It returns a Thing of t's
// type holding the identity and derived fields, or false when nothing was
// derived.
func (r *Rules) Derive(t *thing.Thing, view space.View) (*thing.Thing, bool) {
	r.mu.RLock()
	fields := r.derivers[t.TypeName()]
	r.mu.RUnlock()

	out := t.Template()
	derived := false
	for _, df := range fields {
		if t.Declared(df.field) {
			continue
		}
		v, ok := df.fn(t, view)
		if !ok {
			continue
		}
		next, err := out.With(df.field, v)
		if err != nil {
			r.log.Warn("spec: derived value rejected", "type", t.TypeName(), "field", df.field, "error", err)
			continue
		}
		out, derived = next, true
	}
	return out, derived
}

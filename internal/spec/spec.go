// Package spec binds action effects and derived fields to a schema, and
// defines the resolver policies that pick local or remote data.
package spec

import (
	"context"
	"errors"

	"github.com/roach88/syncspace/internal/space"
	"github.com/roach88/syncspace/internal/thing"
)

var (
	// ErrUnknownAction is returned by Apply for an action with no handler.
	ErrUnknownAction = errors.New("spec: unknown action")

	// ErrApply wraps a handler failure or panic.
	ErrApply = errors.New("spec: apply failed")
)

// Space is the part of the graph cache that rules touch.
type Space interface {
	space.View
	Imprint(ctx context.Context, t *thing.Thing) error
	Update(ctx context.Context, template *thing.Thing, fn func(cur *thing.Thing) (*thing.Thing, error)) error
}

// Spec is a stateless rule set. Apply performs the optimistic local effect
// of an action. Derive fills fields from Things already in the space and
// satisfies space.Deriver.
type Spec interface {
	Apply(ctx context.Context, a thing.Action, s Space) error
	Derive(t *thing.Thing, view space.View) (*thing.Thing, bool)
}

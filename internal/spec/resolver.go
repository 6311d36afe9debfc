package spec

import (
	"time"

	"github.com/roach88/syncspace/internal/thing"
)

// Local is what the space knows about a request.
type Local struct {
	Value   *thing.Thing // result of Space.Get, nil when not found
	Updated time.Time    // last imprint of the stored record, zero if derived only
	Found   bool
}

// Decision says how to satisfy a request. Local means an available local
// value is delivered; Fetch means the remote is asked as well.
type Decision struct {
	Local bool
	Fetch bool
}

// Resolver picks between local and remote data for a request.
type Resolver interface {
	Resolve(template *thing.Thing, local Local) Decision
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(template *thing.Thing, local Local) Decision

func (f ResolverFunc) Resolve(template *thing.Thing, local Local) Decision {
	return f(template, local)
}

// LocalOnly never contacts the remote.
type LocalOnly struct{}

func (LocalOnly) Resolve(_ *thing.Thing, local Local) Decision {
	return Decision{Local: local.Found}
}

// RemoteOnly ignores local data.
type RemoteOnly struct{}

func (RemoteOnly) Resolve(*thing.Thing, Local) Decision {
	return Decision{Fetch: true}
}

// LocalFirst delivers local data when present and fetches when it is absent
// or older than MaxAge. A zero MaxAge never considers data stale.
type LocalFirst struct {
	MaxAge time.Duration
	Now    func() time.Time
}

func (p LocalFirst) Resolve(_ *thing.Thing, local Local) Decision {
	if !local.Found {
		return Decision{Fetch: true}
	}
	return Decision{Local: true, Fetch: p.stale(local.Updated)}
}

func (p LocalFirst) stale(updated time.Time) bool {
	if p.MaxAge <= 0 {
		return false
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return now().Sub(updated) > p.MaxAge
}

// Complete delivers local data and fetches unless every field the template
// requests is already declared locally.
type Complete struct{}

func (Complete) Resolve(template *thing.Thing, local Local) Decision {
	if !local.Found || local.Value == nil {
		return Decision{Fetch: true}
	}
	for _, name := range template.Requested() {
		if !local.Value.Declared(name) {
			return Decision{Local: true, Fetch: true}
		}
	}
	return Decision{Local: true}
}

package space

import (
	"github.com/roach88/syncspace/internal/thing"
)

// unit is one canonical record produced by normalizing an imprint.
type unit struct {
	id    thing.Identity
	thing *thing.Thing
	edges idSet
}

// normalize splits t into one unit per identified Thing in the tree,
// parents before children. Nested identified Things are replaced by their
// identity stubs. Identity-less Things stay inline.
func normalize(t *thing.Thing) ([]unit, error) {
	id, err := t.Identity()
	if err != nil {
		return nil, err
	}
	n := &normalizer{}
	if err := n.add(id, t); err != nil {
		return nil, err
	}
	return n.units, nil
}

type normalizer struct {
	units []unit
}

func (n *normalizer) add(id thing.Identity, t *thing.Thing) error {
	idx := len(n.units)
	n.units = append(n.units, unit{id: id})
	edges := make(idSet)
	out, err := n.rebuild(t, edges)
	if err != nil {
		return err
	}
	n.units[idx].thing = out
	n.units[idx].edges = edges
	return nil
}

func (n *normalizer) rebuild(t *thing.Thing, edges idSet) (*thing.Thing, error) {
	fields := make([]thing.FieldValue, 0, t.Len())
	var err error
	t.Each(func(f *thing.Field, v thing.Value) {
		if err != nil {
			return
		}
		if t.Type().IsIdentityField(f.Name) {
			fields = append(fields, thing.F(f.Name, v))
			return
		}
		var nv thing.Value
		if nv, err = n.value(v, edges); err == nil {
			fields = append(fields, thing.F(f.Name, nv))
		}
	})
	if err != nil {
		return nil, err
	}
	return thing.New(t.Type(), fields...)
}

func (n *normalizer) value(v thing.Value, edges idSet) (thing.Value, error) {
	switch val := v.(type) {
	case *thing.Thing:
		if id, err := val.Identity(); err == nil {
			if err := n.add(id, val); err != nil {
				return nil, err
			}
			edges.add(id)
			return val.Template(), nil
		}
		return n.rebuild(val, edges)
	case thing.List:
		out := make(thing.List, len(val))
		for i, e := range val {
			nv, err := n.value(e, edges)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case thing.Map:
		out := make(thing.Map, len(val))
		for k, e := range val {
			nv, err := n.value(e, edges)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	default:
		return v, nil
	}
}

// edgesOf collects the identities referenced by a normalized record.
func edgesOf(t *thing.Thing) idSet {
	edges := make(idSet)
	collectEdges(t, edges)
	return edges
}

func collectEdges(t *thing.Thing, edges idSet) {
	t.Each(func(f *thing.Field, v thing.Value) {
		if !t.Type().IsIdentityField(f.Name) {
			collectValueEdges(v, edges)
		}
	})
}

func collectValueEdges(v thing.Value, edges idSet) {
	switch val := v.(type) {
	case *thing.Thing:
		if id, err := val.Identity(); err == nil {
			edges.add(id)
			return
		}
		collectEdges(val, edges)
	case thing.List:
		for _, e := range val {
			collectValueEdges(e, edges)
		}
	case thing.Map:
		for _, e := range val {
			collectValueEdges(e, edges)
		}
	}
}

// resolver replaces identity stubs with current canonical records.
type resolver struct {
	load     func(thing.Identity) *Record
	visiting idSet
}

func (r *resolver) thing(t *thing.Thing) *thing.Thing {
	fields := make([]thing.FieldValue, 0, t.Len())
	t.Each(func(f *thing.Field, v thing.Value) {
		if t.Type().IsIdentityField(f.Name) {
			fields = append(fields, thing.F(f.Name, v))
			return
		}
		fields = append(fields, thing.F(f.Name, r.value(v)))
	})
	out, err := thing.New(t.Type(), fields...)
	if err != nil {
		return t
	}
	return out
}

func (r *resolver) value(v thing.Value) thing.Value {
	switch val := v.(type) {
	case *thing.Thing:
		id, err := val.Identity()
		if err != nil {
			return r.thing(val)
		}
		if r.visiting.has(id) {
			return val
		}
		rec := r.load(id)
		if rec == nil {
			return val
		}
		r.visiting.add(id)
		defer delete(r.visiting, id)
		return r.thing(rec.Thing)
	case thing.List:
		out := make(thing.List, len(val))
		for i, e := range val {
			out[i] = r.value(e)
		}
		return out
	case thing.Map:
		out := make(thing.Map, len(val))
		for k, e := range val {
			out[k] = r.value(e)
		}
		return out
	default:
		return v
	}
}

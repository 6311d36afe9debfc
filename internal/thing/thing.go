package thing

import (
	"fmt"
	"slices"
	"strings"
)

// Thing is an immutable, typed set of declared fields.
//
// The zero value is not usable; construct Things with New or Must.
// Callers must never mutate a Thing in place. All "modifying" methods
// return a new Thing and leave the receiver untouched.
type Thing struct {
	typ    *Type
	fields map[string]Value
}

// FieldValue pairs a field name with a value for construction.
type FieldValue struct {
	Name  string
	Value Value
}

// F is a shorthand for FieldValue.
// Example: thing.New(itemType, thing.F("title", thing.String("A")))
func F(name string, v Value) FieldValue {
	return FieldValue{Name: name, Value: v}
}

// New builds a Thing of type t, validating every field against the schema.
func New(t *Type, fields ...FieldValue) (*Thing, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil type", ErrSchema)
	}
	th := &Thing{typ: t, fields: make(map[string]Value, len(fields))}
	for _, fv := range fields {
		if err := validateField(t, fv.Name, fv.Value); err != nil {
			return nil, err
		}
		th.fields[fv.Name] = fv.Value
	}
	return th, nil
}

// Must is New that panics on error. Intended for tests and static templates.
func Must(t *Type, fields ...FieldValue) *Thing {
	th, err := New(t, fields...)
	if err != nil {
		panic(err)
	}
	return th
}

func validateField(t *Type, name string, v Value) error {
	f, ok := t.Field(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUndeclaredField, t.Name, name)
	}
	return validateValue(t.Name, f, v)
}

func validateValue(typeName string, f *Field, v Value) error {
	if v == nil {
		return fmt.Errorf("%w: %s.%s: nil value (use Null)", ErrKindMismatch, typeName, f.Name)
	}
	k := KindOf(v)
	if k == KindNull {
		return nil
	}
	if k != f.Kind {
		return fmt.Errorf("%w: %s.%s: want %s, got %s", ErrKindMismatch, typeName, f.Name, f.Kind, k)
	}
	if k == KindThing {
		nested := v.(*Thing)
		if nested == nil || nested.typ == nil {
			return fmt.Errorf("%w: %s.%s: nil thing", ErrKindMismatch, typeName, f.Name)
		}
		if f.Of != "" && f.Of != nested.typ.Name && !slices.Contains(nested.typ.Implements, f.Of) {
			return fmt.Errorf("%w: %s.%s: %s is not a %s", ErrKindMismatch, typeName, f.Name, nested.typ.Name, f.Of)
		}
	}
	if err := validateNested(v); err != nil {
		return fmt.Errorf("%s.%s: %w", typeName, f.Name, err)
	}
	return nil
}

// validateNested rejects nil elements inside containers.
func validateNested(v Value) error {
	switch val := v.(type) {
	case List:
		for i, e := range val {
			if e == nil {
				return fmt.Errorf("%w: list[%d] is nil", ErrKindMismatch, i)
			}
			if err := validateNested(e); err != nil {
				return err
			}
		}
	case Map:
		for k, e := range val {
			if e == nil {
				return fmt.Errorf("%w: map[%q] is nil", ErrKindMismatch, k)
			}
			if err := validateNested(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Type returns the schema type.
func (t *Thing) Type() *Type {
	return t.typ
}

// TypeName returns the schema type name.
func (t *Thing) TypeName() string {
	return t.typ.Name
}

// Get returns a declared field value.
func (t *Thing) Get(name string) (Value, bool) {
	v, ok := t.fields[name]
	return v, ok
}

// Declared reports whether the field is declared (Null counts as declared).
func (t *Thing) Declared(name string) bool {
	_, ok := t.fields[name]
	return ok
}

// Len returns the number of declared fields.
func (t *Thing) Len() int {
	return len(t.fields)
}

// Names returns declared field names in schema order.
func (t *Thing) Names() []string {
	names := make([]string, 0, len(t.fields))
	for _, f := range t.typ.Fields {
		if _, ok := t.fields[f.Name]; ok {
			names = append(names, f.Name)
		}
	}
	return names
}

// Each calls fn for every declared field in schema order.
func (t *Thing) Each(fn func(f *Field, v Value)) {
	for i := range t.typ.Fields {
		f := &t.typ.Fields[i]
		if v, ok := t.fields[f.Name]; ok {
			fn(f, v)
		}
	}
}

// With returns a copy with one field set.
func (t *Thing) With(name string, v Value) (*Thing, error) {
	if err := validateField(t.typ, name, v); err != nil {
		return nil, err
	}
	out := t.clone(len(t.fields) + 1)
	out.fields[name] = v
	return out, nil
}

// MustWith is With that panics on error.
func (t *Thing) MustWith(name string, v Value) *Thing {
	out, err := t.With(name, v)
	if err != nil {
		panic(err)
	}
	return out
}

// Without returns a copy with the given fields undeclared.
func (t *Thing) Without(names ...string) *Thing {
	out := t.clone(len(t.fields))
	for _, n := range names {
		delete(out.fields, n)
	}
	return out
}

// Merge overlays the declared fields of other onto t. Fields declared in
// other win; fields only declared in t are kept. Both must be the same type.
func (t *Thing) Merge(other *Thing) (*Thing, error) {
	if other == nil {
		return t, nil
	}
	if t.typ.Name != other.typ.Name {
		return nil, fmt.Errorf("%w: merge %s into %s", ErrKindMismatch, other.typ.Name, t.typ.Name)
	}
	out := t.clone(len(t.fields) + len(other.fields))
	for k, v := range other.fields {
		out.fields[k] = v
	}
	return out, nil
}

// Project returns a copy keeping only the identity fields and the named fields.
func (t *Thing) Project(names ...string) *Thing {
	out := &Thing{typ: t.typ, fields: make(map[string]Value, len(names)+len(t.typ.Identity))}
	for _, id := range t.typ.Identity {
		if v, ok := t.fields[id]; ok {
			out.fields[id] = v
		}
	}
	for _, n := range names {
		if v, ok := t.fields[n]; ok {
			out.fields[n] = v
		}
	}
	return out
}

// Template returns a copy holding only the identity fields.
func (t *Thing) Template() *Thing {
	return t.Project()
}

// Requested returns the declared non-identity field names of a template.
// An empty result means the template asks for the whole record.
func (t *Thing) Requested() []string {
	var names []string
	for _, n := range t.Names() {
		if !t.typ.IsIdentityField(n) {
			names = append(names, n)
		}
	}
	return names
}

// Fields returns a copy of the declared fields.
func (t *Thing) Fields() Map {
	m := make(Map, len(t.fields))
	for k, v := range t.fields {
		m[k] = v
	}
	return m
}

func (t *Thing) clone(capacity int) *Thing {
	out := &Thing{typ: t.typ, fields: make(map[string]Value, capacity)}
	for k, v := range t.fields {
		out.fields[k] = v
	}
	return out
}

// String renders the thing for logs.
func (t *Thing) String() string {
	if t == nil {
		return "<nil>"
	}
	var sb strings.Builder
	sb.WriteString(t.typ.Name)
	sb.WriteByte('{')
	for i, n := range t.Names() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(n)
		sb.WriteString(": ")
		formatValue(&sb, t.fields[n])
	}
	sb.WriteByte('}')
	return sb.String()
}

// StateEqual reports whether a and b have the same type and the same
// declared fields with equal values.
func StateEqual(a, b *Thing) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.typ.Name != b.typ.Name || len(a.fields) != len(b.fields) {
		return false
	}
	for k, av := range a.fields {
		bv, ok := b.fields[k]
		if !ok || !Equal(av, bv) {
			return false
		}
	}
	return true
}

// IdentityEqual reports whether a and b share an identity. Identity-less
// things are never identity-equal.
func IdentityEqual(a, b *Thing) bool {
	if a == nil || b == nil {
		return false
	}
	ia, err := a.Identity()
	if err != nil {
		return false
	}
	ib, err := b.Identity()
	if err != nil {
		return false
	}
	return ia == ib
}

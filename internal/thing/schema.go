package thing

import (
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// Kind is the declared kind of a schema field.
type Kind int

const (
	KindInvalid Kind = iota
	KindNull
	KindString
	KindInt
	KindBool
	KindList
	KindMap
	KindThing
)

var kindNames = map[Kind]string{
	KindInvalid: "invalid",
	KindNull:    "null",
	KindString:  "string",
	KindInt:     "int",
	KindBool:    "bool",
	KindList:    "list",
	KindMap:     "map",
	KindThing:   "thing",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind resolves a kind name as written in schema files.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s && k != KindInvalid && k != KindNull {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown field kind %q", s)
}

// Field describes one field of a Type.
//
// Number is the stable wire tag used by the binary codec; it must never be
// reused for a different field once data has been written. Of names the
// Thing type (or interface) for KindThing fields and is informational for
// list and map fields.
type Field struct {
	Name      string
	Number    int32
	Kind      Kind
	Of        string
	Sensitive bool
}

// Type is the schema of one Thing type.
type Type struct {
	Name       string
	Identity   []string
	Fields     []Field
	Implements []string

	byName   map[string]*Field
	byNumber map[int32]*Field
}

// NewType validates and indexes a type definition.
func NewType(name string, identity []string, fields []Field, implements ...string) (*Type, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty type name", ErrSchema)
	}
	t := &Type{
		Name:       name,
		Identity:   slices.Clone(identity),
		Fields:     slices.Clone(fields),
		Implements: slices.Clone(implements),
		byName:     make(map[string]*Field, len(fields)),
		byNumber:   make(map[int32]*Field, len(fields)),
	}
	for i := range t.Fields {
		f := &t.Fields[i]
		if f.Name == "" || f.Name == TypeKey {
			return nil, fmt.Errorf("%w: type %s: invalid field name %q", ErrSchema, name, f.Name)
		}
		if f.Number <= 0 || f.Number >= 1<<29 {
			return nil, fmt.Errorf("%w: type %s: field %s: number %d out of range", ErrSchema, name, f.Name, f.Number)
		}
		if f.Kind <= KindNull || f.Kind > KindThing {
			return nil, fmt.Errorf("%w: type %s: field %s: invalid kind", ErrSchema, name, f.Name)
		}
		if _, dup := t.byName[f.Name]; dup {
			return nil, fmt.Errorf("%w: type %s: duplicate field %s", ErrSchema, name, f.Name)
		}
		if _, dup := t.byNumber[f.Number]; dup {
			return nil, fmt.Errorf("%w: type %s: duplicate field number %d", ErrSchema, name, f.Number)
		}
		t.byName[f.Name] = f
		t.byNumber[f.Number] = f
	}
	for _, id := range t.Identity {
		f, ok := t.byName[id]
		if !ok {
			return nil, fmt.Errorf("%w: type %s: identity field %s not declared", ErrSchema, name, id)
		}
		if f.Kind == KindList || f.Kind == KindMap {
			return nil, fmt.Errorf("%w: type %s: identity field %s must be scalar or thing", ErrSchema, name, id)
		}
	}
	return t, nil
}

// MustType is NewType that panics on error. Intended for static schemas.
func MustType(name string, identity []string, fields []Field, implements ...string) *Type {
	t, err := NewType(name, identity, fields, implements...)
	if err != nil {
		panic(err)
	}
	return t
}

// Field looks up a field definition by name.
func (t *Type) Field(name string) (*Field, bool) {
	f, ok := t.byName[name]
	return f, ok
}

// FieldByNumber looks up a field definition by wire number.
func (t *Type) FieldByNumber(n int32) (*Field, bool) {
	f, ok := t.byNumber[n]
	return f, ok
}

// Identifiable reports whether things of this type carry an identity.
func (t *Type) Identifiable() bool {
	return len(t.Identity) > 0
}

// IsIdentityField reports whether name is one of the identity fields.
func (t *Type) IsIdentityField(name string) bool {
	return slices.Contains(t.Identity, name)
}

// Registry resolves type and interface names.
//
// Thread-safety: safe for concurrent use. Registration normally happens
// once at startup, lookups happen on every decode.
type Registry struct {
	mu         sync.RWMutex
	types      map[string]*Type
	interfaces map[string][]string
}

// NewRegistry creates a registry holding the given types.
func NewRegistry(types ...*Type) (*Registry, error) {
	r := &Registry{
		types:      make(map[string]*Type),
		interfaces: make(map[string][]string),
	}
	for _, t := range types {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a type. Registering the same name twice is an error.
func (r *Registry) Register(t *Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.types[t.Name]; dup {
		return fmt.Errorf("%w: duplicate type %s", ErrSchema, t.Name)
	}
	r.types[t.Name] = t
	for _, iface := range t.Implements {
		r.interfaces[iface] = append(r.interfaces[iface], t.Name)
	}
	return nil
}

// Type returns the type with the given name.
func (r *Registry) Type(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Variants returns the names of the types implementing an interface,
// in registration order.
func (r *Registry) Variants(iface string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.interfaces[iface])
}

// Accepts reports whether a thing of type concrete may be stored in a field
// declared as Of. An empty Of accepts anything.
func (r *Registry) Accepts(of, concrete string) bool {
	if of == "" || of == concrete {
		return true
	}
	return slices.Contains(r.Variants(of), concrete)
}

// Names returns all registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// schemaFile mirrors the YAML schema layout.
type schemaFile struct {
	Types []struct {
		Name       string   `yaml:"name"`
		Identity   []string `yaml:"identity"`
		Implements []string `yaml:"implements"`
		Fields     []struct {
			Name      string `yaml:"name"`
			Number    int32  `yaml:"number"`
			Kind      string `yaml:"kind"`
			Of        string `yaml:"of"`
			Sensitive bool   `yaml:"sensitive"`
		} `yaml:"fields"`
	} `yaml:"types"`
}

// ParseSchema builds a registry from a YAML schema document.
//
// Example:
//
//	types:
//	  - name: Tag
//	    identity: [name]
//	    fields:
//	      - {name: name, number: 1, kind: string}
func ParseSchema(data []byte) (*Registry, error) {
	var sf schemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %w", ErrSchema, err)
	}
	r, _ := NewRegistry()
	for _, st := range sf.Types {
		fields := make([]Field, 0, len(st.Fields))
		for _, sfld := range st.Fields {
			k, err := ParseKind(sfld.Kind)
			if err != nil {
				return nil, fmt.Errorf("%w: type %s field %s: %w", ErrSchema, st.Name, sfld.Name, err)
			}
			fields = append(fields, Field{
				Name:      sfld.Name,
				Number:    sfld.Number,
				Kind:      k,
				Of:        sfld.Of,
				Sensitive: sfld.Sensitive,
			})
		}
		t, err := NewType(st.Name, st.Identity, fields, st.Implements...)
		if err != nil {
			return nil, err
		}
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadSchema reads a YAML schema file.
func LoadSchema(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	return ParseSchema(data)
}

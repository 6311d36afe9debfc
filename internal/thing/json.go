package thing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MarshalJSON renders a Thing as canonical JSON with a "_type" key.
func (t *Thing) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(t)
}

// DecodeJSON parses a JSON object into a Thing, directed by the registry.
//
// The type comes from the "_type" key, falling back to hint. Unknown keys
// are ignored so newer servers can add fields. Floats are rejected.
func DecodeJSON(reg *Registry, data []byte, hint string) (*Thing, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJSON, err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected object, got %T", ErrJSON, raw)
	}
	return FromJSONObject(reg, obj, hint)
}

// FromJSONObject converts an already-decoded JSON object (decoded with
// UseNumber) into a Thing.
func FromJSONObject(reg *Registry, obj map[string]any, hint string) (*Thing, error) {
	name := hint
	if tn, ok := obj[TypeKey]; ok {
		s, ok := tn.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string", ErrJSON, TypeKey)
		}
		name = s
	}
	typ, ok := reg.Type(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %q", ErrJSON, name)
	}
	if hint != "" && !reg.Accepts(hint, name) {
		return nil, fmt.Errorf("%w: %s is not a %s", ErrJSON, name, hint)
	}

	fields := make([]FieldValue, 0, len(obj))
	for key, raw := range obj {
		if key == TypeKey {
			continue
		}
		f, ok := typ.Field(key)
		if !ok {
			continue
		}
		v, err := fromJSONField(reg, f, raw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, key, err)
		}
		fields = append(fields, F(key, v))
	}
	return New(typ, fields...)
}

func fromJSONField(reg *Registry, f *Field, raw any) (Value, error) {
	if raw == nil {
		return Null{}, nil
	}
	switch f.Kind {
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: want string, got %T", ErrJSON, raw)
		}
		return String(s), nil
	case KindInt:
		return jsonInt(raw)
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: want bool, got %T", ErrJSON, raw)
		}
		return Bool(b), nil
	case KindThing:
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: want object, got %T", ErrJSON, raw)
		}
		return FromJSONObject(reg, m, f.Of)
	case KindList:
		arr, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: want array, got %T", ErrJSON, raw)
		}
		return fromJSONList(reg, arr, f.Of)
	case KindMap:
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: want object, got %T", ErrJSON, raw)
		}
		return fromJSONMap(reg, m, f.Of)
	default:
		return nil, fmt.Errorf("%w: unsupported field kind %s", ErrJSON, f.Kind)
	}
}

// fromJSONLoose converts container elements. Objects become Things when
// they carry "_type" or when of names a registered type; otherwise Maps.
func fromJSONLoose(reg *Registry, raw any, of string) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Null{}, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case json.Number:
		return jsonInt(val)
	case []any:
		return fromJSONList(reg, val, of)
	case map[string]any:
		if _, typed := val[TypeKey]; typed {
			return FromJSONObject(reg, val, of)
		}
		if _, known := reg.Type(of); known {
			return FromJSONObject(reg, val, of)
		}
		return fromJSONMap(reg, val, of)
	default:
		return nil, fmt.Errorf("%w: unsupported JSON value %T", ErrJSON, raw)
	}
}

func fromJSONList(reg *Registry, arr []any, of string) (List, error) {
	out := make(List, len(arr))
	for i, e := range arr {
		v, err := fromJSONLoose(reg, e, of)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func fromJSONMap(reg *Registry, m map[string]any, of string) (Map, error) {
	out := make(Map, len(m))
	for k, e := range m {
		v, err := fromJSONLoose(reg, e, of)
		if err != nil {
			return nil, fmt.Errorf("[%q]: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func jsonInt(raw any) (Int, error) {
	n, ok := raw.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: want integer, got %T", ErrJSON, raw)
	}
	s := string(n)
	if strings.ContainsAny(s, ".eE") {
		return 0, fmt.Errorf("%w: floats are forbidden: %s", ErrJSON, s)
	}
	i, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: integer out of range: %s", ErrJSON, s)
	}
	return Int(i), nil
}

// FromJSONValue converts a decoded JSON value (decoded with UseNumber) of
// unknown shape. Objects carrying "_type" become Things, other objects Maps.
func FromJSONValue(reg *Registry, raw any) (Value, error) {
	return fromJSONLoose(reg, raw, "")
}

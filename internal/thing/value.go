package thing

import (
	"fmt"
	"slices"
	"strings"
)

// Value is a sealed interface representing the constrained field values.
// Only Null, String, Int, Bool, List, Map and *Thing implement it.
type Value interface {
	thingValue()
}

// Null is an explicitly declared empty value.
type Null struct{}

func (Null) thingValue() {}

// String is a string value.
type String string

func (String) thingValue() {}

// Int is an integer value. Always int64.
type Int int64

func (Int) thingValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) thingValue() {}

// List is an ordered sequence of values.
type List []Value

func (List) thingValue() {}

// Map is a string-keyed mapping of values.
// Use SortedKeys() for deterministic iteration.
type Map map[string]Value

func (Map) thingValue() {}

func (*Thing) thingValue() {}

// SortedKeys returns the map keys in RFC 8785 order (UTF-16 code units).
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// Kind names the variant of a Value, matching the schema field kinds.
func KindOf(v Value) Kind {
	switch v.(type) {
	case Null:
		return KindNull
	case String:
		return KindString
	case Int:
		return KindInt
	case Bool:
		return KindBool
	case List:
		return KindList
	case Map:
		return KindMap
	case *Thing:
		return KindThing
	default:
		return KindInvalid
	}
}

// Equal compares two values deeply. Nested Things are compared by state.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		bv, ok := b.(Map)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !Equal(x, y) {
				return false
			}
		}
		return true
	case *Thing:
		bv, ok := b.(*Thing)
		return ok && StateEqual(av, bv)
	default:
		return false
	}
}

// Format renders a value for logs and CLI output. It is not canonical.
func Format(v Value) string {
	var sb strings.Builder
	formatValue(&sb, v)
	return sb.String()
}

func formatValue(sb *strings.Builder, v Value) {
	switch val := v.(type) {
	case Null:
		sb.WriteString("null")
	case String:
		fmt.Fprintf(sb, "%q", string(val))
	case Int:
		fmt.Fprintf(sb, "%d", int64(val))
	case Bool:
		fmt.Fprintf(sb, "%t", bool(val))
	case List:
		sb.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatValue(sb, e)
		}
		sb.WriteByte(']')
	case Map:
		sb.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "%q: ", k)
			formatValue(sb, val[k])
		}
		sb.WriteByte('}')
	case *Thing:
		sb.WriteString(val.String())
	default:
		fmt.Fprintf(sb, "<%T>", v)
	}
}

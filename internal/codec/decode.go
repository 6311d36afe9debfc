package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/roach88/syncspace/internal/crypt"
	"github.com/roach88/syncspace/internal/thing"
)

// errUnknownType marks a nested envelope whose type this schema does not
// know. Callers skip the enclosing field or element instead of failing.
var errUnknownType = errors.New("unknown type")

// Decode parses raw envelope bytes.
func (c *Codec) Decode(data []byte) (*thing.Thing, error) {
	t, err := c.decodeThing(data, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return t, nil
}

// envelope holds the raw sections of an encoded Thing.
type envelope struct {
	typeName  string
	body      []byte
	nulls     []int32
	encrypted bool
}

func parseEnvelope(data []byte) (envelope, error) {
	var env envelope
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return env, protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == tagType && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return env, protowire.ParseError(n)
			}
			env.typeName = s
			data = data[n:]
		case num == tagBody && typ == protowire.BytesType:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return env, protowire.ParseError(n)
			}
			env.body = b
			data = data[n:]
		case num == tagNulls && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return env, protowire.ParseError(n)
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return env, protowire.ParseError(m)
				}
				env.nulls = append(env.nulls, int32(v))
				packed = packed[m:]
			}
			data = data[n:]
		case num == tagEncrypted && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return env, protowire.ParseError(n)
			}
			env.encrypted = v != 0
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return env, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	if env.typeName == "" {
		return env, fmt.Errorf("missing type name")
	}
	return env, nil
}

// decodeThing decodes an envelope. of restricts the accepted concrete types
// (a type or interface name); empty accepts anything registered.
func (c *Codec) decodeThing(data []byte, of string) (*thing.Thing, error) {
	env, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}
	typ, ok := c.reg.Type(env.typeName)
	if !ok || !c.reg.Accepts(of, env.typeName) {
		return nil, fmt.Errorf("%w: %q", errUnknownType, env.typeName)
	}

	fields := make([]thing.FieldValue, 0, len(typ.Fields))
	body := env.body
	for len(body) > 0 {
		num, wt, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		body = body[n:]
		vlen := protowire.ConsumeFieldValue(num, wt, body)
		if vlen < 0 {
			return nil, protowire.ParseError(vlen)
		}
		raw := body[:vlen]
		body = body[vlen:]

		f, ok := typ.FieldByNumber(int32(num))
		if !ok {
			c.log.Debug("codec: skipping unknown field", "type", typ.Name, "number", num)
			continue
		}
		v, ok, err := c.decodeField(f, wt, raw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", typ.Name, f.Name, err)
		}
		if !ok {
			continue
		}
		if f.Sensitive && env.encrypted {
			v, ok = c.decryptField(typ, f, v)
			if !ok {
				continue
			}
		}
		fields = append(fields, thing.F(f.Name, v))
	}
	for _, num := range env.nulls {
		if f, ok := typ.FieldByNumber(num); ok {
			fields = append(fields, thing.F(f.Name, thing.Null{}))
		}
	}

	t, err := thing.New(typ, fields...)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// decryptField returns the plaintext or reports the field unreadable.
// An unreadable field is dropped, the rest of the record survives.
func (c *Codec) decryptField(typ *thing.Type, f *thing.Field, v thing.Value) (thing.Value, bool) {
	if c.enc == nil {
		c.log.Warn("codec: encrypted field without encrypter, treating as absent", "type", typ.Name, "field", f.Name)
		return nil, false
	}
	out, err := crypt.DecryptValue(c.enc, v)
	if err != nil {
		c.log.Warn("codec: cannot decrypt field, treating as absent", "type", typ.Name, "field", f.Name, "error", err)
		return nil, false
	}
	return out, true
}

// decodeField decodes one body field. ok is false when the field must be
// skipped (wire type from a different schema, or unknown nested variant).
func (c *Codec) decodeField(f *thing.Field, wt protowire.Type, raw []byte) (thing.Value, bool, error) {
	switch f.Kind {
	case thing.KindString:
		if wt != protowire.BytesType {
			return nil, false, nil
		}
		s, n := protowire.ConsumeString(raw)
		if n < 0 {
			return nil, false, protowire.ParseError(n)
		}
		return thing.String(s), true, nil
	case thing.KindInt:
		if wt != protowire.VarintType {
			return nil, false, nil
		}
		v, n := protowire.ConsumeVarint(raw)
		if n < 0 {
			return nil, false, protowire.ParseError(n)
		}
		return thing.Int(protowire.DecodeZigZag(v)), true, nil
	case thing.KindBool:
		if wt != protowire.VarintType {
			return nil, false, nil
		}
		v, n := protowire.ConsumeVarint(raw)
		if n < 0 {
			return nil, false, protowire.ParseError(n)
		}
		return thing.Bool(protowire.DecodeBool(v)), true, nil
	}

	if wt != protowire.BytesType {
		return nil, false, nil
	}
	payload, n := protowire.ConsumeBytes(raw)
	if n < 0 {
		return nil, false, protowire.ParseError(n)
	}
	switch f.Kind {
	case thing.KindThing:
		t, err := c.decodeThing(payload, f.Of)
		if errors.Is(err, errUnknownType) {
			c.log.Debug("codec: skipping unknown variant", "field", f.Name, "error", err)
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return t, true, nil
	case thing.KindList:
		l, err := c.decodeList(payload)
		return l, err == nil, err
	case thing.KindMap:
		m, err := c.decodeMap(payload)
		return m, err == nil, err
	default:
		return nil, false, nil
	}
}

func (c *Codec) decodeList(data []byte) (thing.List, error) {
	list := thing.List{}
	for len(data) > 0 {
		num, wt, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		if num != tagElem || wt != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, wt, data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			data = data[m:]
			continue
		}
		msg, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return nil, protowire.ParseError(m)
		}
		data = data[m:]
		v, ok, err := c.decodeValue(msg)
		if err != nil {
			return nil, err
		}
		if ok {
			list = append(list, v)
		}
	}
	return list, nil
}

func (c *Codec) decodeMap(data []byte) (thing.Map, error) {
	out := thing.Map{}
	for len(data) > 0 {
		num, wt, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		if num != tagElem || wt != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, wt, data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			data = data[m:]
			continue
		}
		entry, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return nil, protowire.ParseError(m)
		}
		data = data[m:]

		var (
			key    string
			msg    []byte
			hasKey bool
		)
		for len(entry) > 0 {
			en, et, k := protowire.ConsumeTag(entry)
			if k < 0 {
				return nil, protowire.ParseError(k)
			}
			entry = entry[k:]
			switch {
			case en == tagEntryKey && et == protowire.BytesType:
				s, k := protowire.ConsumeString(entry)
				if k < 0 {
					return nil, protowire.ParseError(k)
				}
				key, hasKey = s, true
				entry = entry[k:]
			case en == tagEntryVal && et == protowire.BytesType:
				b, k := protowire.ConsumeBytes(entry)
				if k < 0 {
					return nil, protowire.ParseError(k)
				}
				msg = b
				entry = entry[k:]
			default:
				k := protowire.ConsumeFieldValue(en, et, entry)
				if k < 0 {
					return nil, protowire.ParseError(k)
				}
				entry = entry[k:]
			}
		}
		if !hasKey {
			continue
		}
		v, ok, err := c.decodeValue(msg)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = v
		}
	}
	return out, nil
}

// decodeValue reads a self-describing value message. ok is false when the
// message carries no kind this version understands.
func (c *Codec) decodeValue(data []byte) (thing.Value, bool, error) {
	var (
		out thing.Value
		ok  bool
	)
	for len(data) > 0 {
		num, wt, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, false, protowire.ParseError(n)
		}
		data = data[n:]
		vlen := protowire.ConsumeFieldValue(num, wt, data)
		if vlen < 0 {
			return nil, false, protowire.ParseError(vlen)
		}
		raw := data[:vlen]
		data = data[vlen:]

		switch {
		case num == valNull && wt == protowire.VarintType:
			out, ok = thing.Null{}, true
		case num == valString && wt == protowire.BytesType:
			s, _ := protowire.ConsumeString(raw)
			out, ok = thing.String(s), true
		case num == valInt && wt == protowire.VarintType:
			v, _ := protowire.ConsumeVarint(raw)
			out, ok = thing.Int(protowire.DecodeZigZag(v)), true
		case num == valBool && wt == protowire.VarintType:
			v, _ := protowire.ConsumeVarint(raw)
			out, ok = thing.Bool(protowire.DecodeBool(v)), true
		case num == valList && wt == protowire.BytesType:
			b, _ := protowire.ConsumeBytes(raw)
			l, err := c.decodeList(b)
			if err != nil {
				return nil, false, err
			}
			out, ok = l, true
		case num == valMap && wt == protowire.BytesType:
			b, _ := protowire.ConsumeBytes(raw)
			m, err := c.decodeMap(b)
			if err != nil {
				return nil, false, err
			}
			out, ok = m, true
		case num == valThing && wt == protowire.BytesType:
			b, _ := protowire.ConsumeBytes(raw)
			t, err := c.decodeThing(b, "")
			if errors.Is(err, errUnknownType) {
				continue
			}
			if err != nil {
				return nil, false, err
			}
			out, ok = t, true
		}
	}
	return out, ok, nil
}

package codec

import (
	"fmt"
	"log/slog"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/roach88/syncspace/internal/crypt"
	"github.com/roach88/syncspace/internal/thing"
)

// Envelope tags.
const (
	tagType      protowire.Number = 1
	tagBody      protowire.Number = 2
	tagNulls     protowire.Number = 3
	tagEncrypted protowire.Number = 4
)

// Value message tags.
const (
	valNull   protowire.Number = 1
	valString protowire.Number = 2
	valInt    protowire.Number = 3
	valBool   protowire.Number = 4
	valList   protowire.Number = 5
	valMap    protowire.Number = 6
	valThing  protowire.Number = 7
)

// Container tags.
const (
	tagElem     protowire.Number = 1
	tagEntryKey protowire.Number = 1
	tagEntryVal protowire.Number = 2
)

// Codec encodes and decodes Things against a schema registry.
//
// Thread-safety: a Codec is immutable after construction and safe for
// concurrent use.
type Codec struct {
	reg      *thing.Registry
	enc      crypt.Encrypter
	pipeline *Pipeline
	log      *slog.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithEncrypter encrypts sensitive string fields on write and decrypts them
// on read.
func WithEncrypter(e crypt.Encrypter) Option {
	return func(c *Codec) { c.enc = e }
}

// WithPipeline wraps encoded bytes in the given layers for Marshal/Unmarshal.
func WithPipeline(p *Pipeline) Option {
	return func(c *Codec) { c.pipeline = p }
}

// WithLogger sets the logger used for skipped-field diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Codec) { c.log = l }
}

// New creates a codec for the registry.
func New(reg *thing.Registry, opts ...Option) *Codec {
	c := &Codec{reg: reg, pipeline: NewPipeline(), log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the schema registry.
func (c *Codec) Registry() *thing.Registry {
	return c.reg
}

// Marshal encodes t and wraps it in the pipeline.
func (c *Codec) Marshal(t *thing.Thing) ([]byte, error) {
	raw, err := c.Encode(t)
	if err != nil {
		return nil, err
	}
	return c.pipeline.Wrap(raw)
}

// Unmarshal unwraps the pipeline and decodes.
func (c *Codec) Unmarshal(blob []byte) (*thing.Thing, error) {
	raw, err := c.pipeline.Unwrap(blob)
	if err != nil {
		return nil, err
	}
	return c.Decode(raw)
}

// Encode produces the raw envelope bytes for t.
func (c *Codec) Encode(t *thing.Thing) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil thing", ErrEncode)
	}
	return c.appendThing(nil, t)
}

func (c *Codec) appendThing(b []byte, t *thing.Thing) ([]byte, error) {
	var (
		body      []byte
		nulls     []byte
		encrypted bool
		err       error
	)
	t.Each(func(f *thing.Field, v thing.Value) {
		if err != nil {
			return
		}
		if _, isNull := v.(thing.Null); isNull {
			nulls = protowire.AppendVarint(nulls, uint64(f.Number))
			return
		}
		if f.Sensitive && c.enc != nil {
			v, err = crypt.EncryptValue(c.enc, v)
			if err != nil {
				err = fmt.Errorf("%w: %s.%s: %w", ErrEncode, t.TypeName(), f.Name, err)
				return
			}
			encrypted = true
		}
		body, err = c.appendField(body, f, v)
		if err != nil {
			err = fmt.Errorf("%s.%s: %w", t.TypeName(), f.Name, err)
		}
	})
	if err != nil {
		return nil, err
	}

	b = protowire.AppendTag(b, tagType, protowire.BytesType)
	b = protowire.AppendString(b, t.TypeName())
	b = protowire.AppendTag(b, tagBody, protowire.BytesType)
	b = protowire.AppendBytes(b, body)
	if len(nulls) > 0 {
		b = protowire.AppendTag(b, tagNulls, protowire.BytesType)
		b = protowire.AppendBytes(b, nulls)
	}
	if encrypted {
		b = protowire.AppendTag(b, tagEncrypted, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b, nil
}

func (c *Codec) appendField(b []byte, f *thing.Field, v thing.Value) ([]byte, error) {
	num := protowire.Number(f.Number)
	switch val := v.(type) {
	case thing.String:
		b = protowire.AppendTag(b, num, protowire.BytesType)
		return protowire.AppendString(b, string(val)), nil
	case thing.Int:
		b = protowire.AppendTag(b, num, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(val))), nil
	case thing.Bool:
		b = protowire.AppendTag(b, num, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeBool(bool(val))), nil
	case *thing.Thing:
		nested, err := c.appendThing(nil, val)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		return protowire.AppendBytes(b, nested), nil
	case thing.List:
		list, err := c.appendList(nil, val)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		return protowire.AppendBytes(b, list), nil
	case thing.Map:
		m, err := c.appendMap(nil, val)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		return protowire.AppendBytes(b, m), nil
	default:
		return nil, fmt.Errorf("%w: unsupported value %T", ErrEncode, v)
	}
}

func (c *Codec) appendList(b []byte, list thing.List) ([]byte, error) {
	for i, e := range list {
		msg, err := c.appendValue(nil, e)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		b = protowire.AppendTag(b, tagElem, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}
	return b, nil
}

func (c *Codec) appendMap(b []byte, m thing.Map) ([]byte, error) {
	for _, k := range m.SortedKeys() {
		msg, err := c.appendValue(nil, m[k])
		if err != nil {
			return nil, fmt.Errorf("[%q]: %w", k, err)
		}
		var entry []byte
		entry = protowire.AppendTag(entry, tagEntryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, tagEntryVal, protowire.BytesType)
		entry = protowire.AppendBytes(entry, msg)

		b = protowire.AppendTag(b, tagElem, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b, nil
}

// appendValue writes a self-describing value message.
func (c *Codec) appendValue(b []byte, v thing.Value) ([]byte, error) {
	switch val := v.(type) {
	case thing.Null:
		b = protowire.AppendTag(b, valNull, protowire.VarintType)
		return protowire.AppendVarint(b, 0), nil
	case thing.String:
		b = protowire.AppendTag(b, valString, protowire.BytesType)
		return protowire.AppendString(b, string(val)), nil
	case thing.Int:
		b = protowire.AppendTag(b, valInt, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(val))), nil
	case thing.Bool:
		b = protowire.AppendTag(b, valBool, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeBool(bool(val))), nil
	case thing.List:
		list, err := c.appendList(nil, val)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, valList, protowire.BytesType)
		return protowire.AppendBytes(b, list), nil
	case thing.Map:
		m, err := c.appendMap(nil, val)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, valMap, protowire.BytesType)
		return protowire.AppendBytes(b, m), nil
	case *thing.Thing:
		nested, err := c.appendThing(nil, val)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, valThing, protowire.BytesType)
		return protowire.AppendBytes(b, nested), nil
	default:
		return nil, fmt.Errorf("%w: unsupported value %T", ErrEncode, v)
	}
}

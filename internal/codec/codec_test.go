package codec

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncspace/internal/crypt"
	"github.com/roach88/syncspace/internal/thing"
)

var (
	testTag = thing.MustType("Tag", []string{"name"}, []thing.Field{
		{Name: "name", Number: 1, Kind: thing.KindString},
	})
	testImage = thing.MustType("Image", []string{"src"}, []thing.Field{
		{Name: "src", Number: 1, Kind: thing.KindString},
		{Name: "width", Number: 2, Kind: thing.KindInt},
	}, "Media")
	testVideo = thing.MustType("Video", nil, []thing.Field{
		{Name: "src", Number: 1, Kind: thing.KindString},
		{Name: "length", Number: 2, Kind: thing.KindInt},
	}, "Media")
	testItemFields = []thing.Field{
		{Name: "given_url", Number: 1, Kind: thing.KindString},
		{Name: "title", Number: 2, Kind: thing.KindString},
		{Name: "favorite", Number: 3, Kind: thing.KindBool},
		{Name: "word_count", Number: 4, Kind: thing.KindInt},
		{Name: "tags", Number: 5, Kind: thing.KindList, Of: "Tag"},
		{Name: "meta", Number: 6, Kind: thing.KindMap},
		{Name: "top_image", Number: 7, Kind: thing.KindThing, Of: "Media"},
		{Name: "note", Number: 8, Kind: thing.KindString, Sensitive: true},
	}
	testItem = thing.MustType("Item", []string{"given_url"}, testItemFields)
)

var thingComparer = cmp.Comparer(thing.StateEqual)

func registry(t *testing.T, types ...*thing.Type) *thing.Registry {
	t.Helper()
	reg, err := thing.NewRegistry(types...)
	require.NoError(t, err)
	return reg
}

func defaultRegistry(t *testing.T) *thing.Registry {
	return registry(t, testTag, testImage, testVideo, testItem)
}

func sampleItem() *thing.Thing {
	return thing.Must(testItem,
		thing.F("given_url", thing.String("http://example.com/a")),
		thing.F("title", thing.String("Hello")),
		thing.F("favorite", thing.Bool(true)),
		thing.F("word_count", thing.Int(-42)),
		thing.F("tags", thing.List{
			thing.Must(testTag, thing.F("name", thing.String("go"))),
			thing.Must(testTag, thing.F("name", thing.String("sync"))),
		}),
		thing.F("meta", thing.Map{
			"lang":  thing.String("en"),
			"score": thing.Int(7),
			"gone":  thing.Null{},
			"deep":  thing.List{thing.Bool(false), thing.Map{"k": thing.String("v")}},
		}),
		thing.F("top_image", thing.Must(testImage,
			thing.F("src", thing.String("http://img")),
			thing.F("width", thing.Int(640)),
		)),
	)
}

func TestRoundTrip(t *testing.T) {
	c := New(defaultRegistry(t))

	tests := []struct {
		name string
		in   *thing.Thing
	}{
		{"full item", sampleItem()},
		{"identity only", thing.Must(testItem, thing.F("given_url", thing.String("u")))},
		{"declared null", thing.Must(testItem,
			thing.F("given_url", thing.String("u")),
			thing.F("title", thing.Null{}),
		)},
		{"empty list", thing.Must(testItem,
			thing.F("given_url", thing.String("u")),
			thing.F("tags", thing.List{}),
		)},
		{"identity-less variant", thing.Must(testItem,
			thing.F("given_url", thing.String("u")),
			thing.F("top_image", thing.Must(testVideo, thing.F("length", thing.Int(90)))),
		)},
		{"identity-less top level", thing.Must(testVideo, thing.F("src", thing.String("v")))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := c.Marshal(tt.in)
			require.NoError(t, err)
			out, err := c.Unmarshal(b)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.in, out, thingComparer); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_NullStaysDeclared(t *testing.T) {
	c := New(defaultRegistry(t))
	in := thing.Must(testItem, thing.F("given_url", thing.String("u")), thing.F("title", thing.Null{}))

	b, err := c.Encode(in)
	require.NoError(t, err)
	out, err := c.Decode(b)
	require.NoError(t, err)

	assert.True(t, out.Declared("title"))
	assert.False(t, out.Declared("favorite"))
	v, _ := out.Get("title")
	assert.Equal(t, thing.Null{}, v)
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	newer := thing.MustType("Item", []string{"given_url"}, append(append([]thing.Field{}, testItemFields...),
		thing.Field{Name: "reading_time", Number: 20, Kind: thing.KindInt},
		thing.Field{Name: "labels", Number: 21, Kind: thing.KindList},
	))
	writer := New(registry(t, testTag, testImage, testVideo, newer))
	reader := New(defaultRegistry(t))

	in := thing.Must(newer,
		thing.F("given_url", thing.String("u")),
		thing.F("title", thing.String("T")),
		thing.F("reading_time", thing.Int(5)),
		thing.F("labels", thing.List{thing.String("x")}),
	)
	b, err := writer.Encode(in)
	require.NoError(t, err)

	out, err := reader.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"given_url", "title"}, out.Names())
}

func TestDecode_SkipsUnknownVariant(t *testing.T) {
	audio := thing.MustType("Audio", []string{"src"}, []thing.Field{
		{Name: "src", Number: 1, Kind: thing.KindString},
	}, "Media")
	writer := New(registry(t, testTag, testImage, testVideo, audio, testItem))
	reader := New(defaultRegistry(t))

	in := thing.Must(testItem,
		thing.F("given_url", thing.String("u")),
		thing.F("top_image", thing.Must(audio, thing.F("src", thing.String("a")))),
		thing.F("meta", thing.Map{"clip": thing.Must(audio, thing.F("src", thing.String("b")))}),
	)
	b, err := writer.Encode(in)
	require.NoError(t, err)

	out, err := reader.Decode(b)
	require.NoError(t, err)
	assert.False(t, out.Declared("top_image"))
	meta, ok := out.Get("meta")
	require.True(t, ok)
	assert.Empty(t, meta, "unknown variant element dropped")
}

func TestDecode_SkipsMismatchedWireType(t *testing.T) {
	changed := thing.MustType("Item", []string{"given_url"}, []thing.Field{
		{Name: "given_url", Number: 1, Kind: thing.KindString},
		{Name: "word_count", Number: 4, Kind: thing.KindString},
	})
	writer := New(registry(t, changed))
	reader := New(defaultRegistry(t))

	b, err := writer.Encode(thing.Must(changed,
		thing.F("given_url", thing.String("u")),
		thing.F("word_count", thing.String("many")),
	))
	require.NoError(t, err)

	out, err := reader.Decode(b)
	require.NoError(t, err)
	assert.False(t, out.Declared("word_count"))
}

func TestDecode_Errors(t *testing.T) {
	c := New(defaultRegistry(t))

	other := New(registry(t, thing.MustType("Ghost", []string{"id"}, []thing.Field{
		{Name: "id", Number: 1, Kind: thing.KindString},
	})))
	ghost, err := other.Encode(thing.Must(mustType(t, other, "Ghost"), thing.F("id", thing.String("g"))))
	require.NoError(t, err)

	_, err = c.Decode(ghost)
	assert.ErrorIs(t, err, ErrDecode, "unknown top-level type")

	good, err := c.Encode(sampleItem())
	require.NoError(t, err)
	_, err = c.Decode(good[:len(good)-3])
	assert.ErrorIs(t, err, ErrDecode, "truncated")

	_, err = c.Decode(nil)
	assert.ErrorIs(t, err, ErrDecode, "empty")
}

func mustType(t *testing.T, c *Codec, name string) *thing.Type {
	t.Helper()
	typ, ok := c.Registry().Type(name)
	require.True(t, ok)
	return typ
}

func TestEncode_ZigZagIsCompact(t *testing.T) {
	c := New(defaultRegistry(t))
	base := thing.Must(testItem, thing.F("given_url", thing.String("u")))

	plain, err := c.Encode(base)
	require.NoError(t, err)
	withNeg, err := c.Encode(base.MustWith("word_count", thing.Int(-1)))
	require.NoError(t, err)

	assert.Equal(t, len(plain)+2, len(withNeg), "-1 costs one tag byte and one value byte")
}

func TestSensitiveFields(t *testing.T) {
	reg := defaultRegistry(t)
	in := thing.Must(testItem,
		thing.F("given_url", thing.String("u")),
		thing.F("title", thing.String("T")),
		thing.F("note", thing.String("secret words")),
	)

	writer := New(reg, WithEncrypter(crypt.Reversible{}))
	b, err := writer.Encode(in)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(b, []byte("secret words")), "plaintext must not reach the blob")

	t.Run("same encrypter reads it back", func(t *testing.T) {
		out, err := writer.Decode(b)
		require.NoError(t, err)
		assert.True(t, thing.StateEqual(in, out))
	})

	t.Run("unavailable key leaves field absent", func(t *testing.T) {
		reader := New(reg, WithEncrypter(crypt.NewAEAD(crypt.UnavailableKeyStore{})))
		out, err := reader.Decode(b)
		require.NoError(t, err)
		assert.False(t, out.Declared("note"))
		title, _ := out.Get("title")
		assert.Equal(t, thing.String("T"), title)
	})

	t.Run("no encrypter leaves field absent", func(t *testing.T) {
		out, err := New(reg).Decode(b)
		require.NoError(t, err)
		assert.False(t, out.Declared("note"))
	})

	t.Run("null is not encrypted", func(t *testing.T) {
		nulled := in.MustWith("note", thing.Null{})
		b, err := writer.Encode(nulled)
		require.NoError(t, err)
		out, err := New(reg).Decode(b)
		require.NoError(t, err)
		v, ok := out.Get("note")
		require.True(t, ok)
		assert.Equal(t, thing.Null{}, v)
	})
}

type recordingLayer struct {
	name string
	log  *[]string
}

func (r recordingLayer) Name() string { return r.name }

func (r recordingLayer) Wrap(b []byte) ([]byte, error) {
	*r.log = append(*r.log, "wrap:"+r.name)
	return append([]byte(r.name), b...), nil
}

func (r recordingLayer) Unwrap(b []byte) ([]byte, error) {
	*r.log = append(*r.log, "unwrap:"+r.name)
	return bytes.TrimPrefix(b, []byte(r.name)), nil
}

func TestPipeline_MirrorsOrder(t *testing.T) {
	var log []string
	p := NewPipeline(recordingLayer{"a", &log}, recordingLayer{"b", &log})

	wrapped, err := p.Wrap([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "bax", string(wrapped))

	out, err := p.Unwrap(wrapped)
	require.NoError(t, err)
	assert.Equal(t, "x", string(out))
	assert.Equal(t, []string{"wrap:a", "wrap:b", "unwrap:b", "unwrap:a"}, log)
	assert.Equal(t, []string{"a", "b"}, p.Layers())
}

func TestPipeline_FullStack(t *testing.T) {
	z, err := NewZstd()
	require.NoError(t, err)
	aead := crypt.NewAEAD(crypt.StaticKeyStore(bytes.Repeat([]byte{7}, 32)))
	c := New(defaultRegistry(t), WithPipeline(NewPipeline(Checksum{}, z, Seal{S: aead})))

	in := sampleItem()
	b, err := c.Marshal(in)
	require.NoError(t, err)
	out, err := c.Unmarshal(b)
	require.NoError(t, err)
	assert.True(t, thing.StateEqual(in, out))

	b[len(b)/2] ^= 0xff
	_, err = c.Unmarshal(b)
	assert.Error(t, err)
}

func TestChecksum_DetectsCorruption(t *testing.T) {
	wrapped, err := Checksum{}.Wrap([]byte("payload"))
	require.NoError(t, err)
	assert.Len(t, wrapped, len("payload")+8)

	out, err := Checksum{}.Unwrap(wrapped)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(out))

	wrapped[0] ^= 1
	_, err = Checksum{}.Unwrap(wrapped)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Checksum{}.Unwrap([]byte{1, 2})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestKeys(t *testing.T) {
	keys := []string{"Item:abc", "Tag:def", ""}
	out, err := DecodeKeys(EncodeKeys(keys))
	require.NoError(t, err)
	assert.Equal(t, keys, out)

	none, err := DecodeKeys(nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = DecodeKeys([]byte{0x0a, 0x05, 'a'})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestZstd_RefusesOversizedBlob(t *testing.T) {
	small, err := NewZstdLimit(1 << 10)
	require.NoError(t, err)
	big := bytes.Repeat([]byte("a"), 1<<16)

	wrapped, err := small.Wrap(big)
	require.NoError(t, err)
	_, err = small.Unwrap(wrapped)
	assert.ErrorIs(t, err, ErrCorrupt)

	roomy, err := NewZstd()
	require.NoError(t, err)
	out, err := roomy.Unwrap(wrapped)
	require.NoError(t, err)
	assert.Equal(t, big, out)
}

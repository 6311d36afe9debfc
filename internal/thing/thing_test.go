package thing

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testTag = MustType("Tag", []string{"name"}, []Field{
		{Name: "name", Number: 1, Kind: KindString},
	})
	testImage = MustType("Image", []string{"src"}, []Field{
		{Name: "src", Number: 1, Kind: KindString},
		{Name: "caption", Number: 2, Kind: KindString},
	}, "Media")
	testVideo = MustType("Video", nil, []Field{
		{Name: "src", Number: 1, Kind: KindString},
		{Name: "length", Number: 2, Kind: KindInt},
	}, "Media")
	testItem = MustType("Item", []string{"given_url"}, []Field{
		{Name: "given_url", Number: 1, Kind: KindString},
		{Name: "title", Number: 2, Kind: KindString},
		{Name: "favorite", Number: 3, Kind: KindBool},
		{Name: "word_count", Number: 4, Kind: KindInt},
		{Name: "tags", Number: 5, Kind: KindList, Of: "Tag"},
		{Name: "meta", Number: 6, Kind: KindMap},
		{Name: "top_image", Number: 7, Kind: KindThing, Of: "Media"},
	})
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(testTag, testImage, testVideo, testItem)
	require.NoError(t, err)
	return reg
}

func TestNew_ValidatesKinds(t *testing.T) {
	_, err := New(testItem, F("title", Int(3)))
	assert.ErrorIs(t, err, ErrKindMismatch)

	_, err = New(testItem, F("nope", String("x")))
	assert.ErrorIs(t, err, ErrUndeclaredField)

	_, err = New(testItem, F("top_image", Must(testTag, F("name", String("go")))))
	assert.ErrorIs(t, err, ErrKindMismatch, "Tag does not implement Media")

	th, err := New(testItem, F("title", Null{}))
	require.NoError(t, err)
	assert.True(t, th.Declared("title"), "null is declared")
	assert.False(t, th.Declared("favorite"))
}

func TestIdentity_DependsOnIdentityFieldsOnly(t *testing.T) {
	a := Must(testItem, F("given_url", String("http://x")), F("title", String("A")))
	b := Must(testItem, F("given_url", String("http://x")), F("title", String("B")))
	c := Must(testItem, F("given_url", String("http://y")))

	ida, err := a.Identity()
	require.NoError(t, err)
	idb, err := b.Identity()
	require.NoError(t, err)

	assert.Equal(t, ida, idb)
	assert.Equal(t, "Item", ida.TypeName())
	assert.True(t, IdentityEqual(a, b))
	assert.False(t, StateEqual(a, b))
	assert.False(t, IdentityEqual(a, c))
}

func TestIdentity_Missing(t *testing.T) {
	_, err := Must(testItem, F("title", String("A"))).Identity()
	assert.ErrorIs(t, err, ErrNoIdentity)

	_, err = Must(testItem, F("given_url", Null{})).Identity()
	assert.ErrorIs(t, err, ErrNoIdentity)

	_, err = Must(testVideo, F("src", String("v"))).Identity()
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestMerge_DeclaredFieldsWin(t *testing.T) {
	base := Must(testItem, F("given_url", String("u")), F("title", String("A")), F("favorite", Bool(true)))
	patch := Must(testItem, F("given_url", String("u")), F("title", String("B")), F("word_count", Int(10)))

	merged, err := base.Merge(patch)
	require.NoError(t, err)

	want := Must(testItem,
		F("given_url", String("u")),
		F("title", String("B")),
		F("favorite", Bool(true)),
		F("word_count", Int(10)),
	)
	assert.True(t, StateEqual(want, merged), "got %s", merged)
	assert.Equal(t, String("A"), mustGet(t, base, "title"), "receiver untouched")

	_, err = base.Merge(Must(testTag, F("name", String("x"))))
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestProjectAndRequested(t *testing.T) {
	full := Must(testItem, F("given_url", String("u")), F("title", String("A")), F("favorite", Bool(false)))

	p := full.Project("title")
	assert.Equal(t, []string{"given_url", "title"}, p.Names())
	assert.Equal(t, []string{"given_url"}, full.Template().Names())
	assert.Equal(t, []string{"title", "favorite"}, full.Requested())
	assert.Empty(t, full.Template().Requested())
}

func TestStateEqual_Nested(t *testing.T) {
	mk := func(tag string) *Thing {
		return Must(testItem,
			F("given_url", String("u")),
			F("tags", List{Must(testTag, F("name", String(tag)))}),
			F("meta", Map{"k": List{Int(1), Null{}}}),
		)
	}
	assert.True(t, StateEqual(mk("a"), mk("a")))
	assert.False(t, StateEqual(mk("a"), mk("b")))
	assert.True(t, StateEqual(nil, nil))
	assert.False(t, StateEqual(mk("a"), nil))
}

func TestCanonicalGolden(t *testing.T) {
	th := Must(testItem,
		F("given_url", String("http://x")),
		F("title", String("A")),
		F("tags", List{Must(testTag, F("name", String("go")))}),
	)
	data, err := MarshalCanonical(th)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "item_canonical", data)
}

func TestCanonical_LineSeparatorsStayLiteral(t *testing.T) {
	data, err := MarshalCanonical(String("a\u2028b<&>"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b<&>\"", string(data))

	data, err = MarshalCanonical(String(`a\u2028`))
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028"`, string(data))
}

func TestDecodeJSON_Polymorphic(t *testing.T) {
	reg := testRegistry(t)
	data := []byte(`{
		"_type": "Item",
		"given_url": "http://x",
		"word_count": 12,
		"favorite": null,
		"tags": [{"name": "go"}],
		"meta": {"lang": "en", "n": 2},
		"top_image": {"_type": "Video", "src": "v.mp4", "length": 30},
		"added_by_newer_server": true
	}`)

	th, err := DecodeJSON(reg, data, "")
	require.NoError(t, err)

	want := Must(testItem,
		F("given_url", String("http://x")),
		F("word_count", Int(12)),
		F("favorite", Null{}),
		F("tags", List{Must(testTag, F("name", String("go")))}),
		F("meta", Map{"lang": String("en"), "n": Int(2)}),
		F("top_image", Must(testVideo, F("src", String("v.mp4")), F("length", Int(30)))),
	)
	assert.True(t, StateEqual(want, th), "got %s", th)

	out, err := th.MarshalJSON()
	require.NoError(t, err)
	again, err := DecodeJSON(reg, out, "")
	require.NoError(t, err)
	assert.True(t, StateEqual(th, again))
}

func TestDecodeJSON_Rejects(t *testing.T) {
	reg := testRegistry(t)

	_, err := DecodeJSON(reg, []byte(`{"_type":"Item","word_count":1.5}`), "")
	assert.ErrorIs(t, err, ErrJSON)

	_, err = DecodeJSON(reg, []byte(`{"_type":"Nope"}`), "")
	assert.ErrorIs(t, err, ErrJSON)

	_, err = DecodeJSON(reg, []byte(`{"_type":"Item","top_image":{"_type":"Tag","name":"x"}}`), "")
	assert.ErrorIs(t, err, ErrJSON)
}

func TestParseSchema(t *testing.T) {
	reg, err := ParseSchema([]byte(`
types:
  - name: Tag
    identity: [name]
    fields:
      - {name: name, number: 1, kind: string}
  - name: Image
    identity: [src]
    implements: [Media]
    fields:
      - {name: src, number: 1, kind: string}
      - {name: secret, number: 2, kind: string, sensitive: true}
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Image", "Tag"}, reg.Names())
	assert.Equal(t, []string{"Image"}, reg.Variants("Media"))

	img, ok := reg.Type("Image")
	require.True(t, ok)
	f, ok := img.Field("secret")
	require.True(t, ok)
	assert.True(t, f.Sensitive)

	_, err = ParseSchema([]byte(`
types:
  - name: Bad
    identity: [missing]
    fields:
      - {name: a, number: 1, kind: string}
`))
	assert.ErrorIs(t, err, ErrSchema)
}

func TestActionKey(t *testing.T) {
	a := NewAction("item_add", 7, Map{"url": String("u")})
	b := NewAction("item_add", 7, Map{"url": String("u")}, WithPriority(PriorityHigh))
	c := NewAction("item_add", 8, Map{"url": String("u")})

	ka, err := a.Key()
	require.NoError(t, err)
	kb, err := b.Key()
	require.NoError(t, err)
	kc, err := c.Key()
	require.NoError(t, err)

	assert.Equal(t, ka, kb, "priority is not part of the key")
	assert.NotEqual(t, ka, kc)
	assert.Equal(t, "u", a.StringArg("url"))
}

func mustGet(t *testing.T, th *Thing, name string) Value {
	t.Helper()
	v, ok := th.Get(name)
	require.True(t, ok, "field %s not declared", name)
	return v
}

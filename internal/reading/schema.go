// Package reading is a read-it-later domain built on syncspace: saved
// items with tags, authors and media, the lists that hold them, the
// actions that change them and an in-memory server that answers them.
package reading

import (
	_ "embed"
	"fmt"

	"github.com/roach88/syncspace/internal/thing"
)

//go:embed schema.yaml
var schemaYAML []byte

// Item states, also the identities of the two Saves lists.
const (
	StatusUnread   = "unread"
	StatusArchived = "archived"
)

var registry = mustRegistry()

func mustRegistry() *thing.Registry {
	reg, err := thing.ParseSchema(schemaYAML)
	if err != nil {
		panic(fmt.Sprintf("reading: embedded schema: %v", err))
	}
	return reg
}

// Registry returns the schema registry. It is shared; do not register
// more types on it.
func Registry() *thing.Registry {
	return registry
}

// Schema returns the YAML schema source.
func Schema() []byte {
	return append([]byte(nil), schemaYAML...)
}

func mustType(name string) *thing.Type {
	t, ok := registry.Type(name)
	if !ok {
		panic("reading: missing type " + name)
	}
	return t
}

var (
	ItemType   = mustType("Item")
	TagType    = mustType("Tag")
	AuthorType = mustType("Author")
	ImageType  = mustType("Image")
	VideoType  = mustType("Video")
	SavesType  = mustType("Saves")
)

// Item builds an Item identified by its URL.
func Item(url string, fields ...thing.FieldValue) *thing.Thing {
	return thing.Must(ItemType, append([]thing.FieldValue{thing.F("given_url", thing.String(url))}, fields...)...)
}

// Tag builds a Tag.
func Tag(name string) *thing.Thing {
	return thing.Must(TagType, thing.F("name", thing.String(name)))
}

// Author builds an Author.
func Author(id string, fields ...thing.FieldValue) *thing.Thing {
	return thing.Must(AuthorType, append([]thing.FieldValue{thing.F("author_id", thing.String(id))}, fields...)...)
}

// Image builds an Image.
func Image(src string, fields ...thing.FieldValue) *thing.Thing {
	return thing.Must(ImageType, append([]thing.FieldValue{thing.F("src", thing.String(src))}, fields...)...)
}

// Video builds a Video. Videos have no identity and live only inside
// other Things.
func Video(src string, fields ...thing.FieldValue) *thing.Thing {
	return thing.Must(VideoType, append([]thing.FieldValue{thing.F("src", thing.String(src))}, fields...)...)
}

// Saves builds the list template for a state.
func Saves(state string, fields ...thing.FieldValue) *thing.Thing {
	return thing.Must(SavesType, append([]thing.FieldValue{thing.F("state", thing.String(state))}, fields...)...)
}

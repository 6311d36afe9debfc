package reading

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/syncspace/internal/space"
	"github.com/roach88/syncspace/internal/spec"
	"github.com/roach88/syncspace/internal/thing"
)

// Action names.
const (
	ActionAdd         = "item_add"
	ActionArchive     = "item_archive"
	ActionReadd       = "item_readd"
	ActionFavorite    = "item_favorite"
	ActionUnfavorite  = "item_unfavorite"
	ActionTagsReplace = "item_tags_replace"
	ActionNoteAppend  = "item_note_append"
)

// ErrBadArgs is returned for an action missing a required argument.
var ErrBadArgs = errors.New("reading: bad action arguments")

// Rules returns the rule set for the reading domain.
//
// Every handler imprints list membership before the item itself, so an
// item reached only through a retained list is kept. Membership and notes
// change through Space.Update, so concurrent actions never drop each
// other's edits.
func Rules(opts ...spec.RulesOption) *spec.Rules {
	r := spec.NewRules(opts...)
	r.Handle(ActionAdd, spec.Idempotent, addItem)
	r.Handle(ActionArchive, spec.Idempotent, moveItem(StatusArchived, StatusUnread))
	r.Handle(ActionReadd, spec.Idempotent, moveItem(StatusUnread, StatusArchived))
	r.Handle(ActionFavorite, spec.Idempotent, setFavorite(true))
	r.Handle(ActionUnfavorite, spec.Idempotent, setFavorite(false))
	r.Handle(ActionTagsReplace, spec.Idempotent, replaceTags)
	r.Handle(ActionNoteAppend, spec.Guarded, appendNote)

	r.DeriveField("Saves", "total", savesTotal)
	r.DeriveField("Item", "display_title", displayTitle)
	return r
}

// Add builds the args of item_add.
func Add(url, title string) thing.Map {
	args := thing.Map{"url": thing.String(url)}
	if title != "" {
		args["title"] = thing.String(title)
	}
	return args
}

// URL builds the args of the single-item actions.
func URL(url string) thing.Map {
	return thing.Map{"url": thing.String(url)}
}

// Tags builds the args of item_tags_replace.
func Tags(url string, names ...string) thing.Map {
	list := make(thing.List, len(names))
	for i, n := range names {
		list[i] = thing.String(n)
	}
	return thing.Map{"url": thing.String(url), "tags": list}
}

// Note builds the args of item_note_append.
func Note(url, text string) thing.Map {
	return thing.Map{"url": thing.String(url), "text": thing.String(text)}
}

func urlArg(a thing.Action) (string, error) {
	url := a.StringArg("url")
	if url == "" {
		return "", fmt.Errorf("%w: %s needs url", ErrBadArgs, a.Name)
	}
	return url, nil
}

func addItem(ctx context.Context, a thing.Action, s spec.Space) error {
	url, err := urlArg(a)
	if err != nil {
		return err
	}
	if err := include(ctx, s, StatusUnread, url); err != nil {
		return err
	}
	fields := []thing.FieldValue{
		thing.F("status", thing.String(StatusUnread)),
		thing.F("time_added", thing.Int(a.Time)),
	}
	if title := a.StringArg("title"); title != "" {
		fields = append(fields, thing.F("title", thing.String(title)))
	}
	return s.Imprint(ctx, Item(url, fields...))
}

func moveItem(to, from string) spec.Handler {
	return func(ctx context.Context, a thing.Action, s spec.Space) error {
		url, err := urlArg(a)
		if err != nil {
			return err
		}
		if err := include(ctx, s, to, url); err != nil {
			return err
		}
		if err := exclude(ctx, s, from, url); err != nil {
			return err
		}
		return s.Imprint(ctx, Item(url, thing.F("status", thing.String(to))))
	}
}

func setFavorite(on bool) spec.Handler {
	return func(ctx context.Context, a thing.Action, s spec.Space) error {
		url, err := urlArg(a)
		if err != nil {
			return err
		}
		return s.Imprint(ctx, Item(url, thing.F("favorite", thing.Bool(on))))
	}
}

func replaceTags(ctx context.Context, a thing.Action, s spec.Space) error {
	url, err := urlArg(a)
	if err != nil {
		return err
	}
	raw, _ := a.Arg("tags")
	names, ok := raw.(thing.List)
	if raw != nil && !ok {
		return fmt.Errorf("%w: tags must be a list", ErrBadArgs)
	}
	tags := make(thing.List, 0, len(names))
	for _, n := range names {
		name, ok := n.(thing.String)
		if !ok || name == "" {
			return fmt.Errorf("%w: tag names must be non-empty strings", ErrBadArgs)
		}
		tags = append(tags, Tag(string(name)))
	}
	return s.Imprint(ctx, Item(url, thing.F("tags", tags)))
}

func appendNote(ctx context.Context, a thing.Action, s spec.Space) error {
	url, err := urlArg(a)
	if err != nil {
		return err
	}
	text := a.StringArg("text")
	if text == "" {
		return fmt.Errorf("%w: %s needs text", ErrBadArgs, a.Name)
	}
	return s.Update(ctx, Item(url), func(cur *thing.Thing) (*thing.Thing, error) {
		note := text
		if cur != nil {
			if p, ok := cur.Get("note"); ok {
				if prev, ok := p.(thing.String); ok && prev != "" {
					note = string(prev) + "\n" + text
				}
			}
		}
		return Item(url, thing.F("note", thing.String(note))), nil
	})
}

// itemsOf returns the item stubs of a stored Saves record.
func itemsOf(saves *thing.Thing) thing.List {
	if saves == nil {
		return nil
	}
	v, _ := saves.Get("items")
	items, _ := v.(thing.List)
	out := make(thing.List, 0, len(items))
	for _, it := range items {
		if t, ok := it.(*thing.Thing); ok {
			out = append(out, t.Template())
		}
	}
	return out
}

func indexOf(items thing.List, url string) int {
	want := Item(url)
	for i, it := range items {
		if t, ok := it.(*thing.Thing); ok && thing.IdentityEqual(t, want) {
			return i
		}
	}
	return -1
}

// include puts url at the front of the state's list unless it is there.
func include(ctx context.Context, s spec.Space, state, url string) error {
	return s.Update(ctx, Saves(state), func(cur *thing.Thing) (*thing.Thing, error) {
		items := itemsOf(cur)
		if indexOf(items, url) >= 0 {
			return nil, nil
		}
		return savesList(state, append(thing.List{Item(url)}, items...)), nil
	})
}

// exclude removes url from the state's list.
func exclude(ctx context.Context, s spec.Space, state, url string) error {
	return s.Update(ctx, Saves(state), func(cur *thing.Thing) (*thing.Thing, error) {
		items := itemsOf(cur)
		i := indexOf(items, url)
		if i < 0 {
			return nil, nil
		}
		return savesList(state, append(items[:i:i], items[i+1:]...)), nil
	})
}

// savesList carries the membership with a matching total, since a stored
// total from the server would otherwise win over the derived one.
func savesList(state string, items thing.List) *thing.Thing {
	return Saves(state,
		thing.F("items", items),
		thing.F("total", thing.Int(len(items))),
	)
}

func savesTotal(t *thing.Thing, _ space.View) (thing.Value, bool) {
	v, ok := t.Get("items")
	if !ok {
		return nil, false
	}
	items, ok := v.(thing.List)
	if !ok {
		return nil, false
	}
	return thing.Int(len(items)), true
}

// displayTitle derives only for stored items, so an unknown item still
// reads as absent.
func displayTitle(t *thing.Thing, view space.View) (thing.Value, bool) {
	if _, ok := view.Lookup(t); !ok {
		return nil, false
	}
	if v, ok := t.Get("title"); ok {
		if s, ok := v.(thing.String); ok && s != "" {
			return s, true
		}
	}
	if v, ok := t.Get("given_url"); ok {
		return v, true
	}
	return nil, false
}

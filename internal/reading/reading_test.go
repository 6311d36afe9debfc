package reading

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncspace/internal/remote"
	"github.com/roach88/syncspace/internal/source"
	"github.com/roach88/syncspace/internal/space"
	"github.com/roach88/syncspace/internal/spec"
	"github.com/roach88/syncspace/internal/thing"
)

const (
	urlA = "https://a.example"
	urlB = "https://b.example"
)

var lists = space.PersistentHolder("lists")

// clientSpace returns a space holding both lists, as the CLI does.
func clientSpace(t *testing.T, rules *spec.Rules) *space.Space {
	t.Helper()
	sp := space.New(space.WithDeriver(rules))
	require.NoError(t, sp.Remember(context.Background(), lists, Saves(StatusUnread), Saves(StatusArchived)))
	return sp
}

func apply(t *testing.T, rules *spec.Rules, sp *space.Space, name string, time int64, args thing.Map) {
	t.Helper()
	require.NoError(t, rules.Apply(context.Background(), thing.NewAction(name, time, args), sp))
}

func field(t *testing.T, th *thing.Thing, name string) thing.Value {
	t.Helper()
	require.NotNil(t, th)
	v, ok := th.Get(name)
	require.True(t, ok, "%s.%s missing", th.TypeName(), name)
	return v
}

func listURLs(t *testing.T, sp space.View, state string) []string {
	t.Helper()
	saves, ok := sp.Get(Saves(state))
	if !ok {
		return nil
	}
	var urls []string
	for _, it := range field(t, saves, "items").(thing.List) {
		urls = append(urls, string(field(t, it.(*thing.Thing), "given_url").(thing.String)))
	}
	return urls
}

func TestSchema(t *testing.T) {
	reg := Registry()
	assert.ElementsMatch(t, []string{"Image", "Video"}, reg.Variants("Media"))
	assert.True(t, reg.Accepts("Media", "Video"))
	assert.False(t, VideoType.Identifiable())

	note, ok := ItemType.Field("note")
	require.True(t, ok)
	assert.True(t, note.Sensitive)

	_, err := thing.ParseSchema(Schema())
	require.NoError(t, err)
}

func TestAdd_ListsAndDerivedFields(t *testing.T) {
	rules := Rules()
	sp := clientSpace(t, rules)

	apply(t, rules, sp, ActionAdd, 1, Add(urlA, "A"))
	apply(t, rules, sp, ActionAdd, 2, Add(urlB, ""))
	apply(t, rules, sp, ActionAdd, 3, Add(urlA, "A")) // already listed

	assert.Equal(t, []string{urlB, urlA}, listURLs(t, sp, StatusUnread))

	saves, ok := sp.Get(Saves(StatusUnread))
	require.True(t, ok)
	assert.Equal(t, thing.Int(2), field(t, saves, "total"))

	a, ok := sp.Get(Item(urlA))
	require.True(t, ok)
	assert.Equal(t, thing.String("A"), field(t, a, "display_title"))
	assert.Equal(t, thing.String(StatusUnread), field(t, a, "status"))

	b, ok := sp.Get(Item(urlB))
	require.True(t, ok)
	assert.Equal(t, thing.String(urlB), field(t, b, "display_title"), "falls back to the url")

	_, ok = sp.Get(Item("https://unknown.example"))
	assert.False(t, ok, "nothing derived for an unknown item")
}

func TestArchiveAndReadd(t *testing.T) {
	rules := Rules()
	sp := clientSpace(t, rules)
	apply(t, rules, sp, ActionAdd, 1, Add(urlA, "A"))
	apply(t, rules, sp, ActionAdd, 2, Add(urlB, "B"))

	apply(t, rules, sp, ActionArchive, 3, URL(urlA))
	assert.Equal(t, []string{urlB}, listURLs(t, sp, StatusUnread))
	assert.Equal(t, []string{urlA}, listURLs(t, sp, StatusArchived))
	a, ok := sp.Get(Item(urlA, thing.F("status", thing.Null{})))
	require.True(t, ok)
	assert.Equal(t, thing.String(StatusArchived), field(t, a, "status"))

	apply(t, rules, sp, ActionReadd, 4, URL(urlA))
	assert.Equal(t, []string{urlA, urlB}, listURLs(t, sp, StatusUnread))
	assert.Empty(t, listURLs(t, sp, StatusArchived))

	archived, ok := sp.Get(Saves(StatusArchived))
	require.True(t, ok)
	assert.Equal(t, thing.Int(0), field(t, archived, "total"))
}

func TestFavoriteAndTags(t *testing.T) {
	rules := Rules()
	sp := clientSpace(t, rules)
	apply(t, rules, sp, ActionAdd, 1, Add(urlA, "A"))

	apply(t, rules, sp, ActionFavorite, 2, URL(urlA))
	a, _ := sp.Get(Item(urlA))
	assert.Equal(t, thing.Bool(true), field(t, a, "favorite"))

	apply(t, rules, sp, ActionUnfavorite, 3, URL(urlA))
	apply(t, rules, sp, ActionTagsReplace, 4, Tags(urlA, "go", "news"))
	a, _ = sp.Get(Item(urlA))
	assert.Equal(t, thing.Bool(false), field(t, a, "favorite"))
	assert.True(t, thing.Equal(thing.List{Tag("go"), Tag("news")}, field(t, a, "tags")))

	apply(t, rules, sp, ActionTagsReplace, 5, Tags(urlA))
	a, _ = sp.Get(Item(urlA))
	assert.Empty(t, field(t, a, "tags"))
}

func TestNoteAppend_Guarded(t *testing.T) {
	rules := Rules()
	sp := clientSpace(t, rules)
	apply(t, rules, sp, ActionAdd, 1, Add(urlA, "A"))

	first := thing.NewAction(ActionNoteAppend, 2, Note(urlA, "one"))
	require.NoError(t, rules.Apply(context.Background(), first, sp))
	require.NoError(t, rules.Apply(context.Background(), first, sp)) // replay is skipped
	apply(t, rules, sp, ActionNoteAppend, 3, Note(urlA, "two"))

	a, _ := sp.Get(Item(urlA, thing.F("note", thing.Null{})))
	assert.Equal(t, thing.String("one\ntwo"), field(t, a, "note"))
}

func TestBadArgs(t *testing.T) {
	rules := Rules()
	sp := clientSpace(t, rules)
	ctx := context.Background()

	tests := []thing.Action{
		thing.NewAction(ActionAdd, 1, nil),
		thing.NewAction(ActionArchive, 1, thing.Map{"url": thing.String("")}),
		thing.NewAction(ActionNoteAppend, 1, URL(urlA)),
		thing.NewAction(ActionTagsReplace, 1, thing.Map{"url": thing.String(urlA), "tags": thing.String("go")}),
		thing.NewAction(ActionTagsReplace, 1, thing.Map{"url": thing.String(urlA), "tags": thing.List{thing.Int(1)}}),
	}
	for _, a := range tests {
		t.Run(a.Name, func(t *testing.T) {
			err := rules.Apply(ctx, a, sp)
			assert.ErrorIs(t, err, ErrBadArgs)
			assert.ErrorIs(t, err, spec.ErrApply)
		})
	}
}

func TestServer_Reply(t *testing.T) {
	srv := NewServer(nil)
	req := remote.NewRequest(Saves(StatusUnread),
		thing.NewAction(ActionAdd, 1, Add(urlA, "A")),
		thing.NewAction(ActionAdd, 2, Add(urlB, "")),
		thing.NewAction(ActionFavorite, 3, URL(urlA)),
	)
	resp, err := srv.Send(context.Background(), req)
	require.NoError(t, err)

	data, err := remote.EncodeResponse(resp)
	require.NoError(t, err)
	g := goldie.New(t)
	g.Assert(t, "server_reply", data)
}

func TestServer_RejectsBadAction(t *testing.T) {
	srv := NewServer(nil)
	resp, err := srv.Send(context.Background(), remote.NewRequest(nil,
		thing.NewAction("item_explode", 1, URL(urlA)),
		thing.NewAction(ActionAdd, 2, Add(urlA, "")),
	))
	require.NoError(t, err)
	require.Error(t, resp.ActionError(0))
	assert.NoError(t, resp.ActionError(1))
	assert.NotNil(t, resp.Results[1])
}

func TestServer_Seed(t *testing.T) {
	srv := NewServer(nil)
	ctx := context.Background()
	require.NoError(t, srv.Seed(ctx,
		Item(urlA, thing.F("title", thing.String("A")), thing.F("top_image", Video("v.mp4", thing.F("poster", Image("p.png"))))),
		Item(urlB, thing.F("status", thing.String(StatusArchived))),
	))
	require.Error(t, srv.Seed(ctx, Tag("go")))

	resp, err := srv.Send(ctx, remote.NewRequest(Item(urlA)))
	require.NoError(t, err)
	top := field(t, resp.Query, "top_image").(*thing.Thing)
	assert.Equal(t, "Video", top.TypeName())
	assert.Equal(t, "Image", field(t, top, "poster").(*thing.Thing).TypeName())

	resp, err = srv.Send(ctx, remote.NewRequest(Saves(StatusArchived)))
	require.NoError(t, err)
	assert.Equal(t, thing.Int(1), field(t, resp.Query, "total"))
}

// TestEndToEnd drives a source against the server over HTTP.
func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	srv := NewServer(nil)
	require.NoError(t, srv.Seed(ctx, Item(urlB, thing.F("title", thing.String("Seeded")))))
	hs := httptest.NewServer(remote.Handler(Registry(), srv))
	defer hs.Close()

	rules := Rules()
	sp := clientSpace(t, rules)
	src := source.New(sp, rules, remote.NewHTTP(hs.URL, Registry(), remote.WithTimeout(5*time.Second)), source.WithWorkers(1))
	defer src.Close()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	saves, err := src.Sync(ctx, Saves(StatusUnread)).Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, thing.Int(1), field(t, saves, "total"))

	add := src.Action(ActionAdd, Add(urlA, "Fresh"))
	fav := src.Action(ActionFavorite, URL(urlA), thing.WithPriority(thing.PriorityHigh))
	rep, err := src.SyncRemote(ctx, Saves(StatusUnread), add, fav).Wait(waitCtx)
	require.NoError(t, err)
	for _, o := range rep.Outcomes {
		assert.Equal(t, source.Success, o.Status, o.Action.Name)
	}
	require.NoError(t, rep.QueryErr)
	assert.Equal(t, thing.Int(2), field(t, rep.Query, "total"))
	assert.Equal(t, []string{urlA, urlB}, listURLs(t, sp, StatusUnread))

	a, ok := sp.Get(Item(urlA))
	require.True(t, ok)
	assert.Equal(t, thing.String("Fresh"), field(t, a, "display_title"))
	assert.Equal(t, thing.Bool(true), field(t, a, "favorite"))
	require.NoError(t, src.Await(waitCtx))
}

func TestConcurrentAdds_KeepEveryItem(t *testing.T) {
	ctx := context.Background()
	rules := Rules()
	sp := clientSpace(t, rules)
	src := source.New(sp, rules, &remote.Fake{}, source.WithWorkers(8))
	defer src.Close()

	const n = 300
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			src.SyncRemote(ctx, nil, src.Action(ActionAdd, Add(fmt.Sprintf("https://%d.example", i), "")))
		}()
	}
	close(start)
	wg.Wait()

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, src.Await(waitCtx))

	urls := listURLs(t, sp, StatusUnread)
	assert.Len(t, urls, n)
	saves, ok := sp.Get(Saves(StatusUnread))
	require.True(t, ok)
	assert.Equal(t, thing.Int(n), field(t, saves, "total"))
}

func TestConcurrentNotes_KeepEveryLine(t *testing.T) {
	ctx := context.Background()
	rules := Rules()
	sp := clientSpace(t, rules)
	apply(t, rules, sp, ActionAdd, 1, Add(urlA, "A"))

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := thing.NewAction(ActionNoteAppend, int64(i+2), Note(urlA, fmt.Sprintf("line %d", i)))
			assert.NoError(t, rules.Apply(ctx, a, sp))
		}()
	}
	wg.Wait()

	a, _ := sp.Get(Item(urlA, thing.F("note", thing.Null{})))
	note := string(field(t, a, "note").(thing.String))
	for i := range n {
		assert.Contains(t, note+"\n", fmt.Sprintf("line %d\n", i))
	}
}

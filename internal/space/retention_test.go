package space

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncspace/internal/thing"
)

func ids(names ...string) idSet {
	s := make(idSet)
	for _, n := range names {
		s.add(thing.Identity(n))
	}
	return s
}

func TestSweep(t *testing.T) {
	refs := map[thing.Identity]idSet{
		"a": ids("b"),
		"b": ids("c"),
		"c": ids("a"),
		"x": ids("y"),
	}

	tests := []struct {
		name  string
		roots idSet
		want  idSet
	}{
		{"no roots", ids(), ids()},
		{"cycle reached once", ids("a"), ids("a", "b", "c")},
		{"leaf only", ids("y"), ids("y")},
		{"root without record", ids("ghost"), ids("ghost")},
		{"two components", ids("c", "x"), ids("a", "b", "c", "x", "y")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sweep(tt.roots, refs))
		})
	}
}

func TestRetention_ClaimRelease(t *testing.T) {
	r := newRetention()
	added, err := r.claim(SessionHolder("h1"), "a")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = r.claim(SessionHolder("h1"), "a")
	require.NoError(t, err)
	assert.False(t, added, "claims are a set")
	_, err = r.claim(SessionHolder("h2"), "a")
	require.NoError(t, err)

	r.release("h1")
	assert.True(t, r.claimed("a"))
	r.release("h2")
	assert.False(t, r.claimed("a"))

	_, ok := r.release("h2")
	assert.False(t, ok)
}

func TestRetention_Edges(t *testing.T) {
	r := newRetention()
	changed, removed := r.setEdges("a", ids("b", "c"))
	assert.True(t, changed)
	assert.False(t, removed)
	assert.True(t, r.live("b"))

	changed, removed = r.setEdges("a", ids("b", "c"))
	assert.False(t, changed)
	assert.False(t, removed)

	changed, removed = r.setEdges("a", ids("b"))
	assert.True(t, changed)
	assert.True(t, removed)
	assert.False(t, r.live("c"))

	r.drop("a")
	assert.False(t, r.live("b"))
	assert.Empty(t, r.refs)
	assert.Empty(t, r.refBy)
}

func TestRetention_PersistentRoots(t *testing.T) {
	r := newRetention()
	_, _ = r.claim(SessionHolder("s"), "a")
	_, _ = r.claim(PersistentHolder("p"), "b")
	assert.Equal(t, ids("b"), r.persistentRoots())
	assert.Equal(t, ids("a", "b"), r.roots(nil))
}

package world_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asadovsky/wavedoc/waveerr"
	"github.com/asadovsky/wavedoc/world"
)

var pointSchema = world.Schema{
	Name:  "Point",
	Slots: []string{"x", "y"},
	Types: map[string]world.SlotType{"x": "int", "y": "int"},
}

func TestCreateSetGetRoundtrip(t *testing.T) {
	root := world.NewRoot()
	m, err := root.Create(pointSchema)
	require.NoError(t, err)
	require.NoError(t, m.Set("x", 3))
	v, ok, err := m.Get("x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, v)
}

func TestWriteToLockedWorldFails(t *testing.T) {
	root := world.NewRoot()
	m, _ := root.Create(pointSchema)
	root.Lock()
	err := m.Set("x", 1)
	require.Error(t, err)
}

func TestTypeMismatch(t *testing.T) {
	root := world.NewRoot()
	m, _ := root.Create(pointSchema)
	err := m.Set("x", "not an int")
	require.Error(t, err)
}

// TestUndoPastConflict is scenario S5: two sibling Worlds each read then
// write slot x of the same root Model. The first to commit succeeds; the
// second's cached read of x has since gone stale at the root, so its commit
// raises CommitConflict.
func TestUndoPastConflict(t *testing.T) {
	root := world.NewRoot()
	rm, _ := root.Create(pointSchema)
	require.NoError(t, rm.Set("x", 0))

	w1 := root.Child()
	m1, err := w1.Bind(rm.Ref())
	require.NoError(t, err)
	_, _, _ = m1.Get("x") // caches reads[x] == 0
	require.NoError(t, m1.Set("x", 1))

	w2 := root.Child()
	m2, err := w2.Bind(rm.Ref())
	require.NoError(t, err)
	_, _, _ = m2.Get("x") // also caches reads[x] == 0, before w1 commits
	require.NoError(t, m2.Set("x", 2))

	require.NoError(t, w1.Commit())
	final, _, err := rm.Get("x")
	require.NoError(t, err)
	require.Equal(t, 1, final)

	err = w2.Commit()
	require.ErrorIs(t, err, waveerr.ErrCommitConflict)

	final, _, err = rm.Get("x")
	require.NoError(t, err)
	require.Equal(t, 1, final, "a failed commit must not partially apply")
}

// TestLookupCacheCorrectness is scenario S6: a long chain of Worlds each
// writing a distinct slot on the same Model; after Lock, reading any slot
// returns the latest write anywhere in the chain.
func TestLookupCacheCorrectness(t *testing.T) {
	schema := world.Schema{Name: "Bag", Slots: make([]string, 200)}
	for i := range schema.Slots {
		schema.Slots[i] = "s" + string(rune('a'+i%26)) + string(rune('0'+i/26))
	}

	root := world.NewRoot()
	rm, _ := root.Create(schema)

	top := root
	for i := 0; i < 200; i++ {
		child := top.Child()
		m, err := child.Bind(rm.Ref())
		require.NoError(t, err)
		require.NoError(t, m.Set(schema.Slots[i], i))
		top = child
	}
	top.Lock()

	got, ok, err := func() (*world.Model, bool, error) {
		m, err := top.Bind(rm.Ref())
		return m, err == nil, err
	}()
	require.NoError(t, err)
	require.True(t, ok)
	for i := 0; i < 200; i++ {
		v, present, err := got.Get(schema.Slots[i])
		require.NoError(t, err)
		require.True(t, present)
		require.Equal(t, i, v)
	}
}

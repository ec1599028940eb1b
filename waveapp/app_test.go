package waveapp_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asadovsky/wavedoc/waveapp"
	"github.com/asadovsky/wavedoc/world"
)

var counterSchema = world.Schema{
	Name:  "Counter",
	Slots: []string{"value"},
	Types: map[string]world.SlotType{"value": "int"},
}

func counterClass() waveapp.Class {
	return waveapp.Class{
		Schema: counterSchema,
		Methods: map[string]waveapp.MethodSpec{
			"__init__": {
				Pure: true,
				Fn: func(m *world.Model, args []any) (any, error) {
					return nil, m.Set("value", 0)
				},
			},
			"bump": {
				Tag:  "typing",
				Rate: 8,
				Fn: func(m *world.Model, args []any) (any, error) {
					v, _, err := m.Get("value")
					if err != nil {
						return nil, err
					}
					return nil, m.Set("value", v.(int)+1)
				},
			},
			"peek": {
				Pure: true,
				Fn: func(m *world.Model, args []any) (any, error) {
					v, _, err := m.Get("value")
					return v, err
				},
			},
		},
	}
}

func mustCreate(t *testing.T, app *waveapp.App) world.Ref {
	t.Helper()
	ref, err := app.Create("Counter")
	require.NoError(t, err)
	return ref
}

func peek(t *testing.T, app *waveapp.App, ref world.Ref) int {
	t.Helper()
	v, err := app.Call(ref, "peek")
	require.NoError(t, err)
	return v.(int)
}

// TestTypingCoalescesIntoOneUndoFrame is scenario S2: rapid same-tag,
// equal-rate calls extend a single live World; undo restores the
// pre-sequence value in one step, redo restores it.
func TestTypingCoalescesIntoOneUndoFrame(t *testing.T) {
	app := waveapp.New(nil, counterClass())
	ref := mustCreate(t, app)

	for i := 1; i <= 5; i++ {
		_, err := app.Call(ref, "bump")
		require.NoError(t, err)
		_ = i
	}
	require.Equal(t, 5, peek(t, app, ref))

	app.Undo()
	require.Equal(t, 0, peek(t, app, ref))

	app.Redo()
	require.Equal(t, 5, peek(t, app, ref))
}

// TestUndoRedoTagMutationsAsSuch confirms Undo/Redo re-emit onto Mutations
// with a synthetic "undo"/"redo" Tag, so a Watch subscriber can tell a
// history navigation apart from an ordinary edit.
func TestUndoRedoTagMutationsAsSuch(t *testing.T) {
	app := waveapp.New(nil, counterClass())
	ref := mustCreate(t, app)

	var tags []string
	unsub := app.Watch(ref, func(mut waveapp.Mutation) { tags = append(tags, mut.Tag) })
	defer unsub()

	require.NoError(t, app.Assign(ref, "value", 1))
	app.Undo()
	app.Redo()

	require.Equal(t, []string{"", "undo", "redo"}, tags)
}

// TestWaveMergeMonotonicity is one of the universal invariants (spec.md
// §8): an equal-tag, strictly-increasing-rate sequence produces exactly one
// live top World; a tag change or a rate that fails to increase produces a
// new one.
func TestWaveMergeMonotonicity(t *testing.T) {
	app := waveapp.New(nil, waveapp.Class{
		Schema: counterSchema,
		Methods: map[string]waveapp.MethodSpec{
			"__init__": {Pure: true, Fn: func(m *world.Model, args []any) (any, error) { return nil, m.Set("value", 0) }},
		},
	})
	ref := mustCreate(t, app)

	before := app.Mutations()
	var tops []*world.World
	unsub := before.Subscribe(func(mut waveapp.Mutation) { tops = append(tops, mut.World) })
	defer unsub()

	require.NoError(t, app.Assign(ref, "value", 1, waveapp.AssignOptions{Tag: "typing", Rate: 1}))
	require.NoError(t, app.Assign(ref, "value", 2, waveapp.AssignOptions{Tag: "typing", Rate: 2}))
	require.NoError(t, app.Assign(ref, "value", 3, waveapp.AssignOptions{Tag: "typing", Rate: 3}))
	require.Same(t, tops[0], tops[1], "increasing rate under the same tag must merge into one World")
	require.Same(t, tops[1], tops[2])

	require.NoError(t, app.Assign(ref, "value", 4, waveapp.AssignOptions{Tag: "typing", Rate: 1}))
	require.NotSame(t, tops[2], tops[3], "a rate drop must advance to a new World")

	require.NoError(t, app.Assign(ref, "value", 5, waveapp.AssignOptions{Tag: "cursor", Rate: 8}))
	require.NotSame(t, tops[3], tops[4], "a tag change must advance to a new World")
}

func TestPureMethodSkipsWaveMergeAndPublish(t *testing.T) {
	app := waveapp.New(nil, counterClass())
	ref := mustCreate(t, app)

	var published int
	unsub := app.Mutations().Subscribe(func(waveapp.Mutation) { published++ })
	defer unsub()

	before := published
	v, err := app.Call(ref, "peek")
	require.NoError(t, err)
	require.Equal(t, 0, v)
	require.Equal(t, before, published, "a pure call must not publish a mutation")
}

func TestWatchFiltersToLocallyModifiedRef(t *testing.T) {
	app := waveapp.New(nil, counterClass())
	ref := mustCreate(t, app)
	other := mustCreate(t, app)

	var fired int
	unsub := app.Watch(ref, func(waveapp.Mutation) { fired++ })
	defer unsub()

	require.NoError(t, app.Assign(other, "value", 42))
	require.Equal(t, 0, fired)

	require.NoError(t, app.Assign(ref, "value", 1))
	require.Equal(t, 1, fired)
}

func TestFlattenClearsHistoryButKeepsValue(t *testing.T) {
	app := waveapp.New(nil, counterClass())
	ref := mustCreate(t, app)
	require.NoError(t, app.Assign(ref, "value", 1))
	require.NoError(t, app.Assign(ref, "value", 2))
	require.NoError(t, app.Flatten())
	require.Equal(t, 2, peek(t, app, ref))
	app.Undo() // no earlier frame left to undo to
	require.Equal(t, 2, peek(t, app, ref))
}

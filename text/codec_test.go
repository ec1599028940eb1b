package text_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asadovsky/wavedoc/chron"
	"github.com/asadovsky/wavedoc/codec"
	"github.com/asadovsky/wavedoc/text"
	"github.com/asadovsky/wavedoc/waveapp"
	"github.com/asadovsky/wavedoc/world"
)

var documentSchema = world.Schema{
	Name:  "Document",
	Slots: []string{"body"},
}

func documentClass() waveapp.Class {
	return waveapp.Class{
		Schema: documentSchema,
		Methods: map[string]waveapp.MethodSpec{
			"__init__": {
				Pure: true,
				Fn: func(m *world.Model, args []any) (any, error) {
					return nil, m.Set("body", args[0])
				},
			},
			"peek": {
				Pure: true,
				Fn: func(m *world.Model, args []any) (any, error) {
					v, _, err := m.Get("body")
					return v, err
				},
			},
		},
	}
}

// TestWaveAppTextWithMarkersRoundTripsThroughCodec builds a WaveApp
// containing a Document Model whose body is a Text with a Chron and 50
// markers, then encodes and decodes the Text's snapshot and checks the
// result reproduces both the content and every marker.
func TestWaveAppTextWithMarkersRoundTripsThroughCodec(t *testing.T) {
	body := text.New("the quick brown fox jumps over the lazy dog")
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("marker-%d", i)
		body = body.Mark(id, chron.Range[rune]{Head: body.Head(), Tail: body.Tail()})
	}
	require.Len(t, body.Marks(), 50)

	app := waveapp.New(nil, documentClass())
	ref, err := app.Create("Document", body)
	require.NoError(t, err)

	got, err := app.Call(ref, "peek")
	require.NoError(t, err)
	stored := got.(text.Text)

	reg := codec.NewRegistry()
	require.NoError(t, text.RegisterCodec(reg))

	encoded, err := codec.Encode(reg, stored.Snapshot())
	require.NoError(t, err)

	decoded, err := codec.Decode(reg, encoded)
	require.NoError(t, err)
	snap, ok := decoded.(*text.TextSnapshot)
	require.True(t, ok)
	require.Equal(t, stored.Snapshot(), snap)

	restored := text.FromSnapshot(snap)
	require.Equal(t, stored.Value(), restored.Value())
	require.Len(t, restored.Marks(), 50)
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("marker-%d", i)
		_, ok := restored.RangeOf(id)
		require.True(t, ok, "marker %s missing after round trip", id)
	}
}

// TestTextRoundTripAtScalePreservesSharedRootAcrossDeletesAndCodec is
// scenario S4 at the scale it's actually meant to exercise: on the order of
// a thousand insertions (well past the persistent vector's 32-wide tail
// buffer, so the round trip walks its tree, not just its buffer), a couple
// hundred deletions, and 50 markers, some of them spanning material that
// gets deleted out from under them. It checks the round trip reproduces
// both live content and every marker's range, and that codec's
// identity-preserving decode leaves the Chron's root sentinel a single
// shared object: every entry inserted at the document head links back to
// the very same *chron.EntrySnapshot, before and after the round trip.
func TestTextRoundTripAtScalePreservesSharedRootAcrossDeletesAndCodec(t *testing.T) {
	body := text.New("")

	// Repeatedly insert at Head: each call's first codepoint anchors
	// directly on the root sentinel, so many log entries end up sharing one
	// former neighbor rather than each getting a distinct one.
	headRanges := make([]chron.Range[rune], 40)
	headLens := make([]int, 40)
	for i := 0; i < 40; i++ {
		s := fmt.Sprintf("head-%03d ", i)
		var r chron.Range[rune]
		body, r = body.InsertString(body.Head(), s)
		headRanges[i] = r
		headLens[i] = len([]rune(s))
	}

	// Append a long tail, well past the tail buffer's width on its own.
	tailRanges := make([]chron.Range[rune], 40)
	tailLens := make([]int, 40)
	for i := 0; i < 40; i++ {
		s := fmt.Sprintf("tail-filler-%03d ", i)
		var r chron.Range[rune]
		body, r = body.InsertString(body.Tail(), s)
		tailRanges[i] = r
		tailLens[i] = len([]rune(s))
	}
	require.GreaterOrEqual(t, len([]rune(body.Value())), 1000)

	// Mark 50 ranges, each spanning from one head insertion through one
	// tail insertion, before any deletion — so once some of those
	// insertions are deleted below, the surviving markers span dead
	// material rather than only ever-live text.
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("scale-marker-%d", i)
		r := chron.Range[rune]{Head: headRanges[i%len(headRanges)].Head, Tail: tailRanges[i%len(tailRanges)].Tail}
		body = body.Mark(id, r)
	}

	// Delete roughly 200 codepoints: every other head insertion in full,
	// plus a handful of tail insertions.
	deleted := 0
	for i, r := range headRanges {
		if i%2 == 0 {
			continue
		}
		body = body.DeleteRange(r)
		deleted += headLens[i]
	}
	for i := 0; i < 4; i++ {
		body = body.DeleteRange(tailRanges[i])
		deleted += tailLens[i]
	}
	require.Greater(t, deleted, 150)

	app := waveapp.New(nil, documentClass())
	ref, err := app.Create("Document", body)
	require.NoError(t, err)

	got, err := app.Call(ref, "peek")
	require.NoError(t, err)
	stored := got.(text.Text)

	reg := codec.NewRegistry()
	require.NoError(t, text.RegisterCodec(reg))

	encoded, err := codec.Encode(reg, stored.Snapshot())
	require.NoError(t, err)

	decoded, err := codec.Decode(reg, encoded)
	require.NoError(t, err)
	snap, ok := decoded.(*text.TextSnapshot)
	require.True(t, ok)

	restored := text.FromSnapshot(snap)
	require.Equal(t, stored.Value(), restored.Value())
	require.Len(t, restored.Marks(), 50)
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("scale-marker-%d", i)
		want, ok := stored.RangeOf(id)
		require.True(t, ok)
		got, ok := restored.RangeOf(id)
		require.True(t, ok, "marker %s missing after round trip", id)
		require.Equal(t, want, got)
	}

	// The identity property: every entry that anchors on the root sentinel
	// must, after decode, point at the exact same *chron.EntrySnapshot Go
	// object as snap.Entries[0], not merely an equal-valued copy of it.
	require.NotEmpty(t, snap.Entries)
	root := snap.Entries[0].(*chron.EntrySnapshot[rune])
	sharedWithRoot := 0
	for _, ev := range snap.Entries[1:] {
		e := ev.(*chron.EntrySnapshot[rune])
		if e.Former == root {
			sharedWithRoot++
		}
	}
	require.Equal(t, 1, sharedWithRoot, "expected the decoded head entry to share the root sentinel object")
}

package chronmarkup_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asadovsky/wavedoc/chron"
	"github.com/asadovsky/wavedoc/chronmarkup"
	"github.com/asadovsky/wavedoc/text"
)

type recorder struct {
	events []string
}

func (r *recorder) set() chronmarkup.MarkerSet[rune, string] {
	return chronmarkup.FuncMarkerSet[rune, string]{
		AddFunc:     func(data string, _ chron.Cursor[rune]) { r.events = append(r.events, "add:"+data) },
		DeleteFunc:  func(data string, _ chron.Cursor[rune]) { r.events = append(r.events, "delete:"+data) },
		CoveredFunc: func(data string, _ chron.Range[rune]) { r.events = append(r.events, "covered:"+data) },
	}
}

// TestHelloWorldBoldEnumeration is scenario S1: insert "Hello, ", capture a
// range over an inserted "world", insert "!", mark the captured range bold,
// then check that enumeration fires add("bold") immediately before 'w' and
// delete("bold") immediately after 'd'.
func TestHelloWorldBoldEnumeration(t *testing.T) {
	doc := text.New("")
	doc, _ = doc.InsertString(doc.Tail(), "Hello, ")
	doc, worldRange := doc.InsertString(doc.Tail(), "world")
	doc, _ = doc.InsertString(doc.Tail(), "!")

	require.Equal(t, "Hello, world!", doc.Value())

	mk := chronmarkup.New[rune, string]()
	mk = mk.Mark("bold", worldRange)

	var order []rune
	rec := &recorder{}
	mk.Entries(doc.Chron(), rec.set(), nil, func(e chron.Entry[rune]) bool {
		if !e.Atom().IsDeleted() {
			v, _ := e.Atom().Value()
			order = append(order, v)
			rec.events = append(rec.events, "entry:"+string(v))
		}
		return true
	})

	require.Equal(t, "Hello, world!", string(order))

	addIdx, delIdx, wIdx, dIdx := -1, -1, -1, -1
	for i, ev := range rec.events {
		switch ev {
		case "add:bold":
			addIdx = i
		case "delete:bold":
			delIdx = i
		}
		_ = i
	}
	require.NotEqual(t, -1, addIdx)
	require.NotEqual(t, -1, delIdx)
	require.Less(t, addIdx, delIdx)
	require.Equal(t, "entry:w", rec.events[addIdx+1], "add(bold) must come immediately before 'w'")
	require.Equal(t, "entry:d", rec.events[delIdx-1], "delete(bold) must come immediately after 'd'")

	for i, r := range order {
		if r == 'w' {
			wIdx = i
		}
		if r == 'd' {
			dIdx = i
		}
	}
	require.NotEqual(t, -1, wIdx)
	require.NotEqual(t, -1, dIdx)
}

// TestDeletionPreservesMarkupEndpoints is scenario S3: deleting an entire
// marked range leaves the marker's stable cursors resolvable (no panic,
// enumeration fires no add/delete since nothing live falls in range), and a
// later insert at the marker's former head cursor does not re-enter it.
func TestDeletionPreservesMarkupEndpoints(t *testing.T) {
	doc := text.New("")
	doc, _ = doc.InsertString(doc.Tail(), "abc")
	doc, boldRange := doc.InsertString(doc.Tail(), "def")
	doc, _ = doc.InsertString(doc.Tail(), "ghi")

	mk := chronmarkup.New[rune, string]()
	mk = mk.Mark("bold", boldRange)

	doc = doc.DeleteRange(boldRange)
	require.Equal(t, "abcghi", doc.Value())

	rng, ok := mk.RangeOf("bold")
	require.True(t, ok)
	require.Equal(t, boldRange, rng)

	rec := &recorder{}
	mk.Entries(doc.Chron(), rec.set(), nil, func(chron.Entry[rune]) bool { return true })
	for _, ev := range rec.events {
		require.NotContains(t, []string{"add:bold", "delete:bold"}, ev)
	}

	doc, _ = doc.InsertString(boldRange.Head, "X")
	require.Equal(t, "abcXghi", doc.Value())

	rec2 := &recorder{}
	mk.Entries(doc.Chron(), rec2.set(), nil, func(chron.Entry[rune]) bool { return true })
	for _, ev := range rec2.events {
		require.NotContains(t, []string{"add:bold", "delete:bold"}, ev)
	}
}

func TestUnmarkThenRangeOfNotFound(t *testing.T) {
	doc := text.New("")
	doc, r := doc.InsertString(doc.Tail(), "hi")
	mk := chronmarkup.New[rune, string]()
	mk = mk.Mark("italic", r)
	mk = mk.Unmark("italic")
	_, ok := mk.RangeOf("italic")
	require.False(t, ok)
}

func TestAtMostOneMarkerPerData(t *testing.T) {
	doc := text.New("")
	doc, r1 := doc.InsertString(doc.Tail(), "aa")
	_, r2 := doc.InsertString(doc.Tail(), "bb")
	mk := chronmarkup.New[rune, string]()
	mk = mk.Mark("tag", r1)
	mk = mk.Mark("tag", r2)
	require.Len(t, mk.Marks(), 1)
	got, ok := mk.RangeOf("tag")
	require.True(t, ok)
	require.Equal(t, r2, got)
}

// Package text adapts chron.Chron[rune] into the ordered-codepoint document
// that spec.md's Chron scenarios exercise directly. It plays the role
// goatee's server/ot.Text played for its OT diamond, but the underlying
// algorithm is chron's cursor-stable CRDT log rather than integer-offset
// operational transform: offsets shift under concurrent edits, cursors
// deliberately do not.
package text

import (
	"strings"

	"github.com/asadovsky/wavedoc/chron"
	"github.com/asadovsky/wavedoc/chronmarkup"
)

// Text is a Chron[rune] together with the string-oriented convenience API a
// text editor needs: inserting/deleting whole strings at a cursor rather
// than one codepoint at a time. It also carries a ChronMarkup keyed by
// string marker id, e.g. for comment anchors or a cursor's selection span.
type Text struct {
	chron  chron.Chron[rune]
	markup chronmarkup.Markup[rune, string]
}

// New returns a Text seeded with s.
func New(s string) Text {
	t := Text{chron: chron.New[rune](), markup: chronmarkup.New[rune, string]()}
	t, _ = t.InsertString(t.chron.Tail(), s)
	return t
}

// Chron returns the underlying Chron, e.g. for chronmarkup.Entries.
func (t Text) Chron() chron.Chron[rune] { return t.chron }

// Head returns the document's head sentinel cursor.
func (t Text) Head() chron.Cursor[rune] { return t.chron.Head() }

// Tail returns the document's tail sentinel cursor.
func (t Text) Tail() chron.Cursor[rune] { return t.chron.Tail() }

// Value returns the live document content.
func (t Text) Value() string {
	var b strings.Builder
	t.chron.Data(nil)(func(r rune) bool {
		b.WriteRune(r)
		return true
	})
	return b.String()
}

// Len returns the number of live codepoints.
func (t Text) Len() int { return t.chron.LiveLen() }

// InsertString inserts s's codepoints one at a time starting at cur, each
// subsequent codepoint anchored just after the one before it, and returns
// the updated Text along with the Range spanning the newly inserted text
// (collapsed at cur if s is empty). If cur cannot be resolved, InsertString
// is a no-op, matching chron.Chron.Insert's failure semantics.
func (t Text) InsertString(cur chron.Cursor[rune], s string) (Text, chron.Range[rune]) {
	runes := []rune(s)
	if len(runes) == 0 {
		return t, chron.Range[rune]{Head: cur, Tail: cur}
	}
	c := t.chron
	cursor := cur
	var head chron.Cursor[rune]
	for i, r := range runes {
		key := chron.RandomKey()
		next := c.Insert(cursor, r, key)
		if next.Len() == c.Len() {
			// cur (or, after the first codepoint, the freshly-inserted
			// codepoint's cursor) failed to resolve; stop rather than silently
			// dropping the remaining codepoints into the wrong place.
			if i == 0 {
				return t, chron.Range[rune]{Head: cur, Tail: cur}
			}
			break
		}
		c = next
		if i == 0 {
			head = chron.CursorByKey[rune](key, -1)
		}
		cursor = chron.CursorByKey[rune](key, 1)
	}
	return Text{chron: c, markup: t.markup}, chron.Range[rune]{Head: head, Tail: cursor}
}

// DeleteRange deletes every live entry strictly within r. Cursors bracketing
// r (including markers anchored to them) remain valid: chron.Delete never
// moves an entry, it only flips its atom to DELETED.
func (t Text) DeleteRange(r chron.Range[rune]) Text {
	c := t.chron
	var live []chron.Entry[rune]
	c.Range(r)(func(e chron.Entry[rune]) bool {
		if !e.Atom().IsDeleted() {
			live = append(live, e)
		}
		return true
	})
	for _, e := range live {
		c = c.Delete(e)
	}
	return Text{chron: c, markup: t.markup}
}

// Mark attaches marker id to range r, replacing any existing marker with
// the same id.
func (t Text) Mark(id string, r chron.Range[rune]) Text {
	t.markup = t.markup.Mark(id, r)
	return t
}

// Unmark removes marker id, if present.
func (t Text) Unmark(id string) Text {
	t.markup = t.markup.Unmark(id)
	return t
}

// RangeOf returns marker id's current range, if it has one.
func (t Text) RangeOf(id string) (chron.Range[rune], bool) {
	return t.markup.RangeOf(id)
}

// Marks returns every live marker, in insertion order.
func (t Text) Marks() []chronmarkup.Mark[rune, string] {
	return t.markup.Marks()
}

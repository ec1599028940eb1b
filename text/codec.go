package text

import (
	"github.com/asadovsky/wavedoc/chron"
	"github.com/asadovsky/wavedoc/chronmarkup"
	"github.com/asadovsky/wavedoc/codec"
)

// MarkSnapshot is one marker's persisted shape: an id together with its
// range's endpoint cursors reduced to (key, offset) pairs, which is enough
// to re-resolve the range against a rebuilt Chron (chron.CursorByKey).
type MarkSnapshot struct {
	ID         string
	HeadKey    int32
	HeadOffset int8
	TailKey    int32
	TailOffset int8
}

// TextSnapshot is Text's persisted shape: chron.Chron's own escape hatch
// (chron.EntrySnapshot) plus every live marker, all reduced to exported
// fields codec.Registry.Register can walk by reflection.
type TextSnapshot struct {
	Entries []any // each a *chron.EntrySnapshot[rune]
	Last    int
	Marks   []any // each a *MarkSnapshot
}

// RegisterCodec registers Text's codec DTOs with reg. Call once per process
// before any Encode/Decode call reaches a TextSnapshot, alongside any
// Model classes that hold a *TextSnapshot in a slot.
func RegisterCodec(reg *codec.Registry) error {
	if err := reg.Register("chron.entry", chron.EntrySnapshot[rune]{}); err != nil {
		return err
	}
	if err := reg.Register("text.mark", MarkSnapshot{}); err != nil {
		return err
	}
	if err := reg.Register("text.snapshot", TextSnapshot{}); err != nil {
		return err
	}
	return nil
}

// Snapshot flattens t into a codec-encodable TextSnapshot.
func (t Text) Snapshot() *TextSnapshot {
	entries := t.chron.Snapshot()
	out := &TextSnapshot{Last: t.chron.LastIndex()}
	for _, e := range entries {
		out.Entries = append(out.Entries, e)
	}
	for _, mk := range t.markup.Marks() {
		out.Marks = append(out.Marks, &MarkSnapshot{
			ID:         mk.Data,
			HeadKey:    mk.Range.Head.Key(),
			HeadOffset: mk.Range.Head.Offset(),
			TailKey:    mk.Range.Tail.Key(),
			TailOffset: mk.Range.Tail.Offset(),
		})
	}
	return out
}

// FromSnapshot reconstructs a Text from a TextSnapshot produced by Snapshot,
// e.g. after decoding one via codec.Decode.
func FromSnapshot(s *TextSnapshot) Text {
	entries := make([]*chron.EntrySnapshot[rune], len(s.Entries))
	for i, e := range s.Entries {
		entries[i] = e.(*chron.EntrySnapshot[rune])
	}
	t := Text{chron: chron.Rebuild(entries, s.Last), markup: chronmarkup.New[rune, string]()}
	for _, mv := range s.Marks {
		m := mv.(*MarkSnapshot)
		r := chron.Range[rune]{
			Head: chron.CursorByKey[rune](m.HeadKey, m.HeadOffset),
			Tail: chron.CursorByKey[rune](m.TailKey, m.TailOffset),
		}
		t = t.Mark(m.ID, r)
	}
	return t
}

// Package chron implements Chron, an append-only, persistent,
// order-preserving log with stable cursors. It is the sequence CRDT
// primitive used for document text (as a log of codepoints) and doubles as
// the coordinate space chronmarkup anchors span markers to.
package chron

import (
	"crypto/rand"
	"math/big"

	"github.com/asadovsky/wavedoc/internal/pvector"
	"github.com/asadovsky/wavedoc/waveerr"
)

const noIndex = -1

// maxKey is 2^28, the exclusive upper bound for entry keys (spec.md §3).
const maxKey = 1 << 28

// Atom wraps a Chron entry's payload. A deleted entry keeps its Atom (so
// former/latter links survive) but flips the deleted flag; Value then
// reports waveerr.ErrCorruptAccess instead of returning the stale payload,
// matching spec.md §4.2's CorruptAccess semantics for direct reads of a
// deleted entry's data.
type Atom[T any] struct {
	deleted bool
	value   T
}

// Live wraps v as a live atom.
func Live[T any](v T) Atom[T] {
	return Atom[T]{value: v}
}

// Deleted returns the DELETED sentinel atom for T.
func Deleted[T any]() Atom[T] {
	return Atom[T]{deleted: true}
}

// IsDeleted reports whether a is the DELETED sentinel.
func (a Atom[T]) IsDeleted() bool {
	return a.deleted
}

// Value returns a's payload, or waveerr.ErrCorruptAccess if a is deleted.
func (a Atom[T]) Value() (T, error) {
	if a.deleted {
		var zero T
		return zero, waveerr.ErrCorruptAccess
	}
	return a.value, nil
}

// Entry is an immutable record of one logical insertion into a Chron,
// possibly later deleted. Two entries are the "same" iff their (Index, Key)
// pair matches.
type Entry[T any] struct {
	index  int
	key    int32
	atom   Atom[T]
	former int // index of the logical predecessor entry, or noIndex
	latter int // index of the logical successor entry, or noIndex
}

// Index returns e's position in the underlying persistent vector. Indices
// are assigned once, at insertion, and never change.
func (e Entry[T]) Index() int { return e.index }

// Key returns e's random identifier, stable across the entry's lifetime.
func (e Entry[T]) Key() int32 { return e.key }

// Atom returns e's current atom (live or DELETED).
func (e Entry[T]) Atom() Atom[T] { return e.atom }

// SameEntry reports whether e and o share (Index, Key) identity.
func (e Entry[T]) SameEntry(o Entry[T]) bool {
	return e.index == o.index && e.key == o.key
}

// SameKey reports whether e's key matches a bare key value, per spec.md
// §3's "an entry and a bare number compare by key" rule.
func (e Entry[T]) SameKey(key int32) bool {
	return e.key == key
}

// cursorAfter returns the +1-offset cursor anchored at e; cursorBefore
// returns the -1-offset cursor. These realize the informal "log[i].tail"
// notation in spec.md §3 (a cursor anchored just after entry i).
func (e Entry[T]) cursorAfter() Cursor[T] {
	return Cursor[T]{hasIndex: true, index: e.index, key: e.key, offset: 1}
}

func (e Entry[T]) cursorBefore() Cursor[T] {
	return Cursor[T]{hasIndex: true, index: e.index, key: e.key, offset: -1}
}

// Cursor is a cross-version-stable position in a Chron: a pair (anchor,
// offset) where offset -1 means "just before anchor" and +1 means "just
// after anchor". A cursor whose anchor is only a bare key (hasIndex false)
// resolves by scanning the log for a matching key; this lets a cursor
// received from a remote source (which may not know the current physical
// index) still be resolved.
type Cursor[T any] struct {
	hasIndex bool
	index    int
	key      int32
	offset   int8
}

// CursorByKey returns a cursor anchored at a bare key, useful for cursors
// reconstructed from serialized/remote state that only carried a key.
func CursorByKey[T any](key int32, offset int8) Cursor[T] {
	return Cursor[T]{key: key, offset: offset}
}

// Key returns the cursor's anchor key.
func (c Cursor[T]) Key() int32 { return c.key }

// Offset returns the cursor's offset, -1 or +1.
func (c Cursor[T]) Offset() int8 { return c.offset }

// Range is a pair of cursors bracketing a span; a Range is collapsed when
// Head == Tail.
type Range[T any] struct {
	Head, Tail Cursor[T]
}

// Collapsed reports whether r's endpoints are identical.
func (r Range[T]) Collapsed() bool {
	return r.Head == r.Tail
}

// Chron is an append-only, persistent, order-preserving log of atoms with
// stable cursors. The zero value is not valid; use New.
type Chron[T any] struct {
	log  pvector.Vector[Entry[T]]
	last int
}

// New returns a Chron containing only its immutable DELETED root entry,
// which anchors the empty document forever (spec.md §3).
func New[T any]() Chron[T] {
	root := Entry[T]{index: 0, key: 0, atom: Deleted[T](), former: noIndex, latter: noIndex}
	log := pvector.Empty[Entry[T]]().Append(root)
	return Chron[T]{log: log, last: 0}
}

// RandomKey returns a uniform random integer in [1, 2^28), suitable as an
// Entry key.
func RandomKey() int32 {
	n, err := rand.Int(rand.Reader, big.NewInt(maxKey-1))
	if err != nil {
		// crypto/rand failure is not something callers can act on; fall back
		// to a fixed, clearly-non-random key rather than propagating an error
		// through every insertion call site.
		return 1
	}
	return int32(n.Int64()) + 1
}

func (c Chron[T]) entryAt(index int) (Entry[T], bool) {
	if index == noIndex {
		var zero Entry[T]
		return zero, false
	}
	return c.log.Get(index)
}

// AnchorOf resolves cursor to its current Entry. It matches by (index, key)
// when the cursor carries an index, falling back to a scan by key alone
// (the "bare number" case in spec.md §4.2) otherwise or if the index proves
// stale.
func (c Chron[T]) AnchorOf(cur Cursor[T]) (Entry[T], bool) {
	if cur.hasIndex {
		if e, ok := c.log.Get(cur.index); ok && e.key == cur.key {
			return e, true
		}
	}
	return c.log.Find(func(e Entry[T]) bool { return e.key == cur.key })
}

// prevTo and nextTo return the entries immediately before/after the gap a
// cursor denotes. By construction prevTo(c).latter always equals the index
// of nextTo(c), and vice versa; this invariant is what makes repeated
// inserts at a stale cursor value splice in reverse-chronological order
// (spec.md §4.2).
func (c Chron[T]) prevTo(anchor Entry[T], offset int8) (Entry[T], bool) {
	if offset < 0 {
		return c.entryAt(anchor.former)
	}
	return anchor, true
}

func (c Chron[T]) nextTo(anchor Entry[T], offset int8) (Entry[T], bool) {
	if offset < 0 {
		return anchor, true
	}
	return c.entryAt(anchor.latter)
}

// NextTo resolves cursor and returns the entry immediately after the gap it
// denotes, if any.
func (c Chron[T]) NextTo(cur Cursor[T]) (Entry[T], bool) {
	anchor, ok := c.AnchorOf(cur)
	if !ok {
		var zero Entry[T]
		return zero, false
	}
	return c.nextTo(anchor, cur.offset)
}

// PrevTo resolves cursor and returns the entry immediately before the gap
// it denotes, if any.
func (c Chron[T]) PrevTo(cur Cursor[T]) (Entry[T], bool) {
	anchor, ok := c.AnchorOf(cur)
	if !ok {
		var zero Entry[T]
		return zero, false
	}
	return c.prevTo(anchor, cur.offset)
}

// Head returns the sentinel cursor bracketing the start of the document: it
// is always the +1-offset cursor anchored at the root entry, and it never
// moves.
func (c Chron[T]) Head() Cursor[T] {
	root, _ := c.log.Get(0)
	return root.cursorAfter()
}

// Tail returns the sentinel cursor bracketing the end of the document: the
// +1-offset cursor anchored at the most recently physically-appended
// entry. It moves only when an Insert targets the current physical tail.
func (c Chron[T]) Tail() Cursor[T] {
	e, _ := c.log.Get(c.last)
	return e.cursorAfter()
}

// Insert splices a new entry immediately after prevTo(cur) and before that
// entry's former latter. If cur cannot be resolved, Insert is a silent
// no-op and returns c unchanged (spec.md §4.2/§7). If key is provided it is
// used as the new entry's key; otherwise a fresh RandomKey is generated.
func (c Chron[T]) Insert(cur Cursor[T], value T, key ...int32) Chron[T] {
	anchor, ok := c.AnchorOf(cur)
	if !ok {
		return c
	}
	p, _ := c.prevTo(anchor, cur.offset)
	q, hasQ := c.nextTo(anchor, cur.offset)

	k := RandomKey()
	if len(key) > 0 {
		k = key[0]
	}

	newIndex := c.log.Len()
	qLatter := noIndex
	if hasQ {
		qLatter = q.index
	}
	newEntry := Entry[T]{
		index:  newIndex,
		key:    k,
		atom:   Live(value),
		former: p.index,
		latter: qLatter,
	}

	log := c.log
	p.latter = newIndex
	log = log.Set(p.index, p)
	if hasQ {
		q.former = newIndex
		log = log.Set(q.index, q)
	}
	log = log.Append(newEntry)

	last := c.last
	if !hasQ {
		last = newIndex
	}
	return Chron[T]{log: log, last: last}
}

// Delete replaces entry's atom with DELETED, preserving its former/latter
// links so cursors and enumeration remain stable. It is a silent no-op if
// entry is already deleted or no longer matches the current log entry at
// its index (identity mismatch).
func (c Chron[T]) Delete(entry Entry[T]) Chron[T] {
	cur, ok := c.log.Get(entry.index)
	if !ok || cur.key != entry.key || cur.atom.IsDeleted() {
		return c
	}
	cur.atom = Deleted[T]()
	return Chron[T]{log: c.log.Set(entry.index, cur), last: c.last}
}

// EntrySeq is a restartable, finite, lazy sequence of entries: calling it
// invokes yield once per entry, in order, stopping early if yield returns
// false.
type EntrySeq[T any] func(yield func(Entry[T]) bool)

// Range returns the lazy sequence of entries (deleted and live) from
// nextTo(r.Head), inclusive, up to but not including nextTo(r.Tail).
func (c Chron[T]) Range(r Range[T]) EntrySeq[T] {
	return func(yield func(Entry[T]) bool) {
		start, ok := c.NextTo(r.Head)
		if !ok {
			return
		}
		stop, stopOk := c.NextTo(r.Tail)
		e := start
		for {
			if stopOk && e.index == stop.index {
				return
			}
			if !yield(e) {
				return
			}
			next, ok := c.entryAt(e.latter)
			if !ok {
				return
			}
			e = next
		}
	}
}

// Data returns the lazy sequence of live atom values within r, or across
// the whole document if r is nil.
func (c Chron[T]) Data(r *Range[T]) func(yield func(T) bool) {
	rr := Range[T]{Head: c.Head(), Tail: c.Tail()}
	if r != nil {
		rr = *r
	}
	return func(yield func(T) bool) {
		c.Range(rr)(func(e Entry[T]) bool {
			if e.atom.IsDeleted() {
				return true
			}
			v, _ := e.atom.Value()
			return yield(v)
		})
	}
}

// Len returns the number of entries in the log, including the root and any
// deleted entries.
func (c Chron[T]) Len() int { return c.log.Len() }

// LiveLen returns the number of live (non-deleted, non-root) entries.
func (c Chron[T]) LiveLen() int {
	n := 0
	c.Range(Range[T]{Head: c.Head(), Tail: c.Tail()})(func(e Entry[T]) bool {
		if !e.atom.IsDeleted() {
			n++
		}
		return true
	})
	return n
}

// ChronSlice bundles a Chron with a Range for convenient repeated
// iteration.
type ChronSlice[T any] struct {
	Chron Chron[T]
	Range Range[T]
}

// Slice returns a ChronSlice over r.
func (c Chron[T]) Slice(r Range[T]) ChronSlice[T] {
	return ChronSlice[T]{Chron: c, Range: r}
}

// Entries returns the lazy sequence of entries in s.
func (s ChronSlice[T]) Entries() EntrySeq[T] {
	return s.Chron.Range(s.Range)
}

// Data returns the lazy sequence of live atom values in s.
func (s ChronSlice[T]) Data() func(yield func(T) bool) {
	r := s.Range
	return s.Chron.Data(&r)
}

// LastIndex returns the physical index Tail is currently anchored at.
func (c Chron[T]) LastIndex() int { return c.last }

// EntrySnapshot is one log entry's persisted shape: chron.Entry with its
// otherwise-private fields exported, so a value of it can round-trip
// through codec's registered-struct encoding. This is the escape hatch a
// package with deliberately unexported fields (chron.Chron) uses to still
// participate in a codec.Encode/Decode graph (DESIGN.md's escape hatch).
//
// Former and Latter point directly at the neighboring EntrySnapshot rather
// than carrying its physical index, so codec's identity-preserving
// encode/decode does real work here: the root sentinel is one
// *EntrySnapshot[T] object, referenced both from the snapshot slice and
// from its successor's Former, in the original graph and again after a
// round trip.
type EntrySnapshot[T any] struct {
	Key     int32
	Deleted bool
	Value   T
	Former  *EntrySnapshot[T]
	Latter  *EntrySnapshot[T]
}

// Snapshot returns every entry in c, live and deleted, including the root
// sentinel at index 0, in physical log order.
func (c Chron[T]) Snapshot() []*EntrySnapshot[T] {
	out := make([]*EntrySnapshot[T], c.log.Len())
	for i := range out {
		out[i] = &EntrySnapshot[T]{}
	}
	c.log.Each(func(i int, e Entry[T]) bool {
		v, _ := e.atom.Value() // zero value on a deleted entry is fine here
		out[i].Key = e.key
		out[i].Deleted = e.atom.IsDeleted()
		out[i].Value = v
		if e.former != noIndex {
			out[i].Former = out[e.former]
		}
		if e.latter != noIndex {
			out[i].Latter = out[e.latter]
		}
		return true
	})
	return out
}

// Rebuild reconstructs a Chron from entries produced by Snapshot, keeping
// every entry's physical index and key intact so every Cursor that
// resolved against the original Chron still resolves against the result.
// entries must be in physical log order, exactly as Snapshot returned them
// (Former/Latter are resolved back to indices by pointer identity within
// entries, not by re-deriving order).
func Rebuild[T any](entries []*EntrySnapshot[T], last int) Chron[T] {
	indexOf := make(map[*EntrySnapshot[T]]int, len(entries))
	for i, s := range entries {
		indexOf[s] = i
	}
	log := pvector.Empty[Entry[T]]()
	for i, s := range entries {
		atom := Deleted[T]()
		if !s.Deleted {
			atom = Live(s.Value)
		}
		former, latter := noIndex, noIndex
		if s.Former != nil {
			former = indexOf[s.Former]
		}
		if s.Latter != nil {
			latter = indexOf[s.Latter]
		}
		log = log.Append(Entry[T]{index: i, key: s.Key, atom: atom, former: former, latter: latter})
	}
	return Chron[T]{log: log, last: last}
}

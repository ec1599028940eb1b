// Package chronmarkup implements ChronMarkup: a set of (marker, range)
// pairs anchored to a chron.Chron, with a sweepline enumeration algorithm
// that emits boundary-crossing open/close events consistent with deletions
// and nested spans.
package chronmarkup

import (
	"github.com/asadovsky/wavedoc/chron"
	"github.com/asadovsky/wavedoc/internal/pvector"
)

// compactThreshold is the number of NONE-range entries that may accumulate;
// once the count exceeds it, the next Mark rebuilds the marker vector
// compactly (spec.md §4.3).
const compactThreshold = 16

// marker is one (data, range) record. live is false once the marker has
// been Unmark'd; its range is then meaningless and it is a compaction
// candidate.
type marker[T any, D comparable] struct {
	data  D
	rng   chron.Range[T]
	live  bool
}

// Markup is a set of markers anchored to a chron.Chron[T], keyed by marker
// data identity D. The zero value is an empty Markup.
type Markup[T any, D comparable] struct {
	markers pvector.Vector[marker[T, D]]
}

// New returns an empty Markup.
func New[T any, D comparable]() Markup[T, D] {
	return Markup[T, D]{}
}

func (mk Markup[T, D]) indexOf(data D) (int, bool) {
	idx := -1
	mk.markers.Each(func(i int, m marker[T, D]) bool {
		if m.data == data {
			idx = i
			return false
		}
		return true
	})
	return idx, idx >= 0
}

func (mk Markup[T, D]) noneCount() int {
	n := 0
	mk.markers.Each(func(_ int, m marker[T, D]) bool {
		if !m.live {
			n++
		}
		return true
	})
	return n
}

func (mk Markup[T, D]) compact() Markup[T, D] {
	return Markup[T, D]{markers: mk.markers.Filter(func(m marker[T, D]) bool { return m.live })}
}

// Mark replaces any existing entry for data with (data, r), appending if
// absent. If the resulting number of NONE-range (unmarked) entries exceeds
// compactThreshold, the vector is rebuilt compactly first.
func (mk Markup[T, D]) Mark(data D, r chron.Range[T]) Markup[T, D] {
	if mk.noneCount() > compactThreshold {
		mk = mk.compact()
	}
	m := marker[T, D]{data: data, rng: r, live: true}
	if i, ok := mk.indexOf(data); ok {
		return Markup[T, D]{markers: mk.markers.Set(i, m)}
	}
	return Markup[T, D]{markers: mk.markers.Append(m)}
}

// Unmark marks data with a NONE range: RangeOf(data) subsequently reports
// not-found, and the entry is lazily garbage collected on a later Mark.
func (mk Markup[T, D]) Unmark(data D) Markup[T, D] {
	i, ok := mk.indexOf(data)
	if !ok {
		return mk
	}
	m, _ := mk.markers.Get(i)
	m.live = false
	return Markup[T, D]{markers: mk.markers.Set(i, m)}
}

// RangeOf returns data's current range, if it has one.
func (mk Markup[T, D]) RangeOf(data D) (chron.Range[T], bool) {
	i, ok := mk.indexOf(data)
	if !ok {
		return chron.Range[T]{}, false
	}
	m, _ := mk.markers.Get(i)
	if !m.live {
		return chron.Range[T]{}, false
	}
	return m.rng, true
}

// Mark is a live (data, range) snapshot pair, as returned by Marks.
type Mark[T any, D comparable] struct {
	Data  D
	Range chron.Range[T]
}

// Marks returns a snapshot of every live marker, in insertion order. This
// is the cheap "what markers exist right now" query a renderer wants
// without running the full sweepline enumeration, mirroring the role
// goatee's PopulateSnapshot played for ot.Text.
func (mk Markup[T, D]) Marks() []Mark[T, D] {
	var out []Mark[T, D]
	mk.markers.Each(func(_ int, m marker[T, D]) bool {
		if m.live {
			out = append(out, Mark[T, D]{Data: m.data, Range: m.rng})
		}
		return true
	})
	return out
}

// MarkerSet receives the boundary-crossing callbacks Entries fires during
// enumeration.
type MarkerSet[T any, D comparable] interface {
	// Add is invoked when data's marker opens at cur.
	Add(data D, cur chron.Cursor[T])
	// Delete is invoked when data's marker closes at cur.
	Delete(data D, cur chron.Cursor[T])
	// Covered is invoked once per marker that was already open at the start
	// of the queried range and remains open at its end, without an Add or
	// Delete inside the range.
	Covered(data D, r chron.Range[T])
	// Filter is consulted once per live marker before traversal begins; a
	// false result excludes the marker from the whole enumeration.
	Filter(data D, r chron.Range[T]) bool
}

// FuncMarkerSet adapts four functions into a MarkerSet, with sensible
// defaults for any nil pair. Filter defaults to including every marker.
type FuncMarkerSet[T any, D comparable] struct {
	AddFunc     func(data D, cur chron.Cursor[T])
	DeleteFunc  func(data D, cur chron.Cursor[T])
	CoveredFunc func(data D, r chron.Range[T])
	FilterFunc  func(data D, r chron.Range[T]) bool
}

func (f FuncMarkerSet[T, D]) Add(data D, cur chron.Cursor[T]) {
	if f.AddFunc != nil {
		f.AddFunc(data, cur)
	}
}

func (f FuncMarkerSet[T, D]) Delete(data D, cur chron.Cursor[T]) {
	if f.DeleteFunc != nil {
		f.DeleteFunc(data, cur)
	}
}

func (f FuncMarkerSet[T, D]) Covered(data D, r chron.Range[T]) {
	if f.CoveredFunc != nil {
		f.CoveredFunc(data, r)
	}
}

func (f FuncMarkerSet[T, D]) Filter(data D, r chron.Range[T]) bool {
	if f.FilterFunc == nil {
		return true
	}
	return f.FilterFunc(data, r)
}

// bucketKey buckets a cursor by the index of the entry it anchors to, or -1
// if the cursor's anchor cannot be resolved against cr (spec.md §4.3's
// "pre-root head/tail sentinels" bucket, generalized to any dangling
// cursor; see DESIGN.md).
func bucketKey[T any](cr chron.Chron[T], cur chron.Cursor[T]) int {
	e, ok := cr.AnchorOf(cur)
	if !ok {
		return -1
	}
	return e.Index()
}

type boundEvent[T any, D comparable] struct {
	data D
	cur  chron.Cursor[T]
	rng  chron.Range[T]
}

// Entries is the central enumeration: it walks the entries of cr
// within queryRange (or the whole document if queryRange is nil), invoking
// ms's Add/Delete/Covered callbacks as marker boundaries are crossed, and
// calls yield once per walked entry (live and deleted alike). Returning
// false from yield stops the walk early.
func (mk Markup[T, D]) Entries(cr chron.Chron[T], ms MarkerSet[T, D], queryRange *chron.Range[T], yield func(chron.Entry[T]) bool) {
	opens := map[int][]boundEvent[T, D]{}
	closes := map[int][]boundEvent[T, D]{}

	mk.markers.Each(func(_ int, m marker[T, D]) bool {
		if !m.live {
			return true
		}
		if !ms.Filter(m.data, m.rng) {
			return true
		}
		hk := bucketKey(cr, m.rng.Head)
		tk := bucketKey(cr, m.rng.Tail)
		opens[hk] = append(opens[hk], boundEvent[T, D]{data: m.data, cur: m.rng.Head, rng: m.rng})
		closes[tk] = append(closes[tk], boundEvent[T, D]{data: m.data, cur: m.rng.Tail, rng: m.rng})
		return true
	})

	active := map[D]chron.Range[T]{}

	fireOpens := func(bucket int, silent bool) {
		for _, ev := range opens[bucket] {
			active[ev.data] = ev.rng
			if !silent {
				ms.Add(ev.data, ev.cur)
			}
		}
	}
	fireCloses := func(bucket int, silent bool) {
		evs := closes[bucket]
		for i := len(evs) - 1; i >= 0; i-- {
			ev := evs[i]
			if !silent {
				ms.Delete(ev.data, ev.cur)
			}
			delete(active, ev.data)
		}
	}

	head, tail := cr.Head(), cr.Tail()
	qHead, qTail := head, tail
	hasRange := queryRange != nil
	if hasRange {
		qHead, qTail = queryRange.Head, queryRange.Tail
	}

	silentBoundary := hasRange && qHead != head
	fireOpens(-1, silentBoundary)
	fireCloses(-1, silentBoundary)

	if hasRange {
		cr.Range(chron.Range[T]{Head: head, Tail: qHead})(func(e chron.Entry[T]) bool {
			if !e.Atom().IsDeleted() {
				fireOpens(e.Index(), true)
				fireCloses(e.Index(), true)
			}
			return true
		})
	}

	activeAtStart := make(map[D]chron.Range[T], len(active))
	for d, r := range active {
		activeAtStart[d] = r
	}

	// A deleted entry has no visual presence, so it never crosses a marker
	// boundary: an entry buried inside a fully-deleted marked span (spec.md
	// §4.3's S3 scenario) never triggers that marker's Add/Delete.
	stopped := false
	cr.Range(chron.Range[T]{Head: qHead, Tail: qTail})(func(e chron.Entry[T]) bool {
		live := !e.Atom().IsDeleted()
		if live {
			fireOpens(e.Index(), false)
		}
		if !yield(e) {
			stopped = true
			return false
		}
		if live {
			fireCloses(e.Index(), false)
		}
		return true
	})
	_ = stopped

	for d, r := range activeAtStart {
		if _, stillActive := active[d]; stillActive {
			ms.Covered(d, r)
		}
	}
}

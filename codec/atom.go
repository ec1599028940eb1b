// Package codec implements the graph-aware binary serializer: a two-pass
// index/encode scheme that assigns pointer ids by descending reference
// count and breaks reference cycles on decode via a predecode/decode split
// that allocates shells before populating them (spec.md §4.4).
package codec

// tag is one of the atom kinds. Each tag is written as one full byte
// immediately before its atom's payload; tags are not packed into a
// separate head array.
type tag byte

const (
	tagUnknown tag = iota
	tagPointer
	tagPositiveInt
	tagNegativeInt
	tagFloat64
	tagString
	tagUndefined
	tagTrue
	tagFalse
	tagNull
	tagArray
	tagPlainObject
	tagObject
	tagMap
	tagSet
)

// Undefined is codec's stand-in for JavaScript's undefined, distinct from
// nil/NULL: Go has no built-in third state, so registering this sentinel
// type gives callers one when they need to round-trip that distinction.
type Undefined struct{}

// Map is an ordered, arbitrary-key association list, for values that don't
// fit Go's map[string]any PLAIN_OBJECT shape (spec.md's MAP atom).
type Map struct {
	keys []any
	vals []any
}

// NewMap returns an empty Map.
func NewMap() *Map { return &Map{} }

// Set appends or replaces the value for k.
func (m *Map) Set(k, v any) {
	for i, ek := range m.keys {
		if ek == k {
			m.vals[i] = v
			return
		}
	}
	m.keys = append(m.keys, k)
	m.vals = append(m.vals, v)
}

// Len returns the number of pairs in m.
func (m *Map) Len() int { return len(m.keys) }

// Each calls f once per (key, value) pair, in insertion order.
func (m *Map) Each(f func(k, v any)) {
	for i, k := range m.keys {
		f(k, m.vals[i])
	}
}

// Set is an ordered collection of values (spec.md's SET atom). Add does not
// check for duplicates, so a value added twice is held twice.
type Set struct {
	items []any
}

// NewSet returns an empty Set.
func NewSet() *Set { return &Set{} }

// Add appends v to s.
func (s *Set) Add(v any) { s.items = append(s.items, v) }

// Len returns the number of items in s.
func (s *Set) Len() int { return len(s.items) }

// Each calls f once per item, in insertion order.
func (s *Set) Each(f func(v any)) {
	for _, v := range s.items {
		f(v)
	}
}

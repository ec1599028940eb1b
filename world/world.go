// Package world implements the layered, mutable-over-immutable World/Model/
// Slot state engine: transactional snapshots with MVCC commit-conflict
// detection, structured as a stack of parent-linked Worlds the way goatee's
// hub kept a single mutable document but generalized to a full snapshot
// chain (spec.md §4.5).
package world

import (
	"fmt"
	"strconv"

	"github.com/asadovsky/wavedoc/waveerr"
)

// Ref is an opaque, cross-Model pointer: the only way one Model may refer to
// another. Refs downcast to their bare id on serialization.
type Ref struct {
	id string
}

// RefFor returns the Ref naming id.
func RefFor(id string) Ref { return Ref{id: id} }

// ID returns r's opaque identifier.
func (r Ref) ID() string { return r.id }

// IsZero reports whether r is the zero Ref (no Model).
func (r Ref) IsZero() bool { return r.id == "" }

// slotValue is a slot's payload: any plain value, a Ref, or absent (NONE,
// represented by ok=false at the call site rather than a sentinel, since Go
// lets us return that directly).
type slotValue struct {
	val   any
	isRef bool
	ref   Ref
	set   bool
}

func liveValue(v any) slotValue {
	if r, ok := v.(Ref); ok {
		return slotValue{isRef: true, ref: r, set: true}
	}
	return slotValue{val: v, set: true}
}

func (s slotValue) get() any {
	if s.isRef {
		return s.ref
	}
	return s.val
}

// equalTo reports whether s and o hold the same value: reference equality
// for Refs (by id, since Refs are opaque values, not pointers, in this
// port), == otherwise. Used by Commit's conflict check.
func (s slotValue) equalTo(o slotValue) bool {
	if s.set != o.set {
		return false
	}
	if !s.set {
		return true
	}
	if s.isRef != o.isRef {
		return false
	}
	if s.isRef {
		return s.ref == o.ref
	}
	return s.val == o.val
}

// SlotType constrains a slot to a Go type, by the name typeNameOf reports:
// "ref", "string", "int", "int64", "float64" or "bool". A constraint naming
// any other type matches no value. The empty string means unconstrained.
type SlotType string

// typeNameOf returns the SlotType of v: "ref" for a Ref, else v's dynamic
// type name via a type switch on the primitive kinds Model slots hold, or ""
// for any other type.
func typeNameOf(v any) string {
	switch v.(type) {
	case Ref:
		return "ref"
	case string:
		return "string"
	case int:
		return "int"
	case int64:
		return "int64"
	case float64:
		return "float64"
	case bool:
		return "bool"
	default:
		return ""
	}
}

// Schema declares a Model type's named slots and their optional type
// constraints (spec.md §6's "Model authoring interface"). Wave-merge tags
// are not part of Schema; they live on waveapp.MethodSpec.
type Schema struct {
	Name  string
	Slots []string
	Types map[string]SlotType
}

func (s Schema) slotIndex(name string) (int, bool) {
	for i, n := range s.Slots {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// Model is a versioned bundle of slot values living in a particular World.
// reads caches ancestor-observed values (write-through on first read);
// writes holds this World's own pending changes. A Model is modified iff any
// writes[i] is set.
type Model struct {
	id     string
	schema Schema
	world  *World
	reads  []slotValue
	writes []slotValue
}

// ID returns m's stable identifier, shared by every version of this Model
// across every World.
func (m *Model) ID() string { return m.id }

// Ref returns the Ref naming this Model.
func (m *Model) Ref() Ref { return RefFor(m.id) }

func newModel(id string, schema Schema, w *World) *Model {
	return &Model{
		id:     id,
		schema: schema,
		world:  w,
		reads:  make([]slotValue, len(schema.Slots)),
		writes: make([]slotValue, len(schema.Slots)),
	}
}

func (m *Model) hasWrites() bool {
	for _, w := range m.writes {
		if w.set {
			return true
		}
	}
	return false
}

func (m *Model) shadow(w *World) *Model {
	s := newModel(m.id, m.schema, w)
	return s
}

// Get reads slot name's current value as seen from m's World: local write,
// else local cached read, else walk up the parent chain (spec.md §4.5's
// readSlot precedence).
func (m *Model) Get(name string) (any, bool, error) {
	i, ok := m.schema.slotIndex(name)
	if !ok {
		return nil, false, fmt.Errorf("world: unknown slot %q on %s: %w", name, m.schema.Name, waveerr.ErrUnknownRef)
	}
	sv, ok := m.readSlot(i)
	if !ok {
		return nil, false, nil
	}
	return sv.get(), true, nil
}

func (m *Model) readSlot(i int) (slotValue, bool) {
	if m.writes[i].set {
		return m.writes[i], true
	}
	if m.reads[i].set {
		return m.reads[i], true
	}
	sv, ok := m.world.getSlot(m.id, i)
	if ok {
		m.reads[i] = downcast(sv)
	}
	return sv, ok
}

// downcast strips a Ref-holding slotValue down to a bare Ref, matching
// spec.md §4.5's "Refs downcast to bare Refs on copy" rule for values
// crossing a World boundary into a cache.
func downcast(sv slotValue) slotValue {
	if sv.isRef {
		return slotValue{isRef: true, ref: RefFor(sv.ref.ID()), set: true}
	}
	return sv
}

// Set stages a write to slot name in m's own World, enforcing the schema's
// type constraint if any. Fails with waveerr.ErrLockedWrite if m's World is
// locked.
func (m *Model) Set(name string, value any) error {
	i, ok := m.schema.slotIndex(name)
	if !ok {
		return fmt.Errorf("world: unknown slot %q on %s: %w", name, m.schema.Name, waveerr.ErrUnknownRef)
	}
	if m.world.locked {
		return fmt.Errorf("world: set %s.%s: %w", m.schema.Name, name, waveerr.ErrLockedWrite)
	}
	if want, ok := m.schema.Types[name]; ok && want != "" {
		if got := typeNameOf(value); got != string(want) {
			return fmt.Errorf("world: %s.%s wants %s, got %s: %w", m.schema.Name, name, want, got, waveerr.ErrTypeMismatch)
		}
	}
	m.writes[i] = liveValue(value)
	// Bind already registers an ancestor shadow in its World's models map;
	// registering here as well guarantees Commit's walk sees these writes.
	m.world.models[m.id] = m
	m.world.markWritten(m.id)
	return nil
}

// keyStream is the shared, mutable, monotonic id generator threaded down a
// World's parent chain: the only mutable cell any World shares with its
// ancestors (spec.md §5).
type keyStream struct {
	next int
}

func (k *keyStream) allocate() string {
	k.next++
	return strconv.FormatInt(int64(k.next), 36)
}

// lookupCache is the flattened id -> per-slot value map a locked World may
// build once its chain (the World itself plus every ancestor, whether or not
// an ancestor already holds a cache) grows past cacheThreshold, giving
// O(1) deep reads regardless of chain depth (spec.md §4.5, S6). Values are
// resolved by walking the chain root-to-tip once, so the nearest write to
// any slot always wins.
type lookupCache struct {
	slots map[string][]slotValue
}

const cacheThreshold = 64

// World is one immutable-once-locked snapshot layer: a set of locally
// modified Models plus a link to its parent World. The live (unlocked) top
// of a chain is the only World new writes may land in.
type World struct {
	parent   *World
	models   map[string]*Model
	keys     *keyStream
	children map[*World]bool
	locked   bool
	cache    *lookupCache
	depth    int
}

// NewRoot returns a fresh, unlocked, parentless World with its own key
// stream.
func NewRoot() *World {
	return &World{
		models:   map[string]*Model{},
		keys:     &keyStream{},
		children: map[*World]bool{},
	}
}

// Child returns a new unlocked World whose parent is w.
func (w *World) Child() *World {
	c := &World{
		parent:   w,
		models:   map[string]*Model{},
		keys:     w.keys,
		children: map[*World]bool{},
		depth:    w.depth + 1,
	}
	w.children[c] = true
	return c
}

// Depth returns the number of ancestors between w and its root.
func (w *World) Depth() int { return w.depth }

// Locked reports whether w (and therefore every write to it) is frozen.
func (w *World) Locked() bool { return w.locked }

// Stats is a diagnostic snapshot of a World, for callers that want to
// observe chain growth without pulling in a metrics dependency.
type Stats struct {
	Depth      int
	ModelCount int
	Locked     bool
}

// Stats returns w's diagnostic snapshot.
func (w *World) Stats() Stats {
	return Stats{Depth: w.depth, ModelCount: len(w.models), Locked: w.locked}
}

func (w *World) markWritten(id string) {
	w.cache = nil
}

// Create materializes a brand-new Model of the given schema in w, allocating
// its id from the shared key stream.
func (w *World) Create(schema Schema) (*Model, error) {
	if w.locked {
		return nil, fmt.Errorf("world: create %s: %w", schema.Name, waveerr.ErrLockedWrite)
	}
	id := schema.Name + "#" + w.keys.allocate()
	m := newModel(id, schema, w)
	w.models[id] = m
	w.cache = nil
	return m, nil
}

// Bind returns the Model named by ref as seen from w: w's own instance if
// w's models map holds one, else a freshly materialized child-local shadow
// with empty reads/writes, bound to the schema found on the nearest ancestor
// holding this id and registered in w. If no World in the chain holds the
// id, Bind fails with waveerr.ErrUnknownRef.
func (w *World) Bind(ref Ref) (*Model, error) {
	for cur := w; cur != nil; cur = cur.parent {
		if m, ok := cur.models[ref.id]; ok {
			if cur == w {
				return m, nil
			}
			shadow := m.shadow(w)
			// Registering the shadow lets its write-through read cache survive
			// across repeated Binds instead of being rebuilt from scratch each
			// time.
			w.models[ref.id] = shadow
			w.cache = nil
			return shadow, nil
		}
	}
	return nil, fmt.Errorf("world: bind %s: %w", ref.id, waveerr.ErrUnknownRef)
}

// getSlot walks up from w itself looking for the nearest World with a value
// for (id, slot index i), consulting w's lookup cache instead if built.
func (w *World) getSlot(id string, i int) (slotValue, bool) {
	if w.cache != nil {
		slots, ok := w.cache.slots[id]
		if !ok || i >= len(slots) {
			return slotValue{}, false
		}
		return slots[i], slots[i].set
	}
	for cur := w; cur != nil; cur = cur.parent {
		if m, ok := cur.models[id]; ok {
			if m.writes[i].set {
				return m.writes[i], true
			}
			if m.reads[i].set {
				return m.reads[i], true
			}
		}
	}
	return slotValue{}, false
}

// Lock freezes w and every ancestor, making further writes to any of them
// fail with waveerr.ErrLockedWrite. If the chain (w plus every ancestor)
// holds more than cacheThreshold Worlds, Lock builds a flattened lookup
// cache on w merging every ancestor's Models (nearest wins). Caches already
// held by ancestors are not consulted or subtracted from that count.
func (w *World) Lock() {
	n := 0
	for cur := w; cur != nil; cur = cur.parent {
		cur.locked = true
		n++
	}
	if n > cacheThreshold {
		w.buildCache()
	}
}

func (w *World) buildCache() {
	resolved := map[string][]slotValue{}
	chain := []*World{}
	for cur := w; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	// Walk root-to-tip so a nearer World's write always overrides a farther
	// ancestor's, yielding "latest write anywhere in the chain" per id/slot.
	for i := len(chain) - 1; i >= 0; i-- {
		for id, m := range chain[i].models {
			slots, ok := resolved[id]
			if !ok {
				slots = make([]slotValue, len(m.writes))
				resolved[id] = slots
			}
			for j, wv := range m.writes {
				if wv.set {
					slots[j] = wv
				}
			}
		}
	}
	w.cache = &lookupCache{slots: resolved}
}

// Unlock clears w's locked flag and cache, and does the same for every
// ancestor.
func (w *World) Unlock() {
	for cur := w; cur != nil; cur = cur.parent {
		cur.locked = false
		cur.cache = nil
	}
}

// Commit merges w's locally modified Models into w.parent, failing with
// waveerr.ErrCommitConflict if any Model read a value from the parent that
// has since changed there. On success, writes are merged into (possibly
// newly created) parent-level Models, and reads for which the parent had no
// prior value are propagated upward.
func (w *World) Commit() error {
	if w.parent == nil {
		return fmt.Errorf("world: commit: root has no parent: %w", waveerr.ErrCommitConflict)
	}
	p := w.parent

	// Validate every modified Model before applying any merge, so a conflict
	// on one Model never leaves another Model's writes half-applied.
	for id, m := range w.models {
		if !m.hasWrites() {
			continue
		}
		for i, r := range m.reads {
			if !r.set {
				continue
			}
			cur, ok := p.getSlot(id, i)
			if !ok || !cur.equalTo(r) {
				return fmt.Errorf("world: commit %s: %w", id, waveerr.ErrCommitConflict)
			}
		}
	}

	for id, m := range w.models {
		if !m.hasWrites() {
			continue
		}
		pm, ok := p.models[id]
		if !ok {
			pm = newModel(id, m.schema, p)
			p.models[id] = pm
		}
		for i, wv := range m.writes {
			if wv.set {
				pm.writes[i] = wv
			}
		}
		for i, r := range m.reads {
			if r.set && !pm.reads[i].set && !pm.writes[i].set {
				pm.reads[i] = r
			}
		}
	}
	p.cache = nil
	return nil
}

// IsLocallyModified reports whether w itself (not an ancestor) holds a
// pending write for ref.
func (w *World) IsLocallyModified(ref Ref) bool {
	m, ok := w.models[ref.id]
	return ok && m.hasWrites()
}

// Detach removes w from its parent's children set without checking whether
// the parent is locked.
func (w *World) Detach() {
	if w.parent != nil {
		delete(w.parent.children, w)
	}
}

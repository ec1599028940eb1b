// Package pvector implements a persistent, bitmapped-trie vector with fanout
// 32, in the shape of Clojure's PersistentVector. It backs both chron's
// entry log and chronmarkup's marker list, giving both O(log32 n)
// structurally-shared updates.
package pvector

const (
	bitChunk  = 5
	width     = 1 << bitChunk // 32
	chunkMask = width - 1
)

type node[T any] struct {
	// children holds width entries; at a leaf node (shift == 0 in the
	// owning Vector's traversal) each entry is a T boxed in interface{},
	// otherwise each is a *node[T].
	children [width]any
}

func (n *node[T]) clone() *node[T] {
	m := *n
	return &m
}

// Vector is a persistent, structurally-shared vector. The zero value is a
// valid empty vector and plays the role of the "shared singleton empty
// vector" spec.md requires: it allocates nothing and every empty Vector[T]
// is deeply equal (reflect.DeepEqual) to every other. Vector holds a slice,
// so it is not comparable with ==.
type Vector[T any] struct {
	count int
	shift uint // (height)*bitChunk; 0 when root is nil or a leaf
	root  *node[T]
	tail  []T
}

// Empty returns the empty vector. Provided for readability at call sites
// that would otherwise construct Vector[T]{} directly.
func Empty[T any]() Vector[T] {
	return Vector[T]{}
}

// Len returns the number of elements in v.
func (v Vector[T]) Len() int {
	return v.count
}

// Last returns the last element, if any.
func (v Vector[T]) Last() (T, bool) {
	if v.count == 0 {
		var zero T
		return zero, false
	}
	return v.Get(v.count - 1)
}

func (v Vector[T]) tailoff() int {
	if v.count < width {
		return 0
	}
	return ((v.count - 1) >> bitChunk) << bitChunk
}

// Get returns the element at i, or the zero value of T and false if i is
// out of [0, Len()).
func (v Vector[T]) Get(i int) (T, bool) {
	var zero T
	if i < 0 || i >= v.count {
		return zero, false
	}
	if i >= v.tailoff() {
		return v.tail[i&chunkMask], true
	}
	n := v.root
	for shift := v.shift; shift > 0; shift -= bitChunk {
		n = n.children[(i>>shift)&chunkMask].(*node[T])
	}
	val, _ := n.children[i&chunkMask].(T)
	return val, true
}

// Set returns a new vector with the element at i replaced by val. Setting
// i == Len() is equivalent to Append. Setting i > Len() fills the
// intermediate indices with the zero value of T (playing the role of the
// spec's NONE filler) before appending val.
func (v Vector[T]) Set(i int, val T) Vector[T] {
	if i < 0 {
		return v
	}
	if i > v.count {
		var zero T
		w := v
		for w.count < i {
			w = w.Append(zero)
		}
		return w.Append(val)
	}
	if i == v.count {
		return v.Append(val)
	}
	if i >= v.tailoff() {
		newTail := make([]T, len(v.tail))
		copy(newTail, v.tail)
		newTail[i&chunkMask] = val
		return Vector[T]{v.count, v.shift, v.root, newTail}
	}
	return Vector[T]{v.count, v.shift, doAssoc(v.root, v.shift, i, val), v.tail}
}

func doAssoc[T any](n *node[T], shift uint, i int, val T) *node[T] {
	m := n.clone()
	if shift == 0 {
		m.children[i&chunkMask] = val
	} else {
		child := m.children[(i>>shift)&chunkMask].(*node[T])
		m.children[(i>>shift)&chunkMask] = doAssoc(child, shift-bitChunk, i, val)
	}
	return m
}

// Append returns a new vector with val appended.
func (v Vector[T]) Append(val T) Vector[T] {
	// Room in the tail buffer.
	if len(v.tail) < width {
		newTail := make([]T, len(v.tail)+1)
		copy(newTail, v.tail)
		newTail[len(v.tail)] = val
		return Vector[T]{v.count + 1, v.shift, v.root, newTail}
	}
	// Tail is full; it becomes a new leaf pushed into the trie.
	tailNode := &node[T]{}
	for i, e := range v.tail {
		tailNode.children[i] = e
	}
	var newRoot *node[T]
	newShift := v.shift
	if v.root == nil {
		newRoot = tailNode
	} else if (v.count >> bitChunk) > (1 << v.shift) {
		// Root is full; grow a new level.
		newRoot = &node[T]{}
		newRoot.children[0] = v.root
		newRoot.children[1] = newPath(v.shift, tailNode)
		newShift = v.shift + bitChunk
	} else {
		newRoot = pushTail(v.shift, v.root, tailNode, v.count)
	}
	return Vector[T]{v.count + 1, newShift, newRoot, []T{val}}
}

func newPath[T any](shift uint, n *node[T]) *node[T] {
	if shift == 0 {
		return n
	}
	p := &node[T]{}
	p.children[0] = newPath(shift-bitChunk, n)
	return p
}

func pushTail[T any](shift uint, parent, tailNode *node[T], count int) *node[T] {
	subIdx := ((count - 1) >> shift) & chunkMask
	ret := parent.clone()
	if shift == bitChunk {
		ret.children[subIdx] = tailNode
		return ret
	}
	child, _ := parent.children[subIdx].(*node[T])
	if child == nil {
		ret.children[subIdx] = newPath(shift-bitChunk, tailNode)
	} else {
		ret.children[subIdx] = pushTail(shift-bitChunk, child, tailNode, count)
	}
	return ret
}

// Pop returns a new vector with the last element removed. Popping the empty
// vector returns the empty vector.
func (v Vector[T]) Pop() Vector[T] {
	if v.count == 0 {
		return v
	}
	if v.count == 1 {
		return Vector[T]{}
	}
	if len(v.tail) > 1 {
		newTail := make([]T, len(v.tail)-1)
		copy(newTail, v.tail)
		return Vector[T]{v.count - 1, v.shift, v.root, newTail}
	}
	// Tail has exactly one element (or is the trie's rightmost leaf); pull a
	// fresh tail out of the trie.
	newTail := v.leafSlice(v.count - 2)
	newRoot := popTail(v.shift, v.root, v.count)
	newShift := v.shift
	if newRoot == nil {
		newRoot = &node[T]{}
	}
	if v.shift > bitChunk {
		if child, ok := newRoot.children[1].(*node[T]); !ok || child == nil {
			newRoot, _ = newRoot.children[0].(*node[T])
			newShift -= bitChunk
		}
	}
	return Vector[T]{v.count - 1, newShift, newRoot, newTail}
}

func (v Vector[T]) leafSlice(i int) []T {
	n := v.root
	for shift := v.shift; shift > 0; shift -= bitChunk {
		n = n.children[(i>>shift)&chunkMask].(*node[T])
	}
	out := make([]T, width)
	for j := range out {
		out[j], _ = n.children[j].(T)
	}
	return out
}

func popTail[T any](shift uint, n *node[T], count int) *node[T] {
	subIdx := ((count - 2) >> shift) & chunkMask
	if shift > bitChunk {
		child, _ := n.children[subIdx].(*node[T])
		newChild := popTail(shift-bitChunk, child, count)
		ret := n.clone()
		if newChild == nil && subIdx == 0 {
			return nil
		}
		ret.children[subIdx] = newChild
		return ret
	} else if subIdx == 0 {
		return nil
	}
	ret := n.clone()
	ret.children[subIdx] = nil
	return ret
}

// Each calls f for every element in index order, stopping early if f
// returns false.
func (v Vector[T]) Each(f func(i int, val T) bool) {
	for i := 0; i < v.count; i++ {
		val, _ := v.Get(i)
		if !f(i, val) {
			return
		}
	}
}

// Find returns the first element for which pred returns true.
func (v Vector[T]) Find(pred func(T) bool) (T, bool) {
	var out T
	var found bool
	v.Each(func(_ int, val T) bool {
		if pred(val) {
			out, found = val, true
			return false
		}
		return true
	})
	return out, found
}

// Filter returns a new vector containing only the elements for which pred
// returns true, preserving order. This necessarily rebuilds the vector: a
// filtered result generally has different indices than the source and
// cannot be structurally shared with it.
func (v Vector[T]) Filter(pred func(T) bool) Vector[T] {
	out := Empty[T]()
	v.Each(func(_ int, val T) bool {
		if pred(val) {
			out = out.Append(val)
		}
		return true
	})
	return out
}

// Slice returns the elements in [lo, hi) as a plain Go slice.
func (v Vector[T]) Slice(lo, hi int) []T {
	if lo < 0 {
		lo = 0
	}
	if hi > v.count {
		hi = v.count
	}
	if lo >= hi {
		return nil
	}
	out := make([]T, 0, hi-lo)
	for i := lo; i < hi; i++ {
		val, _ := v.Get(i)
		out = append(out, val)
	}
	return out
}

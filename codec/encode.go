package codec

import (
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/asadovsky/wavedoc/waveerr"
)

// safeIntBound is the exclusive bound on the absolute value encode will
// represent as an integer atom (well inside the 49-bit varint payload, per
// spec.md §4.4's varint overflow guard); at or beyond it a value is encoded
// as FLOAT64 instead.
const safeIntBound = 1 << 48

// tagBoost is added to a type's tag-string refcount for every OBJECT
// instance encoded, so a type name shared by many instances sorts to a low
// rank and its body is written once near the head of the object table
// (spec.md §4.4).
const tagBoost = 1 << 30

type objKey struct {
	kind tag
	ptr  uintptr
	str  string
}

type object struct {
	kind     tag
	refcount int
	seq      int
	rank     int

	str    string
	slice  []any
	pmap   map[string]any
	pmKeys []string // stable key order snapshot for PLAIN_OBJECT, taken at index time
	m      *Map
	set    *Set
	objPtr any            // registered struct pointer
	objVal reflect.Value  // Elem() of objPtr
	info   *typeInfo
}

// Encoder runs the two-pass index/encode algorithm against a Registry.
type Encoder struct {
	reg     *Registry
	objects map[objKey]*object
	order   []*object
}

// NewEncoder returns an Encoder that resolves registered types via reg.
func NewEncoder(reg *Registry) *Encoder {
	return &Encoder{reg: reg, objects: map[objKey]*object{}}
}

// Encode runs Pass 1 (index) then Pass 2 (encode) over root and returns the
// resulting stream. root must be (or contain, reachably) at least one
// composite value; a bare leaf primitive is rejected since the stream
// format always names a ranked root object.
func Encode(reg *Registry, root any) ([]byte, error) {
	e := NewEncoder(reg)
	if err := e.index(root); err != nil {
		return nil, err
	}
	rootKey, ok := identityKey(root)
	if !ok {
		return nil, fmt.Errorf("codec: encode: root must be a composite value")
	}
	rootObj, ok := e.objects[rootKey]
	if !ok {
		return nil, fmt.Errorf("codec: encode: root not indexed")
	}
	return e.encode(rootObj)
}

func identityKey(v any) (objKey, bool) {
	switch t := v.(type) {
	case string:
		if len(t) > 2 {
			return objKey{kind: tagString, str: t}, true
		}
		return objKey{}, false
	case []any:
		rv := reflect.ValueOf(t)
		return objKey{kind: tagArray, ptr: sliceIdentity(rv)}, true
	case map[string]any:
		return objKey{kind: tagPlainObject, ptr: reflect.ValueOf(t).Pointer()}, true
	case *Map:
		return objKey{kind: tagMap, ptr: reflect.ValueOf(t).Pointer()}, true
	case *Set:
		return objKey{kind: tagSet, ptr: reflect.ValueOf(t).Pointer()}, true
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer && !rv.IsNil() {
			return objKey{kind: tagObject, ptr: rv.Pointer()}, true
		}
	}
	return objKey{}, false
}

// sliceIdentity returns a stable identity for a slice value: the pointer to
// its backing array's first element, or a rank-independent zero for a
// nil/empty slice (so every empty slice shares one length-0 ARRAY object in
// the stream, which is harmless since it has no elements to alias).
func sliceIdentity(rv reflect.Value) uintptr {
	if rv.Len() == 0 {
		return 0
	}
	return rv.Pointer()
}

func (e *Encoder) getOrCreate(key objKey, kind tag) (*object, bool) {
	if o, ok := e.objects[key]; ok {
		return o, false
	}
	o := &object{kind: kind, seq: len(e.order)}
	e.objects[key] = o
	e.order = append(e.order, o)
	return o, true
}

func (e *Encoder) index(v any) error {
	switch t := v.(type) {
	case nil, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, Undefined:
		return nil
	case string:
		if len(t) <= 2 {
			return nil
		}
		o, isNew := e.getOrCreate(objKey{kind: tagString, str: t}, tagString)
		o.refcount++
		if isNew {
			o.str = t
		}
		return nil
	case []any:
		key, _ := identityKey(t)
		o, isNew := e.getOrCreate(key, tagArray)
		o.refcount++
		if isNew {
			o.slice = t
			for _, elem := range t {
				if err := e.index(elem); err != nil {
					return err
				}
			}
		}
		return nil
	case map[string]any:
		key, _ := identityKey(t)
		o, isNew := e.getOrCreate(key, tagPlainObject)
		o.refcount++
		if isNew {
			o.pmap = t
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			o.pmKeys = keys
			for _, k := range keys {
				if err := e.index(k); err != nil {
					return err
				}
				if err := e.index(t[k]); err != nil {
					return err
				}
			}
		}
		return nil
	case *Map:
		key, _ := identityKey(t)
		o, isNew := e.getOrCreate(key, tagMap)
		o.refcount++
		if isNew {
			o.m = t
			var err error
			t.Each(func(k, v any) {
				if err == nil {
					err = e.index(k)
				}
				if err == nil {
					err = e.index(v)
				}
			})
			if err != nil {
				return err
			}
		}
		return nil
	case *Set:
		key, _ := identityKey(t)
		o, isNew := e.getOrCreate(key, tagSet)
		o.refcount++
		if isNew {
			o.set = t
			var err error
			t.Each(func(v any) {
				if err == nil {
					err = e.index(v)
				}
			})
			if err != nil {
				return err
			}
		}
		return nil
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			// A nil field of registered-struct-pointer type, e.g. the root
			// entry's Former: nothing to index, writeValue emits it as null.
			return nil
		}
		if rv.Kind() != reflect.Pointer {
			return fmt.Errorf("codec: encode: unsupported value of type %T: %w", v, waveerr.ErrUnknownType)
		}
		info, ok := e.reg.infoForType(rv.Elem().Type())
		if !ok {
			return fmt.Errorf("codec: encode: unregistered type %T: %w", v, waveerr.ErrUnknownType)
		}
		key, _ := identityKey(v)
		o, isNew := e.getOrCreate(key, tagObject)
		o.refcount++

		tagKey := objKey{kind: tagString, str: info.name}
		tagObj, _ := e.getOrCreate(tagKey, tagString)
		tagObj.str = info.name
		tagObj.refcount += tagBoost

		if isNew {
			o.objPtr = v
			o.objVal = rv.Elem()
			o.info = info
			for _, fname := range info.fields {
				fv := o.objVal.FieldByName(fname).Interface()
				if err := e.index(fv); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// encode runs Pass 2: rank every indexed object by descending refcount
// (ties broken by first-seen order), then emit each object's self-contained
// body, in rank order.
func (e *Encoder) encode(root *object) ([]byte, error) {
	sort.SliceStable(e.order, func(i, j int) bool {
		return e.order[i].refcount > e.order[j].refcount
	})
	for i, o := range e.order {
		o.rank = i
	}

	var buf []byte
	buf = appendVarint(buf, uint64(len(e.order)))
	buf = appendVarint(buf, uint64(root.rank))
	for _, o := range e.order {
		var err error
		buf, err = e.encodeObject(buf, o)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (e *Encoder) encodeObject(buf []byte, o *object) ([]byte, error) {
	switch o.kind {
	case tagString:
		buf = append(buf, byte(tagString))
		buf = append(buf, []byte(o.str)...)
		buf = append(buf, 0)
		return buf, nil
	case tagArray:
		buf = append(buf, byte(tagArray))
		buf = appendVarint(buf, uint64(len(o.slice)))
		for _, elem := range o.slice {
			var err error
			buf, err = e.writeValue(buf, elem)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case tagPlainObject:
		buf = append(buf, byte(tagPlainObject))
		buf = appendVarint(buf, uint64(len(o.pmKeys)))
		for _, k := range o.pmKeys {
			var err error
			buf, err = e.writeValue(buf, k)
			if err != nil {
				return nil, err
			}
			buf, err = e.writeValue(buf, o.pmap[k])
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case tagMap:
		buf = append(buf, byte(tagMap))
		buf = appendVarint(buf, uint64(o.m.Len()))
		var err error
		o.m.Each(func(k, v any) {
			if err != nil {
				return
			}
			buf, err = e.writeValue(buf, k)
			if err != nil {
				return
			}
			buf, err = e.writeValue(buf, v)
		})
		return buf, err
	case tagSet:
		buf = append(buf, byte(tagSet))
		buf = appendVarint(buf, uint64(o.set.Len()))
		var err error
		o.set.Each(func(v any) {
			if err != nil {
				return
			}
			buf, err = e.writeValue(buf, v)
		})
		return buf, err
	case tagObject:
		buf = append(buf, byte(tagObject))
		var err error
		buf, err = e.writeValue(buf, o.info.name)
		if err != nil {
			return nil, err
		}
		buf = appendVarint(buf, uint64(len(o.info.fields)))
		for _, fname := range o.info.fields {
			fv := o.objVal.FieldByName(fname).Interface()
			buf, err = e.writeValue(buf, fv)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("codec: encode: unreachable object kind %d", o.kind)
	}
}

// writeValue writes v inline if it's a leaf primitive, or as a POINTER to
// its already-ranked object otherwise.
func (e *Encoder) writeValue(buf []byte, v any) ([]byte, error) {
	if key, ok := identityKey(v); ok {
		o, ok := e.objects[key]
		if !ok {
			return nil, fmt.Errorf("codec: encode: value not indexed: %v", v)
		}
		buf = append(buf, byte(tagPointer))
		buf = appendVarint(buf, uint64(o.rank))
		return buf, nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return append(buf, byte(tagNull)), nil
	}
	switch t := v.(type) {
	case nil:
		return append(buf, byte(tagNull)), nil
	case Undefined:
		return append(buf, byte(tagUndefined)), nil
	case bool:
		if t {
			return append(buf, byte(tagTrue)), nil
		}
		return append(buf, byte(tagFalse)), nil
	case string: // len <= 2, inline
		buf = append(buf, byte(tagString))
		buf = append(buf, []byte(t)...)
		return append(buf, 0), nil
	case float32:
		return writeFloat(buf, float64(t)), nil
	case float64:
		return writeFloat(buf, t), nil
	default:
		if n, ok := asInt64(t); ok {
			return writeInt(buf, n), nil
		}
		return nil, fmt.Errorf("codec: encode: unsupported inline value of type %T: %w", v, waveerr.ErrUnknownType)
	}
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint:
		return int64(t), true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), true
	}
	return 0, false
}

func writeInt(buf []byte, n int64) []byte {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	if uint64(abs) >= safeIntBound {
		return writeFloat(buf, float64(n))
	}
	if n < 0 {
		buf = append(buf, byte(tagNegativeInt))
		return appendVarint(buf, uint64(-(n+1)))
	}
	buf = append(buf, byte(tagPositiveInt))
	return appendVarint(buf, uint64(n))
}

func writeFloat(buf []byte, f float64) []byte {
	buf = append(buf, byte(tagFloat64))
	bits := math.Float64bits(f)
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(bits))
		bits >>= 8
	}
	return buf
}

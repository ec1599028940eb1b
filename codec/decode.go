package codec

import (
	"fmt"
	"math"
	"reflect"

	"github.com/asadovsky/wavedoc/waveerr"
)

// Decoder runs the predecode/decode split against a Registry, breaking
// reference cycles by allocating every ranked object's shell before
// populating any of them (spec.md §4.4).
type Decoder struct {
	reg *Registry
}

// NewDecoder returns a Decoder that resolves registered types via reg.
func NewDecoder(reg *Registry) *Decoder {
	return &Decoder{reg: reg}
}

// Decode parses a stream produced by Encode and returns its root value.
func Decode(reg *Registry, data []byte) (any, error) {
	d := NewDecoder(reg)
	return d.Decode(data)
}

type objMeta struct {
	kind         tag
	typeNameRank int    // >= 0 if the type name was itself a ranked string
	typeInline   string // set if the type name was inlined instead
}

func (d *Decoder) Decode(data []byte) (any, error) {
	objectCount, pos, err := readVarint(data, 0)
	if err != nil {
		return nil, err
	}
	rootRank, pos, err := readVarint(data, pos)
	if err != nil {
		return nil, err
	}

	slots := make([]any, objectCount)
	kinds := make([]tag, objectCount)
	metas := make([]objMeta, objectCount)

	// Stage A: single forward sweep. Strings are fully resolved immediately
	// (they can't reference anything else). Composite shells are allocated
	// at their final size/identity so later POINTER references remain valid
	// once populated in stage 2 — Go slices, maps, and struct pointers are
	// reference types, so writing into an already-shared shell is visible
	// through every earlier reference to it, which is what lets a cycle
	// resolve without back-patching.
	startPos := pos
	for r := 0; r < int(objectCount); r++ {
		if pos >= len(data) {
			return nil, waveerr.ErrMalformed
		}
		t := tag(data[pos])
		pos++
		kinds[r] = t
		switch t {
		case tagString:
			s, next, err := readCString(data, pos)
			if err != nil {
				return nil, err
			}
			slots[r] = s
			pos = next
		case tagArray:
			n, next, err := readVarint(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			slots[r] = make([]any, n)
			for i := uint64(0); i < n; i++ {
				pos, err = skipValue(data, pos)
				if err != nil {
					return nil, err
				}
			}
		case tagPlainObject:
			n, next, err := readVarint(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			slots[r] = make(map[string]any, n)
			for i := uint64(0); i < n; i++ {
				if pos, err = skipValue(data, pos); err != nil {
					return nil, err
				}
				if pos, err = skipValue(data, pos); err != nil {
					return nil, err
				}
			}
		case tagMap:
			n, next, err := readVarint(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			slots[r] = NewMap()
			for i := uint64(0); i < n; i++ {
				if pos, err = skipValue(data, pos); err != nil {
					return nil, err
				}
				if pos, err = skipValue(data, pos); err != nil {
					return nil, err
				}
			}
		case tagSet:
			n, next, err := readVarint(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			slots[r] = NewSet()
			for i := uint64(0); i < n; i++ {
				if pos, err = skipValue(data, pos); err != nil {
					return nil, err
				}
			}
		case tagObject:
			meta := objMeta{typeNameRank: -1}
			if pos >= len(data) {
				return nil, waveerr.ErrMalformed
			}
			nameTag := tag(data[pos])
			switch nameTag {
			case tagPointer:
				rank, next, err := readVarint(data, pos+1)
				if err != nil {
					return nil, err
				}
				meta.typeNameRank = int(rank)
				pos = next
			case tagString:
				s, next, err := readCString(data, pos+1)
				if err != nil {
					return nil, err
				}
				meta.typeInline = s
				pos = next
			default:
				return nil, waveerr.ErrMalformed
			}
			n, next, err := readVarint(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			for i := uint64(0); i < n; i++ {
				if pos, err = skipValue(data, pos); err != nil {
					return nil, err
				}
			}
			metas[r] = meta
		default:
			return nil, fmt.Errorf("codec: decode: unexpected object tag %d: %w", t, waveerr.ErrMalformed)
		}
	}

	// Stage B: now that every ranked string is resolved, allocate typed
	// shells for OBJECT ranks.
	infos := make([]*typeInfo, objectCount)
	for r := 0; r < int(objectCount); r++ {
		if kinds[r] != tagObject {
			continue
		}
		name := metas[r].typeInline
		if metas[r].typeNameRank >= 0 {
			s, ok := slots[metas[r].typeNameRank].(string)
			if !ok {
				return nil, waveerr.ErrMalformed
			}
			name = s
		}
		info, ok := d.reg.infoForName(name)
		if !ok {
			return nil, fmt.Errorf("codec: decode: unregistered type %q: %w", name, waveerr.ErrUnknownType)
		}
		infos[r] = info
		slots[r] = reflect.New(info.typ).Interface()
	}

	// Stage 2: re-walk the same bytes, this time populating every shell.
	pos = startPos
	for r := 0; r < int(objectCount); r++ {
		t := tag(data[pos])
		pos++
		switch t {
		case tagString:
			_, next, err := readCString(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
		case tagArray:
			n, next, err := readVarint(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			arr := slots[r].([]any)
			for i := uint64(0); i < n; i++ {
				var v any
				v, pos, err = readValue(data, pos, slots)
				if err != nil {
					return nil, err
				}
				arr[i] = v
			}
		case tagPlainObject:
			n, next, err := readVarint(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			m := slots[r].(map[string]any)
			for i := uint64(0); i < n; i++ {
				var k, v any
				k, pos, err = readValue(data, pos, slots)
				if err != nil {
					return nil, err
				}
				v, pos, err = readValue(data, pos, slots)
				if err != nil {
					return nil, err
				}
				ks, ok := k.(string)
				if !ok {
					return nil, waveerr.ErrMalformed
				}
				m[ks] = v
			}
		case tagMap:
			n, next, err := readVarint(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			mm := slots[r].(*Map)
			for i := uint64(0); i < n; i++ {
				var k, v any
				k, pos, err = readValue(data, pos, slots)
				if err != nil {
					return nil, err
				}
				v, pos, err = readValue(data, pos, slots)
				if err != nil {
					return nil, err
				}
				mm.Set(k, v)
			}
		case tagSet:
			n, next, err := readVarint(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			ss := slots[r].(*Set)
			for i := uint64(0); i < n; i++ {
				var v any
				v, pos, err = readValue(data, pos, slots)
				if err != nil {
					return nil, err
				}
				ss.Add(v)
			}
		case tagObject:
			// Re-skip the type-name atom; already resolved in stage B.
			var err error
			pos, err = skipValue(data, pos)
			if err != nil {
				return nil, err
			}
			n, next, err := readVarint(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			info := infos[r]
			elem := reflect.ValueOf(slots[r]).Elem()
			for i := uint64(0); i < n; i++ {
				var v any
				v, pos, err = readValue(data, pos, slots)
				if err != nil {
					return nil, err
				}
				if int(i) >= len(info.fields) {
					return nil, waveerr.ErrMalformed
				}
				if err := assignField(elem.FieldByName(info.fields[i]), v); err != nil {
					return nil, err
				}
			}
		default:
			return nil, waveerr.ErrMalformed
		}
	}

	if rootRank >= objectCount {
		return nil, waveerr.ErrMalformed
	}
	return slots[rootRank], nil
}

// assignField stores v into fv, converting numeric leaves to fv's static
// Go kind the way encode's canonical int64/float64 representation requires.
func assignField(fv reflect.Value, v any) error {
	switch fv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := v.(int64)
		if !ok {
			return fmt.Errorf("codec: decode: field %s: expected int, got %T: %w", fv.Type(), v, waveerr.ErrMalformed)
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, ok := v.(int64)
		if !ok {
			return fmt.Errorf("codec: decode: field %s: expected int, got %T: %w", fv.Type(), v, waveerr.ErrMalformed)
		}
		fv.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("codec: decode: field %s: expected float, got %T: %w", fv.Type(), v, waveerr.ErrMalformed)
		}
		fv.SetFloat(f)
	case reflect.String:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("codec: decode: field %s: expected string, got %T: %w", fv.Type(), v, waveerr.ErrMalformed)
		}
		fv.SetString(s)
	case reflect.Bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("codec: decode: field %s: expected bool, got %T: %w", fv.Type(), v, waveerr.ErrMalformed)
		}
		fv.SetBool(b)
	default:
		if v == nil {
			fv.Set(reflect.Zero(fv.Type()))
			return nil
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(fv.Type()) {
			return fmt.Errorf("codec: decode: field %s: value of type %T not assignable: %w", fv.Type(), v, waveerr.ErrMalformed)
		}
		fv.Set(rv)
	}
	return nil
}

// readValue reads one inline or POINTER atom at pos, resolving pointers
// against already-allocated (possibly still-being-populated) slots.
func readValue(data []byte, pos int, slots []any) (any, int, error) {
	if pos >= len(data) {
		return nil, 0, waveerr.ErrMalformed
	}
	t := tag(data[pos])
	pos++
	switch t {
	case tagPointer:
		rank, next, err := readVarint(data, pos)
		if err != nil {
			return nil, 0, err
		}
		if int(rank) >= len(slots) {
			return nil, 0, waveerr.ErrMalformed
		}
		return slots[rank], next, nil
	case tagNull:
		return nil, pos, nil
	case tagUndefined:
		return Undefined{}, pos, nil
	case tagTrue:
		return true, pos, nil
	case tagFalse:
		return false, pos, nil
	case tagString:
		s, next, err := readCString(data, pos)
		if err != nil {
			return nil, 0, err
		}
		return s, next, nil
	case tagPositiveInt:
		n, next, err := readVarint(data, pos)
		if err != nil {
			return nil, 0, err
		}
		return int64(n), next, nil
	case tagNegativeInt:
		n, next, err := readVarint(data, pos)
		if err != nil {
			return nil, 0, err
		}
		return -int64(n) - 1, next, nil
	case tagFloat64:
		if pos+8 > len(data) {
			return nil, 0, waveerr.ErrMalformed
		}
		var bits uint64
		for i := 7; i >= 0; i-- {
			bits = bits<<8 | uint64(data[pos+i])
		}
		return math.Float64frombits(bits), pos + 8, nil
	default:
		return nil, 0, fmt.Errorf("codec: decode: unexpected atom tag %d: %w", t, waveerr.ErrMalformed)
	}
}

// skipValue advances past one inline or POINTER atom without decoding it.
// Composite bodies never appear inline (they're always referenced via
// POINTER), so this never needs to recurse.
func skipValue(data []byte, pos int) (int, error) {
	if pos >= len(data) {
		return 0, waveerr.ErrMalformed
	}
	t := tag(data[pos])
	pos++
	switch t {
	case tagNull, tagUndefined, tagTrue, tagFalse:
		return pos, nil
	case tagPointer, tagPositiveInt, tagNegativeInt:
		_, next, err := readVarint(data, pos)
		return next, err
	case tagFloat64:
		if pos+8 > len(data) {
			return 0, waveerr.ErrMalformed
		}
		return pos + 8, nil
	case tagString:
		_, next, err := readCString(data, pos)
		return next, err
	default:
		return 0, fmt.Errorf("codec: decode: unexpected inline tag %d: %w", t, waveerr.ErrMalformed)
	}
}

// readCString reads a NUL-terminated UTF-8 string starting at pos.
func readCString(data []byte, pos int) (string, int, error) {
	start := pos
	for pos < len(data) {
		if data[pos] == 0 {
			return string(data[start:pos]), pos + 1, nil
		}
		pos++
	}
	return "", 0, waveerr.ErrMalformed
}

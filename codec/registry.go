package codec

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/asadovsky/wavedoc/waveerr"
)

// typeInfo describes one registered struct type: its name (used as the wire
// tag string and as the process-wide registry key) and the exported field
// names encoded, in declared order, matching spec.md §4.4's "binaryKeys"
// convention.
type typeInfo struct {
	name   string
	typ    reflect.Type // struct type, not pointer
	fields []string
}

// Registry holds the process-wide, populate-once-at-startup mapping from
// type name to Go struct type, mirroring spec.md §5's "serializer type
// registry is process-wide... never mutated after [startup]". Two Registry
// values with the same registrations can decode each other's streams.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*typeInfo
	byGoType map[reflect.Type]*typeInfo
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]*typeInfo{}, byGoType: map[reflect.Type]*typeInfo{}}
}

// Register binds name to sample's struct type for OBJECT encoding. sample
// must be a struct or a pointer to one; only exported fields are encoded,
// in declaration order. Registering a name already bound to a different Go
// type, or a Go type already bound to a different name, fails with
// waveerr.ErrSchemaConflict; repeating an identical (name, type)
// registration succeeds.
func (r *Registry) Register(name string, sample any) error {
	typ := reflect.TypeOf(sample)
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return fmt.Errorf("codec: register %q: not a struct: %w", name, waveerr.ErrSchemaConflict)
	}

	var fields []string
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if f.IsExported() {
			fields = append(fields, f.Name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[name]; ok && existing.typ != typ {
		return fmt.Errorf("codec: register %q: already bound to a different type: %w", name, waveerr.ErrSchemaConflict)
	}
	if existing, ok := r.byGoType[typ]; ok && existing.name != name {
		return fmt.Errorf("codec: register %q: type already bound to %q: %w", name, existing.name, waveerr.ErrSchemaConflict)
	}
	info := &typeInfo{name: name, typ: typ, fields: fields}
	r.byName[name] = info
	r.byGoType[typ] = info
	return nil
}

func (r *Registry) infoForType(typ reflect.Type) (*typeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byGoType[typ]
	return info, ok
}

func (r *Registry) infoForName(name string) (*typeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byName[name]
	return info, ok
}

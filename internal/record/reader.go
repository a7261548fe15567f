package record

import (
	"reflect"
	"strings"
	"sync"
	"unicode"
)

// Reader reads a named attribute off an arbitrary record.
// Implementations never panic; a missing or unknown attribute yields Null.
type Reader interface {
	Get(rec any, name string) Value
}

// Attributer is implemented by records that expose their attributes directly.
type Attributer interface {
	Attribute(name string) (any, bool)
}

// DefaultReader dispatches on the record shape: Attributer, map, then struct reflection.
var DefaultReader Reader = &StructReader{}

// MapReader reads attributes from map[string]any records.
type MapReader struct{}

// Get implements Reader.
func (MapReader) Get(rec any, name string) Value {
	m, ok := rec.(map[string]any)
	if !ok {
		return Null()
	}
	return Of(m[name])
}

// StructReader reads exported struct fields and getter methods via reflection.
// A name resolves, in order, to: a field whose json tag matches, a field whose
// name matches case-insensitively, a method Get<Name>, Is<Name> or <Name>
// taking no arguments. Resolutions are cached per type.
type StructReader struct {
	cache sync.Map // accessorKey -> accessor
}

type accessorKey struct {
	typ  reflect.Type
	name string
}

type accessor struct {
	field  []int
	method string
	found  bool
}

// Get implements Reader.
func (r *StructReader) Get(rec any, name string) (v Value) {
	defer func() {
		if recover() != nil {
			v = Null()
		}
	}()

	switch x := rec.(type) {
	case nil:
		return Null()
	case Attributer:
		raw, ok := x.Attribute(name)
		if !ok {
			return Null()
		}
		return Of(raw)
	case map[string]any:
		return Of(x[name])
	}

	rv := reflect.ValueOf(rec)
	acc := r.resolve(rv.Type(), name)
	if !acc.found {
		return Null()
	}

	if acc.method != "" {
		m := rv.MethodByName(acc.method)
		if !m.IsValid() {
			return Null()
		}
		out := m.Call(nil)
		if len(out) == 0 {
			return Null()
		}
		return Of(out[0].Interface())
	}

	sv := indirect(rv)
	if !sv.IsValid() {
		return Null()
	}
	fv, err := sv.FieldByIndexErr(acc.field)
	if err != nil {
		return Null()
	}
	return Of(fv.Interface())
}

func (r *StructReader) resolve(t reflect.Type, name string) accessor {
	key := accessorKey{typ: t, name: name}
	if cached, ok := r.cache.Load(key); ok {
		return cached.(accessor)
	}
	acc := lookupAccessor(t, name)
	r.cache.Store(key, acc)
	return acc
}

func lookupAccessor(t reflect.Type, name string) accessor {
	st := t
	for st.Kind() == reflect.Pointer {
		st = st.Elem()
	}

	if st.Kind() == reflect.Struct {
		fields := reflect.VisibleFields(st)
		for _, f := range fields {
			if !f.IsExported() {
				continue
			}
			if tag := jsonName(f); tag != "" && tag == name {
				return accessor{field: f.Index, found: true}
			}
		}
		for _, f := range fields {
			if f.IsExported() && !f.Anonymous && strings.EqualFold(f.Name, name) {
				return accessor{field: f.Index, found: true}
			}
		}
	}

	exported := upperFirst(name)
	for _, candidate := range []string{"Get" + exported, "Is" + exported, exported} {
		m, ok := t.MethodByName(candidate)
		if !ok {
			continue
		}
		// Receiver counts as the first input.
		if m.Type.NumIn() == 1 && m.Type.NumOut() >= 1 {
			return accessor{method: candidate, found: true}
		}
	}
	return accessor{}
}

func jsonName(f reflect.StructField) string {
	tag, ok := f.Tag.Lookup("json")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	return name
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// Snapshot is a flat attribute map. Missing names read as Null.
type Snapshot map[string]Value

// Lookup returns the value for name, or Null.
func (s Snapshot) Lookup(name string) Value {
	if v, ok := s[name]; ok {
		return v
	}
	return Null()
}

// Capture reads the named attributes off rec into a Snapshot.
func Capture(r Reader, rec any, names ...string) Snapshot {
	snap := make(Snapshot, len(names))
	for _, n := range names {
		snap[n] = r.Get(rec, n)
	}
	return snap
}

// SnapshotOf builds a Snapshot from plain data, normalizing each entry.
func SnapshotOf(data map[string]any) Snapshot {
	snap := make(Snapshot, len(data))
	for k, v := range data {
		snap[k] = Of(v)
	}
	return snap
}

// Bound pairs a record with the Reader used to inspect it.
type Bound struct {
	reader Reader
	rec    any

	once sync.Once
	doc  map[string]any
}

// Bind returns a Bound view of rec. A nil reader uses DefaultReader.
func Bind(r Reader, rec any) *Bound {
	if r == nil {
		r = DefaultReader
	}
	return &Bound{reader: r, rec: rec}
}

// Record returns the wrapped record.
func (b *Bound) Record() any { return b.rec }

// Lookup reads name through the bound Reader.
func (b *Bound) Lookup(name string) Value { return b.reader.Get(b.rec, name) }

// TypeName returns the runtime type name of the record.
func (b *Bound) TypeName() string { return TypeName(b.rec) }

// Map returns the record as a JSON-shaped map, computed once.
func (b *Bound) Map() map[string]any {
	b.once.Do(func() {
		m, err := ToMap(b.rec)
		if err != nil || m == nil {
			m = map[string]any{}
		}
		b.doc = m
	})
	return b.doc
}

package record

import "reflect"

// Typed is implemented by records that report their own type name.
type Typed interface {
	TypeName() string
}

// Identified is implemented by records that report their own identifier.
type Identified interface {
	RecordID() string
}

// IDAttribute is the attribute read for the record identifier when the
// record does not implement Identified.
const IDAttribute = "id"

// TypeName returns the runtime type name of rec: TypeName() when implemented,
// otherwise the name of the underlying struct type.
func TypeName(rec any) string {
	if rec == nil {
		return ""
	}
	if t, ok := rec.(Typed); ok {
		return t.TypeName()
	}
	rt := reflect.TypeOf(rec)
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return rt.Name()
}

// Identify returns the stable identifier of rec. ok is false for records that
// have not been persisted: a missing, null, empty or zero identifier. Numeric
// identifiers are formatted from their raw value; a float beyond 2^53 is
// rejected since it may no longer name the record it came from.
func Identify(r Reader, rec any) (id string, ok bool) {
	if rec == nil {
		return "", false
	}
	if x, isID := rec.(Identified); isID {
		id = x.RecordID()
		return id, id != ""
	}

	v := r.Get(rec, IDAttribute)
	switch v.Kind() {
	case KindNumber:
		n, _ := v.AsNumber()
		if n == 0 || v.inexactFloat() {
			return "", false
		}
		return v.Text(), true
	case KindString:
		s := v.Text()
		return s, s != ""
	case KindObject:
		s := v.Text()
		return s, s != ""
	default:
		return "", false
	}
}

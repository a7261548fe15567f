package record

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Kind classifies an attribute value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindCollection
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindCollection:
		return "collection"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a normalized attribute read off a record.
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	size int
	raw  any
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b, raw: b} }

// Number wraps a float.
func Number(f float64) Value { return Value{kind: KindNumber, n: f, raw: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s, raw: s} }

// Of normalizes an arbitrary Go value. Pointers are dereferenced, driver.Valuer
// types (sql.NullString and friends) are unwrapped, a zero time.Time is null.
func Of(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return Bool(x)
	case string:
		return String(x)
	case []byte:
		return String(string(x))
	case time.Time:
		if x.IsZero() {
			return Null()
		}
		return Value{kind: KindString, s: x.Format(time.RFC3339), raw: x}
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Null()
		}
		return Value{kind: KindNumber, n: f, raw: x}
	case *big.Int:
		if x == nil {
			return Null()
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return Value{kind: KindNumber, n: f, raw: x}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		f, err := cast.ToFloat64E(x)
		if err != nil {
			return Null()
		}
		return Value{kind: KindNumber, n: f, raw: x}
	case driver.Valuer:
		rv := reflect.ValueOf(x)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return Null()
		}
		dv, err := x.Value()
		if err != nil {
			return Null()
		}
		return Of(dv)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
		return Of(rv.Elem().Interface())
	case reflect.Slice, reflect.Map:
		if rv.IsNil() {
			return Value{kind: KindCollection, raw: v}
		}
		return Value{kind: KindCollection, size: rv.Len(), raw: v}
	case reflect.Array:
		return Value{kind: KindCollection, size: rv.Len(), raw: v}
	case reflect.Bool:
		return Value{kind: KindBool, b: rv.Bool(), raw: v}
	case reflect.String:
		return Value{kind: KindString, s: rv.String(), raw: v}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Value{kind: KindNumber, n: float64(rv.Int()), raw: v}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Value{kind: KindNumber, n: float64(rv.Uint()), raw: v}
	case reflect.Float32, reflect.Float64:
		return Value{kind: KindNumber, n: rv.Float(), raw: v}
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return Null()
	}
	return Value{kind: KindObject, raw: v}
}

// Kind returns the value classification.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Filled reports whether the value counts as completed for field checks:
// not null, not an empty string, not an empty collection.
func (v Value) Filled() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindString:
		return v.s != ""
	case KindCollection:
		return v.size > 0
	default:
		return true
	}
}

// AsBool returns the boolean payload. ok is false for non-bool values.
func (v Value) AsBool() (b, ok bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsNumber returns the numeric interpretation of the value. Numeric strings
// parse as numbers. Booleans, collections and non-finite numbers do not.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.n, true
	case KindString:
		return ParseNumber(v.s)
	default:
		return 0, false
	}
}

// Text returns the string form used for string comparison.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return v.numberText()
	case KindString:
		return v.s
	default:
		return fmt.Sprint(v.raw)
	}
}

// numberText formats integers from the raw value so they keep every digit.
func (v Value) numberText() string {
	switch x := v.raw.(type) {
	case json.Number:
		return x.String()
	case *big.Int:
		return x.String()
	}
	rv := reflect.ValueOf(v.raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	}
	return strconv.FormatFloat(v.n, 'f', -1, 64)
}

// inexactFloat reports whether the number is held as a float that cannot
// represent every integer of its magnitude.
func (v Value) inexactFloat() bool {
	switch v.raw.(type) {
	case float32, float64:
		return math.Abs(v.n) > maxExactFloat
	}
	return false
}

const maxExactFloat = 1 << 53

// Len returns the element count of a collection, or 0.
func (v Value) Len() int { return v.size }

// Any returns the underlying Go value.
func (v Value) Any() any { return v.raw }

func (v Value) String() string {
	if v.kind == KindNull {
		return "null"
	}
	return v.Text()
}

// ParseNumber parses s as a finite decimal number.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := cast.ToFloat64E(s)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

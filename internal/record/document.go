package record

import (
	"context"
	"encoding/json"
	"math"
	"math/big"
	"strings"
	"sync"

	"github.com/itchyny/gojq"
)

// Document is a schemaless record decoded from JSON. It carries its own
// type name so descriptors can be matched against it.
type Document struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// TypeName implements Typed.
func (d *Document) TypeName() string { return d.Type }

// Attribute implements Attributer with top-level keys only.
func (d *Document) Attribute(name string) (any, bool) {
	if d == nil || d.Data == nil {
		return nil, false
	}
	v, ok := d.Data[name]
	return v, ok
}

// DocumentReader resolves attribute names as paths into JSON-shaped records.
// "owner.name" walks nested objects, and a name starting with "." is run as a
// jq query whose first output is the value. Non-map records are converted
// through a JSON round-trip first.
type DocumentReader struct {
	getpath *gojq.Code

	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewDocumentReader compiles the shared path query.
func NewDocumentReader() (*DocumentReader, error) {
	q, err := gojq.Parse("getpath($path)")
	if err != nil {
		return nil, err
	}
	code, err := gojq.Compile(q,
		gojq.WithVariables([]string{"$path"}),
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, err
	}
	return &DocumentReader{
		getpath: code,
		cache:   make(map[string]*gojq.Code),
	}, nil
}

// Get implements Reader.
func (r *DocumentReader) Get(rec any, name string) Value {
	doc := toDocument(rec)
	if doc == nil || name == "" {
		return Null()
	}

	var iter gojq.Iter
	if strings.HasPrefix(name, ".") {
		code, err := r.query(name)
		if err != nil {
			return Null()
		}
		iter = code.RunWithContext(context.Background(), doc)
	} else {
		parts := strings.Split(name, ".")
		path := make([]any, len(parts))
		for i, p := range parts {
			path[i] = p
		}
		iter = r.getpath.RunWithContext(context.Background(), doc, path)
	}

	v, ok := iter.Next()
	if !ok {
		return Null()
	}
	if _, isErr := v.(error); isErr {
		return Null()
	}
	return Of(v)
}

func (r *DocumentReader) query(expression string) (*gojq.Code, error) {
	r.mu.RLock()
	if code, ok := r.cache[expression]; ok {
		r.mu.RUnlock()
		return code, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if code, ok := r.cache[expression]; ok {
		return code, nil
	}

	q, err := gojq.Parse(expression)
	if err != nil {
		return nil, err
	}
	code, err := gojq.Compile(q, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, err
	}
	r.cache[expression] = code
	return code, nil
}

// toDocument returns a jq-compatible view of rec.
func toDocument(rec any) any {
	switch x := rec.(type) {
	case nil:
		return nil
	case *Document:
		if x == nil {
			return nil
		}
		return normalizeJSON(x.Data)
	case map[string]any:
		return normalizeJSON(x)
	}
	m, err := ToMap(rec)
	if err != nil || m == nil {
		return nil
	}
	return normalizeJSON(m)
}

// ToMap converts rec into a map[string]any via a JSON round-trip.
func ToMap(rec any) (map[string]any, error) {
	switch x := rec.(type) {
	case *Document:
		if x == nil {
			return nil, nil
		}
		return x.Data, nil
	case map[string]any:
		return x, nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return DecodeObject(data)
}

// normalizeJSON converts values into the JSON types gojq accepts. Integers
// stay integers (int, or *big.Int beyond its range) so ids compare exactly.
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeJSON(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeJSON(v)
		}
		return out
	case int64:
		if val < math.MinInt || val > math.MaxInt {
			return big.NewInt(val)
		}
		return int(val)
	case uint64:
		if val > math.MaxInt {
			return new(big.Int).SetUint64(val)
		}
		return int(val)
	case int32:
		return int(val)
	case float32:
		return float64(val)
	case nil, bool, string, int, float64, *big.Int:
		return v
	default:
		data, err := json.Marshal(map[string]any{"v": val})
		if err != nil {
			return nil
		}
		out, err := DecodeObject(data)
		if err != nil {
			return nil
		}
		return normalizeJSON(out["v"])
	}
}

var _ Reader = (*DocumentReader)(nil)

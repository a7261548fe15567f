package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
)

// DecodeObject decodes a JSON object. Integral numbers decode to int64, or
// uint64 above its range, so large identifiers keep every digit; other
// numbers decode to float64. A JSON null yields a nil map.
func DecodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON object")
	}
	if out == nil {
		return nil, nil
	}
	return exactNumbers(out).(map[string]any), nil
}

// exactNumbers replaces json.Number values throughout v.
func exactNumbers(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, item := range x {
			x[k] = exactNumbers(item)
		}
		return x
	case []any:
		for i, item := range x {
			x[i] = exactNumbers(item)
		}
		return x
	case json.Number:
		return numberValue(x)
	}
	return v
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return u
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

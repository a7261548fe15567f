package expressions

import (
	"context"
	"math"
	"math/big"

	"github.com/itchyny/gojq"
)

// GoJQEngine runs the "jq" dialect. The attribute map is the input document,
// so `.severity == "high"` tests a field.
type GoJQEngine struct {
	programs *programCache[*gojq.Code]
}

// NewGoJQEngine creates a GoJQEngine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{programs: newProgramCache(compileJQ)}
}

func compileJQ(expression string) (*gojq.Code, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, rejectExpr(DialectJQ, "parse", expression, err)
	}
	// No environment: $ENV and env are empty.
	code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, rejectExpr(DialectJQ, "compile", expression, err)
	}
	return code, nil
}

func (e *GoJQEngine) Name() string { return DialectJQ }

// Compile reports whether expression parses and compiles.
func (e *GoJQEngine) Compile(expression string) error {
	_, err := e.programs.get(expression)
	return err
}

// Evaluate runs expression over data. A single output is returned as is,
// several are collected into []any and none yields nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptyExpr(DialectJQ)
	}
	code, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}

	var outputs []any
	iter := code.RunWithContext(ctx, jqValue(data))
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, failedEval(DialectJQ, expression, err)
		}
		outputs = append(outputs, v)
	}

	switch len(outputs) {
	case 0:
		return nil, nil
	case 1:
		return outputs[0], nil
	}
	return outputs, nil
}

// jqValue rewrites Go numeric types into the ones gojq accepts: int, *big.Int
// and float64. Integers stay exact.
func jqValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = jqValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = jqValue(item)
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
	}
	return v
}

var (
	_ Engine   = (*GoJQEngine)(nil)
	_ Compiler = (*GoJQEngine)(nil)
)

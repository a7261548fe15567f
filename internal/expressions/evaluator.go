package expressions

import (
	"context"
	"fmt"

	"github.com/rendis/autoprogress/pkg/schema"
)

// Dialect names accepted in condition descriptors.
const (
	DialectCondition = "condition"
	DialectExpr      = "expr"
	DialectCEL       = "cel"
	DialectJQ        = "jq"
)

// Evaluator routes a condition to the engine for its dialect.
// The empty dialect is the native condition language.
type Evaluator struct {
	native  *ConditionEngine
	engines map[string]Engine
}

// NewEvaluator creates an Evaluator with the native condition engine plus the
// given dialect engines, keyed by Name().
func NewEvaluator(engines ...Engine) *Evaluator {
	ev := &Evaluator{
		native:  NewConditionEngine(),
		engines: make(map[string]Engine, len(engines)),
	}
	for _, e := range engines {
		ev.engines[e.Name()] = e
	}
	return ev
}

// NewDefaultEvaluator wires every supported dialect.
func NewDefaultEvaluator() (*Evaluator, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return NewEvaluator(NewExprEngine(), celEngine, NewGoJQEngine()), nil
}

// Dialects returns the dialects this evaluator accepts, native first.
func (ev *Evaluator) Dialects() []string {
	out := []string{DialectCondition}
	for _, d := range []string{DialectExpr, DialectCEL, DialectJQ} {
		if _, ok := ev.engines[d]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Compile checks an expression at authoring time.
func (ev *Evaluator) Compile(dialect, expression string) error {
	if isNative(dialect) {
		_, err := ev.native.Compile(expression)
		return err
	}
	eng, ok := ev.engines[dialect]
	if !ok {
		return unknownDialect(dialect)
	}
	if c, ok := eng.(Compiler); ok {
		return c.Compile(expression)
	}
	return nil
}

// Check evaluates expression against subj. The verdict is true only when the
// expression evaluates to boolean true; err explains a false verdict caused by
// a parse or runtime failure.
func (ev *Evaluator) Check(ctx context.Context, dialect, expression string, subj Subject) (bool, error) {
	if isNative(dialect) {
		c, err := ev.native.Compile(expression)
		if err != nil {
			return false, err
		}
		return c.Eval(subj), nil
	}

	eng, ok := ev.engines[dialect]
	if !ok {
		return false, unknownDialect(dialect)
	}

	data := subj.Map()
	if dialect == DialectCEL {
		data = map[string]any{"record": subj.Map(), "entity": subj.TypeName()}
	}

	out, err := eng.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeEvaluation,
			"%s expression %q returned %s, want bool", dialect, expression, fmt.Sprintf("%T", out))
	}
	return b, nil
}

// Holds is Check with failures folded into false.
func (ev *Evaluator) Holds(ctx context.Context, dialect, expression string, subj Subject) bool {
	ok, err := ev.Check(ctx, dialect, expression, subj)
	return err == nil && ok
}

func isNative(dialect string) bool {
	return dialect == "" || dialect == DialectCondition
}

func unknownDialect(dialect string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "unknown condition dialect %q", dialect)
}

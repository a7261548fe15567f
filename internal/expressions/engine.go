package expressions

import (
	"context"
	"sync"

	"github.com/rendis/autoprogress/pkg/schema"
)

// Engine evaluates an expression against a record's attributes.
// Implementations: the native condition language, Expr, CEL and jq dialects.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Compiler is implemented by engines that can check an expression without running it.
type Compiler interface {
	Compile(expression string) error
}

// Subject is the record a condition is evaluated against.
type Subject interface {
	Attributes
	TypeName() string
	Map() map[string]any
}

// programCache memoizes compiled programs by their source text.
// Failed compilations are not cached.
type programCache[P any] struct {
	mu       sync.RWMutex
	programs map[string]P
	compile  func(expression string) (P, error)
}

func newProgramCache[P any](compile func(string) (P, error)) *programCache[P] {
	return &programCache[P]{
		programs: make(map[string]P),
		compile:  compile,
	}
}

func (c *programCache[P]) get(expression string) (P, error) {
	c.mu.RLock()
	p, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.programs[expression]; ok {
		return p, nil
	}
	p, err := c.compile(expression)
	if err != nil {
		return p, err
	}
	c.programs[expression] = p
	return p, nil
}

func (c *programCache[P]) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}

// rejectExpr wraps a dialect compile failure as a validation error.
func rejectExpr(dialect, stage, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation,
		"%s %s error in %q: %s", dialect, stage, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"dialect": dialect, "expression": expression})
}

// failedEval wraps a dialect runtime failure as an evaluation error.
func failedEval(dialect, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeEvaluation,
		"%s evaluation failed for %q: %s", dialect, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"dialect": dialect, "expression": expression})
}

func emptyExpr(dialect string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "empty %s expression", dialect)
}

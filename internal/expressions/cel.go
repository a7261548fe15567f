package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// CEL activation variable names.
const (
	celRecord = "record"
	celEntity = "entity"
)

// CELEngine runs the "cel" dialect. Expressions see two variables:
// record (the attribute map) and entity (the runtime type name).
type CELEngine struct {
	env      *cel.Env
	programs *programCache[cel.Program]
}

// NewCELEngine builds the CEL environment.
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable(celRecord, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(celEntity, cel.StringType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	e := &CELEngine{env: env}
	e.programs = newProgramCache(e.build)
	return e, nil
}

func (e *CELEngine) build(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, rejectExpr(DialectCEL, "compile", expression, issues.Err())
	}
	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, rejectExpr(DialectCEL, "program", expression, err)
	}
	return prg, nil
}

func (e *CELEngine) Name() string { return DialectCEL }

// Compile reports whether expression type-checks in the CEL environment.
func (e *CELEngine) Compile(expression string) error {
	_, err := e.programs.get(expression)
	return err
}

// Evaluate runs expression. data carries "record" and "entity"; either may be absent.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptyExpr(DialectCEL)
	}
	prg, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.ContextEval(ctx, celActivation(data))
	if err != nil {
		return nil, failedEval(DialectCEL, expression, err)
	}
	return out.Value(), nil
}

// celActivation supplies zero values for unbound variables so CEL does not
// fail with "no such attribute".
func celActivation(data map[string]any) map[string]any {
	var rec any = map[string]any{}
	if v, ok := data[celRecord]; ok && v != nil {
		rec = v
	}
	entity, _ := data[celEntity].(string)
	return map[string]any{celRecord: rec, celEntity: entity}
}

var (
	_ Engine   = (*CELEngine)(nil)
	_ Compiler = (*CELEngine)(nil)
)

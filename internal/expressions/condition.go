package expressions

import (
	"context"
	"regexp"
	"strings"

	"github.com/rendis/autoprogress/internal/record"
	"github.com/rendis/autoprogress/pkg/schema"
)

// Operator is a clause comparison operator.
type Operator string

const (
	OpGTE Operator = ">="
	OpLTE Operator = "<="
	OpGT  Operator = ">"
	OpLT  Operator = "<"
	OpEQ  Operator = "="
	OpNEQ Operator = "!="
)

// Combinator joins clauses. A condition uses one kind throughout.
type Combinator string

const (
	CombinatorNone Combinator = ""
	CombinatorAnd  Combinator = "AND"
	CombinatorOr   Combinator = "OR"
)

// LiteralKind classifies the right-hand side of a clause.
type LiteralKind int

const (
	LiteralWord LiteralKind = iota
	LiteralNull
	LiteralBool
)

// Literal is a parsed clause operand.
type Literal struct {
	Kind LiteralKind
	Raw  string
	Bool bool
}

// Clause compares one attribute against a literal.
type Clause struct {
	Attribute string
	Op        Operator
	Literal   Literal
}

// Condition is a parsed single-combinator expression.
type Condition struct {
	Source     string
	Combinator Combinator
	Clauses    []Clause
}

// Attributes resolves attribute names to values. Unknown names return Null.
type Attributes interface {
	Lookup(name string) record.Value
}

// An unquoted literal is one whitespace-free token; quoted literals keep
// their inner spacing verbatim.
var (
	clausePattern     = regexp.MustCompile(`^(\w+)\s*(>=|<=|!=|>|<|=)\s*('[^']*'|"[^"]*"|[^<>=!\s'"]\S*)$`)
	combinatorPattern = regexp.MustCompile(`(?:^|\s+)(AND|OR)(?:\s+|$)`)
)

// ParseCondition parses expression into a Condition. Mixing AND and OR in one
// expression is rejected, as is any clause that does not match
// `attribute operator literal`.
func ParseCondition(expression string) (*Condition, error) {
	src := strings.TrimSpace(expression)
	if src == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty condition")
	}

	cond := &Condition{Source: src}
	var parts []string
	last := 0
	for _, m := range combinatorPattern.FindAllStringSubmatchIndex(src, -1) {
		comb := Combinator(src[m[2]:m[3]])
		if cond.Combinator != CombinatorNone && cond.Combinator != comb {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"condition %q mixes AND and OR", src).
				WithDetails(map[string]any{"expression": src})
		}
		cond.Combinator = comb
		parts = append(parts, src[last:m[0]])
		last = m[1]
	}
	parts = append(parts, src[last:])

	for _, p := range parts {
		clause, err := parseClause(strings.TrimSpace(p))
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"condition %q: %s", src, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": src})
		}
		cond.Clauses = append(cond.Clauses, clause)
	}
	return cond, nil
}

func parseClause(text string) (Clause, error) {
	if text == "" {
		return Clause{}, schema.NewError(schema.ErrCodeValidation, "empty clause")
	}
	m := clausePattern.FindStringSubmatch(text)
	if m == nil {
		return Clause{}, schema.NewErrorf(schema.ErrCodeValidation, "malformed clause %q", text)
	}
	return Clause{
		Attribute: m[1],
		Op:        Operator(m[2]),
		Literal:   parseLiteral(m[3]),
	}, nil
}

func parseLiteral(raw string) Literal {
	switch raw {
	case "null":
		return Literal{Kind: LiteralNull, Raw: raw}
	case "true":
		return Literal{Kind: LiteralBool, Raw: raw, Bool: true}
	case "false":
		return Literal{Kind: LiteralBool, Raw: raw}
	}
	if len(raw) >= 2 {
		q := raw[0]
		if (q == '"' || q == '\'') && raw[len(raw)-1] == q {
			raw = raw[1 : len(raw)-1]
		}
	}
	return Literal{Kind: LiteralWord, Raw: raw}
}

// Attributes returns the attribute names referenced by the condition, in order.
func (c *Condition) Attributes() []string {
	seen := make(map[string]bool, len(c.Clauses))
	var names []string
	for _, cl := range c.Clauses {
		if !seen[cl.Attribute] {
			seen[cl.Attribute] = true
			names = append(names, cl.Attribute)
		}
	}
	return names
}

// Eval folds the clauses left to right with short-circuiting.
func (c *Condition) Eval(attrs Attributes) bool {
	if len(c.Clauses) == 0 {
		return false
	}
	if c.Combinator == CombinatorOr {
		for _, cl := range c.Clauses {
			if cl.Eval(attrs.Lookup(cl.Attribute)) {
				return true
			}
		}
		return false
	}
	for _, cl := range c.Clauses {
		if !cl.Eval(attrs.Lookup(cl.Attribute)) {
			return false
		}
	}
	return true
}

// Eval compares actual against the clause literal.
func (cl Clause) Eval(actual record.Value) bool {
	switch cl.Op {
	case OpEQ, OpNEQ:
		eq := cl.equals(actual)
		if cl.Op == OpEQ {
			return eq
		}
		return !eq
	case OpGT, OpGTE, OpLT, OpLTE:
		if cl.Literal.Kind != LiteralWord {
			return false
		}
		a, ok := actual.AsNumber()
		if !ok {
			return false
		}
		b, ok := record.ParseNumber(cl.Literal.Raw)
		if !ok {
			return false
		}
		switch cl.Op {
		case OpGT:
			return a > b
		case OpGTE:
			return a >= b
		case OpLT:
			return a < b
		default:
			return a <= b
		}
	}
	return false
}

func (cl Clause) equals(actual record.Value) bool {
	switch cl.Literal.Kind {
	case LiteralNull:
		return actual.IsNull()
	case LiteralBool:
		b, ok := actual.AsBool()
		return ok && b == cl.Literal.Bool
	}
	if actual.IsNull() {
		return false
	}
	if a, ok := actual.AsNumber(); ok {
		if b, ok := record.ParseNumber(cl.Literal.Raw); ok {
			return a == b
		}
	}
	return actual.Text() == cl.Literal.Raw
}

// ConditionEngine parses and evaluates the restricted condition language.
// Parsed conditions are cached and safe for concurrent use.
type ConditionEngine struct {
	parsed *programCache[*Condition]
}

// NewConditionEngine creates a new condition engine.
func NewConditionEngine() *ConditionEngine {
	return &ConditionEngine{parsed: newProgramCache(ParseCondition)}
}

// Name returns the engine identifier.
func (e *ConditionEngine) Name() string {
	return DialectCondition
}

// Compile parses expression, or returns it from the cache.
func (e *ConditionEngine) Compile(expression string) (*Condition, error) {
	return e.parsed.get(expression)
}

// Evaluate parses expression and evaluates it against data. The result is a bool.
func (e *ConditionEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	c, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return c.Eval(record.SnapshotOf(data)), nil
}

// Holds evaluates expression against attrs. Any parse failure is false.
func (e *ConditionEngine) Holds(expression string, attrs Attributes) bool {
	c, err := e.Compile(expression)
	if err != nil {
		return false
	}
	return c.Eval(attrs)
}

var _ Engine = (*ConditionEngine)(nil)

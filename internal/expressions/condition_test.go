package expressions

import (
	"context"
	"testing"

	"github.com/rendis/autoprogress/internal/record"
	"github.com/rendis/autoprogress/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(kv map[string]any) record.Snapshot {
	return record.SnapshotOf(kv)
}

func TestParseCondition_Structure(t *testing.T) {
	c, err := ParseCondition("score >= 10 AND active = true")
	require.NoError(t, err)
	assert.Equal(t, CombinatorAnd, c.Combinator)
	require.Len(t, c.Clauses, 2)
	assert.Equal(t, Clause{Attribute: "score", Op: OpGTE, Literal: Literal{Kind: LiteralWord, Raw: "10"}}, c.Clauses[0])
	assert.Equal(t, Clause{Attribute: "active", Op: OpEQ, Literal: Literal{Kind: LiteralBool, Raw: "true", Bool: true}}, c.Clauses[1])
	assert.Equal(t, []string{"score", "active"}, c.Attributes())

	c, err = ParseCondition("severity=high")
	require.NoError(t, err)
	assert.Equal(t, CombinatorNone, c.Combinator)
	assert.Equal(t, "high", c.Clauses[0].Literal.Raw)

	c, err = ParseCondition("status != 'in review'")
	require.NoError(t, err)
	assert.Equal(t, OpNEQ, c.Clauses[0].Op)
	assert.Equal(t, "in review", c.Clauses[0].Literal.Raw)

	c, err = ParseCondition("note = 'two  spaces'   OR   score < 3")
	require.NoError(t, err)
	assert.Equal(t, CombinatorOr, c.Combinator)
	require.Len(t, c.Clauses, 2)
	assert.Equal(t, "two  spaces", c.Clauses[0].Literal.Raw)
	assert.Equal(t, "3", c.Clauses[1].Literal.Raw)

	c, err = ParseCondition("platform = ANDROID")
	require.NoError(t, err)
	assert.Equal(t, CombinatorNone, c.Combinator)
	assert.Equal(t, "ANDROID", c.Clauses[0].Literal.Raw)
}

func TestParseCondition_Rejects(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", "   "},
		{"mixed combinators", "a = 1 AND b = 2 OR c = 3"},
		{"missing operator", "score 10"},
		{"missing literal", "score >="},
		{"leading combinator", "AND a = 1"},
		{"trailing combinator", "a = 1 OR"},
		{"parentheses", "(a = 1) OR b = 2"},
		{"dotted attribute", "owner.name = ann"},
		{"lowercase combinator", "a = 1 and b = 2"},
		{"unquoted words", "status = in review"},
		{"unbalanced quote", "status = 'ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCondition(tt.expr)
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
		})
	}
}

func TestCondition_NumericComparisons(t *testing.T) {
	e := NewConditionEngine()

	assert.True(t, e.Holds("score >= 10", snap(map[string]any{"score": 10})))
	assert.True(t, e.Holds("score >= 10", snap(map[string]any{"score": 15})))
	assert.False(t, e.Holds("score >= 10", snap(map[string]any{"score": 9})))

	assert.True(t, e.Holds("score > 9.5", snap(map[string]any{"score": "10"})), "numeric strings compare numerically")
	assert.True(t, e.Holds("score < 3", snap(map[string]any{"score": 2})))
	assert.True(t, e.Holds("score <= 2", snap(map[string]any{"score": 2.0})))
	assert.True(t, e.Holds("score = 10", snap(map[string]any{"score": 10.0})))
	assert.True(t, e.Holds("score = 10.0", snap(map[string]any{"score": "10"})))
}

func TestCondition_NonNumericOrderingIsFalse(t *testing.T) {
	e := NewConditionEngine()

	assert.False(t, e.Holds("severity >= high", snap(map[string]any{"severity": "high"})))
	assert.False(t, e.Holds("score > 1", snap(map[string]any{"score": "abc"})))
	assert.False(t, e.Holds("score > 1", snap(map[string]any{})))
	assert.False(t, e.Holds("score > null", snap(map[string]any{"score": 5})))
	assert.False(t, e.Holds("active > 0", snap(map[string]any{"active": true})))
}

func TestCondition_BooleanComparisons(t *testing.T) {
	e := NewConditionEngine()

	assert.True(t, e.Holds("active = true", snap(map[string]any{"active": true})))
	assert.False(t, e.Holds("active = true", snap(map[string]any{"active": false})))
	assert.False(t, e.Holds("active = true", snap(map[string]any{"active": "true"})), "string is not boolean")
	assert.False(t, e.Holds("active = true", snap(map[string]any{})))
	assert.True(t, e.Holds("active = false", snap(map[string]any{"active": false})))
	assert.True(t, e.Holds("active != true", snap(map[string]any{"active": false})))
	assert.True(t, e.Holds("active != true", snap(map[string]any{})))
}

func TestCondition_NullComparisons(t *testing.T) {
	e := NewConditionEngine()

	assert.True(t, e.Holds("description = null", snap(map[string]any{"description": nil})))
	assert.True(t, e.Holds("description = null", snap(map[string]any{})), "unknown attribute is null")
	assert.False(t, e.Holds("description = null", snap(map[string]any{"description": ""})))
	assert.True(t, e.Holds("description != null", snap(map[string]any{"description": "x"})))
	assert.True(t, e.Holds("description != null", snap(map[string]any{"description": 0})))
	assert.False(t, e.Holds("description != null", snap(map[string]any{})))
}

func TestCondition_StringComparisons(t *testing.T) {
	e := NewConditionEngine()

	assert.True(t, e.Holds("severity = high", snap(map[string]any{"severity": "high"})))
	assert.False(t, e.Holds("severity = high", snap(map[string]any{"severity": "High"})), "case-sensitive")
	assert.True(t, e.Holds("severity != low", snap(map[string]any{"severity": "high"})))
	assert.False(t, e.Holds("severity = high", snap(map[string]any{})))
	assert.True(t, e.Holds("severity != high", snap(map[string]any{})))
}

func TestCondition_Combinators(t *testing.T) {
	e := NewConditionEngine()
	and := "score >= 10 AND active = true"
	or := "score >= 10 OR active = true"

	tests := []struct {
		name    string
		attrs   map[string]any
		wantAnd bool
		wantOr  bool
	}{
		{"both hold", map[string]any{"score": 12, "active": true}, true, true},
		{"only score", map[string]any{"score": 12, "active": false}, false, true},
		{"only active", map[string]any{"score": 2, "active": true}, false, true},
		{"neither", map[string]any{"score": 2, "active": false}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantAnd, e.Holds(and, snap(tt.attrs)))
			assert.Equal(t, tt.wantOr, e.Holds(or, snap(tt.attrs)))
		})
	}
}

func TestCondition_MixedCombinatorsFailClosed(t *testing.T) {
	e := NewConditionEngine()
	attrs := snap(map[string]any{"a": 1, "b": 2, "c": 3})

	assert.False(t, e.Holds("a = 1 AND b = 2 OR c = 3", attrs))
	assert.False(t, e.Holds("a = 9 OR b = 2 AND c = 3", attrs))
}

func TestCondition_Deterministic(t *testing.T) {
	e := NewConditionEngine()
	attrs := snap(map[string]any{"score": 11, "active": true})

	first := e.Holds("score >= 10 AND active = true", attrs)
	for range 10 {
		assert.Equal(t, first, e.Holds("score >= 10 AND active = true", attrs))
	}
}

func TestConditionEngine_EvaluateAndCache(t *testing.T) {
	e := NewConditionEngine()
	assert.Equal(t, "condition", e.Name())

	out, err := e.Evaluate(context.Background(), "score >= 10", map[string]any{"score": 10})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	_, err = e.Evaluate(context.Background(), "score >=", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	c1, err := e.Compile("score >= 10")
	require.NoError(t, err)
	c2, err := e.Compile("score >= 10")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

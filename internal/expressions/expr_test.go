package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpr_RecordConditions(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"severity": "high",
		"affected": 150.0,
		"tags":     []any{"pii", "external"},
		"owner":    map[string]any{"name": "ann"},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`severity == "high"`, true},
		{`affected > 100 && severity in ["high", "critical"]`, true},
		{`"pii" in tags`, true},
		{`len(tags) == 3`, false},
		{`owner?.name == "ann"`, true},
		{`missing ?? true`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestExpr_NonBoolRejectedAtCompile(t *testing.T) {
	e := NewExprEngine()

	err := e.Compile(`"text"`)
	assert.Error(t, err, "conditions must be boolean")
}

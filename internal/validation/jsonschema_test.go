package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDottedPath(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, "/"},
		{[]string{"name"}, "name"},
		{[]string{"steps", "2", "step_type"}, "steps[2].step_type"},
		{[]string{"steps", "0", "metadata", "autoProgressConditions", "fields", "1"},
			"steps[0].metadata.autoProgressConditions.fields[1]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dottedPath(tt.in))
	}
}

func TestJSONSchemaValidator_Workflow(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	assert.Empty(t, v.ValidateWorkflow(validWorkflow()))

	wf := validWorkflow()
	wf.Steps[2].StepType = "deploy"
	got := v.ValidateWorkflow(wf)
	require.NotEmpty(t, got)
	assert.Equal(t, "steps[2].step_type", got[0].Path)
	assert.NotEmpty(t, got[0].Message)
}

func TestJSONSchemaValidator_Descriptor(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	assert.Empty(t, v.ValidateDescriptor(map[string]any{"type": "auto", "condition": "x = 1"}))
	assert.Empty(t, v.ValidateDescriptor(map[string]any{"type": "risk_appetite", "entity": "Risk"}))

	assert.Equal(t, []Violation{{Path: "/", Message: "descriptor is nil"}}, v.ValidateDescriptor(nil))

	got := v.ValidateDescriptor(map[string]any{"type": "auto", "dialect": "lua"})
	require.Len(t, got, 1)
	assert.Equal(t, "dialect", got[0].Path)

	assert.NotEmpty(t, v.ValidateDescriptor(map[string]any{"type": "field_completion"}))
}

func TestEmbeddedSchemas(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.Contains(t, v.schemas, schemaWorkflow)
	assert.Contains(t, v.schemas, schemaDescriptor)
}

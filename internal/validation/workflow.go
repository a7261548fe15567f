package validation

import (
	"github.com/rendis/autoprogress/internal/expressions"
	"github.com/rendis/autoprogress/pkg/schema"
)

// WorkflowValidator runs the template validation pipeline:
// 1. Structural (JSON Schema, including step descriptors)
// 2. Semantic (unique step IDs, descriptor build, condition compilation)
type WorkflowValidator struct {
	jsonSchema   *JSONSchemaValidator
	evaluator    *expressions.Evaluator
	riskEntities map[string]bool
}

// NewWorkflowValidator creates a WorkflowValidator. ev compiles descriptor
// conditions; nil accepts only the native condition language.
// riskEntities defaults to "Risk".
func NewWorkflowValidator(ev *expressions.Evaluator, riskEntities ...string) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	if ev == nil {
		ev = expressions.NewEvaluator()
	}
	if len(riskEntities) == 0 {
		riskEntities = []string{"Risk"}
	}
	set := make(map[string]bool, len(riskEntities))
	for _, e := range riskEntities {
		set[e] = true
	}
	return &WorkflowValidator{jsonSchema: jsv, evaluator: ev, riskEntities: set}, nil
}

// Validate runs the pipeline and returns an aggregated result.
// Structural errors short-circuit the semantic stage.
func (wv *WorkflowValidator) Validate(wf *schema.Workflow) *schema.ValidationResult {
	if wf == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow is nil")
		return r
	}

	result := validateStructural(wv.jsonSchema, wf)
	if !result.Valid() {
		return result
	}
	result.Merge(validateSemantic(wf, wv.evaluator, wv.riskEntities))
	return result
}

// ValidateWorkflow returns the pipeline result as an error, nil when valid.
func (wv *WorkflowValidator) ValidateWorkflow(wf *schema.Workflow) error {
	return wv.Validate(wf).ToError()
}

// ValidateDescriptor checks a standalone descriptor, e.g. before attaching it to a step.
func (wv *WorkflowValidator) ValidateDescriptor(raw map[string]any) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if addViolations(result, wv.jsonSchema.ValidateDescriptor(raw)) {
		return result
	}
	wf := &schema.Workflow{Steps: []schema.WorkflowStep{{
		Metadata: map[string]any{schema.MetadataAutoProgress: raw},
	}}}
	validateStepDescriptor(wf, &wf.Steps[0], "/", wv.evaluator, wv.riskEntities, result)
	return result
}

func validateStructural(v *JSONSchemaValidator, wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	addViolations(result, v.ValidateWorkflow(wf))
	return result
}

// addViolations records each violation as an error and reports whether there were any.
func addViolations(result *schema.ValidationResult, vs []Violation) bool {
	for _, v := range vs {
		result.AddError(v.Path, schema.ErrCodeValidation, v.Message)
	}
	return len(vs) > 0
}

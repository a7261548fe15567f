package validation

import (
	"fmt"

	"github.com/rendis/autoprogress/internal/conditions"
	"github.com/rendis/autoprogress/internal/expressions"
	"github.com/rendis/autoprogress/pkg/schema"
)

// validateSemantic checks what the JSON Schema cannot: unique step IDs,
// descriptor consistency with the template and compilable conditions.
func validateSemantic(wf *schema.Workflow, ev *expressions.Evaluator, riskEntities map[string]bool) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	seen := make(map[string]int, len(wf.Steps))
	for i := range wf.Steps {
		step := &wf.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)

		if prev, dup := seen[step.ID]; dup {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate step id %q (also steps[%d])", step.ID, prev))
		} else {
			seen[step.ID] = i
		}

		validateStepDescriptor(wf, step, path+".metadata.autoProgressConditions", ev, riskEntities, result)
	}

	if !hasAutoStep(wf) {
		result.AddWarning("steps", "NO_AUTO_PROGRESSION",
			"no step declares autoProgressConditions; every step requires manual action")
	}
	return result
}

func validateStepDescriptor(wf *schema.Workflow, step *schema.WorkflowStep, path string, ev *expressions.Evaluator, riskEntities map[string]bool, result *schema.ValidationResult) {
	raw := step.AutoProgressConditions()
	if raw == nil {
		if _, present := step.Metadata[schema.MetadataAutoProgress]; present {
			result.AddError(path, schema.ErrCodeValidation, "autoProgressConditions must be an object")
		}
		return
	}

	d, err := conditions.ParseDescriptor(raw)
	if err != nil {
		result.AddError(path, schema.ErrCodeValidation, err.Error())
		return
	}
	if _, err := conditions.Build(d); err != nil {
		result.AddError(path, schema.ErrCodeValidation, err.Error())
		return
	}

	if d.Condition != "" {
		if err := ev.Compile(d.Dialect, d.Condition); err != nil {
			result.AddError(path+".condition", schema.ErrCodeValidation, err.Error())
		}
	}

	switch d.Type {
	case conditions.TypeFieldCompletion:
		if len(d.Fields) == 0 && d.Condition == "" {
			result.AddWarning(path+".fields", "ALWAYS_READY",
				"field_completion with no fields and no condition is always ready")
		}
		if d.Entity == "" {
			result.AddWarning(path+".entity", "NO_ENTITY",
				"field_completion without entity applies to any record type")
		}
	case conditions.TypeRiskAppetite:
		if !riskEntities[d.Entity] {
			result.AddError(path+".entity", schema.ErrCodeValidation,
				fmt.Sprintf("entity %q is not a risk-bearing type", d.Entity))
		}
	}

	if d.Entity != "" && wf.EntityType != "" && d.Entity != wf.EntityType {
		result.AddWarning(path+".entity", "ENTITY_MISMATCH",
			fmt.Sprintf("descriptor entity %q differs from workflow entity type %q and will never be ready", d.Entity, wf.EntityType))
	}
}

func hasAutoStep(wf *schema.Workflow) bool {
	for i := range wf.Steps {
		if wf.Steps[i].AutoProgressConditions() != nil {
			return true
		}
	}
	return false
}

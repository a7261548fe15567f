package conditions

import (
	"encoding/json"

	"github.com/rendis/autoprogress/pkg/schema"
)

// Type is the descriptor tag selecting a condition variant.
type Type string

const (
	TypeFieldCompletion Type = "field_completion"
	TypeAuto            Type = "auto"
	TypeRiskAppetite    Type = "risk_appetite"
)

// DefaultRiskScoreField is read when a risk_appetite descriptor names no score field.
const DefaultRiskScoreField = "residualRisk"

// TenantAttribute is the record attribute used to scope risk appetite lookups.
const TenantAttribute = "tenant"

// Descriptor is the autoProgressConditions value attached to a step.
type Descriptor struct {
	Type           Type     `json:"type"`
	Entity         string   `json:"entity,omitempty"`
	Fields         []string `json:"fields,omitempty"`
	Condition      string   `json:"condition,omitempty"`
	Dialect        string   `json:"dialect,omitempty"`
	RiskScoreField string   `json:"riskScoreField,omitempty"`
	CategoryField  string   `json:"categoryField,omitempty"`
}

// ParseDescriptor decodes raw step metadata into a Descriptor.
func ParseDescriptor(raw map[string]any) (*Descriptor, error) {
	if raw == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "no autoProgressConditions")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "encode descriptor").WithCause(err)
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode descriptor: %s", err.Error()).WithCause(err)
	}
	if d.Type == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "descriptor has no type")
	}
	return &d, nil
}

// Build returns the condition variant for the descriptor's type tag.
func Build(d *Descriptor) (Condition, error) {
	switch d.Type {
	case TypeFieldCompletion:
		if d.Fields == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "field_completion requires fields")
		}
		return &FieldCompletion{
			Entity:    d.Entity,
			Fields:    append([]string(nil), d.Fields...),
			Condition: d.Condition,
			Dialect:   d.Dialect,
		}, nil
	case TypeAuto:
		return &Auto{Condition: d.Condition, Dialect: d.Dialect}, nil
	case TypeRiskAppetite:
		scoreField := d.RiskScoreField
		if scoreField == "" {
			scoreField = DefaultRiskScoreField
		}
		return &RiskAppetite{
			Entity:         d.Entity,
			RiskScoreField: scoreField,
			CategoryField:  d.CategoryField,
		}, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown condition type %q", d.Type)
	}
}

// FromStep parses and builds the condition configured on step.
// ok is false when the step carries no autoProgressConditions.
func FromStep(step *schema.WorkflowStep) (c Condition, ok bool, err error) {
	raw := step.AutoProgressConditions()
	if raw == nil {
		return nil, false, nil
	}
	d, err := ParseDescriptor(raw)
	if err != nil {
		return nil, true, err
	}
	c, err = Build(d)
	return c, true, err
}

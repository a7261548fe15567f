package schema

import "time"

// MetadataAutoProgress is the step metadata key holding the auto-progression descriptor.
const MetadataAutoProgress = "autoProgressConditions"

// Workflow is a published workflow template: an ordered list of steps.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	EntityType  string         `json:"entity_type,omitempty"`
	Description string         `json:"description,omitempty"`
	Steps       []WorkflowStep `json:"steps"`
	CreatedAt   time.Time      `json:"created_at"`
}

// WorkflowStep is one stage of a workflow template.
// A step without an autoProgressConditions entry in Metadata requires manual action.
type WorkflowStep struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	StepType       string         `json:"step_type,omitempty"` // approval, notification, review
	DaysToComplete int            `json:"days_to_complete,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// AutoProgressConditions returns the raw descriptor from the step metadata, or nil.
func (s *WorkflowStep) AutoProgressConditions() map[string]any {
	if s == nil || s.Metadata == nil {
		return nil
	}
	raw, _ := s.Metadata[MetadataAutoProgress].(map[string]any)
	return raw
}

// StepIndex returns the position of stepID in the template, or -1.
func (w *Workflow) StepIndex(stepID string) int {
	if w == nil {
		return -1
	}
	for i := range w.Steps {
		if w.Steps[i].ID == stepID {
			return i
		}
	}
	return -1
}

// Step returns the step with the given ID, or nil.
func (w *Workflow) Step(stepID string) *WorkflowStep {
	i := w.StepIndex(stepID)
	if i < 0 {
		return nil
	}
	return &w.Steps[i]
}

// Actor identifies the user on whose behalf a transition is recorded.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// SystemActor is used by background sweeps when no initiator is known.
var SystemActor = Actor{ID: "system", Name: "System"}

// HistoryEntry is one append-only record in an instance's approval history.
type HistoryEntry struct {
	ID              string    `json:"id"`
	StepID          string    `json:"step_id"`
	StepName        string    `json:"step_name"`
	Action          string    `json:"action"`
	ActorID         string    `json:"approver_id"`
	ActorName       string    `json:"approver_name,omitempty"`
	Comments        string    `json:"comments,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	AutoProgression bool      `json:"auto_progression"`
	TriggerEntity   string    `json:"trigger_entity,omitempty"`
}

// WorkflowInstance is a running execution of a Workflow attached to one record.
type WorkflowInstance struct {
	ID              string         `json:"id"`
	Workflow        *Workflow      `json:"workflow"`
	EntityType      string         `json:"entity_type"`
	EntityID        string         `json:"entity_id"`
	Status          InstanceStatus `json:"status"`
	CurrentStepID   string         `json:"current_step_id,omitempty"`
	CompletedSteps  []string       `json:"completed_steps,omitempty"`
	ApprovalHistory []HistoryEntry `json:"approval_history,omitempty"`
	InitiatedBy     string         `json:"initiated_by,omitempty"`
	DueDate         *time.Time     `json:"due_date,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Version         int64          `json:"version"`
}

// CurrentStep resolves CurrentStepID against the template. Returns nil when
// there is no current step or it does not belong to the template.
func (i *WorkflowInstance) CurrentStep() *WorkflowStep {
	if i == nil || i.CurrentStepID == "" || i.Workflow == nil {
		return nil
	}
	return i.Workflow.Step(i.CurrentStepID)
}

// NextStep returns the step immediately following the current one in template order.
// ok is false when the current step is the last one (or unknown).
func (i *WorkflowInstance) NextStep() (*WorkflowStep, bool) {
	if i == nil || i.Workflow == nil {
		return nil, false
	}
	idx := i.Workflow.StepIndex(i.CurrentStepID)
	if idx < 0 || idx+1 >= len(i.Workflow.Steps) {
		return nil, false
	}
	return &i.Workflow.Steps[idx+1], true
}

// IsOverdue reports whether an active instance is past its due date.
func (i *WorkflowInstance) IsOverdue(now time.Time) bool {
	return i.Status == InstanceStatusInProgress && i.DueDate != nil && i.DueDate.Before(now)
}

// Clone returns a deep copy of the mutable parts of the instance.
// The template pointer is shared since templates are immutable once published.
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	if i == nil {
		return nil
	}
	cp := *i
	cp.CompletedSteps = append([]string(nil), i.CompletedSteps...)
	cp.ApprovalHistory = append([]HistoryEntry(nil), i.ApprovalHistory...)
	if i.DueDate != nil {
		d := *i.DueDate
		cp.DueDate = &d
	}
	if i.StartedAt != nil {
		s := *i.StartedAt
		cp.StartedAt = &s
	}
	if i.CompletedAt != nil {
		c := *i.CompletedAt
		cp.CompletedAt = &c
	}
	return &cp
}

// RiskAppetite is a configured maximum acceptable risk score.
// An empty Category is the tenant's global default.
type RiskAppetite struct {
	ID                string     `json:"id"`
	Tenant            string     `json:"tenant,omitempty"`
	Category          string     `json:"category,omitempty"`
	MaxAcceptableRisk int        `json:"max_acceptable_risk"`
	Active            bool       `json:"active"`
	ValidFrom         time.Time  `json:"valid_from"`
	ValidTo           *time.Time `json:"valid_to,omitempty"`
}

// IsCurrentlyValid reports whether the appetite is active and its validity window covers now.
func (r *RiskAppetite) IsCurrentlyValid(now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.ValidFrom.After(now) {
		return false
	}
	if r.ValidTo != nil && r.ValidTo.Before(now) {
		return false
	}
	return true
}

// IsAcceptable reports whether score does not exceed the appetite.
func (r *RiskAppetite) IsAcceptable(score float64) bool {
	return score <= float64(r.MaxAcceptableRisk)
}

package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeStepWorkflow() *Workflow {
	return &Workflow{
		ID:   "wf",
		Name: "breach",
		Steps: []WorkflowStep{
			{ID: "s1", Name: "Assess", Metadata: map[string]any{
				MetadataAutoProgress: map[string]any{"type": "auto"},
			}},
			{ID: "s2", Name: "Notify", DaysToComplete: 3},
			{ID: "s3", Name: "Close"},
		},
	}
}

func TestWorkflowInstance_CurrentAndNextStep(t *testing.T) {
	inst := &WorkflowInstance{Workflow: threeStepWorkflow(), CurrentStepID: "s1"}

	cur := inst.CurrentStep()
	require.NotNil(t, cur)
	assert.Equal(t, "Assess", cur.Name)

	next, ok := inst.NextStep()
	require.True(t, ok)
	assert.Equal(t, "s2", next.ID)

	inst.CurrentStepID = "s3"
	_, ok = inst.NextStep()
	assert.False(t, ok, "last step has no successor")
}

func TestWorkflowInstance_UnknownCurrentStep(t *testing.T) {
	inst := &WorkflowInstance{Workflow: threeStepWorkflow(), CurrentStepID: "missing"}
	assert.Nil(t, inst.CurrentStep())
	_, ok := inst.NextStep()
	assert.False(t, ok)

	inst.CurrentStepID = ""
	assert.Nil(t, inst.CurrentStep())
}

func TestWorkflowStep_AutoProgressConditions(t *testing.T) {
	wf := threeStepWorkflow()
	assert.Equal(t, map[string]any{"type": "auto"}, wf.Steps[0].AutoProgressConditions())
	assert.Nil(t, wf.Steps[1].AutoProgressConditions())

	var nilStep *WorkflowStep
	assert.Nil(t, nilStep.AutoProgressConditions())
}

func TestWorkflowInstance_CloneIsIndependent(t *testing.T) {
	due := time.Now()
	inst := &WorkflowInstance{
		Workflow:       threeStepWorkflow(),
		CompletedSteps: []string{"s0"},
		DueDate:        &due,
	}
	cp := inst.Clone()
	cp.CompletedSteps = append(cp.CompletedSteps, "s1")
	cp.ApprovalHistory = append(cp.ApprovalHistory, HistoryEntry{StepID: "s1"})
	*cp.DueDate = due.Add(time.Hour)

	assert.Equal(t, []string{"s0"}, inst.CompletedSteps)
	assert.Empty(t, inst.ApprovalHistory)
	assert.Equal(t, due, *inst.DueDate)
	assert.Same(t, inst.Workflow, cp.Workflow)
}

func TestWorkflowInstance_IsOverdue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	inst := &WorkflowInstance{Status: InstanceStatusInProgress, DueDate: &past}
	assert.True(t, inst.IsOverdue(now))

	inst.Status = InstanceStatusCompleted
	assert.False(t, inst.IsOverdue(now))
}

func TestRiskAppetite_Validity(t *testing.T) {
	now := time.Now()
	tomorrow := now.Add(24 * time.Hour)
	yesterday := now.Add(-24 * time.Hour)

	tests := []struct {
		name string
		ra   RiskAppetite
		want bool
	}{
		{"active open-ended", RiskAppetite{Active: true, ValidFrom: yesterday}, true},
		{"inactive", RiskAppetite{Active: false, ValidFrom: yesterday}, false},
		{"not yet valid", RiskAppetite{Active: true, ValidFrom: tomorrow}, false},
		{"expired", RiskAppetite{Active: true, ValidFrom: yesterday.Add(-time.Hour), ValidTo: &yesterday}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ra.IsCurrentlyValid(now))
		})
	}
}

func TestRiskAppetite_IsAcceptable(t *testing.T) {
	ra := RiskAppetite{MaxAcceptableRisk: 12}
	assert.True(t, ra.IsAcceptable(12))
	assert.True(t, ra.IsAcceptable(3.5))
	assert.False(t, ra.IsAcceptable(12.1))
}

func TestInstanceStatus_IsTerminal(t *testing.T) {
	assert.True(t, InstanceStatusCompleted.IsTerminal())
	assert.True(t, InstanceStatusCancelled.IsTerminal())
	assert.False(t, InstanceStatusInProgress.IsTerminal())
	assert.False(t, InstanceStatusDraft.IsTerminal())
}

package schema

// History actions recorded in WorkflowInstance.ApprovalHistory.
const (
	ActionAutoApproved = "auto_approved"
	ActionStarted      = "workflow_started"
	ActionCancelled    = "workflow_cancelled"
)

// AutoApprovalComment is the note attached to automatically approved steps.
const AutoApprovalComment = "Step automatically approved based on field completion"

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusDraft      InstanceStatus = "draft"
	InstanceStatusInProgress InstanceStatus = "in_progress"
	InstanceStatusCompleted  InstanceStatus = "completed"
	InstanceStatusCancelled  InstanceStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusCancelled
}

package diagram

import "time"

// NodeKind classifies a diagram node by its workflow step type.
type NodeKind string

const (
	NodeKindApproval     NodeKind = "approval"
	NodeKindNotification NodeKind = "notification"
	NodeKindReview       NodeKind = "review"
	NodeKindStart        NodeKind = "start"
	NodeKindEnd          NodeKind = "end"
)

// Step states shown in a status overlay.
const (
	StatusCompleted = "completed"
	StatusCurrent   = "current"
	StatusPending   = "pending"
	StatusCancelled = "cancelled"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single step in the diagram.
type Node struct {
	ID    string
	Label string
	Kind  NodeKind
	// Auto is the auto-progression condition type, empty for manual steps.
	Auto           string
	DaysToComplete int
	Status         *StatusOverlay
}

// StatusOverlay carries instance state for a node.
type StatusOverlay struct {
	Status       string
	AutoApproved bool
	Due          *time.Time
}

// Edge represents the order between two steps.
type Edge struct {
	From  string
	To    string
	Label string
}

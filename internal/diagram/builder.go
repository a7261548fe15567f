package diagram

import (
	"fmt"

	"github.com/rendis/autoprogress/internal/conditions"
	"github.com/rendis/autoprogress/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// Build constructs a Model from a workflow template and an optional instance.
// Steps are laid out in template order between virtual start and end nodes.
// With an instance, every node carries a status overlay.
func Build(wf *schema.Workflow, inst *schema.WorkflowInstance) (*Model, error) {
	if wf == nil {
		return nil, fmt.Errorf("diagram: nil workflow")
	}
	if len(wf.Steps) == 0 {
		return nil, fmt.Errorf("diagram: workflow %s has no steps", wf.ID)
	}

	nodes := make([]*Node, 0, len(wf.Steps)+2)
	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	for i := range wf.Steps {
		nodes = append(nodes, stepToNode(&wf.Steps[i]))
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	edges := make([]Edge, 0, len(nodes)-1)
	for i := 0; i+1 < len(nodes); i++ {
		e := Edge{From: nodes[i].ID, To: nodes[i+1].ID}
		if nodes[i].Auto != "" {
			e.Label = "auto"
		}
		edges = append(edges, e)
	}

	if inst != nil {
		overlayStatus(nodes, inst)
	}

	return &Model{Title: titleOf(wf, inst), Nodes: nodes, Edges: edges}, nil
}

func stepToNode(step *schema.WorkflowStep) *Node {
	n := &Node{
		ID:             step.ID,
		Label:          step.Name,
		Kind:           stepTypeToKind(step.StepType),
		DaysToComplete: step.DaysToComplete,
	}
	if n.Label == "" {
		n.Label = step.ID
	}
	c, ok, err := conditions.FromStep(step)
	switch {
	case !ok:
	case err != nil:
		n.Auto = "invalid"
	default:
		n.Auto = string(c.Type())
	}
	return n
}

func stepTypeToKind(t string) NodeKind {
	switch t {
	case "notification":
		return NodeKindNotification
	case "review":
		return NodeKindReview
	default:
		return NodeKindApproval
	}
}

// overlayStatus marks completed steps, the current step and the rest as pending.
func overlayStatus(nodes []*Node, inst *schema.WorkflowInstance) {
	completed := make(map[string]bool, len(inst.CompletedSteps))
	for _, id := range inst.CompletedSteps {
		completed[id] = true
	}
	auto := make(map[string]bool)
	for _, h := range inst.ApprovalHistory {
		if h.AutoProgression {
			auto[h.StepID] = true
		}
	}

	for _, n := range nodes {
		switch n.Kind {
		case NodeKindStart:
			n.Status = &StatusOverlay{Status: StatusCompleted}
			continue
		case NodeKindEnd:
			st := StatusPending
			switch inst.Status {
			case schema.InstanceStatusCompleted:
				st = StatusCompleted
			case schema.InstanceStatusCancelled:
				st = StatusCancelled
			}
			n.Status = &StatusOverlay{Status: st}
			continue
		}

		ov := &StatusOverlay{Status: StatusPending, AutoApproved: auto[n.ID]}
		switch {
		case completed[n.ID]:
			ov.Status = StatusCompleted
		case n.ID == inst.CurrentStepID && inst.Status == schema.InstanceStatusCancelled:
			ov.Status = StatusCancelled
		case n.ID == inst.CurrentStepID:
			ov.Status = StatusCurrent
			ov.Due = inst.DueDate
		}
		n.Status = ov
	}
}

func titleOf(wf *schema.Workflow, inst *schema.WorkflowInstance) string {
	title := wf.Name
	if title == "" {
		title = wf.ID
	}
	if inst != nil {
		title = fmt.Sprintf("%s (%s/%s, %s)", title, inst.EntityType, inst.EntityID, inst.Status)
	}
	return title
}

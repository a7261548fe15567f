package diagram

import (
	"fmt"
	"strings"
)

// Opening and closing brackets per node kind; anything else is a rectangle.
var mermaidShapes = map[NodeKind][2]string{
	NodeKindReview:       {"{{", "}}"},
	NodeKindNotification: {"([", "])"},
	NodeKindStart:        {"((", "))"},
	NodeKindEnd:          {"((", "))"},
}

var mermaidStyles = []struct{ status, style string }{
	{StatusCompleted, "fill:#2d6a2d,stroke:#1a4a1a,color:#fff"},
	{StatusCurrent, "fill:#1a5276,stroke:#0e3a52,color:#fff"},
	{StatusPending, "fill:#6b6b6b,stroke:#4a4a4a,color:#fff"},
	{StatusCancelled, "fill:#8b1a1a,stroke:#5c0e0e,color:#fff"},
}

var mermaidIDReplacer = strings.NewReplacer(".", "_", "-", "_", " ", "_")

// RenderMermaid renders m as a top-down Mermaid flowchart. Nodes with a
// status overlay are assigned one class per status.
func RenderMermaid(m *Model) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	if m.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", m.Title)
	}

	for _, n := range m.Nodes {
		shape, ok := mermaidShapes[n.Kind]
		if !ok {
			shape = [2]string{"[", "]"}
		}
		fmt.Fprintf(&b, "    %s%s\"%s\"%s\n", mermaidSafeID(n.ID), shape[0], mermaidLabel(n), shape[1])
	}
	for _, e := range m.Edges {
		arrow := "-->"
		if e.Label != "" {
			arrow += "|" + e.Label + "|"
		}
		fmt.Fprintf(&b, "    %s %s %s\n", mermaidSafeID(e.From), arrow, mermaidSafeID(e.To))
	}

	byStatus := map[string][]string{}
	for _, n := range m.Nodes {
		if n.Status != nil {
			byStatus[n.Status.Status] = append(byStatus[n.Status.Status], mermaidSafeID(n.ID))
		}
	}

	b.WriteString("\n")
	for _, s := range mermaidStyles {
		fmt.Fprintf(&b, "    classDef %s %s\n", s.status, s.style)
	}
	for _, s := range mermaidStyles {
		if ids := byStatus[s.status]; len(ids) > 0 {
			fmt.Fprintf(&b, "    class %s %s\n", strings.Join(ids, ","), s.status)
		}
	}
	return b.String()
}

// mermaidLabel is the quoted node text: the step name, its auto condition
// type and, for the current step, its due date.
func mermaidLabel(n *Node) string {
	label := n.Label
	if n.Auto != "" {
		label += " (auto: " + n.Auto + ")"
	}
	if n.Status != nil && n.Status.Due != nil {
		label += " due " + n.Status.Due.Format("2006-01-02")
	}
	return strings.ReplaceAll(label, `"`, "#quot;")
}

func mermaidSafeID(id string) string {
	return mermaidIDReplacer.Replace(id)
}

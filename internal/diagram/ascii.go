package diagram

import (
	"fmt"
	"strings"
)

// statusTag returns a short ASCII indicator for a status string.
func statusTag(ov *StatusOverlay) string {
	if ov == nil {
		return ""
	}
	switch ov.Status {
	case StatusCompleted:
		if ov.AutoApproved {
			return "[OK auto]"
		}
		return "[OK]"
	case StatusCurrent:
		return "[NOW]"
	case StatusCancelled:
		return "[CANCEL]"
	case StatusPending:
		return "[PEND]"
	default:
		return ""
	}
}

// RenderASCII renders a Model as a vertical stack of boxes.
func RenderASCII(model *Model) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	for i, node := range model.Nodes {
		for _, line := range makeBox(node) {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if i < len(model.Edges) {
			renderConnector(&b, model.Edges[i].Label)
		}
	}

	return b.String()
}

// makeBox returns the rendered lines of one node.
func makeBox(node *Node) []string {
	content := []string{node.Label}
	if node.Auto != "" {
		content = append(content, "auto: "+node.Auto)
	}
	if node.DaysToComplete > 0 {
		content = append(content, fmt.Sprintf("%d days", node.DaysToComplete))
	}
	if tag := statusTag(node.Status); tag != "" {
		content = append(content, tag)
	}
	if node.Status != nil && node.Status.Due != nil {
		content = append(content, "due "+node.Status.Due.Format("2006-01-02"))
	}

	maxLen := 0
	for _, line := range content {
		maxLen = max(maxLen, len([]rune(line)))
	}

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+strings.Repeat("─", maxLen+2)+"┐")
	for _, line := range content {
		pad := maxLen - len([]rune(line))
		lines = append(lines, "│ "+line+strings.Repeat(" ", pad)+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", maxLen+2)+"┘")
	return lines
}

// renderConnector draws the arrow to the next box.
func renderConnector(b *strings.Builder, label string) {
	if label != "" {
		b.WriteString("  │ " + label + "\n")
	} else {
		b.WriteString("  │\n")
	}
	b.WriteString("  ▼\n")
}

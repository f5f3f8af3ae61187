package flow

import (
	"fmt"
	"strings"
)

// GenerateMermaid renders the graph as a Mermaid flowchart:
//   - flows that wait for input: [/Parallelogram/]
//   - nested flows: [[Subroutine]]
//   - others: [Rectangle]
//
// Triggers are edges from a single start node; declared successors are edges
// between flows, dotted when the successor is nested.
func GenerateMermaid(g *Graph) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	sb.WriteString("    start((start))\n")

	for _, f := range g.Flows() {
		safeID := sanitizeMermaidID(f.ID)

		opener, closer := "[", "]"
		switch {
		case f.Nested:
			opener, closer = "[[", "]]"
		case hasCapture(f):
			opener, closer = "[/", "/]"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s (%d)\"%s\n", safeID, opener, f.ID, len(f.Steps), closer)

		for _, t := range f.Triggers {
			if label := triggerLabel(t); label != "" {
				fmt.Fprintf(&sb, "    start -- \"%s\" --> %s\n", label, safeID)
			}
		}
	}

	for _, f := range g.Flows() {
		for _, next := range f.Next {
			arrow := "-->"
			if to, ok := g.Flow(next); ok && to.Nested {
				arrow = "-.->"
			}
			fmt.Fprintf(&sb, "    %s %s %s\n", sanitizeMermaidID(f.ID), arrow, sanitizeMermaidID(next))
		}
	}
	return sb.String()
}

func hasCapture(f *Flow) bool {
	for _, s := range f.Steps {
		if s.Capture != nil {
			return true
		}
	}
	return false
}

func triggerLabel(t Trigger) string {
	var parts []string
	for _, kw := range t.Keywords {
		parts = append(parts, strings.ReplaceAll(kw, "\"", "'"))
	}
	if t.Event != "" {
		parts = append(parts, "on "+string(t.Event))
	}
	if t.Name != "" {
		parts = append(parts, "⚡ "+t.Name)
	}
	return strings.Join(parts, " | ")
}

func sanitizeMermaidID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", " ", "_")
	return r.Replace(id)
}

// Package graph renders the design dependency DAG as a Mermaid diagram.
package graph

import (
	"fmt"
	"sort"
	"strings"

	dag "github.com/hdlforge/crucible/internal/graph"
	"github.com/hdlforge/crucible/pkg/domain"
)

// Overlay carries live node states to style onto the static graph.
type Overlay struct {
	States map[string]domain.NodeState
}

// GenerateMermaid produces a Mermaid flowchart (graph TD) of the design DAG.
// The top module renders as a circle, submodules as rectangles; edges point
// from a dependency to its dependent. Overlay states color terminal and
// in-progress nodes.
func GenerateMermaid(store *dag.Store, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	byID := make(map[string]dag.DAGNode, len(store.DAG.Nodes))
	for _, n := range store.DAG.Nodes {
		byID[n.ID] = n
	}

	for _, id := range store.Order {
		n := byID[id]
		safeID := sanitizeMermaidID(n.ID)

		opener, closer := "[", "]"
		if n.Type == domain.KindTop {
			opener, closer = "((", "))"
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, n.ID, closer))

		for _, dep := range n.Deps {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", sanitizeMermaidID(dep), safeID))
		}
	}

	if overlay != nil && len(overlay.States) > 0 {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef done fill:#e8f5e9,stroke:#1b5e20,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef failed fill:#ffebee,stroke:#b71c1c,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef blocked fill:#eceff1,stroke:#455a64,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef active fill:#fff8e1,stroke:#f57f17,stroke-width:4px,color:#000;\n")

		ids := make([]string, 0, len(overlay.States))
		for id := range overlay.States {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			class := ""
			switch state := overlay.States[id]; {
			case state == domain.StateDone:
				class = "done"
			case state == domain.StateFailed:
				class = "failed"
			case state == domain.StateBlocked:
				class = "blocked"
			case state != domain.StatePending:
				class = "active"
			}
			if class != "" {
				sb.WriteString(fmt.Sprintf("    class %s %s;\n", sanitizeMermaidID(id), class))
			}
		}
	}

	return sb.String()
}

// StatesFromNodes builds an overlay from a node snapshot.
func StatesFromNodes(nodes []*domain.Node) *Overlay {
	states := make(map[string]domain.NodeState, len(nodes))
	for _, n := range nodes {
		states[n.ID] = n.State
	}
	return &Overlay{States: states}
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}

// Package report formats the final run report: plain Markdown for files and
// CI logs, or a glamour-rendered version for interactive terminals.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"

	"github.com/hdlforge/crucible/internal/runtime"
	"github.com/hdlforge/crucible/pkg/domain"
)

// Markdown renders the report as a Markdown document.
func Markdown(r *runtime.RunReport) string {
	var sb strings.Builder

	verdict := "PASSED"
	if !r.Succeeded() {
		verdict = "FAILED"
	}
	fmt.Fprintf(&sb, "# Verification Run %s: %s\n\n", r.RunID, verdict)
	fmt.Fprintf(&sb, "Started %s, finished %s (%s).\n\n",
		r.StartedAt.Format("2006-01-02 15:04:05 MST"),
		r.FinishedAt.Format("15:04:05 MST"),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Second))

	fmt.Fprintf(&sb, "| Done | Failed | Blocked | Pending |\n")
	fmt.Fprintf(&sb, "|------|--------|---------|--------|\n")
	fmt.Fprintf(&sb, "| %d | %d | %d | %d |\n\n", r.Done, r.Failed, r.Blocked, r.Pending)

	sb.WriteString("## Modules\n\n")
	for _, n := range r.Nodes {
		fmt.Fprintf(&sb, "### %s %s\n\n", stateGlyph(n.State), n.ID)
		fmt.Fprintf(&sb, "- Kind: %s\n- State: %s\n- Verification attempts: %d\n", n.Kind, n.State, n.Attempt)
		if n.BlockedOn != "" {
			fmt.Fprintf(&sb, "- Blocked on: %s\n", n.BlockedOn)
		}
		if n.DeadLettered {
			sb.WriteString("- Dead-lettered: structural failure, inspect the dead-letter queue\n")
		}
		if len(n.Metrics) > 0 {
			sb.WriteString("- Metrics:\n")
			for _, k := range sortedKeys(n.Metrics) {
				fmt.Fprintf(&sb, "    - %s: %g\n", k, n.Metrics[k])
			}
		}
		if len(n.Artifacts) > 0 {
			sb.WriteString("- Artifacts:\n")
			for _, k := range sortedArtifactKeys(n.Artifacts) {
				fmt.Fprintf(&sb, "    - %s: `%s`\n", k, n.Artifacts[k])
			}
		}
		if n.LastInsight != "" {
			fmt.Fprintf(&sb, "- Last insight: %s\n", n.LastInsight)
		}
		if len(n.Failures) > 0 {
			sb.WriteString("- Failure chain:\n")
			for _, f := range n.Failures {
				line := fmt.Sprintf("    - [%s] %s: %s", f.Class, f.Stage, f.Message)
				if len(f.Missing) > 0 {
					line += fmt.Sprintf(" (missing: %s)", strings.Join(f.Missing, ", "))
				}
				sb.WriteString(line + "\n")
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// RenderANSI renders the Markdown report for the terminal. Falls back to the
// plain document when the renderer cannot be built.
func RenderANSI(r *runtime.RunReport) string {
	md := Markdown(r)

	opts := []glamour.TermRendererOption{glamour.WithWordWrap(100)}
	if termenv.HasDarkBackground() {
		opts = append(opts, glamour.WithStandardStyle("dark"))
	} else {
		opts = append(opts, glamour.WithStandardStyle("light"))
	}

	renderer, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return md
	}
	out, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return out
}

func stateGlyph(s domain.NodeState) string {
	switch s {
	case domain.StateDone:
		return "✅"
	case domain.StateFailed:
		return "❌"
	case domain.StateBlocked:
		return "🚫"
	default:
		return "⏳"
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedArtifactKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package runtime

import (
	"time"

	"github.com/hdlforge/crucible/pkg/domain"
)

// FailureRecord is one entry of a node's failure chain.
type FailureRecord struct {
	Stage   domain.Stage      `json:"stage,omitempty"`
	Class   domain.ErrorClass `json:"class"`
	Message string            `json:"message"`
	Attempt int               `json:"attempt,omitempty"`
	// Missing names the artifacts or metric thresholds an acceptance check
	// reported absent.
	Missing []string  `json:"missing,omitempty"`
	At      time.Time `json:"at"`
}

// NodeReport is one node's final standing.
type NodeReport struct {
	ID      string             `json:"id"`
	Kind    domain.NodeKind    `json:"kind"`
	State   domain.NodeState   `json:"state"`
	History []domain.NodeState `json:"history"`
	Attempt int                `json:"attempt"`

	// DeadLettered distinguishes a structural defect (bad input, interface
	// mismatch) from a behavioral one (analysis loop exhausted): the operator
	// needs to know whether to fix the planner output or improve the patch.
	DeadLettered bool   `json:"dead_lettered,omitempty"`
	BlockedOn    string `json:"blocked_on,omitempty"`

	Failures    []FailureRecord    `json:"failures,omitempty"`
	LastInsight string             `json:"last_insight,omitempty"`
	Artifacts   map[string]string  `json:"artifacts,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// RunReport enumerates every node's terminal state at the end of a run.
type RunReport struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Nodes      []NodeReport `json:"nodes"`

	Done    int `json:"done"`
	Failed  int `json:"failed"`
	Blocked int `json:"blocked"`
	Pending int `json:"pending"`
}

// Succeeded reports whether every node completed.
func (r *RunReport) Succeeded() bool {
	return r.Failed == 0 && r.Blocked == 0 && r.Pending == 0
}

// buildReport snapshots the run. Callers hold at least a read lock on o.mu.
func (o *Orchestrator) buildReport() *RunReport {
	report := &RunReport{
		RunID:      o.runID,
		StartedAt:  o.startedAt,
		FinishedAt: time.Now().UTC(),
	}

	for _, id := range o.store.Order {
		node := o.nodes[id]
		nr := NodeReport{
			ID:           node.ID,
			Kind:         node.Kind,
			State:        node.State,
			History:      append([]domain.NodeState(nil), node.History...),
			Attempt:      node.Attempt,
			DeadLettered: node.DeadLettered,
			BlockedOn:    node.BlockedOn,
			Failures:     append([]FailureRecord(nil), o.failures[id]...),
			LastInsight:  o.ledger.LatestInsight(id),
		}
		if len(node.Artifacts) > 0 {
			nr.Artifacts = make(map[string]string, len(node.Artifacts))
			for k, v := range node.Artifacts {
				nr.Artifacts[k] = v
			}
		}
		if len(node.Metrics) > 0 {
			nr.Metrics = make(map[string]float64, len(node.Metrics))
			for k, v := range node.Metrics {
				nr.Metrics[k] = v
			}
		}

		switch node.State {
		case domain.StateDone:
			report.Done++
		case domain.StateFailed:
			report.Failed++
		case domain.StateBlocked:
			report.Blocked++
		default:
			report.Pending++
		}
		report.Nodes = append(report.Nodes, nr)
	}
	return report
}

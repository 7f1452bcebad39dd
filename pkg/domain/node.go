package domain

// NodeKind distinguishes the design's top module from its submodules.
type NodeKind string

const (
	KindTop       NodeKind = "TOP"
	KindSubmodule NodeKind = "SUBMODULE"
)

// NodeState is the position of a node in the verification state machine.
type NodeState string

const (
	StatePending      NodeState = "PENDING"
	StateImplementing NodeState = "IMPLEMENTING"
	StateLinting      NodeState = "LINTING"
	StateTestbenching NodeState = "TESTBENCHING"
	StateTBLinting    NodeState = "TB_LINTING"
	StateSimulating   NodeState = "SIMULATING"
	StateAccepting    NodeState = "ACCEPTING"
	StateDistilling   NodeState = "DISTILLING"
	StateReflecting   NodeState = "REFLECTING"
	StateDebugging    NodeState = "DEBUGGING"

	// StateDone and StateFailed are terminal. StateBlocked marks a dependent
	// of a failed node that was never dispatched: "could not run", as opposed
	// to "ran and failed".
	StateDone    NodeState = "DONE"
	StateFailed  NodeState = "FAILED"
	StateBlocked NodeState = "BLOCKED"
)

// Terminal reports whether the state admits no further transitions.
func (s NodeState) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateBlocked:
		return true
	default:
		return false
	}
}

// RetryReason keys the bounded analysis-loop counters. Each verification
// surface gets its own round budget so a testbench loop does not consume the
// simulation loop's budget.
type RetryReason string

const (
	ReasonRTLLint RetryReason = "rtl_lint"
	ReasonTBLint  RetryReason = "tb_lint"
	ReasonSim     RetryReason = "sim"
)

// Node is one design module's scheduling unit.
//
// A node is created when the DAG is loaded and mutated only by the result
// consumer in response to results; once State is terminal it is never touched
// again.
type Node struct {
	ID   string   `json:"id"`
	Kind NodeKind `json:"kind"`
	Deps []string `json:"deps"`

	State   NodeState   `json:"state"`
	History []NodeState `json:"history"`

	// Attempt is the current verification attempt ordinal. It starts at 1 and
	// increments each time a debug patch sends the node back into
	// re-verification.
	Attempt int `json:"attempt"`

	// StageAttempts counts dispatches per stage across the whole run. It is
	// the attempt ordinal stamped on envelopes and task memory entries.
	StageAttempts map[Stage]int `json:"stage_attempts,omitempty"`

	// TransientRetries counts flat retries per stage within the current
	// dispatch window (TransientToolError / Timeout policy).
	TransientRetries map[Stage]int `json:"transient_retries,omitempty"`

	// AnalysisRounds counts entries into the debug loop per reason.
	AnalysisRounds map[RetryReason]int `json:"analysis_rounds,omitempty"`

	// Artifacts grows monotonically; Metrics is written once per stage.
	Artifacts map[string]string  `json:"artifacts,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`

	// InFlight is the task id of the single outstanding dispatch, empty when
	// none. Set by the dispatcher before publish, cleared only by the result
	// consumer.
	InFlight string `json:"in_flight,omitempty"`

	// TBGenerated records that a testbench exists, so a re-verification pass
	// after a debug patch skips the testbench stage.
	TBGenerated bool `json:"tb_generated,omitempty"`

	// DeadLettered distinguishes a structurally failed node (bad input,
	// interface mismatch) from one that exhausted its analysis budget.
	DeadLettered bool `json:"dead_lettered,omitempty"`

	// BlockedOn names the failed dependency that removed this node from
	// eligibility, set only when State is BLOCKED.
	BlockedOn string `json:"blocked_on,omitempty"`
}

// NewNode creates a pending node.
func NewNode(id string, kind NodeKind, deps []string) *Node {
	return &Node{
		ID:               id,
		Kind:             kind,
		Deps:             deps,
		State:            StatePending,
		History:          []NodeState{StatePending},
		Attempt:          1,
		StageAttempts:    make(map[Stage]int),
		TransientRetries: make(map[Stage]int),
		AnalysisRounds:   make(map[RetryReason]int),
		Artifacts:        make(map[string]string),
		Metrics:          make(map[string]float64),
	}
}

// Transition moves the node to a new state, appending to its history.
// Transitions out of a terminal state are ignored.
func (n *Node) Transition(to NodeState) bool {
	if n.State.Terminal() {
		return false
	}
	n.State = to
	n.History = append(n.History, to)
	return true
}

// MergeArtifacts folds a result's artifact paths into the node's map.
func (n *Node) MergeArtifacts(artifacts map[string]string) {
	for k, v := range artifacts {
		n.Artifacts[k] = v
	}
}

// MergeMetrics folds a result's metrics into the node's map.
func (n *Node) MergeMetrics(metrics map[string]float64) {
	for k, v := range metrics {
		n.Metrics[k] = v
	}
}

// Clone returns a deep copy, used for external snapshots so readers never
// alias the orchestrator's live maps.
func (n *Node) Clone() *Node {
	c := *n
	c.Deps = append([]string(nil), n.Deps...)
	c.History = append([]NodeState(nil), n.History...)
	c.StageAttempts = make(map[Stage]int, len(n.StageAttempts))
	for k, v := range n.StageAttempts {
		c.StageAttempts[k] = v
	}
	c.TransientRetries = make(map[Stage]int, len(n.TransientRetries))
	for k, v := range n.TransientRetries {
		c.TransientRetries[k] = v
	}
	c.AnalysisRounds = make(map[RetryReason]int, len(n.AnalysisRounds))
	for k, v := range n.AnalysisRounds {
		c.AnalysisRounds[k] = v
	}
	c.Artifacts = make(map[string]string, len(n.Artifacts))
	for k, v := range n.Artifacts {
		c.Artifacts[k] = v
	}
	c.Metrics = make(map[string]float64, len(n.Metrics))
	for k, v := range n.Metrics {
		c.Metrics[k] = v
	}
	return &c
}

package domain

import "encoding/json"

// ResultStatus is the outcome reported by a worker or agent.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "SUCCESS"
	StatusFailure ResultStatus = "FAILURE"
	StatusError   ResultStatus = "ERROR"
)

// TaskEnvelope is a message executed by an agent or tool worker.
// Retries get a fresh TaskID: the id is unique per dispatch, not per node.
// Envelopes are never mutated after publish.
type TaskEnvelope struct {
	TaskID         string         `json:"task_id"`
	NodeID         string         `json:"node_id"`
	ExecutionClass ExecutionClass `json:"execution_class"`
	Stage          Stage          `json:"stage"`
	Payload        map[string]any `json:"payload"`
	Attempt        int            `json:"attempt"`
}

// Marshal serializes the envelope for the wire.
func (t TaskEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalTask parses a task envelope from the wire.
func UnmarshalTask(body []byte) (TaskEnvelope, error) {
	var t TaskEnvelope
	err := json.Unmarshal(body, &t)
	return t, err
}

// TaskError classifies a non-success result.
type TaskError struct {
	Class   ErrorClass `json:"class"`
	Message string     `json:"message"`
}

// ResultEnvelope is a message produced by a worker or agent in response to a
// task. It is consumed exactly once; the broker message is acknowledged only
// after the node's state has been durably updated.
type ResultEnvelope struct {
	TaskID    string             `json:"task_id"`
	NodeID    string             `json:"node_id"`
	Stage     Stage              `json:"stage"`
	Status    ResultStatus       `json:"status"`
	Artifacts map[string]string  `json:"artifacts,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`

	// Error is present iff Status != SUCCESS.
	Error *TaskError `json:"error,omitempty"`

	// Log is the worker's raw output, persisted to the task memory ledger.
	Log string `json:"log,omitempty"`

	// Insight carries the reflection agent's root-cause text.
	Insight string `json:"insight,omitempty"`

	// Details holds stage-specific structured output (e.g. the debug stage's
	// changed-file report). Decoded per stage with mapstructure.
	Details map[string]any `json:"details,omitempty"`
}

// Marshal serializes the envelope for the wire.
func (r ResultEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalResult parses a result envelope from the wire.
func UnmarshalResult(body []byte) (ResultEnvelope, error) {
	var r ResultEnvelope
	err := json.Unmarshal(body, &r)
	return r, err
}

// DebugOutcome is the debug stage's structured report: which of the two
// target files the patch actually touched. Re-verification routing depends
// on it.
type DebugOutcome struct {
	RTLChanged bool   `json:"rtl_changed" mapstructure:"rtl_changed"`
	TBChanged  bool   `json:"tb_changed" mapstructure:"tb_changed"`
	PatchPath  string `json:"patch_path,omitempty" mapstructure:"patch_path"`
}

// DistillOutcome is the distill stage's structured report: where the bounded
// log excerpt landed and how much it kept.
type DistillOutcome struct {
	ExcerptPath string  `json:"excerpt_path" mapstructure:"excerpt_path"`
	Lines       int     `json:"lines,omitempty" mapstructure:"lines"`
	Compression float64 `json:"compression,omitempty" mapstructure:"compression"`
}

// AcceptanceOutcome is the acceptance stage's structured report. On failure,
// Missing names the artifacts or metric thresholds that were not met.
type AcceptanceOutcome struct {
	Missing []string `json:"missing,omitempty" mapstructure:"missing"`
}

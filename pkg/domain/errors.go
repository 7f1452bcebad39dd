package domain

import "errors"

// ErrorClass is the failure taxonomy driving the retry/dead-letter policy.
type ErrorClass string

const (
	// ErrClassSchema marks a malformed or unparseable envelope. Never retried.
	ErrClassSchema ErrorClass = "SchemaError"
	// ErrClassMissingArtifact marks a required input file that does not exist.
	ErrClassMissingArtifact ErrorClass = "MissingArtifact"
	// ErrClassTransient marks a provider timeout or tool crash. Retried once.
	ErrClassTransient ErrorClass = "TransientToolError"
	// ErrClassInterfaceMismatch marks an artifact violating the design
	// context's declared interface. Never retried.
	ErrClassInterfaceMismatch ErrorClass = "InterfaceMismatch"
	// ErrClassTimeout marks a task that exceeded its wall-clock budget.
	ErrClassTimeout ErrorClass = "Timeout"
	// ErrClassVerification marks a lint/tb-lint/simulation check that ran and
	// rejected the design. Routed into the analysis loop, never dead-lettered.
	ErrClassVerification ErrorClass = "VerificationFailure"
	// ErrClassAcceptance marks a definitive done-criteria miss. Never retried.
	ErrClassAcceptance ErrorClass = "AcceptanceFailure"
)

var (
	// ErrNodeNotFound is returned when a node id cannot be resolved.
	ErrNodeNotFound = errors.New("node not found")

	// ErrCycle is returned when the dependency graph contains a cycle.
	ErrCycle = errors.New("dependency cycle detected")

	// ErrStaleResult marks a result whose task id does not match the node's
	// in-flight dispatch, e.g. a late answer to an abandoned retry. Stale
	// results are acknowledged and discarded, never failed.
	ErrStaleResult = errors.New("stale result for abandoned task")

	// ErrNodeBusy is returned when a dispatch is requested for a node that
	// already has a task in flight.
	ErrNodeBusy = errors.New("node already has a task in flight")

	// ErrQueueClosed is returned by broker adapters after Close.
	ErrQueueClosed = errors.New("queue closed")
)

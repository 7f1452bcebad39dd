package domain

// Stage identifies one step of a node's verification pipeline.
type Stage string

const (
	// StageImplement asks a reasoning agent to produce the RTL body.
	StageImplement Stage = "implement"
	// StageLint runs the RTL linter.
	StageLint Stage = "lint"
	// StageTestbench asks a reasoning agent to produce the testbench.
	StageTestbench Stage = "testbench"
	// StageTBLint runs the testbench linter.
	StageTBLint Stage = "tb_lint"
	// StageSimulate runs the simulator against the generated testbench.
	StageSimulate Stage = "simulate"
	// StageAccept verifies required artifacts and metric thresholds.
	StageAccept Stage = "accept"

	// StageDistill extracts a bounded excerpt from a failing simulation log.
	StageDistill Stage = "distill"
	// StageReflect produces a root-cause insight from the distilled excerpt.
	StageReflect Stage = "reflect"
	// StageDebug produces a patch from the reflection insight.
	StageDebug Stage = "debug"
)

// ExecutionClass determines which queue a stage's task is routed to.
type ExecutionClass string

const (
	ClassReasoning          ExecutionClass = "REASONING"
	ClassLightDeterministic ExecutionClass = "LIGHT_DETERMINISTIC"
	ClassHeavyDeterministic ExecutionClass = "HEAVY_DETERMINISTIC"
)

// stageClasses is the closed classification table. A pure function from stage
// to class keeps the queue router stateless.
var stageClasses = map[Stage]ExecutionClass{
	StageImplement: ClassReasoning,
	StageTestbench: ClassReasoning,
	StageReflect:   ClassReasoning,
	StageDebug:     ClassReasoning,
	StageLint:      ClassLightDeterministic,
	StageTBLint:    ClassLightDeterministic,
	StageDistill:   ClassLightDeterministic,
	StageAccept:    ClassLightDeterministic,
	StageSimulate:  ClassHeavyDeterministic,
}

// Class returns the execution class for the stage.
func (s Stage) Class() ExecutionClass {
	return stageClasses[s]
}

// Valid reports whether the stage is part of the closed stage set.
func (s Stage) Valid() bool {
	_, ok := stageClasses[s]
	return ok
}

// Verification reports whether the stage is a deterministic verification step
// whose failure enters the bounded analysis loop instead of the flat
// retry/dead-letter path.
func (s Stage) Verification() bool {
	switch s {
	case StageLint, StageTBLint, StageSimulate:
		return true
	default:
		return false
	}
}

// State returns the node state a node occupies while this stage's task is in
// flight.
func (s Stage) State() NodeState {
	switch s {
	case StageImplement:
		return StateImplementing
	case StageLint:
		return StateLinting
	case StageTestbench:
		return StateTestbenching
	case StageTBLint:
		return StateTBLinting
	case StageSimulate:
		return StateSimulating
	case StageAccept:
		return StateAccepting
	case StageDistill:
		return StateDistilling
	case StageReflect:
		return StateReflecting
	case StageDebug:
		return StateDebugging
	}
	return StatePending
}

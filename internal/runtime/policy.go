package runtime

import "github.com/hdlforge/crucible/pkg/domain"

// Decision is the retry/dead-letter policy's verdict for one failed result.
type Decision int

const (
	// DecideRetry redispatches the same stage once with a fresh task id.
	DecideRetry Decision = iota
	// DecideAnalyze routes the failure into the bounded analysis loop.
	DecideAnalyze
	// DecideFail terminates the node without dead-lettering (acceptance
	// failures, exhausted loops).
	DecideFail
	// DecideDeadLetter terminates the node and parks the message on the
	// dead-letter queue.
	DecideDeadLetter
)

// Policy decides, given an error classification and the node's attempt
// counters, whether to retry, analyze, or terminate.
type Policy struct {
	TransientRetryLimit int
	MaxAnalysisRounds   int
}

// Decide applies the error taxonomy:
//
//	SchemaError / MissingArtifact / InterfaceMismatch  -> dead-letter, no retry
//	TransientToolError                                 -> one flat retry, then dead-letter
//	Timeout on a verification stage                    -> analysis loop
//	Timeout elsewhere                                  -> one flat retry, then dead-letter
//	VerificationFailure                                -> analysis loop
//	AcceptanceFailure                                  -> fail, never retried
//
// Loop-budget exhaustion is checked separately at loop entry, so the bound is
// enforced uniformly regardless of which stage re-enters.
func (p Policy) Decide(stage domain.Stage, class domain.ErrorClass, node *domain.Node) Decision {
	switch class {
	case domain.ErrClassSchema, domain.ErrClassMissingArtifact, domain.ErrClassInterfaceMismatch:
		return DecideDeadLetter

	case domain.ErrClassTransient:
		if node.TransientRetries[stage] < p.TransientRetryLimit {
			return DecideRetry
		}
		return DecideDeadLetter

	case domain.ErrClassTimeout:
		if stage.Verification() {
			return DecideAnalyze
		}
		if node.TransientRetries[stage] < p.TransientRetryLimit {
			return DecideRetry
		}
		return DecideDeadLetter

	case domain.ErrClassVerification:
		if stage.Verification() {
			return DecideAnalyze
		}
		// A verification classification on a non-verification stage means the
		// worker misbehaved; treat as structural.
		return DecideDeadLetter

	case domain.ErrClassAcceptance:
		return DecideFail
	}

	if stage == domain.StageAccept {
		return DecideFail
	}
	return DecideDeadLetter
}

// LoopReason maps a verification stage to its analysis-round counter key.
func LoopReason(stage domain.Stage) (domain.RetryReason, bool) {
	switch stage {
	case domain.StageLint:
		return domain.ReasonRTLLint, true
	case domain.StageTBLint:
		return domain.ReasonTBLint, true
	case domain.StageSimulate:
		return domain.ReasonSim, true
	}
	return "", false
}

// LoopExhausted reports whether the node has spent its round budget for the
// given reason.
func (p Policy) LoopExhausted(node *domain.Node, reason domain.RetryReason) bool {
	return node.AnalysisRounds[reason] >= p.MaxAnalysisRounds
}

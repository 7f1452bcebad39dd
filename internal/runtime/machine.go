package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/hdlforge/crucible/pkg/domain"
	"github.com/hdlforge/crucible/pkg/ports"
)

// advance moves a node's state machine forward after a SUCCESS result.
//
// Happy path:
//
//	implement -> lint -> testbench -> tb_lint -> simulate -> accept -> DONE
//
// Submodules stop after lint. Analysis stages (distill, reflect, debug) feed
// back into re-verification. Callers hold o.mu.
func (o *Orchestrator) advance(ctx context.Context, node *domain.Node, res domain.ResultEnvelope, d ports.Delivery) error {
	switch res.Stage {
	case domain.StageImplement:
		return o.dispatch(ctx, node, domain.StageLint, nil)

	case domain.StageLint:
		delete(node.TransientRetries, domain.StageLint)
		node.AnalysisRounds[domain.ReasonRTLLint] = 0
		// Only the top module runs testbench, simulation, and acceptance;
		// a submodule that lints clean is done.
		if node.Kind == domain.KindSubmodule {
			o.finishDone(ctx, node)
			return nil
		}
		if !node.TBGenerated {
			return o.dispatch(ctx, node, domain.StageTestbench, nil)
		}
		// Re-verification after a debug patch: route through tb_lint only
		// when the patch touched the testbench.
		if o.postLintTB[node.ID] {
			delete(o.postLintTB, node.ID)
			return o.dispatch(ctx, node, domain.StageTBLint, nil)
		}
		delete(o.postLintTB, node.ID)
		return o.dispatch(ctx, node, domain.StageSimulate, nil)

	case domain.StageTestbench:
		node.TBGenerated = true
		return o.dispatch(ctx, node, domain.StageTBLint, nil)

	case domain.StageTBLint:
		delete(node.TransientRetries, domain.StageTBLint)
		node.AnalysisRounds[domain.ReasonTBLint] = 0
		return o.dispatch(ctx, node, domain.StageSimulate, nil)

	case domain.StageSimulate:
		delete(node.TransientRetries, domain.StageSimulate)
		node.AnalysisRounds[domain.ReasonSim] = 0
		return o.dispatch(ctx, node, domain.StageAccept, nil)

	case domain.StageAccept:
		o.finishDone(ctx, node)
		return nil

	case domain.StageDistill:
		var outcome domain.DistillOutcome
		if err := mapstructure.Decode(res.Details, &outcome); err != nil || outcome.ExcerptPath == "" {
			return o.rejectResult(ctx, d, node, res.TaskID, "distill result carries no excerpt path")
		}
		node.Artifacts["sim_excerpt"] = outcome.ExcerptPath
		return o.dispatch(ctx, node, domain.StageReflect, map[string]any{
			"excerpt_path": outcome.ExcerptPath,
		})

	case domain.StageReflect:
		extra := map[string]any{"debug_reason": string(domain.ReasonSim)}
		if res.Insight != "" {
			extra["insight"] = res.Insight
		} else if insight := o.ledger.LatestInsight(node.ID); insight != "" {
			extra["insight"] = insight
		}
		return o.dispatch(ctx, node, domain.StageDebug, extra)

	case domain.StageDebug:
		return o.afterDebug(ctx, node, res, d)
	}

	return o.rejectResult(ctx, d, node, res.TaskID, fmt.Sprintf("success result for unroutable stage %q", res.Stage))
}

// afterDebug interprets a debug patch and re-enters verification. The
// re-entry policy is configurable because a patch may touch RTL, testbench,
// or both; the default follows the debug stage's changed-file report.
func (o *Orchestrator) afterDebug(ctx context.Context, node *domain.Node, res domain.ResultEnvelope, d ports.Delivery) error {
	var outcome domain.DebugOutcome
	if err := mapstructure.Decode(res.Details, &outcome); err != nil {
		return o.rejectResult(ctx, d, node, res.TaskID, fmt.Sprintf("undecodable debug outcome: %v", err))
	}

	relint, retblint := outcome.RTLChanged, outcome.TBChanged
	switch o.opts.Reentry {
	case ReentryRTLAndTB:
		relint, retblint = true, true
	case ReentryTBOnly:
		relint, retblint = false, true
	}

	if !relint && !retblint {
		o.opts.Logger.WarnContext(ctx, "debug produced no code changes", "node", node.ID)
		o.recordFailure(node, FailureRecord{
			Stage:   domain.StageDebug,
			Class:   domain.ErrClassVerification,
			Message: "debug patch changed neither RTL nor testbench",
			Attempt: node.StageAttempts[domain.StageDebug],
			At:      time.Now().UTC(),
		})
		o.finishFailed(ctx, node)
		return nil
	}

	// A fresh verification window: stage N+1 evidence must not be confused
	// with the pre-patch attempt.
	node.Attempt++

	if relint {
		o.postLintTB[node.ID] = retblint
		return o.dispatch(ctx, node, domain.StageLint, nil)
	}
	return o.dispatch(ctx, node, domain.StageTBLint, nil)
}

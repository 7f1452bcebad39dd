package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/hdlforge/crucible/pkg/domain"
	"github.com/hdlforge/crucible/pkg/ports"
)

// onResult consumes one delivered result envelope: validate, match against
// the in-flight dispatch, persist to the task memory ledger, then advance the
// node's state machine. The broker message is settled (acked or rejected)
// only after the node mutation and ledger write; a crash before that point
// causes redelivery. Callers hold o.mu.
func (o *Orchestrator) onResult(ctx context.Context, d ports.Delivery) error {
	res, err := domain.UnmarshalResult(d.Body())
	if err != nil {
		return o.rejectResult(ctx, d, nil, "", fmt.Sprintf("unparseable result envelope: %v", err))
	}

	if reason := validateResult(res); reason != "" {
		// Schema mismatch is non-retryable and bypasses the attempt
		// counters entirely.
		return o.rejectResult(ctx, d, o.nodes[res.NodeID], res.TaskID, reason)
	}

	node, ok := o.nodes[res.NodeID]
	if !ok {
		return o.rejectResult(ctx, d, nil, res.TaskID, fmt.Sprintf("result for unknown node %q", res.NodeID))
	}

	// Stale results (e.g. from an abandoned retry or an already-terminal
	// node) are acknowledged and discarded without mutating state.
	infl, live := o.inflight[res.TaskID]
	if !live || node.InFlight != res.TaskID || node.State.Terminal() {
		o.opts.Logger.DebugContext(ctx, "discarding stale result",
			"node", res.NodeID, "task_id", res.TaskID, "err", domain.ErrStaleResult)
		return d.Ack(ctx)
	}
	if infl.stage != res.Stage {
		return o.rejectResult(ctx, d, node, res.TaskID,
			fmt.Sprintf("result stage %s does not match dispatched stage %s", res.Stage, infl.stage))
	}

	attempt := infl.attempt
	delete(o.inflight, res.TaskID)
	node.InFlight = ""
	node.MergeArtifacts(res.Artifacts)
	node.MergeMetrics(res.Metrics)

	if _, err := o.ledger.Record(node.ID, res.Stage, attempt, res.Log, res.Artifacts, res.Insight); err != nil {
		return fmt.Errorf("record task memory for %s/%s: %w", node.ID, res.Stage, err)
	}

	if o.opts.Hooks.OnResultReceived != nil {
		o.opts.Hooks.OnResultReceived(ctx, &domain.ResultEvent{
			EventBase: domain.EventBase{Timestamp: time.Now().UTC(), Type: domain.EventResultReceived, RunID: o.runID},
			NodeID:    node.ID,
			TaskID:    res.TaskID,
			Stage:     res.Stage,
			Status:    res.Status,
		})
	}
	o.opts.Logger.InfoContext(ctx, "result received",
		"node", node.ID, "stage", res.Stage, "status", res.Status, "attempt", attempt)

	if res.Status == domain.StatusSuccess {
		if err := o.advance(ctx, node, res, d); err != nil {
			return err
		}
		return d.Ack(ctx)
	}
	return o.handleFailure(ctx, node, res, d, attempt)
}

// validateResult checks the envelope against the schema shared with workers.
// It returns a human-readable reason when the envelope is malformed.
func validateResult(res domain.ResultEnvelope) string {
	switch {
	case res.TaskID == "":
		return "result envelope missing task_id"
	case res.NodeID == "":
		return "result envelope missing node_id"
	case !res.Stage.Valid():
		return fmt.Sprintf("result envelope has unknown stage %q", res.Stage)
	case res.Status != domain.StatusSuccess && res.Status != domain.StatusFailure && res.Status != domain.StatusError:
		return fmt.Sprintf("result envelope has unknown status %q", res.Status)
	case res.Status == domain.StatusSuccess && res.Error != nil:
		return "successful result carries an error"
	case res.Status != domain.StatusSuccess && res.Error == nil:
		return "failed result carries no error classification"
	}
	return ""
}

// rejectResult routes a malformed or unroutable message to the dead-letter
// queue. When the node is known it is terminated: no further tasks are ever
// dispatched for it in this run.
func (o *Orchestrator) rejectResult(ctx context.Context, d ports.Delivery, node *domain.Node, taskID, reason string) error {
	o.opts.Logger.WarnContext(ctx, "dead-lettering result", "reason", reason)
	if err := d.Reject(ctx, reason); err != nil {
		return fmt.Errorf("reject result: %w", err)
	}

	nodeID := ""
	if node != nil {
		nodeID = node.ID
	}
	if o.opts.Hooks.OnDeadLetter != nil {
		o.opts.Hooks.OnDeadLetter(ctx, &domain.DeadLetterEvent{
			EventBase: domain.EventBase{Timestamp: time.Now().UTC(), Type: domain.EventDeadLetter, RunID: o.runID},
			NodeID:    nodeID,
			TaskID:    taskID,
			Class:     domain.ErrClassSchema,
			Message:   reason,
		})
	}

	if node != nil && !node.State.Terminal() {
		delete(o.inflight, node.InFlight)
		node.InFlight = ""
		node.DeadLettered = true
		o.recordFailure(node, FailureRecord{
			Stage:   "",
			Class:   domain.ErrClassSchema,
			Message: reason,
			At:      time.Now().UTC(),
		})
		o.finishFailed(ctx, node)
	}
	return nil
}

// handleFailure applies the retry/dead-letter policy to a FAILURE or ERROR
// result. The delivery is settled according to the decision: retries and
// analysis loops ack, structural failures reject to the dead-letter queue.
func (o *Orchestrator) handleFailure(ctx context.Context, node *domain.Node, res domain.ResultEnvelope, d ports.Delivery, attempt int) error {
	class := res.Error.Class
	record := FailureRecord{
		Stage:   res.Stage,
		Class:   class,
		Message: res.Error.Message,
		Attempt: attempt,
		At:      time.Now().UTC(),
	}
	if class == domain.ErrClassAcceptance {
		var outcome domain.AcceptanceOutcome
		if err := mapstructure.Decode(res.Details, &outcome); err == nil && len(outcome.Missing) > 0 {
			record.Missing = outcome.Missing
		}
	}
	o.recordFailure(node, record)

	switch o.policy.Decide(res.Stage, class, node) {
	case DecideRetry:
		node.TransientRetries[res.Stage]++
		if err := d.Ack(ctx); err != nil {
			return fmt.Errorf("ack before retry: %w", err)
		}
		o.opts.Logger.InfoContext(ctx, "retrying stage after transient error",
			"node", node.ID, "stage", res.Stage, "retry", node.TransientRetries[res.Stage])
		return o.dispatch(ctx, node, res.Stage, nil)

	case DecideAnalyze:
		if err := d.Ack(ctx); err != nil {
			return fmt.Errorf("ack before analysis: %w", err)
		}
		return o.enterAnalysis(ctx, node, res)

	case DecideFail:
		if err := d.Ack(ctx); err != nil {
			return fmt.Errorf("ack terminal failure: %w", err)
		}
		o.opts.Logger.WarnContext(ctx, "node failed terminally",
			"node", node.ID, "stage", res.Stage, "class", class, "err", res.Error.Message)
		o.finishFailed(ctx, node)
		return nil

	default: // DecideDeadLetter
		reason := fmt.Sprintf("%s at stage %s: %s", class, res.Stage, res.Error.Message)
		if err := d.Reject(ctx, reason); err != nil {
			return fmt.Errorf("dead-letter: %w", err)
		}
		node.DeadLettered = true
		if o.opts.Hooks.OnDeadLetter != nil {
			o.opts.Hooks.OnDeadLetter(ctx, &domain.DeadLetterEvent{
				EventBase: domain.EventBase{Timestamp: time.Now().UTC(), Type: domain.EventDeadLetter, RunID: o.runID},
				NodeID:    node.ID,
				TaskID:    res.TaskID,
				Class:     class,
				Message:   res.Error.Message,
			})
		}
		o.opts.Logger.WarnContext(ctx, "node dead-lettered",
			"node", node.ID, "stage", res.Stage, "class", class, "err", res.Error.Message)
		o.finishFailed(ctx, node)
		return nil
	}
}

// enterAnalysis routes a verification failure into the bounded
// distill/reflect/debug loop. The round counter is checked and spent before
// each re-entry so the bound holds no matter which stage re-enters.
func (o *Orchestrator) enterAnalysis(ctx context.Context, node *domain.Node, res domain.ResultEnvelope) error {
	reason, ok := LoopReason(res.Stage)
	if !ok {
		o.finishFailed(ctx, node)
		return nil
	}
	if o.policy.LoopExhausted(node, reason) {
		o.opts.Logger.WarnContext(ctx, "analysis rounds exhausted",
			"node", node.ID, "reason", reason, "rounds", node.AnalysisRounds[reason])
		o.finishFailed(ctx, node)
		return nil
	}
	node.AnalysisRounds[reason]++

	if res.Stage == domain.StageSimulate {
		// Simulation evidence is too large to reason over directly; distill a
		// bounded excerpt first.
		extra := map[string]any{
			"lines_before": o.opts.Distill.LinesBefore,
			"lines_after":  o.opts.Distill.LinesAfter,
		}
		if entry, ok := o.ledger.Latest(node.ID, domain.StageSimulate); ok {
			extra["sim_log_path"] = entry.LogPath
		}
		return o.dispatch(ctx, node, domain.StageDistill, extra)
	}

	// Lint and testbench-lint failures skip distillation: the linter log is
	// already compact enough for the debug agent.
	extra := map[string]any{"debug_reason": string(reason)}
	if insight := o.ledger.LatestInsight(node.ID); insight != "" {
		extra["insight"] = insight
	}
	return o.dispatch(ctx, node, domain.StageDebug, extra)
}

func (o *Orchestrator) recordFailure(node *domain.Node, record FailureRecord) {
	o.failures[node.ID] = append(o.failures[node.ID], record)
}

// syntheticDelivery wraps an orchestrator-generated result (deadline expiry)
// so it travels the same consumer path as a broker delivery. Reject publishes
// straight to the dead-letter queue since no broker message exists.
type syntheticDelivery struct {
	broker ports.Broker
	body   []byte
}

func newSyntheticDelivery(broker ports.Broker, body []byte) *syntheticDelivery {
	return &syntheticDelivery{broker: broker, body: body}
}

func (s *syntheticDelivery) Body() []byte { return s.body }

func (s *syntheticDelivery) Ack(ctx context.Context) error { return nil }

func (s *syntheticDelivery) Reject(ctx context.Context, reason string) error {
	parked, err := ports.WrapDeadLetter(s.body, reason)
	if err != nil {
		return err
	}
	return s.broker.Publish(ctx, ports.QueueDeadLetter, parked)
}

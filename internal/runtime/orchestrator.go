package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hdlforge/crucible/internal/graph"
	"github.com/hdlforge/crucible/internal/memory"
	"github.com/hdlforge/crucible/pkg/domain"
	"github.com/hdlforge/crucible/pkg/ports"
)

// inflightTask tracks one outstanding dispatch and its deadline.
type inflightTask struct {
	nodeID   string
	stage    domain.Stage
	attempt  int
	deadline time.Time // zero means no wall-clock budget
}

// Orchestrator is the single logical control loop for one run. Task execution
// is fully parallel across independent nodes but serialized to at most one
// in-flight task per node; the loop suspends only on result delivery.
type Orchestrator struct {
	opts       Options
	store      *graph.Store
	broker     ports.Broker
	ledger     *memory.Ledger
	dispatcher *Dispatcher
	policy     Policy
	runID      string
	startedAt  time.Time

	mu         sync.RWMutex
	nodes      map[string]*domain.Node
	inflight   map[string]*inflightTask        // task id -> dispatch
	postLintTB map[string]bool                 // node id -> route through tb_lint after re-lint
	failures   map[string][]FailureRecord      // node id -> failure chain
	report     *RunReport
}

// New builds an orchestrator for one run over the loaded design graph store.
func New(store *graph.Store, broker ports.Broker, ledger *memory.Ledger, builder *graph.PayloadBuilder, opts ...Option) *Orchestrator {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	runID := uuid.NewString()
	o := &Orchestrator{
		opts:       options,
		store:      store,
		broker:     broker,
		ledger:     ledger,
		policy:     Policy{TransientRetryLimit: options.TransientRetryLimit, MaxAnalysisRounds: options.MaxAnalysisRounds},
		runID:      runID,
		nodes:      store.BuildNodes(),
		inflight:   make(map[string]*inflightTask),
		postLintTB: make(map[string]bool),
		failures:   make(map[string][]FailureRecord),
	}
	o.dispatcher = NewDispatcher(broker, builder, runID, options.Logger, options.Hooks)
	return o
}

// RunID returns the run's correlation id.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Run executes the control loop until every node is terminal: dispatch all
// currently-eligible nodes, then suspend on the results queue; each result
// advances exactly one node's state machine, which may trigger new dispatches
// for that node or unblock dependents.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	o.startedAt = time.Now().UTC()

	deliveries, err := o.broker.Consume(ctx, ports.QueueResults)
	if err != nil {
		return nil, fmt.Errorf("consume results: %w", err)
	}

	o.mu.Lock()
	o.dispatchEligible(ctx)
	stuck := len(o.inflight) == 0 && !o.allTerminal()
	o.mu.Unlock()
	if stuck {
		return nil, fmt.Errorf("no eligible roots to start; check the dependency graph")
	}

	for {
		o.mu.RLock()
		done := o.allTerminal()
		next, hasDeadline := o.nextDeadline()
		o.mu.RUnlock()
		if done {
			break
		}

		var timerC <-chan time.Time
		var timer *time.Timer
		if hasDeadline {
			timer = time.NewTimer(time.Until(next))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return o.Report(), ctx.Err()
		case d, ok := <-deliveries:
			stopTimer(timer)
			if !ok {
				return o.Report(), fmt.Errorf("results channel closed: %w", domain.ErrQueueClosed)
			}
			o.mu.Lock()
			if err := o.onResult(ctx, d); err != nil {
				o.mu.Unlock()
				return o.Report(), err
			}
			o.dispatchEligible(ctx)
			o.mu.Unlock()
		case <-timerC:
			o.mu.Lock()
			if err := o.expireDeadlines(ctx); err != nil {
				o.mu.Unlock()
				return o.Report(), err
			}
			o.dispatchEligible(ctx)
			o.mu.Unlock()
		}
	}

	o.mu.Lock()
	o.report = o.buildReport()
	o.mu.Unlock()
	return o.Report(), nil
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// dispatchEligible starts every pending node whose dependencies are all DONE.
// Scans follow the topological order so dispatch decisions are deterministic.
// Callers hold o.mu.
func (o *Orchestrator) dispatchEligible(ctx context.Context) {
	for _, id := range o.store.Order {
		node := o.nodes[id]
		if node.State != domain.StatePending || node.InFlight != "" {
			continue
		}
		if !o.depsDone(node) {
			continue
		}
		o.transition(ctx, node, domain.StateImplementing)
		if err := o.dispatch(ctx, node, domain.StageImplement, nil); err != nil {
			// A node left IMPLEMENTING with no in-flight task would never
			// become terminal, so a failed publish fails the node instead.
			o.opts.Logger.ErrorContext(ctx, "dispatch failed", "node", node.ID, "err", err)
			o.recordFailure(node, FailureRecord{
				Stage:   domain.StageImplement,
				Class:   domain.ErrClassTransient,
				Message: fmt.Sprintf("dispatch failed: %v", err),
				At:      time.Now().UTC(),
			})
			o.finishFailed(ctx, node)
		}
	}
}

func (o *Orchestrator) depsDone(node *domain.Node) bool {
	for _, dep := range node.Deps {
		d, ok := o.nodes[dep]
		if !ok || d.State != domain.StateDone {
			return false
		}
	}
	return true
}

// dispatch publishes one task and registers its deadline. The node's state is
// moved to the stage's active state first, except on flat retries where it
// already is.
func (o *Orchestrator) dispatch(ctx context.Context, node *domain.Node, stage domain.Stage, extra map[string]any) error {
	if state := stage.State(); node.State != state {
		o.transition(ctx, node, state)
	}

	task, err := o.dispatcher.Dispatch(ctx, node, stage, extra)
	if err != nil {
		return err
	}

	infl := &inflightTask{nodeID: node.ID, stage: stage, attempt: task.Attempt}
	if budget := o.opts.StageTimeouts[stage]; budget > 0 {
		infl.deadline = time.Now().Add(budget)
	}
	o.inflight[task.TaskID] = infl
	return nil
}

// transition moves a node and emits the state hook.
func (o *Orchestrator) transition(ctx context.Context, node *domain.Node, to domain.NodeState) {
	from := node.State
	if !node.Transition(to) {
		return
	}
	o.opts.Logger.InfoContext(ctx, "state transition", "node", node.ID, "from", from, "to", to)
	if o.opts.Hooks.OnStateTransition != nil {
		o.opts.Hooks.OnStateTransition(ctx, &domain.StateEvent{
			EventBase: domain.EventBase{Timestamp: time.Now().UTC(), Type: domain.EventStateTransition, RunID: o.runID},
			NodeID:    node.ID,
			From:      from,
			To:        to,
		})
	}
}

// finishDone marks a node DONE. Dependents become eligible on the caller's
// next dispatchEligible scan.
func (o *Orchestrator) finishDone(ctx context.Context, node *domain.Node) {
	o.transition(ctx, node, domain.StateDone)
}

// finishFailed marks a node FAILED and removes its transitive dependents from
// eligibility before any further eligibility check can run.
func (o *Orchestrator) finishFailed(ctx context.Context, node *domain.Node) {
	o.transition(ctx, node, domain.StateFailed)
	o.blockDependents(ctx, node)
}

// blockDependents parks every transitive dependent as BLOCKED. Blocked nodes
// were never dispatched: the final report distinguishes "could not run" from
// "ran and failed". An already in-flight task for an unrelated node is never
// cancelled.
func (o *Orchestrator) blockDependents(ctx context.Context, failed *domain.Node) {
	for _, id := range o.store.Dependents(failed.ID) {
		dep := o.nodes[id]
		if dep.State != domain.StatePending {
			continue
		}
		dep.BlockedOn = failed.ID
		o.transition(ctx, dep, domain.StateBlocked)
	}
}

func (o *Orchestrator) allTerminal() bool {
	for _, node := range o.nodes {
		if !node.State.Terminal() {
			return false
		}
	}
	return true
}

// nextDeadline returns the earliest in-flight deadline, if any.
func (o *Orchestrator) nextDeadline() (time.Time, bool) {
	var next time.Time
	for _, infl := range o.inflight {
		if infl.deadline.IsZero() {
			continue
		}
		if next.IsZero() || infl.deadline.Before(next) {
			next = infl.deadline
		}
	}
	return next, !next.IsZero()
}

// expireDeadlines synthesizes a Timeout ERROR result for every overdue task,
// reusing the same consumer path as any worker-produced failure. Callers hold
// o.mu.
func (o *Orchestrator) expireDeadlines(ctx context.Context) error {
	now := time.Now()
	for taskID, infl := range o.inflight {
		if infl.deadline.IsZero() || infl.deadline.After(now) {
			continue
		}
		res := domain.ResultEnvelope{
			TaskID: taskID,
			NodeID: infl.nodeID,
			Stage:  infl.stage,
			Status: domain.StatusError,
			Error: &domain.TaskError{
				Class:   domain.ErrClassTimeout,
				Message: fmt.Sprintf("stage %s exceeded its %s wall-clock budget", infl.stage, o.opts.StageTimeouts[infl.stage]),
			},
			Log: fmt.Sprintf("deadline expired for task %s (node %s, stage %s)", taskID, infl.nodeID, infl.stage),
		}
		body, err := res.Marshal()
		if err != nil {
			return fmt.Errorf("marshal timeout result: %w", err)
		}
		if err := o.onResult(ctx, newSyntheticDelivery(o.broker, body)); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns a deep copy of every node, safe for concurrent readers
// (status server, TUI).
func (o *Orchestrator) Snapshot() []*domain.Node {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*domain.Node, 0, len(o.nodes))
	for _, id := range o.store.Order {
		out = append(out, o.nodes[id].Clone())
	}
	return out
}

// Report returns the final run report, or a live partial report while the run
// is still in progress.
func (o *Orchestrator) Report() *RunReport {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.report != nil {
		return o.report
	}
	return o.buildReport()
}

package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	broker "github.com/hdlforge/crucible/internal/adapters/memory"
	"github.com/hdlforge/crucible/internal/graph"
	"github.com/hdlforge/crucible/internal/logging"
	ledgerpkg "github.com/hdlforge/crucible/internal/memory"
	"github.com/hdlforge/crucible/internal/worker"
	"github.com/hdlforge/crucible/pkg/domain"
	"github.com/hdlforge/crucible/pkg/ports"
)

// buildStore fabricates a loaded design graph without touching the filesystem.
func buildStore(nodes []graph.DAGNode, order []string) *graph.Store {
	dc := &graph.DesignContext{
		Hash:      "deadbeef",
		TopModule: "top",
		Nodes:     make(map[string]graph.ModuleContext, len(nodes)),
	}
	for _, n := range nodes {
		dc.Nodes[n.ID] = graph.ModuleContext{RTLFile: "rtl/" + n.ID + ".sv"}
	}
	return &graph.Store{Context: dc, DAG: &graph.DAG{Nodes: nodes}, Order: order}
}

func chainStore() *graph.Store {
	return buildStore([]graph.DAGNode{
		{ID: "alu", Type: domain.KindSubmodule},
		{ID: "top", Type: domain.KindTop, Deps: []string{"alu"}},
	}, []string{"alu", "top"})
}

func topOnlyStore() *graph.Store {
	return buildStore([]graph.DAGNode{
		{ID: "top", Type: domain.KindTop},
	}, []string{"top"})
}

type harness struct {
	orch   *Orchestrator
	broker *broker.Broker
	stub   *worker.Stub
}

func newHarness(t *testing.T, store *graph.Store, opts ...Option) *harness {
	t.Helper()

	b := broker.NewBroker()
	t.Cleanup(func() { _ = b.Close() })

	ledger, err := ledgerpkg.Open(filepath.Join(t.TempDir(), "taskmem"))
	require.NoError(t, err)

	builder := graph.NewPayloadBuilder(store.Context, t.TempDir())
	return &harness{
		orch:   New(store, b, ledger, builder, opts...),
		broker: b,
		stub:   worker.NewStub(b, logging.NewNop()),
	}
}

// run starts the stub workers and drives the orchestrator to completion.
func (h *harness) run(t *testing.T) *RunReport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	require.NoError(t, h.stub.Start(ctx))
	report, err := h.orch.Run(ctx)
	require.NoError(t, err)
	return report
}

func findNode(t *testing.T, report *RunReport, id string) NodeReport {
	t.Helper()
	for _, n := range report.Nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %s missing from report", id)
	return NodeReport{}
}

func snapshotNode(t *testing.T, o *Orchestrator, id string) *domain.Node {
	t.Helper()
	for _, n := range o.Snapshot() {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %s missing from snapshot", id)
	return nil
}

func TestRun_HappyPathRespectsDependencyOrder(t *testing.T) {
	var transitions []string
	hooks := domain.LifecycleHooks{
		OnStateTransition: func(_ context.Context, e *domain.StateEvent) {
			transitions = append(transitions, e.NodeID+":"+string(e.To))
		},
	}

	h := newHarness(t, chainStore(), WithHooks(hooks))
	report := h.run(t)

	assert.True(t, report.Succeeded())
	assert.Equal(t, 2, report.Done)

	alu := findNode(t, report, "alu")
	assert.Equal(t, domain.StateDone, alu.State)
	assert.Equal(t, []domain.NodeState{
		domain.StatePending, domain.StateImplementing, domain.StateLinting, domain.StateDone,
	}, alu.History)

	top := findNode(t, report, "top")
	assert.Equal(t, []domain.NodeState{
		domain.StatePending, domain.StateImplementing, domain.StateLinting,
		domain.StateTestbenching, domain.StateTBLinting, domain.StateSimulating,
		domain.StateAccepting, domain.StateDone,
	}, top.History)

	// The top module must not start before its dependency completes.
	aluDone, topStart := -1, -1
	for i, tr := range transitions {
		switch tr {
		case "alu:DONE":
			aluDone = i
		case "top:IMPLEMENTING":
			topStart = i
		}
	}
	require.NotEqual(t, -1, aluDone)
	require.NotEqual(t, -1, topStart)
	assert.Less(t, aluDone, topStart)
}

func TestRun_SimulationFailureEntersAnalysisLoop(t *testing.T) {
	h := newHarness(t, topOnlyStore())
	h.stub.Script("top", domain.StageSimulate, 1,
		worker.Fail(domain.StatusFailure, domain.ErrClassVerification, "assertion fired at 120ns"))

	report := h.run(t)
	require.True(t, report.Succeeded())

	top := findNode(t, report, "top")
	assert.Equal(t, domain.StateDone, top.State)
	assert.Equal(t, 2, top.Attempt)
	assert.Contains(t, top.History, domain.StateDistilling)
	assert.Contains(t, top.History, domain.StateReflecting)
	assert.Contains(t, top.History, domain.StateDebugging)
	assert.NotEmpty(t, top.LastInsight)

	// The debug patch touched RTL, so verification re-entered through lint
	// and skipped tb_lint.
	assert.Equal(t, 2, countState(top.History, domain.StateLinting))
	assert.Equal(t, 1, countState(top.History, domain.StateTBLinting))
	assert.Equal(t, 2, countState(top.History, domain.StateSimulating))

	node := snapshotNode(t, h.orch, "top")
	assert.Contains(t, node.Artifacts, "sim_excerpt")
	// Round counter resets once the stage finally passes.
	assert.Zero(t, node.AnalysisRounds[domain.ReasonSim])
}

func TestRun_TBLintFailureLoopsThroughDebugOnly(t *testing.T) {
	h := newHarness(t, topOnlyStore())
	h.stub.Script("top", domain.StageTBLint, 1,
		worker.Fail(domain.StatusFailure, domain.ErrClassVerification, "tb signal width mismatch"))

	report := h.run(t)
	require.True(t, report.Succeeded())

	top := findNode(t, report, "top")
	assert.Equal(t, domain.StateDone, top.State)
	assert.Equal(t, 2, top.Attempt)

	// Lint failures skip distillation and go straight to debug; a patch that
	// only touched the testbench re-enters through TB_LINTING, not LINTING.
	assert.Contains(t, top.History, domain.StateDebugging)
	assert.NotContains(t, top.History, domain.StateDistilling)
	assert.NotContains(t, top.History, domain.StateReflecting)
	assert.Equal(t, 1, countState(top.History, domain.StateLinting))
	assert.Equal(t, 2, countState(top.History, domain.StateTBLinting))
	assert.Equal(t, 1, countState(top.History, domain.StateSimulating))

	node := snapshotNode(t, h.orch, "top")
	assert.Zero(t, node.AnalysisRounds[domain.ReasonTBLint])
}

func TestRun_ReentryOverrideRelintsRTLAndTB(t *testing.T) {
	h := newHarness(t, topOnlyStore(), WithReentryPolicy(ReentryRTLAndTB))
	h.stub.Script("top", domain.StageTBLint, 1,
		worker.Fail(domain.StatusFailure, domain.ErrClassVerification, "tb lint rejected port map"))

	report := h.run(t)
	require.True(t, report.Succeeded())

	top := findNode(t, report, "top")
	assert.Equal(t, 2, top.Attempt)
	// The override re-enters through LINTING even though the patch only
	// touched the testbench, then routes through TB_LINTING before simulating.
	assert.Equal(t, 2, countState(top.History, domain.StateLinting))
	assert.Equal(t, 2, countState(top.History, domain.StateTBLinting))
	assert.Equal(t, 1, countState(top.History, domain.StateSimulating))
}

func TestRun_ReentryOverrideTBOnlySkipsRelint(t *testing.T) {
	h := newHarness(t, topOnlyStore(), WithReentryPolicy(ReentryTBOnly))
	h.stub.Script("top", domain.StageSimulate, 1,
		worker.Fail(domain.StatusFailure, domain.ErrClassVerification, "x propagation on reset"))

	report := h.run(t)
	require.True(t, report.Succeeded())

	top := findNode(t, report, "top")
	// The debug patch touched RTL, but tb_only re-enters at TB_LINTING alone.
	assert.Equal(t, 1, countState(top.History, domain.StateLinting))
	assert.Equal(t, 2, countState(top.History, domain.StateTBLinting))
	assert.Equal(t, 2, countState(top.History, domain.StateSimulating))
}

func TestRun_TransientLintErrorRetriesOnce(t *testing.T) {
	h := newHarness(t, topOnlyStore())
	h.stub.Script("top", domain.StageLint, 1,
		worker.Fail(domain.StatusError, domain.ErrClassTransient, "linter crashed"))

	report := h.run(t)
	require.True(t, report.Succeeded())

	node := snapshotNode(t, h.orch, "top")
	assert.Equal(t, 2, node.StageAttempts[domain.StageLint])
	assert.Zero(t, node.TransientRetries[domain.StageLint])
	// The retry stays inside the LINTING state, no extra transition.
	assert.Equal(t, 1, countState(node.History, domain.StateLinting))

	top := findNode(t, report, "top")
	require.Len(t, top.Failures, 1)
	assert.Equal(t, domain.ErrClassTransient, top.Failures[0].Class)
	assert.Equal(t, 1, top.Failures[0].Attempt)
}

func TestRun_ExhaustedAnalysisBudgetFailsNodeAndBlocksDependents(t *testing.T) {
	h := newHarness(t, chainStore(), WithMaxAnalysisRounds(1))
	h.stub.Script("alu", domain.StageLint, 0,
		worker.Fail(domain.StatusFailure, domain.ErrClassVerification, "width mismatch on result"))

	report := h.run(t)
	assert.False(t, report.Succeeded())
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Blocked)

	alu := findNode(t, report, "alu")
	assert.Equal(t, domain.StateFailed, alu.State)
	assert.False(t, alu.DeadLettered)
	assert.NotEmpty(t, alu.Failures)

	top := findNode(t, report, "top")
	assert.Equal(t, domain.StateBlocked, top.State)
	assert.Equal(t, "alu", top.BlockedOn)
	// Blocked means never dispatched.
	assert.Equal(t, []domain.NodeState{domain.StatePending, domain.StateBlocked}, top.History)
}

func TestRun_MissingArtifactDeadLettersWithoutRetry(t *testing.T) {
	h := newHarness(t, topOnlyStore())
	h.stub.Script("top", domain.StageImplement, 0,
		worker.Fail(domain.StatusError, domain.ErrClassMissingArtifact, "design context entry absent"))

	report := h.run(t)
	assert.Equal(t, 1, report.Failed)

	top := findNode(t, report, "top")
	assert.Equal(t, domain.StateFailed, top.State)
	assert.True(t, top.DeadLettered)

	node := snapshotNode(t, h.orch, "top")
	assert.Equal(t, 1, node.StageAttempts[domain.StageImplement])

	ctx := context.Background()
	parked, err := h.broker.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, parked, 1)

	var record ports.DeadLetterRecord
	require.NoError(t, json.Unmarshal(parked[0], &record))
	assert.Contains(t, record.Reason, string(domain.ErrClassMissingArtifact))
	assert.Contains(t, record.Body, `"top"`)
}

func TestRun_SimulationTimeoutRoutesIntoAnalysisLoop(t *testing.T) {
	h := newHarness(t, topOnlyStore(), WithStageTimeout(domain.StageSimulate, 200*time.Millisecond))
	h.stub.Script("top", domain.StageSimulate, 1, worker.Drop())

	report := h.run(t)
	require.True(t, report.Succeeded())

	top := findNode(t, report, "top")
	assert.Equal(t, 2, top.Attempt)
	require.NotEmpty(t, top.Failures)
	assert.Equal(t, domain.ErrClassTimeout, top.Failures[0].Class)
	assert.Equal(t, domain.StageSimulate, top.Failures[0].Stage)
	assert.Contains(t, top.History, domain.StateDistilling)
}

func TestRun_ImplementTimeoutRetriesThenDeadLetters(t *testing.T) {
	h := newHarness(t, topOnlyStore(), WithStageTimeout(domain.StageImplement, 150*time.Millisecond))
	h.stub.Script("top", domain.StageImplement, 0, worker.Drop())

	report := h.run(t)
	assert.Equal(t, 1, report.Failed)

	top := findNode(t, report, "top")
	assert.Equal(t, domain.StateFailed, top.State)
	assert.True(t, top.DeadLettered)

	node := snapshotNode(t, h.orch, "top")
	assert.Equal(t, 2, node.StageAttempts[domain.StageImplement])

	parked, err := h.broker.DeadLetters(context.Background())
	require.NoError(t, err)
	require.Len(t, parked, 1)
}

func TestRun_AcceptanceFailureIsTerminalWithoutDeadLetter(t *testing.T) {
	h := newHarness(t, topOnlyStore())
	h.stub.Script("top", domain.StageAccept, 0, func(task domain.TaskEnvelope) domain.ResultEnvelope {
		return domain.ResultEnvelope{
			TaskID: task.TaskID,
			NodeID: task.NodeID,
			Stage:  task.Stage,
			Status: domain.StatusFailure,
			Error:  &domain.TaskError{Class: domain.ErrClassAcceptance, Message: "coverage below goal"},
			Details: map[string]any{
				"missing": []string{"coverage_branch>=0.9"},
			},
		}
	})

	report := h.run(t)
	assert.Equal(t, 1, report.Failed)

	top := findNode(t, report, "top")
	assert.Equal(t, domain.StateFailed, top.State)
	assert.False(t, top.DeadLettered)
	require.NotEmpty(t, top.Failures)
	assert.Equal(t, []string{"coverage_branch>=0.9"}, top.Failures[0].Missing)

	parked, err := h.broker.DeadLetters(context.Background())
	require.NoError(t, err)
	assert.Empty(t, parked)
}

func TestRun_NoEligibleRoots(t *testing.T) {
	// Both nodes depend on each other's completion only through a node that
	// never existed in this order slice, so nothing can start.
	store := buildStore([]graph.DAGNode{
		{ID: "top", Type: domain.KindTop, Deps: []string{"ghost"}},
	}, []string{"top"})

	h := newHarness(t, store)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := h.orch.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no eligible roots")
}

// publishFailBroker delegates to the in-memory broker but refuses every task
// publish, simulating a transport outage at dispatch time.
type publishFailBroker struct {
	*broker.Broker
}

func (b *publishFailBroker) Publish(ctx context.Context, queue string, body []byte) error {
	if queue != ports.QueueResults && queue != ports.QueueDeadLetter {
		return errors.New("transport unavailable")
	}
	return b.Broker.Publish(ctx, queue, body)
}

func TestRun_PublishFailureFailsNodeInsteadOfHanging(t *testing.T) {
	b := &publishFailBroker{Broker: broker.NewBroker()}
	t.Cleanup(func() { _ = b.Close() })

	ledger, err := ledgerpkg.Open(filepath.Join(t.TempDir(), "taskmem"))
	require.NoError(t, err)

	store := chainStore()
	builder := graph.NewPayloadBuilder(store.Context, t.TempDir())
	orch := New(store, b, ledger, builder)

	// No worker ever answers, so the run only converges if the failed
	// dispatch terminates the node rather than leaving it waiting forever.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := orch.Run(ctx)
	require.NoError(t, err)
	assert.False(t, report.Succeeded())

	alu := findNode(t, report, "alu")
	assert.Equal(t, domain.StateFailed, alu.State)
	require.NotEmpty(t, alu.Failures)
	assert.Equal(t, domain.ErrClassTransient, alu.Failures[0].Class)
	assert.Contains(t, alu.Failures[0].Message, "dispatch failed")

	top := findNode(t, report, "top")
	assert.Equal(t, domain.StateBlocked, top.State)
	assert.Equal(t, "alu", top.BlockedOn)
}

func TestOnResult_StaleResultDiscarded(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := newHarness(t, topOnlyStore(), WithLogger(logger))
	ctx := context.Background()

	node := h.orch.nodes["top"]
	node.Transition(domain.StateLinting)

	res := domain.ResultEnvelope{
		TaskID: "ghost-task",
		NodeID: "top",
		Stage:  domain.StageLint,
		Status: domain.StatusSuccess,
	}
	body, err := res.Marshal()
	require.NoError(t, err)

	h.orch.mu.Lock()
	err = h.orch.onResult(ctx, newSyntheticDelivery(h.broker, body))
	h.orch.mu.Unlock()
	require.NoError(t, err)

	assert.Equal(t, domain.StateLinting, node.State)
	assert.Zero(t, h.broker.Len(ports.QueueDeadLetter))
	assert.Contains(t, logs.String(), domain.ErrStaleResult.Error())
}

func TestOnResult_StageMismatchDeadLetters(t *testing.T) {
	h := newHarness(t, topOnlyStore())
	ctx := context.Background()

	node := h.orch.nodes["top"]
	node.Transition(domain.StateLinting)
	node.InFlight = "task-1"
	h.orch.inflight["task-1"] = &inflightTask{nodeID: "top", stage: domain.StageLint, attempt: 1}

	res := domain.ResultEnvelope{
		TaskID: "task-1",
		NodeID: "top",
		Stage:  domain.StageSimulate,
		Status: domain.StatusSuccess,
	}
	body, err := res.Marshal()
	require.NoError(t, err)

	h.orch.mu.Lock()
	err = h.orch.onResult(ctx, newSyntheticDelivery(h.broker, body))
	h.orch.mu.Unlock()
	require.NoError(t, err)

	assert.Equal(t, domain.StateFailed, node.State)
	assert.True(t, node.DeadLettered)
	assert.Equal(t, 1, h.broker.Len(ports.QueueDeadLetter))
}

func countState(history []domain.NodeState, state domain.NodeState) int {
	n := 0
	for _, s := range history {
		if s == state {
			n++
		}
	}
	return n
}

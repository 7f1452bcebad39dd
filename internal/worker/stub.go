// Package worker provides in-process stub agents and tool workers. They
// exercise the orchestrator's control plane end to end without LLM providers
// or EDA tools: each consumes its class's task queue and synthesizes a
// plausible result for the stage.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/hdlforge/crucible/internal/logging"
	"github.com/hdlforge/crucible/pkg/domain"
	"github.com/hdlforge/crucible/pkg/ports"
)

// Responder produces the result for one task.
type Responder func(task domain.TaskEnvelope) domain.ResultEnvelope

// taskContext is the payload subset the stubs care about.
type taskContext struct {
	NodeID      string `mapstructure:"node_id"`
	RTLPath     string `mapstructure:"rtl_path"`
	TBPath      string `mapstructure:"tb_path"`
	Attempt     int    `mapstructure:"attempt"`
	DebugReason string `mapstructure:"debug_reason"`
	ExcerptPath string `mapstructure:"excerpt_path"`
	Insight     string `mapstructure:"insight"`
	LinesBefore int    `mapstructure:"lines_before"`
	LinesAfter  int    `mapstructure:"lines_after"`
}

// Stub runs one consumer goroutine per task queue and answers every task,
// honoring scripted overrides keyed by node, stage, and attempt.
type Stub struct {
	broker ports.Broker
	logger *slog.Logger

	mu        sync.Mutex
	overrides map[string]Responder
	wg        sync.WaitGroup
}

// NewStub creates a stub worker pool over the broker.
func NewStub(broker ports.Broker, logger *slog.Logger) *Stub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stub{
		broker:    broker,
		logger:    logger,
		overrides: make(map[string]Responder),
	}
}

// Script overrides the response for a node's stage at a specific attempt.
// Attempt 0 matches every attempt.
func (s *Stub) Script(nodeID string, stage domain.Stage, attempt int, r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[scriptKey(nodeID, stage, attempt)] = r
}

func scriptKey(nodeID string, stage domain.Stage, attempt int) string {
	return fmt.Sprintf("%s/%s/%d", nodeID, stage, attempt)
}

// Fail builds a responder that fails with the given classification.
func Fail(status domain.ResultStatus, class domain.ErrorClass, message string) Responder {
	return func(task domain.TaskEnvelope) domain.ResultEnvelope {
		return domain.ResultEnvelope{
			TaskID: task.TaskID,
			NodeID: task.NodeID,
			Stage:  task.Stage,
			Status: status,
			Error:  &domain.TaskError{Class: class, Message: message},
			Log:    message,
		}
	}
}

// Drop builds a responder that swallows the task: it is acknowledged but no
// result is ever published, as if the worker hung.
func Drop() Responder {
	return func(domain.TaskEnvelope) domain.ResultEnvelope {
		return domain.ResultEnvelope{}
	}
}

// Start launches one consumer per task queue. Workers stop when ctx is
// cancelled; Wait blocks until they drain.
func (s *Stub) Start(ctx context.Context) error {
	for _, queue := range []string{ports.QueueAgentTasks, ports.QueueProcessTasks, ports.QueueSimulationTasks} {
		deliveries, err := s.broker.Consume(ctx, queue)
		if err != nil {
			return fmt.Errorf("stub consume %s: %w", queue, err)
		}
		s.wg.Add(1)
		go s.serve(ctx, queue, deliveries)
	}
	return nil
}

// Wait blocks until every worker goroutine has stopped.
func (s *Stub) Wait() {
	s.wg.Wait()
}

func (s *Stub) serve(ctx context.Context, queue string, deliveries <-chan ports.Delivery) {
	defer s.wg.Done()
	for d := range deliveries {
		task, err := domain.UnmarshalTask(d.Body())
		if err != nil {
			_ = d.Reject(ctx, fmt.Sprintf("unparseable task: %v", err))
			continue
		}
		res := s.respond(task)
		if res.Status == "" {
			_ = d.Ack(ctx)
			continue
		}
		body, err := res.Marshal()
		if err != nil {
			_ = d.Reject(ctx, fmt.Sprintf("unmarshalable result: %v", err))
			continue
		}
		if err := s.broker.Publish(ctx, ports.QueueResults, body); err != nil {
			s.logger.ErrorContext(ctx, "stub publish failed", "queue", queue, "err", err)
			continue
		}
		_ = d.Ack(ctx)
	}
}

func (s *Stub) respond(task domain.TaskEnvelope) domain.ResultEnvelope {
	s.mu.Lock()
	r, ok := s.overrides[scriptKey(task.NodeID, task.Stage, task.Attempt)]
	if !ok {
		r, ok = s.overrides[scriptKey(task.NodeID, task.Stage, 0)]
	}
	s.mu.Unlock()
	if ok {
		return r(task)
	}
	return s.defaultSuccess(task)
}

// defaultSuccess synthesizes a SUCCESS result with the structured output the
// orchestrator expects from each stage.
func (s *Stub) defaultSuccess(task domain.TaskEnvelope) domain.ResultEnvelope {
	var tc taskContext
	_ = mapstructure.Decode(task.Payload, &tc)

	res := domain.ResultEnvelope{
		TaskID: task.TaskID,
		NodeID: task.NodeID,
		Stage:  task.Stage,
		Status: domain.StatusSuccess,
	}

	switch task.Stage {
	case domain.StageImplement:
		res.Log = fmt.Sprintf("implemented %s", tc.RTLPath)
		res.Artifacts = map[string]string{"rtl_file": tc.RTLPath}
	case domain.StageLint:
		res.Log = fmt.Sprintf("lint clean: %s", tc.RTLPath)
		res.Metrics = map[string]float64{"lint_warnings": 0}
	case domain.StageTestbench:
		res.Log = fmt.Sprintf("testbench written to %s", tc.TBPath)
		res.Artifacts = map[string]string{"testbench_file": tc.TBPath}
	case domain.StageTBLint:
		res.Log = fmt.Sprintf("testbench lint clean: %s", tc.TBPath)
		res.Metrics = map[string]float64{"tb_lint_warnings": 0}
	case domain.StageSimulate:
		res.Log = fmt.Sprintf("simulation passed for %s", task.NodeID)
		res.Artifacts = map[string]string{"sim_log": simLogPath(tc)}
		res.Metrics = map[string]float64{"coverage_branch": 0.95, "coverage_toggle": 0.92}
	case domain.StageAccept:
		res.Log = "acceptance criteria met"
		res.Metrics = map[string]float64{"acceptance_score": 1}
	case domain.StageDistill:
		res.Log = fmt.Sprintf("distilled %d/%d lines around failure", tc.LinesBefore, tc.LinesAfter)
		res.Details = map[string]any{
			"excerpt_path": excerptPath(tc),
			"lines":        tc.LinesBefore + tc.LinesAfter,
			"compression":  8.0,
		}
	case domain.StageReflect:
		res.Insight = fmt.Sprintf("root cause hypothesis for %s from %s", task.NodeID, tc.ExcerptPath)
		res.Log = "reflection complete"
	case domain.StageDebug:
		res.Log = fmt.Sprintf("patched %s (%s)", tc.RTLPath, tc.DebugReason)
		res.Details = map[string]any{
			"rtl_changed": tc.DebugReason != string(domain.ReasonTBLint),
			"tb_changed":  tc.DebugReason == string(domain.ReasonTBLint),
		}
	}
	return res
}

func simLogPath(tc taskContext) string {
	return trimExt(tc.RTLPath) + ".sim.log"
}

func excerptPath(tc taskContext) string {
	return trimExt(tc.RTLPath) + ".excerpt.log"
}

func trimExt(path string) string {
	if i := strings.LastIndex(path, "."); i > 0 {
		return path[:i]
	}
	return path
}

package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hdlforge/crucible/internal/graph"
	"github.com/hdlforge/crucible/pkg/domain"
	"github.com/hdlforge/crucible/pkg/ports"
)

// Dispatcher serializes task envelopes and publishes them to the queue the
// router selects. It enforces at most one in-flight task per node; the
// in-flight mark is set before publish and cleared only by the result
// consumer. Its contract is one publish attempt per call, not end-to-end
// delivery.
type Dispatcher struct {
	broker  ports.Broker
	builder *graph.PayloadBuilder
	runID   string
	logger  *slog.Logger
	hooks   domain.LifecycleHooks
}

// NewDispatcher wires a dispatcher to a broker and payload builder.
func NewDispatcher(broker ports.Broker, builder *graph.PayloadBuilder, runID string, logger *slog.Logger, hooks domain.LifecycleHooks) *Dispatcher {
	return &Dispatcher{
		broker:  broker,
		builder: builder,
		runID:   runID,
		logger:  logger,
		hooks:   hooks,
	}
}

// Dispatch builds, marks in flight, and publishes one task for the node's
// stage. Retries get a fresh task id. The extra map carries stage-specific
// payload (debug reason, reflection insight, distill window) on top of the
// node's base design-context payload.
func (d *Dispatcher) Dispatch(ctx context.Context, node *domain.Node, stage domain.Stage, extra map[string]any) (domain.TaskEnvelope, error) {
	if node.InFlight != "" {
		return domain.TaskEnvelope{}, fmt.Errorf("dispatch %s/%s: %w", node.ID, stage, domain.ErrNodeBusy)
	}

	payload, err := d.builder.Build(node.ID, node.Attempt)
	if err != nil {
		return domain.TaskEnvelope{}, fmt.Errorf("dispatch %s/%s: %w", node.ID, stage, err)
	}
	for k, v := range extra {
		payload[k] = v
	}

	node.StageAttempts[stage]++
	task := domain.TaskEnvelope{
		TaskID:         uuid.NewString(),
		NodeID:         node.ID,
		ExecutionClass: stage.Class(),
		Stage:          stage,
		Payload:        payload,
		Attempt:        node.StageAttempts[stage],
	}

	body, err := task.Marshal()
	if err != nil {
		return domain.TaskEnvelope{}, fmt.Errorf("marshal task for %s/%s: %w", node.ID, stage, err)
	}

	queue := QueueFor(task.ExecutionClass)
	node.InFlight = task.TaskID
	if err := d.broker.Publish(ctx, queue, body); err != nil {
		node.InFlight = ""
		return domain.TaskEnvelope{}, fmt.Errorf("publish %s/%s: %w", node.ID, stage, err)
	}

	d.logger.InfoContext(ctx, "task published",
		"node", node.ID, "stage", stage, "queue", queue, "task_id", task.TaskID, "attempt", task.Attempt)
	if d.hooks.OnTaskPublished != nil {
		d.hooks.OnTaskPublished(ctx, &domain.TaskEvent{
			EventBase: domain.EventBase{Timestamp: time.Now().UTC(), Type: domain.EventTaskPublished, RunID: d.runID},
			NodeID:    node.ID,
			TaskID:    task.TaskID,
			Stage:     stage,
			Queue:     queue,
			Attempt:   task.Attempt,
		})
	}
	return task, nil
}

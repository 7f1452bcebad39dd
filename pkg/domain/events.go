package domain

import (
	"context"
	"time"
)

// EventType defines the category of a runtime event.
type EventType string

const (
	EventStateTransition EventType = "state_transition"
	EventTaskPublished   EventType = "task_published"
	EventResultReceived  EventType = "result_received"
	EventDeadLetter      EventType = "dead_letter"
)

// EventBase contains common fields for all runtime events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
}

// StateEvent records a node's state transition.
type StateEvent struct {
	EventBase
	NodeID string    `json:"node_id"`
	From   NodeState `json:"from"`
	To     NodeState `json:"to"`
}

// TaskEvent records a task publish.
type TaskEvent struct {
	EventBase
	NodeID  string `json:"node_id"`
	TaskID  string `json:"task_id"`
	Stage   Stage  `json:"stage"`
	Queue   string `json:"queue"`
	Attempt int    `json:"attempt"`
}

// ResultEvent records a consumed result.
type ResultEvent struct {
	EventBase
	NodeID string       `json:"node_id"`
	TaskID string       `json:"task_id"`
	Stage  Stage        `json:"stage"`
	Status ResultStatus `json:"status"`
}

// DeadLetterEvent records a message routed to the dead-letter queue.
type DeadLetterEvent struct {
	EventBase
	NodeID  string     `json:"node_id"`
	TaskID  string     `json:"task_id"`
	Class   ErrorClass `json:"class"`
	Message string     `json:"message"`
}

// LifecycleHooks defines callbacks for orchestrator observability.
// Nil hooks are skipped; hooks run synchronously on the run loop and must
// return quickly.
type LifecycleHooks struct {
	OnStateTransition func(context.Context, *StateEvent)
	OnTaskPublished   func(context.Context, *TaskEvent)
	OnResultReceived  func(context.Context, *ResultEvent)
	OnDeadLetter      func(context.Context, *DeadLetterEvent)
}

// Merge chains two hook sets; both receive every event.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	merged := LifecycleHooks{}
	merged.OnStateTransition = chain(h.OnStateTransition, other.OnStateTransition)
	merged.OnTaskPublished = chain(h.OnTaskPublished, other.OnTaskPublished)
	merged.OnResultReceived = chain(h.OnResultReceived, other.OnResultReceived)
	merged.OnDeadLetter = chain(h.OnDeadLetter, other.OnDeadLetter)
	return merged
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, ev E) {
		a(ctx, ev)
		b(ctx, ev)
	}
}

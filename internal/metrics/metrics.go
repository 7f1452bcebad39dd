// Package metrics exposes Prometheus collectors for the orchestrator. The
// collectors are fed through domain.LifecycleHooks so the run loop stays free
// of instrumentation concerns.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hdlforge/crucible/pkg/domain"
)

// Collector holds the orchestrator's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	transitions    *prometheus.CounterVec
	tasks          *prometheus.CounterVec
	results        *prometheus.CounterVec
	deadLetters    *prometheus.CounterVec
	analysisRounds prometheus.Counter
	stageDuration  *prometheus.HistogramVec

	mu        sync.Mutex
	published map[string]time.Time // task id -> publish time
}

// NewCollector registers the collectors on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		published: make(map[string]time.Time),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crucible_state_transitions_total",
				Help: "Node state transitions by target state",
			},
			[]string{"to"},
		),
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crucible_tasks_published_total",
				Help: "Tasks published by stage and queue",
			},
			[]string{"stage", "queue"},
		),
		results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crucible_results_received_total",
				Help: "Results consumed by stage and status",
			},
			[]string{"stage", "status"},
		),
		deadLetters: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crucible_dead_letters_total",
				Help: "Messages routed to the dead-letter queue by error class",
			},
			[]string{"class"},
		),
		analysisRounds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crucible_analysis_rounds_total",
				Help: "Analysis loop rounds entered, counted at the DEBUGGING transition",
			},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "crucible_stage_duration_seconds",
				Help: "Wall-clock time from task publish to result receipt",
				// Agent and simulation stages run for minutes, not milliseconds.
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"stage"},
		),
	}
	c.registry.MustRegister(
		c.transitions, c.tasks, c.results, c.deadLetters,
		c.analysisRounds, c.stageDuration,
	)
	return c
}

// Registry returns the backing registry, for promhttp handlers.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Hooks returns lifecycle hooks that record every orchestrator event.
func (c *Collector) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStateTransition: func(_ context.Context, e *domain.StateEvent) {
			c.transitions.WithLabelValues(string(e.To)).Inc()
			if e.To == domain.StateDebugging {
				c.analysisRounds.Inc()
			}
		},
		OnTaskPublished: func(_ context.Context, e *domain.TaskEvent) {
			c.tasks.WithLabelValues(string(e.Stage), e.Queue).Inc()
			c.mu.Lock()
			c.published[e.TaskID] = e.Timestamp
			c.mu.Unlock()
		},
		OnResultReceived: func(_ context.Context, e *domain.ResultEvent) {
			c.results.WithLabelValues(string(e.Stage), string(e.Status)).Inc()
			c.mu.Lock()
			start, ok := c.published[e.TaskID]
			delete(c.published, e.TaskID)
			c.mu.Unlock()
			if ok {
				c.stageDuration.WithLabelValues(string(e.Stage)).Observe(e.Timestamp.Sub(start).Seconds())
			}
		},
		OnDeadLetter: func(_ context.Context, e *domain.DeadLetterEvent) {
			c.deadLetters.WithLabelValues(string(e.Class)).Inc()
		},
	}
}

// Package runtime implements the orchestrator core: the dependency-aware
// scheduler that walks the design DAG, drives each node through the
// verification state machine, dispatches tasks over the typed queues, and
// interprets results.
package runtime

import (
	"log/slog"
	"time"

	"github.com/hdlforge/crucible/internal/logging"
	"github.com/hdlforge/crucible/pkg/domain"
)

// ReentryPolicy selects which verification stages a debug patch re-enters.
// The planner source material leaves this open, so it is configurable.
type ReentryPolicy string

const (
	// ReentryAuto follows the debug stage's changed-file report: a patched
	// RTL file re-lints, a patched testbench re-tb-lints.
	ReentryAuto ReentryPolicy = "auto"
	// ReentryRTLAndTB always re-enters through LINTING then TB_LINTING.
	ReentryRTLAndTB ReentryPolicy = "rtl_and_tb"
	// ReentryTBOnly always re-enters through TB_LINTING alone.
	ReentryTBOnly ReentryPolicy = "tb_only"
)

// DistillWindow bounds the log excerpt extracted around a detected failure.
type DistillWindow struct {
	LinesBefore int `yaml:"lines_before" json:"lines_before"`
	LinesAfter  int `yaml:"lines_after" json:"lines_after"`
}

// Options configures one orchestrator run.
type Options struct {
	// StageTimeouts is the wall-clock budget per dispatched task, keyed by
	// stage. A zero or missing entry means no deadline.
	StageTimeouts map[domain.Stage]time.Duration

	// MaxAnalysisRounds bounds each distill/reflect/debug loop per reason.
	MaxAnalysisRounds int

	// TransientRetryLimit is the number of automatic flat retries for
	// transient tool errors before the task is dead-lettered.
	TransientRetryLimit int

	// Reentry selects the verification stages a debug patch re-enters.
	Reentry ReentryPolicy

	// Distill bounds the simulation log excerpt for the distill stage.
	Distill DistillWindow

	Logger *slog.Logger
	Hooks  domain.LifecycleHooks
}

// Option mutates Options, following the functional option convention.
type Option func(*Options)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithHooks registers lifecycle observability hooks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(o *Options) { o.Hooks = o.Hooks.Merge(h) }
}

// WithStageTimeout sets the wall-clock budget for one stage.
func WithStageTimeout(stage domain.Stage, d time.Duration) Option {
	return func(o *Options) { o.StageTimeouts[stage] = d }
}

// WithMaxAnalysisRounds bounds the analysis loops.
func WithMaxAnalysisRounds(n int) Option {
	return func(o *Options) { o.MaxAnalysisRounds = n }
}

// WithTransientRetryLimit sets the flat retry budget.
func WithTransientRetryLimit(n int) Option {
	return func(o *Options) { o.TransientRetryLimit = n }
}

// WithReentryPolicy sets the debug re-entry policy.
func WithReentryPolicy(p ReentryPolicy) Option {
	return func(o *Options) { o.Reentry = p }
}

// WithDistillWindow sets the simulation log excerpt bounds.
func WithDistillWindow(w DistillWindow) Option {
	return func(o *Options) { o.Distill = w }
}

func defaultOptions() Options {
	return Options{
		StageTimeouts:       make(map[domain.Stage]time.Duration),
		MaxAnalysisRounds:   2,
		TransientRetryLimit: 1,
		Reentry:             ReentryAuto,
		Distill:             DistillWindow{LinesBefore: 50, LinesAfter: 25},
		Logger:              logging.NewNop(),
	}
}

// Package config loads the campaign configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hdlforge/crucible/internal/runtime"
	"github.com/hdlforge/crucible/pkg/domain"
)

// Duration decodes YAML strings like "20m" via time.ParseDuration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// BrokerKind selects the queue transport.
type BrokerKind string

const (
	BrokerMemory BrokerKind = "memory"
	BrokerRedis  BrokerKind = "redis"
)

// Broker configures the queue transport.
type Broker struct {
	Kind BrokerKind `yaml:"kind"`

	// Redis settings, used when Kind is "redis".
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Config is the full campaign configuration.
type Config struct {
	// DesignContext and DAG are the two input documents describing the design.
	DesignContext string `yaml:"design_context"`
	DAG           string `yaml:"dag"`

	// RTLRoot is the directory task payloads resolve source paths against.
	RTLRoot string `yaml:"rtl_root"`

	// MemoryRoot is the task memory directory, purged at run start.
	MemoryRoot string `yaml:"memory_root"`

	Broker Broker `yaml:"broker"`

	// StageTimeouts is the wall-clock budget per stage, e.g. "simulate: 20m".
	StageTimeouts map[domain.Stage]Duration `yaml:"stage_timeouts"`

	MaxAnalysisRounds   int                   `yaml:"max_analysis_rounds"`
	TransientRetryLimit int                   `yaml:"transient_retry_limit"`
	Reentry             runtime.ReentryPolicy `yaml:"reentry"`
	Distill             runtime.DistillWindow `yaml:"distill"`

	// Listen is the status server address, empty to disable.
	Listen string `yaml:"listen"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DesignContext:       "design_context.json",
		DAG:                 "dag.json",
		RTLRoot:             ".",
		MemoryRoot:          ".crucible/memory",
		Broker:              Broker{Kind: BrokerMemory},
		StageTimeouts:       make(map[domain.Stage]Duration),
		MaxAnalysisRounds:   2,
		TransientRetryLimit: 1,
		Reentry:             runtime.ReentryAuto,
		Distill:             runtime.DistillWindow{LinesBefore: 50, LinesAfter: 25},
		LogLevel:            "info",
	}
}

// Load reads and validates a config file, filling unset fields from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field consistency.
func (c Config) Validate() error {
	switch c.Broker.Kind {
	case BrokerMemory:
	case BrokerRedis:
		if c.Addr() == "" {
			return fmt.Errorf("broker kind %q requires addr", c.Broker.Kind)
		}
	default:
		return fmt.Errorf("unknown broker kind %q", c.Broker.Kind)
	}
	switch c.Reentry {
	case runtime.ReentryAuto, runtime.ReentryRTLAndTB, runtime.ReentryTBOnly:
	default:
		return fmt.Errorf("unknown reentry policy %q", c.Reentry)
	}
	if c.MaxAnalysisRounds < 0 {
		return fmt.Errorf("max_analysis_rounds must be >= 0, got %d", c.MaxAnalysisRounds)
	}
	if c.TransientRetryLimit < 0 {
		return fmt.Errorf("transient_retry_limit must be >= 0, got %d", c.TransientRetryLimit)
	}
	for stage := range c.StageTimeouts {
		if !stage.Valid() {
			return fmt.Errorf("stage_timeouts: unknown stage %q", stage)
		}
	}
	return nil
}

// Addr returns the redis address.
func (c Config) Addr() string {
	return c.Broker.Addr
}

// RuntimeOptions maps the config onto orchestrator options.
func (c Config) RuntimeOptions() []runtime.Option {
	opts := []runtime.Option{
		runtime.WithMaxAnalysisRounds(c.MaxAnalysisRounds),
		runtime.WithTransientRetryLimit(c.TransientRetryLimit),
		runtime.WithReentryPolicy(c.Reentry),
		runtime.WithDistillWindow(c.Distill),
	}
	for stage, d := range c.StageTimeouts {
		opts = append(opts, runtime.WithStageTimeout(stage, time.Duration(d)))
	}
	return opts
}

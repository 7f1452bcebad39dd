package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdlforge/crucible/internal/runtime"
	"github.com/hdlforge/crucible/pkg/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crucible.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
design_context: plan/design_context.json
dag: plan/dag.json
rtl_root: /work/rtl
memory_root: /work/.crucible
broker:
  kind: redis
  addr: localhost:6379
  prefix: "ci:"
stage_timeouts:
  simulate: 20m
  lint: 90s
max_analysis_rounds: 3
reentry: rtl_and_tb
distill:
  lines_before: 80
  lines_after: 40
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "plan/design_context.json", cfg.DesignContext)
	assert.Equal(t, BrokerRedis, cfg.Broker.Kind)
	assert.Equal(t, "ci:", cfg.Broker.Prefix)
	assert.Equal(t, Duration(20*time.Minute), cfg.StageTimeouts[domain.StageSimulate])
	assert.Equal(t, Duration(90*time.Second), cfg.StageTimeouts[domain.StageLint])
	assert.Equal(t, 3, cfg.MaxAnalysisRounds)
	assert.Equal(t, runtime.ReentryRTLAndTB, cfg.Reentry)
	assert.Equal(t, 80, cfg.Distill.LinesBefore)

	// Unset fields keep their defaults.
	assert.Equal(t, 1, cfg.TransientRetryLimit)
}

func TestLoad_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown broker", "broker:\n  kind: kafka\n", "unknown broker kind"},
		{"redis without addr", "broker:\n  kind: redis\n", "requires addr"},
		{"unknown reentry", "reentry: everything\n", "unknown reentry policy"},
		{"bad duration", "stage_timeouts:\n  simulate: fast\n", "invalid duration"},
		{"unknown stage", "stage_timeouts:\n  compile: 5m\n", "unknown stage"},
		{"negative rounds", "max_analysis_rounds: -1\n", "must be >= 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestRuntimeOptions_ApplyToOptions(t *testing.T) {
	cfg := Default()
	cfg.MaxAnalysisRounds = 5
	cfg.StageTimeouts[domain.StageSimulate] = Duration(time.Minute)

	// Options are opaque functions; apply them and observe the effect through
	// the policy they configure.
	opts := cfg.RuntimeOptions()
	assert.GreaterOrEqual(t, len(opts), 5)
}

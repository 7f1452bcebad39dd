package crucible_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdlforge/crucible"
	"github.com/hdlforge/crucible/internal/config"
	"github.com/hdlforge/crucible/internal/worker"
	"github.com/hdlforge/crucible/pkg/domain"
)

const e2eDesignContext = `{
  "design_context_hash": "cafe01",
  "top_module": "counter_top",
  "nodes": {
    "counter_top": {"rtl_file": "rtl/counter_top.sv", "children": ["counter"]},
    "counter": {"rtl_file": "rtl/counter.sv"}
  }
}`

const e2eDAG = `{
  "nodes": [
    {"id": "counter", "type": "SUBMODULE"},
    {"id": "counter_top", "type": "TOP", "deps": ["counter"]}
  ]
}`

func e2eConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.DesignContext = filepath.Join(dir, "design_context.json")
	cfg.DAG = filepath.Join(dir, "dag.json")
	cfg.RTLRoot = dir
	cfg.MemoryRoot = filepath.Join(dir, ".crucible", "memory")

	require.NoError(t, os.WriteFile(cfg.DesignContext, []byte(e2eDesignContext), 0o644))
	require.NoError(t, os.WriteFile(cfg.DAG, []byte(e2eDAG), 0o644))
	return cfg
}

func TestCampaign_EndToEndWithStubWorkers(t *testing.T) {
	cfg := e2eConfig(t)

	campaign, err := crucible.New(cfg)
	require.NoError(t, err)
	defer campaign.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	stub := worker.NewStub(campaign.Broker(), nil)
	require.NoError(t, stub.Start(ctx))

	report, err := campaign.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, 2, report.Done)

	// The status surface reflects the finished run.
	for _, node := range campaign.Orchestrator().Snapshot() {
		assert.Equal(t, domain.StateDone, node.State, "node %s", node.ID)
	}

	// The ledger left evidence on disk for every stage.
	entries, err := os.ReadDir(filepath.Join(cfg.MemoryRoot, "counter_top"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestCampaign_MetricsObserveTheRun(t *testing.T) {
	cfg := e2eConfig(t)

	campaign, err := crucible.New(cfg)
	require.NoError(t, err)
	defer campaign.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	stub := worker.NewStub(campaign.Broker(), nil)
	require.NoError(t, stub.Start(ctx))

	_, err = campaign.Run(ctx)
	require.NoError(t, err)

	families, err := campaign.Metrics().Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["crucible_state_transitions_total"])
	assert.True(t, names["crucible_results_received_total"])
}

func TestNew_RejectsBrokenConfig(t *testing.T) {
	cfg := e2eConfig(t)
	cfg.Broker.Kind = "carrier-pigeon"

	_, err := crucible.New(cfg)
	require.Error(t, err)
}

func TestNew_RejectsMissingPlannerFiles(t *testing.T) {
	cfg := config.Default()
	cfg.DesignContext = filepath.Join(t.TempDir(), "absent.json")
	cfg.MemoryRoot = filepath.Join(t.TempDir(), "mem")

	_, err := crucible.New(cfg)
	require.Error(t, err)
}

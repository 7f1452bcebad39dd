package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdlforge/crucible/pkg/domain"
)

const testDesignContext = `{
  "design_context_hash": "a1b2c3",
  "top_module": "soc_top",
  "standard_library": {"fifo": "lib/fifo.sv"},
  "nodes": {
    "soc_top": {
      "rtl_file": "rtl/soc_top.sv",
      "testbench_file": "tb/soc_top_tb.sv",
      "interface": {"signals": [{"name": "clk", "direction": "input", "width": 1}]},
      "clocking": {"clk": {"freq_hz": 100000000, "reset": "rst_n", "reset_active_low": true}},
      "coverage_goals": {"branch": 0.9},
      "children": ["alu", "regfile"]
    },
    "alu": {"rtl_file": "rtl/alu.sv", "uses_library": ["fifo"]},
    "regfile": {"rtl_file": "rtl/regfile.sv"}
  }
}`

const testDAG = `{
  "nodes": [
    {"id": "alu", "type": "SUBMODULE", "deps": []},
    {"id": "regfile", "type": "SUBMODULE", "deps": []},
    {"id": "soc_top", "type": "TOP", "deps": ["alu", "regfile"]}
  ]
}`

func writePlannerFiles(t *testing.T, designContext, dag string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dcPath := filepath.Join(dir, "design_context.json")
	dagPath := filepath.Join(dir, "dag.json")
	require.NoError(t, os.WriteFile(dcPath, []byte(designContext), 0o644))
	require.NoError(t, os.WriteFile(dagPath, []byte(dag), 0o644))
	return dcPath, dagPath
}

func TestLoad_ValidDesign(t *testing.T) {
	dcPath, dagPath := writePlannerFiles(t, testDesignContext, testDAG)

	store, err := Load(dcPath, dagPath)
	require.NoError(t, err)

	assert.Equal(t, "a1b2c3", store.Context.Hash)
	assert.Equal(t, "soc_top", store.Context.TopModule)
	assert.Len(t, store.DAG.Nodes, 3)

	// Dependencies come before dependents.
	pos := make(map[string]int, len(store.Order))
	for i, id := range store.Order {
		pos[id] = i
	}
	assert.Less(t, pos["alu"], pos["soc_top"])
	assert.Less(t, pos["regfile"], pos["soc_top"])
}

func TestLoad_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		dag     string
		wantErr string
	}{
		{
			"duplicate node",
			`{"nodes": [{"id": "alu", "type": "SUBMODULE"}, {"id": "alu", "type": "SUBMODULE"}]}`,
			"duplicate node",
		},
		{
			"unknown dependency",
			`{"nodes": [{"id": "alu", "type": "SUBMODULE", "deps": ["ghost"]}]}`,
			"unknown node",
		},
		{
			"self dependency",
			`{"nodes": [{"id": "alu", "type": "SUBMODULE", "deps": ["alu"]}]}`,
			"depends on itself",
		},
		{
			"unknown type",
			`{"nodes": [{"id": "alu", "type": "MACRO"}]}`,
			"unknown type",
		},
		{
			"node missing from design context",
			`{"nodes": [{"id": "uart", "type": "SUBMODULE"}]}`,
			"missing from the design context",
		},
		{
			"empty dag",
			`{"nodes": []}`,
			"no nodes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dcPath, dagPath := writePlannerFiles(t, testDesignContext, tt.dag)
			_, err := Load(dcPath, dagPath)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_CycleDetected(t *testing.T) {
	dag := `{"nodes": [
		{"id": "alu", "type": "SUBMODULE", "deps": ["regfile"]},
		{"id": "regfile", "type": "SUBMODULE", "deps": ["alu"]},
		{"id": "soc_top", "type": "TOP", "deps": ["alu"]}
	]}`
	dcPath, dagPath := writePlannerFiles(t, testDesignContext, dag)

	_, err := Load(dcPath, dagPath)
	require.ErrorIs(t, err, domain.ErrCycle)
}

func TestLoadDesignContext_Rejections(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing rtl_file", func(t *testing.T) {
		path := filepath.Join(dir, "no_rtl.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"nodes": {"alu": {}}}`), 0o644))
		_, err := LoadDesignContext(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no rtl_file")
	})

	t.Run("unknown child", func(t *testing.T) {
		path := filepath.Join(dir, "bad_child.json")
		content := `{"nodes": {"top": {"rtl_file": "top.sv", "children": ["ghost"]}}}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		_, err := LoadDesignContext(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown child")
	})
}

func TestStore_Dependents(t *testing.T) {
	dag := `{"nodes": [
		{"id": "alu", "type": "SUBMODULE"},
		{"id": "regfile", "type": "SUBMODULE", "deps": ["alu"]},
		{"id": "soc_top", "type": "TOP", "deps": ["regfile"]}
	]}`
	dcPath, dagPath := writePlannerFiles(t, testDesignContext, dag)

	store, err := Load(dcPath, dagPath)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"regfile", "soc_top"}, store.Dependents("alu"))
	assert.ElementsMatch(t, []string{"soc_top"}, store.Dependents("regfile"))
	assert.Empty(t, store.Dependents("soc_top"))
}

func TestStore_BuildNodes(t *testing.T) {
	dcPath, dagPath := writePlannerFiles(t, testDesignContext, testDAG)
	store, err := Load(dcPath, dagPath)
	require.NoError(t, err)

	nodes := store.BuildNodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, domain.StatePending, nodes["soc_top"].State)
	assert.Equal(t, domain.KindTop, nodes["soc_top"].Kind)
	assert.Equal(t, []string{"alu", "regfile"}, nodes["soc_top"].Deps)
	assert.Equal(t, 1, nodes["alu"].Attempt)
}

package graph

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hdlforge/crucible/pkg/domain"
)

// PayloadBuilder assembles the stage-specific task payload for a node from
// the design context. Paths are resolved against the RTL root so workers
// receive absolute targets.
type PayloadBuilder struct {
	ctx     *DesignContext
	rtlRoot string
}

// NewPayloadBuilder creates a builder rooted at rtlRoot.
func NewPayloadBuilder(ctx *DesignContext, rtlRoot string) *PayloadBuilder {
	return &PayloadBuilder{ctx: ctx, rtlRoot: rtlRoot}
}

// RTLPath returns the resolved RTL target for a node.
func (b *PayloadBuilder) RTLPath(nodeID string) (string, error) {
	mod, ok := b.ctx.Module(nodeID)
	if !ok {
		return "", fmt.Errorf("payload for %s: %w", nodeID, domain.ErrNodeNotFound)
	}
	return filepath.Join(b.rtlRoot, mod.RTLFile), nil
}

// TestbenchPath returns the resolved testbench target for a node. When the
// planner declared none, the conventional <node>_tb sibling of the RTL file
// is used.
func (b *PayloadBuilder) TestbenchPath(nodeID string) (string, error) {
	mod, ok := b.ctx.Module(nodeID)
	if !ok {
		return "", fmt.Errorf("payload for %s: %w", nodeID, domain.ErrNodeNotFound)
	}
	if mod.TestbenchFile != "" {
		return filepath.Join(b.rtlRoot, mod.TestbenchFile), nil
	}
	rtl := filepath.Join(b.rtlRoot, mod.RTLFile)
	ext := filepath.Ext(rtl)
	return strings.TrimSuffix(rtl, ext) + "_tb" + ext, nil
}

// Build produces the base payload shared by every stage of a node: the
// interface contract, file targets, clocking, coverage goals, and the design
// context hash workers echo back for drift detection.
func (b *PayloadBuilder) Build(nodeID string, attempt int) (map[string]any, error) {
	mod, ok := b.ctx.Module(nodeID)
	if !ok {
		return nil, fmt.Errorf("payload for %s: %w", nodeID, domain.ErrNodeNotFound)
	}

	rtlPath, _ := b.RTLPath(nodeID)
	tbPath, _ := b.TestbenchPath(nodeID)

	childInterfaces := make(map[string]Interface, len(mod.Children))
	for _, child := range mod.Children {
		if cm, ok := b.ctx.Module(child); ok {
			childInterfaces[child] = cm.Interface
		}
	}

	return map[string]any{
		"node_id":             nodeID,
		"interface":           mod.Interface,
		"rtl_path":            rtlPath,
		"tb_path":             tbPath,
		"clocking":            mod.Clocking,
		"coverage_goals":      mod.CoverageGoals,
		"library_refs":        b.ctx.StandardLibrary,
		"uses_library":        mod.UsesLibrary,
		"top_module":          b.ctx.TopModule,
		"children":            mod.Children,
		"child_interfaces":    childInterfaces,
		"design_context_hash": b.ctx.Hash,
		"attempt":             attempt,
	}, nil
}

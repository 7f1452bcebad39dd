package graph

import (
	"encoding/json"
	"fmt"
	"os"
)

// Signal is one port of a module interface.
type Signal struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
	Width     int    `json:"width"`
}

// Interface is a module's declared port contract.
type Interface struct {
	Signals []Signal `json:"signals"`
}

// Clock describes one clock domain and its reset.
type Clock struct {
	FreqHz         float64 `json:"freq_hz"`
	Reset          string  `json:"reset"`
	ResetActiveLow bool    `json:"reset_active_low"`
}

// ModuleContext is the planner's contract for one module: its interface, the
// file targets agents must populate, and the goals acceptance checks against.
type ModuleContext struct {
	RTLFile       string             `json:"rtl_file"`
	TestbenchFile string             `json:"testbench_file"`
	Interface     Interface          `json:"interface"`
	Clocking      map[string]Clock   `json:"clocking"`
	CoverageGoals map[string]float64 `json:"coverage_goals"`
	UsesLibrary   []string           `json:"uses_library,omitempty"`
	Children      []string           `json:"children,omitempty"`
}

// DesignContext is the read-only planner output mapping module ids to their
// interface contracts. The orchestrator treats its paths as destinations that
// agents and workers populate and downstream stages read back.
type DesignContext struct {
	Hash            string                   `json:"design_context_hash"`
	TopModule       string                   `json:"top_module"`
	StandardLibrary map[string]string        `json:"standard_library,omitempty"`
	Nodes           map[string]ModuleContext `json:"nodes"`
}

// LoadDesignContext reads and validates a design_context.json file.
func LoadDesignContext(path string) (*DesignContext, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read design context: %w", err)
	}
	var dc DesignContext
	if err := json.Unmarshal(raw, &dc); err != nil {
		return nil, fmt.Errorf("parse design context %s: %w", path, err)
	}
	if len(dc.Nodes) == 0 {
		return nil, fmt.Errorf("design context %s declares no nodes", path)
	}
	for id, mod := range dc.Nodes {
		if mod.RTLFile == "" {
			return nil, fmt.Errorf("design context node %s has no rtl_file", id)
		}
		for _, child := range mod.Children {
			if _, ok := dc.Nodes[child]; !ok {
				return nil, fmt.Errorf("design context node %s references unknown child %s", id, child)
			}
		}
	}
	return &dc, nil
}

// Module returns the context for a module id.
func (dc *DesignContext) Module(id string) (ModuleContext, bool) {
	m, ok := dc.Nodes[id]
	return m, ok
}

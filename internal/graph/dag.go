package graph

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gammazero/toposort"

	"github.com/hdlforge/crucible/pkg/domain"
)

// DAGNode is one entry of the planner's dag.json.
type DAGNode struct {
	ID        string             `json:"id"`
	Type      domain.NodeKind    `json:"type"`
	Deps      []string           `json:"deps"`
	State     domain.NodeState   `json:"state"`
	Artifacts map[string]string  `json:"artifacts"`
	Metrics   map[string]float64 `json:"metrics"`
}

// DAG is the planner's dependency graph file.
type DAG struct {
	Nodes []DAGNode `json:"nodes"`
}

// Store holds the immutable planning output: the design context plus the
// dependency DAG. Read-only to the orchestrator after Load.
type Store struct {
	Context *DesignContext
	DAG     *DAG

	// Order is a topological ordering of the node ids, dependencies first.
	// Scans in this order keep dispatch decisions deterministic.
	Order []string
}

// Load reads both planner files and cross-validates them. The store is
// rejected if the DAG references unknown modules, declares duplicate ids, or
// contains a dependency cycle.
func Load(designContextPath, dagPath string) (*Store, error) {
	dc, err := LoadDesignContext(designContextPath)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(dagPath)
	if err != nil {
		return nil, fmt.Errorf("read dag: %w", err)
	}
	var dag DAG
	if err := json.Unmarshal(raw, &dag); err != nil {
		return nil, fmt.Errorf("parse dag %s: %w", dagPath, err)
	}
	if len(dag.Nodes) == 0 {
		return nil, fmt.Errorf("dag %s declares no nodes", dagPath)
	}

	seen := make(map[string]bool, len(dag.Nodes))
	for _, n := range dag.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("dag %s contains a node without an id", dagPath)
		}
		if seen[n.ID] {
			return nil, fmt.Errorf("dag declares duplicate node %s", n.ID)
		}
		seen[n.ID] = true
		if _, ok := dc.Nodes[n.ID]; !ok {
			return nil, fmt.Errorf("dag node %s is missing from the design context", n.ID)
		}
		if n.Type != domain.KindTop && n.Type != domain.KindSubmodule {
			return nil, fmt.Errorf("dag node %s has unknown type %q", n.ID, n.Type)
		}
		for _, dep := range n.Deps {
			if dep == n.ID {
				return nil, fmt.Errorf("dag node %s depends on itself", n.ID)
			}
			if !containsNode(dag.Nodes, dep) {
				return nil, fmt.Errorf("dag node %s depends on unknown node %s", n.ID, dep)
			}
		}
	}

	order, err := topoOrder(dag.Nodes)
	if err != nil {
		return nil, err
	}

	return &Store{Context: dc, DAG: &dag, Order: order}, nil
}

// topoOrder sorts the node ids dependencies-first and rejects cycles.
func topoOrder(nodes []DAGNode) ([]string, error) {
	edges := make([]toposort.Edge, 0, len(nodes))
	for _, n := range nodes {
		for _, dep := range n.Deps {
			edges = append(edges, toposort.Edge{dep, n.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCycle, err)
	}

	order := make([]string, 0, len(nodes))
	placed := make(map[string]bool, len(nodes))
	for _, v := range sorted {
		id := v.(string)
		order = append(order, id)
		placed[id] = true
	}
	// Nodes without edges never appear in the sort output; keep their file
	// order.
	for _, n := range nodes {
		if !placed[n.ID] {
			order = append(order, n.ID)
		}
	}
	return order, nil
}

func containsNode(nodes []DAGNode, id string) bool {
	for _, n := range nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// BuildNodes materializes the scheduling units from the DAG.
func (s *Store) BuildNodes() map[string]*domain.Node {
	nodes := make(map[string]*domain.Node, len(s.DAG.Nodes))
	for _, n := range s.DAG.Nodes {
		nodes[n.ID] = domain.NewNode(n.ID, n.Type, n.Deps)
	}
	return nodes
}

// Dependents returns the ids of nodes that transitively depend on id.
func (s *Store) Dependents(id string) []string {
	direct := make(map[string][]string)
	for _, n := range s.DAG.Nodes {
		for _, dep := range n.Deps {
			direct[dep] = append(direct[dep], n.ID)
		}
	}

	var out []string
	visited := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range direct[cur] {
			if visited[child] {
				continue
			}
			visited[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

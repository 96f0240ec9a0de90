package plan

import "fmt"

// TaskNode is one unit of work in a plan, bound to one worker key.
type TaskNode struct {
	ID          string   `json:"id"`
	AgentKey    string   `json:"agent_key"`
	Instruction string   `json:"instruction"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// Plan is an ordered, non-empty sequence of task nodes plus planning
// metadata. Non-emptiness is guaranteed by the generator's fallback.
type Plan struct {
	Analysis  string     `json:"analysis"`
	Reasoning string     `json:"reasoning"`
	Priority  string     `json:"priority"`
	Nodes     []TaskNode `json:"nodes"`
}

// NodeIDs returns the set of node ids in plan order.
func (p *Plan) NodeIDs() []string {
	ids := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Validate checks structural soundness: non-empty, unique ids, and
// dependency references that stay within the plan. Cycles surface at
// schedule time as an unsatisfiable frontier; dangling references are
// caught here.
func (p *Plan) Validate() error {
	if len(p.Nodes) == 0 {
		return fmt.Errorf("plan has no nodes")
	}
	ids := make(map[string]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		if n.ID == "" {
			return fmt.Errorf("plan node with empty id")
		}
		if ids[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		ids[n.ID] = true
	}
	for _, n := range p.Nodes {
		for _, dep := range n.DependsOn {
			if dep == n.ID {
				return fmt.Errorf("node %q depends on itself", n.ID)
			}
			if !ids[dep] {
				return fmt.Errorf("node %q depends on unknown node %q", n.ID, dep)
			}
		}
	}
	return nil
}

package engine

import (
	"sort"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// DAG is the in-memory adjacency form of a validated workflow graph, built
// once per execution and read-only afterwards. Ordering comes from Kahn's
// algorithm with ascending node id as the tie-break among simultaneously
// available nodes, so dispatch order is deterministic.
type DAG struct {
	Nodes    map[string]*schema.Node
	Outgoing map[string][]schema.Edge // from node id -> edges leaving it
	Incoming map[string][]schema.Edge // to node id -> edges entering it
	Sorted   []string                 // topological order
	Entry    string                   // the single in-degree-0 trigger node
}

// BuildDAG constructs the adjacency lists and topological order for a graph
// that already passed validation. It still guards against cycles so a
// corrupt stored graph cannot wedge the scheduler.
func BuildDAG(g *schema.WorkflowGraph) (*DAG, error) {
	if g == nil || len(g.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow graph has no nodes")
	}

	dag := &DAG{
		Nodes:    make(map[string]*schema.Node, len(g.Nodes)),
		Outgoing: make(map[string][]schema.Edge),
		Incoming: make(map[string][]schema.Edge),
	}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		if _, exists := dag.Nodes[n.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id: %s", n.ID)
		}
		dag.Nodes[n.ID] = n
	}

	for _, e := range g.Edges {
		if _, ok := dag.Nodes[e.From]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge references unknown node: %s", e.From)
		}
		if _, ok := dag.Nodes[e.To]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge references unknown node: %s", e.To)
		}
		dag.Outgoing[e.From] = append(dag.Outgoing[e.From], e)
		dag.Incoming[e.To] = append(dag.Incoming[e.To], e)
	}

	// Kahn's algorithm with a sorted frontier for deterministic order.
	inDegree := make(map[string]int, len(dag.Nodes))
	for id := range dag.Nodes {
		inDegree[id] = len(dag.Incoming[id])
	}

	frontier := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	if len(frontier) != 1 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"workflow must have exactly one entry node, found %d", len(frontier))
	}
	dag.Entry = frontier[0]

	sorted := make([]string, 0, len(dag.Nodes))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		sorted = append(sorted, id)

		for _, e := range dag.Outgoing[id] {
			inDegree[e.To]--
			if inDegree[e.To] == 0 {
				frontier = append(frontier, e.To)
			}
		}
		sort.Strings(frontier)
	}

	if len(sorted) != len(dag.Nodes) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "workflow contains a cycle")
	}

	dag.Sorted = sorted
	return dag, nil
}

// Predecessors returns the ids of nodes with an edge into the given node.
func (d *DAG) Predecessors(id string) []string {
	edges := d.Incoming[id]
	out := make([]string, 0, len(edges))
	seen := make(map[string]bool, len(edges))
	for _, e := range edges {
		if !seen[e.From] {
			seen[e.From] = true
			out = append(out, e.From)
		}
	}
	return out
}

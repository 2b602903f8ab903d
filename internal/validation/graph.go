package validation

import (
	"fmt"
	"sort"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// validKinds is the closed set of recognized node kinds.
var validKinds = map[schema.NodeKind]bool{
	schema.NodeKindTrigger:   true,
	schema.NodeKindHTTP:      true,
	schema.NodeKindTransform: true,
	schema.NodeKindCondition: true,
	schema.NodeKindAI:        true,
	schema.NodeKindDelay:     true,
}

// validateStructure checks node/edge well-formedness: non-empty unique node
// ids, known kinds, and edges whose endpoints exist.
func validateStructure(g *schema.WorkflowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if len(g.Nodes) == 0 {
		result.AddError("nodes", schema.ErrCodeValidation, "graph has no nodes")
		return result
	}

	seen := make(map[string]bool, len(g.Nodes))
	for i, n := range g.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if n.ID == "" {
			result.AddError(path, schema.ErrCodeValidation, "node has empty id")
			continue
		}
		if seen[n.ID] {
			result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = true
		if !validKinds[n.Kind] {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("node %q has unknown kind %q", n.ID, n.Kind))
		}
		if n.Retry != nil && n.Retry.MaxAttempts < 1 {
			result.AddError(path+".retry", schema.ErrCodeValidation,
				fmt.Sprintf("node %q retry policy must allow at least 1 attempt", n.ID))
		}
	}

	edgeSeen := make(map[schema.Edge]bool, len(g.Edges))
	for i, e := range g.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if !seen[e.From] {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("edge references non-existent source node %q", e.From))
		}
		if !seen[e.To] {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("edge references non-existent target node %q", e.To))
		}
		if e.From == e.To && e.From != "" {
			result.AddError(path, schema.ErrCodeCycleDetected,
				fmt.Sprintf("node %q has an edge to itself", e.From))
		}
		if edgeSeen[e] {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate edge %s -> %s", e.From, e.To))
		}
		edgeSeen[e] = true
	}

	return result
}

// validateEntry checks that exactly one node has no incoming edges and that
// it is the trigger node.
func validateEntry(g *schema.WorkflowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	incoming := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		incoming[n.ID] = 0
	}
	for _, e := range g.Edges {
		if _, ok := incoming[e.To]; ok {
			incoming[e.To]++
		}
	}

	var roots []string
	for id, deg := range incoming {
		if deg == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)

	switch len(roots) {
	case 0:
		result.AddError("nodes", schema.ErrCodeValidation,
			"graph has no entry node (every node has incoming edges)")
	case 1:
		n := g.Node(roots[0])
		if n != nil && n.Kind != schema.NodeKindTrigger {
			result.AddError("nodes", schema.ErrCodeValidation,
				fmt.Sprintf("entry node %q must be a trigger node, got kind %q", n.ID, n.Kind))
		}
	default:
		result.AddError("nodes", schema.ErrCodeValidation,
			fmt.Sprintf("graph must have exactly one entry node, found %d: %v", len(roots), roots))
	}

	// Trigger nodes anywhere but the entry are also an error.
	for _, n := range g.Nodes {
		if n.Kind == schema.NodeKindTrigger && incoming[n.ID] > 0 {
			result.AddError(fmt.Sprintf("nodes[%s]", n.ID), schema.ErrCodeValidation,
				fmt.Sprintf("trigger node %q has incoming edges", n.ID))
		}
	}

	return result
}

// validateAcyclic runs a depth-first traversal with a recursion-stack
// marker: a back-edge to a node currently on the stack signals a cycle.
func validateAcyclic(g *schema.WorkflowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	adjacent := make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		adjacent[e.From] = append(adjacent[e.From], e.To)
	}
	for _, targets := range adjacent {
		sort.Strings(targets)
	}

	const (
		white = 0 // unvisited
		gray  = 1 // on the recursion stack
		black = 2 // fully explored
	)
	color := make(map[string]int, len(g.Nodes))

	var stack []string
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range adjacent[id] {
			switch color[next] {
			case gray:
				// Back-edge: report the cycle path for the editor.
				cycle := append(cycleSuffix(stack, next), next)
				result.AddError("edges", schema.ErrCodeCycleDetected,
					fmt.Sprintf("graph contains a cycle: %v", cycle))
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				break
			}
		}
	}

	return result
}

// cycleSuffix returns the portion of the stack from the first occurrence of
// start onward.
func cycleSuffix(stack []string, start string) []string {
	for i, id := range stack {
		if id == start {
			return append([]string(nil), stack[i:]...)
		}
	}
	return append([]string(nil), stack...)
}

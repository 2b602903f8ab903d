package schema

// WorkflowGraph is the JSON-serializable workflow format: an id-indexed
// arena of nodes plus index-based edges. Acyclicity is not encoded in the
// representation; the validator enforces it before a graph becomes
// schedulable.
type WorkflowGraph struct {
	ID      string         `json:"id"`
	Name    string         `json:"name,omitempty"`
	Version int            `json:"version"`
	Nodes   []Node         `json:"nodes"`
	Edges   []Edge         `json:"edges,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Node returns the node with the given id, or nil.
func (g *WorkflowGraph) Node(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// Entry returns the trigger node, or nil if the graph has none.
// Valid graphs have exactly one.
func (g *WorkflowGraph) Entry() *Node {
	for i := range g.Nodes {
		if g.Nodes[i].Kind == NodeKindTrigger {
			return &g.Nodes[i]
		}
	}
	return nil
}

// Node describes a single unit of work in a workflow.
type Node struct {
	ID      string         `json:"id"`
	Kind    NodeKind       `json:"kind"`
	Name    string         `json:"name,omitempty"`
	Config  map[string]any `json:"config,omitempty"`  // kind-specific, validated against the kind's schema
	Retry   *RetryPolicy   `json:"retry,omitempty"`
	Timeout string         `json:"timeout,omitempty"` // per-dispatch timeout (e.g. "30s")
}

// Edge connects two nodes. Port names the source output port for branch
// routing; empty means the default port.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Port string `json:"port,omitempty"`
}

// NodeKind enumerates the closed set of executable node kinds.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindHTTP      NodeKind = "http"
	NodeKindTransform NodeKind = "transform"
	NodeKindCondition NodeKind = "condition"
	NodeKindAI        NodeKind = "ai"
	NodeKindDelay     NodeKind = "delay"
)

// NodeKinds lists every recognized kind.
var NodeKinds = []NodeKind{
	NodeKindTrigger,
	NodeKindHTTP,
	NodeKindTransform,
	NodeKindCondition,
	NodeKindAI,
	NodeKindDelay,
}

// RetryPolicy configures retry behavior for a node.
type RetryPolicy struct {
	MaxAttempts  int     `json:"max_attempts"`            // total attempts, >= 1
	Multiplier   float64 `json:"multiplier,omitempty"`    // backoff multiplier per attempt
	InitialDelay string  `json:"initial_delay,omitempty"` // delay before attempt 2 (e.g. "1s")
	MaxDelay     string  `json:"max_delay,omitempty"`     // cap on computed delay
	Jitter       float64 `json:"jitter,omitempty"`        // fraction, e.g. 0.2 for ±20%
}

// DefaultRetryPolicy returns the engine-wide default: 3 attempts,
// exponential ×2 from 1s, capped at 60s, ±20% jitter.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		Multiplier:   2,
		InitialDelay: "1s",
		MaxDelay:     "60s",
		Jitter:       0.2,
	}
}

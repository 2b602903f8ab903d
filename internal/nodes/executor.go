package nodes

import (
	"context"
	"encoding/json"
	"time"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// Request carries everything an executor needs for a single node attempt.
// Config is the node configuration after template resolution; Trigger and
// Outputs expose the same scope the templates were resolved against.
type Request struct {
	ExecutionID string
	Node        *schema.Node
	Config      map[string]any
	Trigger     map[string]any
	Outputs     map[string]any

	// Resumed marks a re-dispatch after a suspension deadline elapsed.
	Resumed bool

	// OnChunk, when set, receives incremental output fragments from
	// executors that stream (ai). May be nil.
	OnChunk func(chunk string)
}

// Result is the outcome of a successful node attempt.
type Result struct {
	// Output is the node's structured output, made available to downstream
	// nodes under nodes.<id>.
	Output any

	// Branch is the output port chosen by a condition node. Empty for all
	// other kinds.
	Branch string

	// SuspendFor requests that the engine park this node and wake it after
	// the given duration instead of completing it now. Executors never
	// block a worker to wait; delay nodes use this.
	SuspendFor time.Duration
}

// Executor runs node attempts for a single node kind. Implementations must
// be safe for concurrent use and must honor ctx cancellation on any
// blocking work.
type Executor interface {
	Kind() schema.NodeKind
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// Param helpers used by all executor files.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

func floatParam(m map[string]any, key string, defaultVal float64) float64 {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return defaultVal
		}
		return f
	default:
		return defaultVal
	}
}

func durationParam(m map[string]any, key string, defaultVal time.Duration) time.Duration {
	s := stringParam(m, key, "")
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

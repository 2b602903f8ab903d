package nodes

import (
	"context"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/expressions"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// TransformExecutor runs transform nodes: a pure expression over the
// resolution scope, evaluated by one of the registered expression engines.
// The engine is selected per node via the "engine" config key (default
// "expr").
type TransformExecutor struct {
	engines map[string]expressions.Engine
}

// NewTransformExecutor creates a transform executor backed by the given
// engines.
func NewTransformExecutor(engines ...expressions.Engine) *TransformExecutor {
	m := make(map[string]expressions.Engine, len(engines))
	for _, e := range engines {
		m[e.Name()] = e
	}
	return &TransformExecutor{engines: m}
}

func (e *TransformExecutor) Kind() schema.NodeKind { return schema.NodeKindTransform }

func (e *TransformExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	expression := stringParam(req.Config, "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "transform node: missing required param 'expression'")
	}

	engineName := stringParam(req.Config, "engine", "expr")
	engine, ok := e.engines[engineName]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"transform node: unknown engine %q", engineName)
	}

	out, err := engine.Evaluate(ctx, expression, evalScope(req))
	if err != nil {
		return nil, err
	}
	return &Result{Output: out}, nil
}

// evalScope builds the expression environment: the same two namespaces the
// template resolver exposes.
func evalScope(req *Request) map[string]any {
	trigger := req.Trigger
	if trigger == nil {
		trigger = map[string]any{}
	}
	outputs := req.Outputs
	if outputs == nil {
		outputs = map[string]any{}
	}
	return map[string]any{
		"trigger": trigger,
		"nodes":   outputs,
	}
}

var _ Executor = (*TransformExecutor)(nil)

package nodes

import (
	"context"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/expressions"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// ConditionExecutor runs condition nodes: an ordered rule list where each
// rule pairs a CEL predicate with an output port. The chosen port becomes
// the result branch; edges leaving the node on other ports are skipped by
// the engine.
//
// match_policy controls rule selection: "first" (default) stops at the
// first true predicate, "last" evaluates all rules and keeps the last true
// one. When no rule matches, default_port is used; without a default the
// node fails.
type ConditionExecutor struct {
	cel expressions.Engine
}

// NewConditionExecutor creates a condition executor evaluating rules with
// the given engine.
func NewConditionExecutor(cel expressions.Engine) *ConditionExecutor {
	return &ConditionExecutor{cel: cel}
}

func (e *ConditionExecutor) Kind() schema.NodeKind { return schema.NodeKindCondition }

func (e *ConditionExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	rawRules, ok := req.Config["rules"].([]any)
	if !ok || len(rawRules) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "condition node: missing required param 'rules'")
	}

	matchPolicy := stringParam(req.Config, "match_policy", "first")
	scope := evalScope(req)

	chosen := ""
	evaluated := make([]map[string]any, 0, len(rawRules))

	for i, raw := range rawRules {
		rule, ok := raw.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"condition node: rule %d is not an object", i)
		}
		when := stringParam(rule, "when", "")
		port := stringParam(rule, "port", "")
		if when == "" || port == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"condition node: rule %d requires 'when' and 'port'", i)
		}

		out, err := e.cel.Evaluate(ctx, when, scope)
		if err != nil {
			return nil, err
		}
		matched, ok := out.(bool)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"condition node: rule %d expression %q returned %T, want bool", i, when, out)
		}

		evaluated = append(evaluated, map[string]any{
			"when":    when,
			"port":    port,
			"matched": matched,
		})

		if matched {
			chosen = port
			if matchPolicy == "first" {
				break
			}
		}
	}

	if chosen == "" {
		chosen = stringParam(req.Config, "default_port", "")
	}
	if chosen == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"condition node: no rule matched and no default_port configured").
			WithDetails(map[string]any{"rules": evaluated})
	}

	return &Result{
		Branch: chosen,
		Output: map[string]any{
			"branch": chosen,
			"rules":  evaluated,
		},
	}, nil
}

var _ Executor = (*ConditionExecutor)(nil)

package validation

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// ParseGraph decodes a workflow graph from its JSON representation. Unknown
// fields are rejected so typos in hand-written graphs surface immediately.
func ParseGraph(data []byte) (*schema.WorkflowGraph, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	g := &schema.WorkflowGraph{}
	if err := dec.Decode(g); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse workflow graph: %v", err)
	}
	if g.ID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow graph has no id")
	}
	return g, nil
}

// GraphValidator runs the full validation pipeline over a submitted graph:
// 1. Structure (node/edge well-formedness)
// 2. Entry (exactly one in-degree-0 node, tagged trigger)
// 3. Acyclicity (DFS with recursion-stack marker)
// 4. Per-kind node configuration schemas
//
// Validation runs once at save-time, not per-execution. A graph failing
// validation must never be schedulable.
type GraphValidator struct {
	configs *ConfigValidator
}

// NewGraphValidator creates a GraphValidator with compiled config schemas.
func NewGraphValidator() (*GraphValidator, error) {
	cv, err := NewConfigValidator()
	if err != nil {
		return nil, err
	}
	return &GraphValidator{configs: cv}, nil
}

// Validate returns all violations found, not just the first.
func (gv *GraphValidator) Validate(g *schema.WorkflowGraph) *schema.ValidationResult {
	if g == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "graph is nil")
		return r
	}

	result := validateStructure(g)
	if !result.Valid() {
		// Entry/cycle analysis over malformed nodes and edges would only
		// produce noise.
		return result
	}

	result.Merge(validateEntry(g))
	result.Merge(validateAcyclic(g))

	for _, n := range g.Nodes {
		if err := gv.configs.ValidateConfig(n.Kind, n.Config); err != nil {
			result.AddError(fmt.Sprintf("nodes[%s].config", n.ID), schema.ErrCodeValidation, err.Error())
		}
	}

	return result
}

// ValidateGraph converts the result to a single error, nil when valid.
func (gv *GraphValidator) ValidateGraph(g *schema.WorkflowGraph) error {
	return gv.Validate(g).ToError()
}

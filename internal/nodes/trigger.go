package nodes

import (
	"context"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// TriggerExecutor handles the entry node of every workflow. Its output is
// the trigger payload itself, so downstream nodes can reference it through
// either namespace.
type TriggerExecutor struct{}

// NewTriggerExecutor creates a trigger executor.
func NewTriggerExecutor() *TriggerExecutor {
	return &TriggerExecutor{}
}

func (e *TriggerExecutor) Kind() schema.NodeKind { return schema.NodeKindTrigger }

func (e *TriggerExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	payload := req.Trigger
	if payload == nil {
		payload = map[string]any{}
	}
	return &Result{Output: payload}, nil
}

var _ Executor = (*TriggerExecutor)(nil)

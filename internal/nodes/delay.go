package nodes

import (
	"context"
	"time"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// DelayExecutor runs delay nodes. It never sleeps: the first attempt
// returns a SuspendFor duration so the engine parks the node on a timer and
// checkpoints the wake deadline, freeing the worker. When the engine
// re-dispatches after the deadline it passes resumed dispatch metadata and
// the node completes.
type DelayExecutor struct{}

// NewDelayExecutor creates a delay executor.
func NewDelayExecutor() *DelayExecutor {
	return &DelayExecutor{}
}

func (e *DelayExecutor) Kind() schema.NodeKind { return schema.NodeKindDelay }

func (e *DelayExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	raw := stringParam(req.Config, "duration", "")
	if raw == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "delay node: missing required param 'duration'")
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "delay node: invalid duration %q", raw).WithCause(err)
	}
	if d < 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "delay node: negative duration %q", raw)
	}

	if req.Resumed {
		return &Result{Output: map[string]any{"waited": raw}}, nil
	}

	return &Result{SuspendFor: d}, nil
}

var _ Executor = (*DelayExecutor)(nil)

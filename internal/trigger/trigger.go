package trigger

import (
	"context"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// Runner is the slice of the engine the trigger layer needs. Satisfied by
// *engine.Engine.
type Runner interface {
	Trigger(ctx context.Context, workflowID string, payload map[string]any) (*schema.Execution, error)
	WaitFor(ctx context.Context, executionID string) error
}

// Service is the ingress for firing workflows, used by the CLI and the
// cron scheduler.
type Service struct {
	runner Runner
}

func NewService(runner Runner) *Service {
	return &Service{runner: runner}
}

// Fire starts an execution of the named workflow's latest version and
// returns immediately with its id and initial status.
func (s *Service) Fire(ctx context.Context, workflowID string, payload map[string]any) (*schema.Execution, error) {
	return s.runner.Trigger(ctx, workflowID, payload)
}

// FireAndWait starts an execution and blocks until it reaches a terminal
// status or the context is done.
func (s *Service) FireAndWait(ctx context.Context, workflowID string, payload map[string]any) (*schema.Execution, error) {
	exec, err := s.runner.Trigger(ctx, workflowID, payload)
	if err != nil {
		return nil, err
	}
	if err := s.runner.WaitFor(ctx, exec.ID); err != nil {
		return exec, err
	}
	return exec, nil
}

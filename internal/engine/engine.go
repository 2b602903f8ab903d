package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/events"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/logging"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/nodes"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/store"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/template"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// Config tunes the engine.
type Config struct {
	// Parallelism bounds concurrent node dispatch across all executions.
	Parallelism int

	// LeaseTTL is how long this instance's claim on an execution lasts
	// between renewals.
	LeaseTTL time.Duration

	// DefaultNodeTimeout applies when a node declares no timeout.
	DefaultNodeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	if c.DefaultNodeTimeout <= 0 {
		c.DefaultNodeTimeout = 60 * time.Second
	}
	return c
}

// Engine owns the full execution lifecycle: it turns trigger requests into
// executions, schedules node dispatch in dependency order, applies retry
// policy, checkpoints progress after every transition, and publishes the
// event stream. One Engine instance serves many concurrent executions;
// exclusivity per execution is enforced through store leases, with the
// instance id as the lease owner.
type Engine struct {
	store     store.Store
	registry  *nodes.Registry
	resolver  *template.Resolver
	publisher *events.Publisher
	logger    *slog.Logger
	config    Config
	owner     string
	pool      *WorkerPool

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

// New creates an Engine. The registry must already hold an executor for
// every node kind the stored graphs use.
func New(s store.Store, registry *nodes.Registry, publisher *events.Publisher, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:      s,
		registry:   registry,
		resolver:   template.NewResolver(),
		publisher:  publisher,
		logger:     logger,
		config:     cfg,
		owner:      uuid.NewString(),
		pool:       NewWorkerPool(cfg.Parallelism),
		baseCtx:    ctx,
		baseCancel: cancel,
		runs:       make(map[string]*run),
	}
}

// Owner returns the lease owner id of this instance.
func (e *Engine) Owner() string { return e.owner }

// Trigger creates an execution for the latest version of a workflow and
// starts it asynchronously. The returned execution carries the id and
// initial status; progress is observable through the event stream and the
// store.
func (e *Engine) Trigger(ctx context.Context, workflowID string, payload map[string]any) (*schema.Execution, error) {
	graph, err := e.store.GetGraph(ctx, workflowID, 0)
	if err != nil {
		return nil, err
	}

	dag, err := BuildDAG(graph)
	if err != nil {
		return nil, err
	}

	exec := &schema.Execution{
		ID:              uuid.NewString(),
		WorkflowID:      graph.ID,
		WorkflowVersion: graph.Version,
		Status:          schema.ExecutionStatusPending,
		Trigger:         payload,
		Results:         map[string]*schema.NodeResult{},
		StartedAt:       time.Now().UTC(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	r := newRun(e, exec, graph, dag, nil)
	e.startRun(r)

	out := *exec
	return &out, nil
}

// Resume continues a non-terminal execution from its last checkpoint.
// Nodes with a recorded terminal result are not re-dispatched; parked delay
// nodes wake after their remaining time.
func (e *Engine) Resume(ctx context.Context, executionID string) error {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"execution %s is already %s", executionID, exec.Status)
	}

	e.mu.Lock()
	_, active := e.runs[executionID]
	e.mu.Unlock()
	if active {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"execution %s is already active in this instance", executionID)
	}

	graph, err := e.store.GetGraph(ctx, exec.WorkflowID, exec.WorkflowVersion)
	if err != nil {
		return err
	}
	dag, err := BuildDAG(graph)
	if err != nil {
		return err
	}

	cp, err := e.store.GetCheckpoint(ctx, executionID)
	if err != nil {
		var engErr *schema.EngineError
		if errors.As(err, &engErr) && engErr.Code == schema.ErrCodeNotFound {
			cp = nil // never checkpointed: start from the beginning
		} else {
			return err
		}
	}

	r := newRun(e, exec, graph, dag, cp)
	e.startRun(r)
	return nil
}

// Recover resumes every execution this store knows to be in flight. Called
// once at process start; executions whose lease another live instance still
// holds fail acquisition inside their run loop and are left alone.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for _, status := range []schema.ExecutionStatus{schema.ExecutionStatusRunning, schema.ExecutionStatusRetrying} {
		s := status
		execs, err := e.store.ListExecutions(ctx, store.ExecutionFilter{Status: &s})
		if err != nil {
			return recovered, err
		}
		for _, ex := range execs {
			if err := e.Resume(ctx, ex.ID); err != nil {
				e.logger.WarnContext(ctx, "recover: resume failed",
					slog.String("execution_id", ex.ID), slog.Any("error", err))
				continue
			}
			recovered++
		}
	}
	return recovered, nil
}

// Cancel requests cooperative cancellation. In-flight attempts finish; no
// further nodes are dispatched; streamed operations are signalled to stop.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	r, active := e.runs[executionID]
	e.mu.Unlock()

	if active {
		r.requestCancel()
		return nil
	}

	// Not active here: only a pending execution can be cancelled directly.
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"execution %s is already %s", executionID, exec.Status)
	}
	if exec.Status != schema.ExecutionStatusPending {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"execution %s is owned by another instance; cancel it there or wait for its lease to lapse", executionID)
	}

	status := schema.ExecutionStatusCancelled
	now := time.Now().UTC()
	if err := e.store.UpdateExecution(ctx, executionID, store.ExecutionUpdate{
		Status:      &status,
		CompletedAt: &now,
	}); err != nil {
		return err
	}
	return e.publisher.Emit(ctx, events.StreamEvent{
		ExecutionID: executionID,
		WorkflowID:  exec.WorkflowID,
		EventType:   schema.EventExecutionCancelled,
	})
}

// WaitFor blocks until the given execution's run loop exits or the context
// is done. Mainly used by tests and the CLI's synchronous mode.
func (e *Engine) WaitFor(ctx context.Context, executionID string) error {
	e.mu.Lock()
	r, active := e.runs[executionID]
	e.mu.Unlock()
	if !active {
		return nil
	}
	select {
	case <-r.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work, signals active runs, and waits for them to
// park. Parked executions stay resumable from their checkpoints.
func (e *Engine) Shutdown() {
	e.baseCancel()
	e.wg.Wait()
	e.pool.Shutdown()
}

func (e *Engine) startRun(r *run) {
	e.mu.Lock()
	e.runs[r.exec.ID] = r
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.runs, r.exec.ID)
			e.mu.Unlock()
		}()

		ctx := logging.WithWorkflowID(
			logging.WithExecutionID(e.baseCtx, r.exec.ID), r.exec.WorkflowID)
		r.loop(ctx)
	}()
}

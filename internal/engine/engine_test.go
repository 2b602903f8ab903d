package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/events"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/nodes"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/store"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// stubExecutor lets tests script node behavior per kind.
type stubExecutor struct {
	kind schema.NodeKind
	fn   func(ctx context.Context, req *nodes.Request) (*nodes.Result, error)
}

func (s *stubExecutor) Kind() schema.NodeKind { return s.kind }

func (s *stubExecutor) Execute(ctx context.Context, req *nodes.Request) (*nodes.Result, error) {
	return s.fn(ctx, req)
}

type testEnv struct {
	store  *store.MemoryStore
	engine *Engine
	hub    *events.MemoryHub
}

func newTestEnv(t *testing.T, executors ...nodes.Executor) *testEnv {
	t.Helper()

	st := store.NewMemoryStore()
	reg := nodes.NewRegistry()
	require.NoError(t, reg.Register(nodes.NewTriggerExecutor()))
	for _, ex := range executors {
		require.NoError(t, reg.Register(ex))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := events.NewMemoryHub()
	pub := events.NewPublisher(st, hub, logger)

	eng := New(st, reg, pub, logger, Config{
		Parallelism:        4,
		LeaseTTL:           time.Second,
		DefaultNodeTimeout: 5 * time.Second,
	})
	t.Cleanup(eng.Shutdown)

	return &testEnv{store: st, engine: eng, hub: hub}
}

func (env *testEnv) saveGraph(t *testing.T, g *schema.WorkflowGraph) {
	t.Helper()
	require.NoError(t, env.store.SaveGraph(context.Background(), g))
}

func (env *testEnv) runToEnd(t *testing.T, workflowID string, payload map[string]any) *schema.Execution {
	t.Helper()
	ctx := context.Background()

	exec, err := env.engine.Trigger(ctx, workflowID, payload)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, env.engine.WaitFor(waitCtx, exec.ID))

	final, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	return final
}

func (env *testEnv) eventTypes(t *testing.T, executionID string) []string {
	t.Helper()
	evs, err := env.store.ListEvents(context.Background(), executionID, 0)
	require.NoError(t, err)
	types := make([]string, 0, len(evs))
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	return types
}

func linearGraph(retry *schema.RetryPolicy) *schema.WorkflowGraph {
	return &schema.WorkflowGraph{
		ID:      "linear",
		Version: 1,
		Nodes: []schema.Node{
			{ID: "A", Kind: schema.NodeKindTrigger},
			{ID: "B", Kind: "stub", Retry: retry},
			{ID: "C", Kind: "stub"},
		},
		Edges: []schema.Edge{
			{From: "A", To: "B"},
			{From: "B", To: "C"},
		},
	}
}

func TestEngineLinearExecution(t *testing.T) {
	var order []string
	stub := &stubExecutor{kind: "stub", fn: func(ctx context.Context, req *nodes.Request) (*nodes.Result, error) {
		order = append(order, req.Node.ID) // dispatch is serialized by the chain
		return &nodes.Result{Output: map[string]any{"node": req.Node.ID}}, nil
	}}

	env := newTestEnv(t, stub)
	env.saveGraph(t, linearGraph(nil))

	final := env.runToEnd(t, "linear", map[string]any{"source": "test"})

	assert.Equal(t, schema.ExecutionStatusCompleted, final.Status)
	assert.Equal(t, []string{"B", "C"}, order)
	require.NotNil(t, final.CompletedAt)

	for _, id := range []string{"A", "B", "C"} {
		res := final.Results[id]
		require.NotNil(t, res, "missing result for %s", id)
		assert.Equal(t, schema.NodeStatusSucceeded, res.Status)
		assert.Equal(t, 1, res.Attempts)
	}

	types := env.eventTypes(t, final.ID)
	assert.Equal(t, schema.EventExecutionStarted, types[0])
	assert.Equal(t, schema.EventExecutionCompleted, types[len(types)-1])
	assert.Contains(t, types, schema.EventNodeComplete)
}

func TestEngineDownstreamSeesUpstreamOutput(t *testing.T) {
	var seen map[string]any
	stub := &stubExecutor{kind: "stub", fn: func(ctx context.Context, req *nodes.Request) (*nodes.Result, error) {
		if req.Node.ID == "C" {
			seen = req.Outputs
		}
		return &nodes.Result{Output: map[string]any{"from": req.Node.ID}}, nil
	}}

	env := newTestEnv(t, stub)
	env.saveGraph(t, linearGraph(nil))

	final := env.runToEnd(t, "linear", nil)
	require.Equal(t, schema.ExecutionStatusCompleted, final.Status)

	require.Contains(t, seen, "B")
	b, ok := seen["B"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "B", b["from"])
}

func TestEngineRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	stub := &stubExecutor{kind: "stub", fn: func(ctx context.Context, req *nodes.Request) (*nodes.Result, error) {
		if req.Node.ID == "B" && calls.Add(1) < 3 {
			return nil, schema.NewError(schema.ErrCodeUpstream, "502 from upstream")
		}
		return &nodes.Result{Output: map[string]any{"ok": true}}, nil
	}}

	env := newTestEnv(t, stub)
	env.saveGraph(t, linearGraph(&schema.RetryPolicy{
		MaxAttempts:  3,
		Multiplier:   2,
		InitialDelay: "10ms",
		MaxDelay:     "1s",
	}))

	final := env.runToEnd(t, "linear", nil)

	assert.Equal(t, schema.ExecutionStatusCompleted, final.Status)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, final.Results["B"].Attempts)
	assert.Equal(t, schema.NodeStatusSucceeded, final.Results["B"].Status)

	attempts, err := env.store.ListAttempts(context.Background(), final.ID, "B")
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	assert.Equal(t, schema.AttemptOutcomeFailure, attempts[0].Outcome)
	assert.Equal(t, schema.AttemptOutcomeFailure, attempts[1].Outcome)
	assert.Equal(t, schema.AttemptOutcomeSuccess, attempts[2].Outcome)
	assert.Equal(t, int64(0), attempts[0].DelayMs)
	assert.Equal(t, int64(10), attempts[1].DelayMs)
	assert.Equal(t, int64(20), attempts[2].DelayMs)

	types := env.eventTypes(t, final.ID)
	retries := 0
	for _, ty := range types {
		if ty == schema.EventNodeRetrying {
			retries++
		}
	}
	assert.Equal(t, 2, retries)
}

func TestEngineRetryExhaustionFailsExecution(t *testing.T) {
	stub := &stubExecutor{kind: "stub", fn: func(ctx context.Context, req *nodes.Request) (*nodes.Result, error) {
		if req.Node.ID == "B" {
			return nil, schema.NewError(schema.ErrCodeUpstream, "still down")
		}
		return &nodes.Result{}, nil
	}}

	env := newTestEnv(t, stub)
	env.saveGraph(t, linearGraph(&schema.RetryPolicy{
		MaxAttempts:  2,
		Multiplier:   2,
		InitialDelay: "5ms",
		MaxDelay:     "1s",
	}))

	final := env.runToEnd(t, "linear", nil)

	assert.Equal(t, schema.ExecutionStatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Equal(t, schema.ErrCodeRetryExhausted, final.Error.Code)
	assert.Equal(t, "B", final.Error.NodeID)
	assert.Equal(t, schema.NodeStatusFailed, final.Results["B"].Status)
	// C never ran
	assert.NotContains(t, final.Results, "C")

	attempts, err := env.store.ListAttempts(context.Background(), final.ID, "B")
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestEngineNonRetryableFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	stub := &stubExecutor{kind: "stub", fn: func(ctx context.Context, req *nodes.Request) (*nodes.Result, error) {
		if req.Node.ID == "B" {
			calls.Add(1)
			return nil, schema.NewError(schema.ErrCodeValidation, "config is nonsense")
		}
		return &nodes.Result{}, nil
	}}

	env := newTestEnv(t, stub)
	env.saveGraph(t, linearGraph(&schema.RetryPolicy{MaxAttempts: 5, InitialDelay: "5ms"}))

	final := env.runToEnd(t, "linear", nil)

	assert.Equal(t, schema.ExecutionStatusFailed, final.Status)
	assert.Equal(t, int32(1), calls.Load(), "non-retryable errors get exactly one attempt")
	require.NotNil(t, final.Error)
	assert.Equal(t, schema.ErrCodeValidation, final.Error.Code)
}

func TestEngineConditionBranchRouting(t *testing.T) {
	branch := &stubExecutor{kind: "branch", fn: func(ctx context.Context, req *nodes.Request) (*nodes.Result, error) {
		amount, _ := req.Trigger["amount"].(float64)
		port := "branchLow"
		if amount > 100 {
			port = "branchHigh"
		}
		return &nodes.Result{Branch: port, Output: map[string]any{"branch": port}}, nil
	}}
	var executed []string
	stub := &stubExecutor{kind: "stub", fn: func(ctx context.Context, req *nodes.Request) (*nodes.Result, error) {
		executed = append(executed, req.Node.ID)
		return &nodes.Result{Output: map[string]any{"done": req.Node.ID}}, nil
	}}

	env := newTestEnv(t, branch, stub)
	env.saveGraph(t, &schema.WorkflowGraph{
		ID:      "routed",
		Version: 1,
		Nodes: []schema.Node{
			{ID: "start", Kind: schema.NodeKindTrigger},
			{ID: "decide", Kind: "branch"},
			{ID: "high", Kind: "stub"},
			{ID: "low", Kind: "stub"},
			{ID: "lowNotify", Kind: "stub"},
		},
		Edges: []schema.Edge{
			{From: "start", To: "decide"},
			{From: "decide", To: "high", Port: "branchHigh"},
			{From: "decide", To: "low", Port: "branchLow"},
			{From: "low", To: "lowNotify"},
		},
	})

	final := env.runToEnd(t, "routed", map[string]any{"amount": float64(250)})

	assert.Equal(t, schema.ExecutionStatusCompleted, final.Status)
	assert.Equal(t, []string{"high"}, executed)
	assert.Equal(t, "branchHigh", final.Results["decide"].Branch)
	assert.Equal(t, schema.NodeStatusSucceeded, final.Results["high"].Status)

	// the unchosen branch and everything downstream of it is skipped
	assert.Equal(t, schema.NodeStatusSkipped, final.Results["low"].Status)
	assert.Equal(t, schema.NodeStatusSkipped, final.Results["lowNotify"].Status)

	types := env.eventTypes(t, final.ID)
	skips := 0
	for _, ty := range types {
		if ty == schema.EventNodeSkipped {
			skips++
		}
	}
	assert.Equal(t, 2, skips)
}

func TestEngineDelayNodeSuspendsAndResumes(t *testing.T) {
	env := newTestEnv(t, nodes.NewDelayExecutor(), &stubExecutor{
		kind: "stub",
		fn: func(ctx context.Context, req *nodes.Request) (*nodes.Result, error) {
			return &nodes.Result{Output: map[string]any{"after": true}}, nil
		},
	})
	env.saveGraph(t, &schema.WorkflowGraph{
		ID:      "delayed",
		Version: 1,
		Nodes: []schema.Node{
			{ID: "start", Kind: schema.NodeKindTrigger},
			{ID: "pause", Kind: schema.NodeKindDelay, Config: map[string]any{"duration": "50ms"}},
			{ID: "after", Kind: "stub"},
		},
		Edges: []schema.Edge{
			{From: "start", To: "pause"},
			{From: "pause", To: "after"},
		},
	})

	started := time.Now()
	final := env.runToEnd(t, "delayed", nil)
	elapsed := time.Since(started)

	assert.Equal(t, schema.ExecutionStatusCompleted, final.Status)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Equal(t, schema.NodeStatusSucceeded, final.Results["pause"].Status)
	assert.Equal(t, 1, final.Results["pause"].Attempts)
	assert.Contains(t, env.eventTypes(t, final.ID), schema.EventNodeWaiting)
}

func TestEngineCancelDuringBackoff(t *testing.T) {
	var calls atomic.Int32
	stub := &stubExecutor{kind: "stub", fn: func(ctx context.Context, req *nodes.Request) (*nodes.Result, error) {
		calls.Add(1)
		return nil, schema.NewError(schema.ErrCodeUpstream, "flaky")
	}}

	env := newTestEnv(t, stub)
	env.saveGraph(t, linearGraph(&schema.RetryPolicy{
		MaxAttempts:  5,
		Multiplier:   2,
		InitialDelay: "5s", // long enough that cancel lands mid-backoff
		MaxDelay:     "10s",
	}))

	ctx := context.Background()
	exec, err := env.engine.Trigger(ctx, "linear", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cur, err := env.store.GetExecution(ctx, exec.ID)
		return err == nil && cur.Status == schema.ExecutionStatusRetrying
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, env.engine.Cancel(ctx, exec.ID))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, env.engine.WaitFor(waitCtx, exec.ID))

	final, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusCancelled, final.Status)
	assert.Equal(t, int32(1), calls.Load(), "no attempt fires after cancellation")
	assert.Contains(t, env.eventTypes(t, final.ID), schema.EventExecutionCancelled)
}

func TestEngineExecutorPanicFailsNode(t *testing.T) {
	var calls atomic.Int32
	stub := &stubExecutor{kind: "stub", fn: func(ctx context.Context, req *nodes.Request) (*nodes.Result, error) {
		calls.Add(1)
		panic("boom")
	}}

	env := newTestEnv(t, stub)
	env.saveGraph(t, linearGraph(&schema.RetryPolicy{MaxAttempts: 1}))

	final := env.runToEnd(t, "linear", nil)

	assert.Equal(t, schema.ExecutionStatusFailed, final.Status)
	assert.Equal(t, int32(1), calls.Load())
	require.NotNil(t, final.Error)
	assert.Equal(t, schema.ErrCodeRetryExhausted, final.Error.Code)
	assert.Equal(t, "B", final.Error.NodeID)
	assert.Contains(t, final.Error.Error(), "panicked")
}

func TestEngineCancelImmediatelyAfterTrigger(t *testing.T) {
	stub := &stubExecutor{kind: "stub", fn: func(ctx context.Context, req *nodes.Request) (*nodes.Result, error) {
		return &nodes.Result{Output: map[string]any{"ok": true}}, nil
	}}

	env := newTestEnv(t, stub)
	env.saveGraph(t, linearGraph(nil))

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		exec, err := env.engine.Trigger(ctx, "linear", nil)
		require.NoError(t, err)
		// a run that already finished reports a conflict
		if err := env.engine.Cancel(ctx, exec.ID); err != nil {
			var engErr *schema.EngineError
			require.ErrorAs(t, err, &engErr)
			require.Equal(t, schema.ErrCodeConflict, engErr.Code)
		}

		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		require.NoError(t, env.engine.WaitFor(waitCtx, exec.ID))
		cancel()

		final, err := env.store.GetExecution(ctx, exec.ID)
		require.NoError(t, err)
		assert.True(t, final.Status.Terminal(), "status %s", final.Status)
	}
}

func TestEngineResumeSkipsCompletedNodes(t *testing.T) {
	var executed []string
	stub := &stubExecutor{kind: "stub", fn: func(ctx context.Context, req *nodes.Request) (*nodes.Result, error) {
		executed = append(executed, req.Node.ID)
		return &nodes.Result{Output: map[string]any{"ran": req.Node.ID}}, nil
	}}

	env := newTestEnv(t, stub)
	env.saveGraph(t, linearGraph(nil))
	ctx := context.Background()

	// Seed the store as a crashed process would have left it: execution
	// running, A and B checkpointed as succeeded, C never dispatched.
	aOut, _ := json.Marshal(map[string]any{"ran": "A-before-crash"})
	bOut, _ := json.Marshal(map[string]any{"ran": "B-before-crash"})
	results := map[string]*schema.NodeResult{
		"A": {NodeID: "A", Status: schema.NodeStatusSucceeded, Output: aOut, Attempts: 1},
		"B": {NodeID: "B", Status: schema.NodeStatusSucceeded, Output: bOut, Attempts: 1},
	}
	exec := &schema.Execution{
		ID:              "exec-crashed",
		WorkflowID:      "linear",
		WorkflowVersion: 1,
		Status:          schema.ExecutionStatusRunning,
		Trigger:         map[string]any{"seed": true},
		Results:         results,
		StartedAt:       time.Now().UTC(),
	}
	require.NoError(t, env.store.CreateExecution(ctx, exec))
	require.NoError(t, env.store.SaveCheckpoint(ctx, &store.Checkpoint{
		ExecutionID:     exec.ID,
		WorkflowID:      "linear",
		WorkflowVersion: 1,
		Status:          schema.ExecutionStatusRunning,
		Trigger:         exec.Trigger,
		Results:         results,
		Seq:             4,
		UpdatedAt:       time.Now().UTC(),
	}))

	require.NoError(t, env.engine.Resume(ctx, exec.ID))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, env.engine.WaitFor(waitCtx, exec.ID))

	final, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusCompleted, final.Status)
	assert.Equal(t, []string{"C"}, executed, "checkpointed nodes are not re-dispatched")

	// context carried over intact
	var bFinal map[string]any
	require.NoError(t, json.Unmarshal(final.Results["B"].Output, &bFinal))
	assert.Equal(t, "B-before-crash", bFinal["ran"])

	// sequences continue past the checkpoint
	cp, err := env.store.GetCheckpoint(ctx, exec.ID)
	require.NoError(t, err)
	assert.Greater(t, cp.Seq, int64(4))
	assert.Contains(t, env.eventTypes(t, exec.ID), schema.EventExecutionResumed)
}

func TestEngineRecoverResumesInFlight(t *testing.T) {
	stub := &stubExecutor{kind: "stub", fn: func(ctx context.Context, req *nodes.Request) (*nodes.Result, error) {
		return &nodes.Result{Output: map[string]any{"ran": req.Node.ID}}, nil
	}}

	env := newTestEnv(t, stub)
	env.saveGraph(t, linearGraph(nil))
	ctx := context.Background()

	exec := &schema.Execution{
		ID:              "exec-orphaned",
		WorkflowID:      "linear",
		WorkflowVersion: 1,
		Status:          schema.ExecutionStatusRunning,
		Results:         map[string]*schema.NodeResult{},
		StartedAt:       time.Now().UTC(),
	}
	require.NoError(t, env.store.CreateExecution(ctx, exec))

	n, err := env.engine.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, env.engine.WaitFor(waitCtx, exec.ID))

	final, err := env.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusCompleted, final.Status)
}

func TestEngineTriggerUnknownWorkflow(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Trigger(context.Background(), "nope", nil)
	require.Error(t, err)
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeNotFound, engErr.Code)
}

func TestEngineCancelTerminalExecutionConflicts(t *testing.T) {
	stub := &stubExecutor{kind: "stub", fn: func(ctx context.Context, req *nodes.Request) (*nodes.Result, error) {
		return &nodes.Result{}, nil
	}}
	env := newTestEnv(t, stub)
	env.saveGraph(t, linearGraph(nil))

	final := env.runToEnd(t, "linear", nil)
	require.Equal(t, schema.ExecutionStatusCompleted, final.Status)

	err := env.engine.Cancel(context.Background(), final.ID)
	require.Error(t, err)
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeConflict, engErr.Code)
}

func TestEngineLiveEventStream(t *testing.T) {
	stub := &stubExecutor{kind: "stub", fn: func(ctx context.Context, req *nodes.Request) (*nodes.Result, error) {
		return &nodes.Result{Output: map[string]any{"ran": req.Node.ID}}, nil
	}}
	env := newTestEnv(t, stub)
	env.saveGraph(t, linearGraph(nil))
	ctx := context.Background()

	ch, unsubscribe, err := env.hub.Subscribe(ctx, events.EventFilter{WorkflowID: "linear"})
	require.NoError(t, err)
	defer unsubscribe()

	final := env.runToEnd(t, "linear", nil)
	require.Equal(t, schema.ExecutionStatusCompleted, final.Status)

	var got []events.StreamEvent
	deadline := time.After(2 * time.Second)
	for {
		done := false
		select {
		case ev := <-ch:
			got = append(got, ev)
			if ev.EventType == schema.EventExecutionCompleted {
				done = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for stream events")
		}
		if done {
			break
		}
	}

	// sequences are strictly increasing, matching the durable log
	var prev int64
	for _, ev := range got {
		assert.Greater(t, ev.Sequence, prev)
		prev = ev.Sequence
	}
	assert.Equal(t, schema.EventExecutionStarted, got[0].EventType)
}

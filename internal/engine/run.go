package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/events"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/logging"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/nodes"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/store"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/template"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

type completionKind int

const (
	kindResult completionKind = iota
	kindWake                  // delay deadline elapsed
	kindRetry                 // backoff elapsed, next attempt due
)

// completion is the only message type delivered into the run loop. Workers
// and timers produce them; the loop consumes them. All execution state is
// mutated exclusively by the loop goroutine (single-writer discipline).
type completion struct {
	kind      completionKind
	nodeID    string
	attempt   int
	res       *nodes.Result
	err       error
	startedAt time.Time
}

// run drives one execution from trigger (or resume) to a terminal status.
type run struct {
	e     *Engine
	exec  *schema.Execution
	graph *schema.WorkflowGraph
	dag   *DAG

	results  map[string]*schema.NodeResult
	outputs  map[string]any       // decoded node outputs for scope building
	attempts map[string]int       // per-node attempt counter
	waits    map[string]time.Time // delay wake deadlines
	delays   map[string]int64     // backoff (ms) applied before the next attempt
	status   schema.ExecutionStatus
	seq      int64

	completions chan completion
	timers      map[string]*time.Timer
	retrying    map[string]bool // nodes with an armed backoff timer
	inFlight    map[string]bool

	cancelled    atomic.Bool
	cancelCh     chan struct{}
	streamCtx    context.Context
	streamCancel context.CancelFunc

	resumed  bool
	failure  *schema.EngineError
	fatal    bool // persistence failed: this instance no longer owns the execution
	finished chan struct{}
}

func newRun(e *Engine, exec *schema.Execution, graph *schema.WorkflowGraph, dag *DAG, cp *store.Checkpoint) *run {
	r := &run{
		e:           e,
		exec:        exec,
		graph:       graph,
		dag:         dag,
		results:     make(map[string]*schema.NodeResult, len(dag.Nodes)),
		outputs:     make(map[string]any, len(dag.Nodes)),
		attempts:    make(map[string]int, len(dag.Nodes)),
		waits:       make(map[string]time.Time),
		delays:      make(map[string]int64),
		status:      exec.Status,
		completions: make(chan completion, 4*len(dag.Nodes)+64),
		timers:      make(map[string]*time.Timer),
		retrying:    make(map[string]bool),
		inFlight:    make(map[string]bool),
		cancelCh:    make(chan struct{}),
		finished:    make(chan struct{}),
	}
	r.streamCtx, r.streamCancel = context.WithCancel(e.baseCtx)

	if cp != nil {
		r.resumed = true
		r.seq = cp.Seq
		if cp.Trigger != nil {
			r.exec.Trigger = cp.Trigger
		}
		for id, res := range cp.Results {
			r.attempts[id] = res.Attempts
			switch res.Status {
			case schema.NodeStatusRunning, schema.NodeStatusRetrying:
				// attempt was in flight or pending when the process died;
				// the node becomes ready again
			case schema.NodeStatusWaiting:
				r.results[id] = res
			default:
				r.results[id] = res
				if res.Status == schema.NodeStatusSucceeded && len(res.Output) > 0 {
					var out any
					if err := json.Unmarshal(res.Output, &out); err == nil {
						r.outputs[id] = out
					}
				}
			}
		}
		for id, deadline := range cp.Waits {
			r.waits[id] = deadline
		}
	}

	return r
}

// requestCancel flags the run for cooperative cancellation and signals
// streamed operations. Safe to call from any goroutine, once or many times.
func (r *run) requestCancel() {
	if r.cancelled.CompareAndSwap(false, true) {
		r.streamCancel()
		close(r.cancelCh)
	}
}

// loop is the single writer for all execution state. It exits when the
// execution reaches a terminal status, the lease is lost, persistence
// fails, or the process shuts down; in the non-terminal cases the
// checkpoint keeps the execution resumable.
func (r *run) loop(ctx context.Context) {
	defer close(r.finished)
	defer r.streamCancel()

	log := logging.LogWith(ctx, r.e.logger)

	ok, err := r.e.store.AcquireLease(ctx, r.exec.ID, r.e.owner, r.e.config.LeaseTTL)
	if err != nil {
		log.Error("lease acquisition failed", slog.Any("error", err))
		return
	}
	if !ok {
		log.Warn("execution lease held by another instance")
		return
	}
	defer func() {
		if !r.fatal {
			_ = r.e.store.ReleaseLease(context.Background(), r.exec.ID, r.e.owner)
		}
	}()

	leaseTicker := time.NewTicker(r.e.config.LeaseTTL / 2)
	defer leaseTicker.Stop()
	defer r.stopTimers()

	r.status = schema.ExecutionStatusRunning
	r.persist(ctx)
	if r.fatal {
		return
	}
	if r.resumed {
		r.emit(ctx, schema.EventExecutionResumed, "", map[string]any{"seq": r.seq})
	} else {
		r.emit(ctx, schema.EventExecutionStarted, "", nil)
	}

	// Re-arm parked delay nodes with their remaining time.
	for id, deadline := range r.waits {
		r.armTimer(id, time.Until(deadline), completion{kind: kindWake, nodeID: id})
	}

	r.advance(ctx)
	if r.fatal || r.maybeFinish(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("run parked", slog.String("status", string(r.status)))
			return

		case <-r.cancelCh:
			r.stopTimers()
			if r.maybeFinish(ctx) {
				return
			}

		case <-leaseTicker.C:
			if err := r.e.store.RenewLease(ctx, r.exec.ID, r.e.owner, r.e.config.LeaseTTL); err != nil {
				log.Error("lease renewal failed, abandoning execution", slog.Any("error", err))
				r.fatal = true
				return
			}

		case c := <-r.completions:
			r.handle(ctx, c)
			if r.fatal || r.maybeFinish(ctx) {
				return
			}
		}
	}
}

func (r *run) handle(ctx context.Context, c completion) {
	switch c.kind {
	case kindWake:
		delete(r.timers, c.nodeID)
		if r.cancelled.Load() || r.failure != nil {
			return
		}
		delete(r.waits, c.nodeID)
		r.dispatch(ctx, c.nodeID, r.attempts[c.nodeID], true)

	case kindRetry:
		delete(r.timers, c.nodeID)
		delete(r.retrying, c.nodeID)
		if r.cancelled.Load() || r.failure != nil {
			return
		}
		r.dispatch(ctx, c.nodeID, c.attempt, false)

	case kindResult:
		from := r.nodeState(c.nodeID)
		delete(r.inFlight, c.nodeID)
		if c.err != nil {
			r.handleFailure(ctx, c, from)
			return
		}
		if c.res != nil && c.res.SuspendFor > 0 {
			r.handleSuspend(ctx, c, from)
			return
		}
		r.handleSuccess(ctx, c, from)
	}
}

// checkNode flags node transitions the table does not allow. The result is
// recorded either way.
func (r *run) checkNode(ctx context.Context, nodeID string, from, to schema.NodeStatus) {
	if err := CheckNodeTransition(nodeID, from, to); err != nil {
		logging.LogWith(ctx, r.e.logger).Warn("unexpected node transition", slog.Any("error", err))
	}
}

func (r *run) handleSuccess(ctx context.Context, c completion, from schema.NodeStatus) {
	r.checkNode(ctx, c.nodeID, from, schema.NodeStatusSucceeded)
	now := time.Now().UTC()
	delayBefore := r.delays[c.nodeID]
	delete(r.delays, c.nodeID)

	var raw json.RawMessage
	var decoded any
	if c.res.Output != nil {
		if b, err := json.Marshal(c.res.Output); err == nil {
			raw = b
			// round-trip so downstream scopes see plain JSON types
			_ = json.Unmarshal(b, &decoded)
		}
	}

	started := c.startedAt.UTC()
	r.results[c.nodeID] = &schema.NodeResult{
		NodeID:      c.nodeID,
		Status:      schema.NodeStatusSucceeded,
		Output:      raw,
		Branch:      c.res.Branch,
		Attempts:    c.attempt,
		StartedAt:   &started,
		CompletedAt: &now,
		DurationMs:  now.Sub(started).Milliseconds(),
	}
	r.outputs[c.nodeID] = decoded

	r.appendAttempt(ctx, c.nodeID, c.attempt, schema.AttemptOutcomeSuccess, "", delayBefore)
	if r.fatal {
		return
	}

	if r.status == schema.ExecutionStatusRetrying && len(r.retrying) == 0 {
		r.status = schema.ExecutionStatusRunning
	}
	r.persist(ctx)
	if r.fatal {
		return
	}

	payload := map[string]any{"attempts": c.attempt, "duration_ms": r.results[c.nodeID].DurationMs}
	if c.res.Branch != "" {
		payload["branch"] = c.res.Branch
	}
	r.emit(ctx, nodeEventType(schema.NodeStatusSucceeded), c.nodeID, payload)

	r.advance(ctx)
}

func (r *run) handleSuspend(ctx context.Context, c completion, from schema.NodeStatus) {
	r.checkNode(ctx, c.nodeID, from, schema.NodeStatusWaiting)
	deadline := time.Now().UTC().Add(c.res.SuspendFor)
	r.waits[c.nodeID] = deadline

	started := c.startedAt.UTC()
	r.results[c.nodeID] = &schema.NodeResult{
		NodeID:    c.nodeID,
		Status:    schema.NodeStatusWaiting,
		Attempts:  c.attempt,
		StartedAt: &started,
	}

	r.persist(ctx)
	if r.fatal {
		return
	}
	r.emit(ctx, nodeEventType(schema.NodeStatusWaiting), c.nodeID, map[string]any{
		"wake_at": deadline.Format(time.RFC3339),
	})

	if r.cancelled.Load() {
		return
	}
	r.armTimer(c.nodeID, c.res.SuspendFor, completion{kind: kindWake, nodeID: c.nodeID})
}

func (r *run) handleFailure(ctx context.Context, c completion, from schema.NodeStatus) {
	now := time.Now().UTC()
	delayBefore := r.delays[c.nodeID]
	delete(r.delays, c.nodeID)

	engErr := toEngineError(c.err, c.nodeID)

	r.appendAttempt(ctx, c.nodeID, c.attempt, schema.AttemptOutcomeFailure, engErr.Message, delayBefore)
	if r.fatal {
		return
	}

	policy := r.nodePolicy(c.nodeID)
	canRetry := IsRetryableError(c.err) &&
		c.attempt < policy.MaxAttempts &&
		!r.cancelled.Load() &&
		r.failure == nil

	if canRetry {
		r.checkNode(ctx, c.nodeID, from, schema.NodeStatusRetrying)
		started := c.startedAt.UTC()
		r.results[c.nodeID] = &schema.NodeResult{
			NodeID:    c.nodeID,
			Status:    schema.NodeStatusRetrying,
			Error:     engErr.Message,
			ErrorCode: engErr.Code,
			Attempts:  c.attempt,
			StartedAt: &started,
		}
		r.retrying[c.nodeID] = true
		r.status = schema.ExecutionStatusRetrying
		r.persist(ctx)
		if r.fatal {
			return
		}

		delay := NextDelay(policy, c.attempt)
		r.delays[c.nodeID] = delay.Milliseconds()
		r.emit(ctx, nodeEventType(schema.NodeStatusRetrying), c.nodeID, map[string]any{
			"attempt":  c.attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    engErr.Message,
		})
		r.armTimer(c.nodeID, delay, completion{kind: kindRetry, nodeID: c.nodeID, attempt: c.attempt + 1})
		return
	}

	r.checkNode(ctx, c.nodeID, from, schema.NodeStatusFailed)
	started := c.startedAt.UTC()
	r.results[c.nodeID] = &schema.NodeResult{
		NodeID:      c.nodeID,
		Status:      schema.NodeStatusFailed,
		Error:       engErr.Message,
		ErrorCode:   engErr.Code,
		Attempts:    c.attempt,
		StartedAt:   &started,
		CompletedAt: &now,
		DurationMs:  now.Sub(started).Milliseconds(),
	}
	r.persist(ctx)
	if r.fatal {
		return
	}
	r.emit(ctx, nodeEventType(schema.NodeStatusFailed), c.nodeID, map[string]any{
		"attempts": c.attempt,
		"error":    engErr.Message,
		"code":     engErr.Code,
	})

	if r.failure == nil && !r.cancelled.Load() {
		if IsRetryableError(c.err) && c.attempt >= policy.MaxAttempts {
			r.failure = schema.NewErrorf(schema.ErrCodeRetryExhausted,
				"node failed after %d attempts: %s", c.attempt, engErr.Message).
				WithNode(c.nodeID).WithCause(engErr)
		} else {
			r.failure = engErr
		}
		// terminal failure: mid-backoff nodes get no further attempts
		r.stopTimers()
	}
}

// advance propagates skips and dispatches every ready node. It is a no-op
// once the run is failing or cancelled.
func (r *run) advance(ctx context.Context) {
	if r.failure != nil || r.cancelled.Load() || r.fatal {
		return
	}

	// Skip propagation runs to a fixpoint: a node whose incoming edges are
	// all dead (source skipped, or a condition branch not chosen) is
	// skipped itself, which can kill further edges downstream.
	for {
		skipped := false
		for _, id := range r.dag.Sorted {
			if r.nodeState(id) != schema.NodeStatusPending || len(r.dag.Incoming[id]) == 0 {
				continue
			}
			if !r.predecessorsTerminal(id) {
				continue
			}
			if !r.hasLiveEdge(id) {
				r.markSkipped(ctx, id)
				if r.fatal {
					return
				}
				skipped = true
			}
		}
		if !skipped {
			break
		}
	}

	// Sorted is topological with ascending-id tie-break, so simultaneously
	// ready nodes dispatch in deterministic order.
	for _, id := range r.dag.Sorted {
		if r.ready(id) {
			r.dispatch(ctx, id, r.attempts[id]+1, false)
		}
	}
}

func (r *run) ready(id string) bool {
	if r.nodeState(id) != schema.NodeStatusPending {
		return false
	}
	if len(r.dag.Incoming[id]) == 0 {
		return true
	}
	return r.predecessorsTerminal(id) && r.hasLiveEdge(id)
}

// nodeState derives a node's current status from the loop's working state.
func (r *run) nodeState(id string) schema.NodeStatus {
	if r.inFlight[id] {
		return schema.NodeStatusRunning
	}
	if r.retrying[id] {
		return schema.NodeStatusRetrying
	}
	if _, waiting := r.waits[id]; waiting {
		return schema.NodeStatusWaiting
	}
	if res, ok := r.results[id]; ok {
		return res.Status
	}
	return schema.NodeStatusPending
}

func (r *run) predecessorsTerminal(id string) bool {
	for _, pred := range r.dag.Predecessors(id) {
		res, ok := r.results[pred]
		if !ok || !res.Status.Terminal() {
			return false
		}
	}
	return true
}

// hasLiveEdge reports whether at least one incoming edge delivers control:
// its source succeeded and, for ported edges, the source chose that port.
func (r *run) hasLiveEdge(id string) bool {
	for _, e := range r.dag.Incoming[id] {
		res, ok := r.results[e.From]
		if !ok || res.Status != schema.NodeStatusSucceeded {
			continue
		}
		if e.Port == "" || e.Port == res.Branch {
			return true
		}
	}
	return false
}

func (r *run) markSkipped(ctx context.Context, id string) {
	r.checkNode(ctx, id, r.nodeState(id), schema.NodeStatusSkipped)
	now := time.Now().UTC()
	r.results[id] = &schema.NodeResult{
		NodeID:      id,
		Status:      schema.NodeStatusSkipped,
		CompletedAt: &now,
	}
	r.persist(ctx)
	if r.fatal {
		return
	}
	r.emit(ctx, nodeEventType(schema.NodeStatusSkipped), id, nil)
}

// dispatch hands one node attempt to the worker pool. The loop never blocks
// on pool capacity: slot acquisition happens in a shim goroutine.
func (r *run) dispatch(ctx context.Context, nodeID string, attempt int, resumed bool) {
	node := r.dag.Nodes[nodeID]
	r.attempts[nodeID] = attempt
	r.inFlight[nodeID] = true

	if attempt == 1 && !resumed {
		r.emit(ctx, nodeEventType(schema.NodeStatusRunning), nodeID, nil)
	}

	// Snapshots taken on the loop goroutine; workers never touch run state.
	outputs := make(map[string]any, len(r.outputs))
	for k, v := range r.outputs {
		outputs[k] = v
	}
	trigger := r.exec.Trigger

	dispatchCtx := ctx
	if node.Kind == schema.NodeKindAI {
		// streamed calls stop early on cancellation
		dispatchCtx = r.streamCtx
	}

	startedAt := time.Now().UTC()
	go func() {
		submitErr := r.e.pool.Submit(dispatchCtx, func(workerCtx context.Context) error {
			res, err := r.guardedAttempt(workerCtx, node, trigger, outputs, resumed)
			r.send(completion{
				kind:      kindResult,
				nodeID:    nodeID,
				attempt:   attempt,
				res:       res,
				err:       err,
				startedAt: startedAt,
			})
			return err
		})
		if submitErr != nil {
			r.send(completion{
				kind:      kindResult,
				nodeID:    nodeID,
				attempt:   attempt,
				err:       schema.NewError(schema.ErrCodeCancelled, "dispatch aborted: engine shutting down").WithCause(submitErr),
				startedAt: startedAt,
			})
		}
	}()
}

// guardedAttempt converts an executor panic into a failed attempt, so the
// completion is always sent and the run loop never loses track of the node.
func (r *run) guardedAttempt(ctx context.Context, node *schema.Node, trigger map[string]any, outputs map[string]any, resumed bool) (res *nodes.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res = nil
			err = schema.NewErrorf(schema.ErrCodeExecution, "executor panicked: %v", rec).WithNode(node.ID)
		}
	}()
	return r.executeAttempt(ctx, node, trigger, outputs, resumed)
}

func (r *run) executeAttempt(ctx context.Context, node *schema.Node, trigger map[string]any, outputs map[string]any, resumed bool) (*nodes.Result, error) {
	ctx = logging.WithNodeID(ctx, node.ID)

	executor, err := r.e.registry.Get(node.Kind)
	if err != nil {
		return nil, err
	}

	scope := &template.Scope{Trigger: trigger, Nodes: outputs}
	resolved, err := r.e.resolver.ResolveConfig(node.Config, scope)
	if err != nil {
		return nil, err
	}

	timeout := r.e.config.DefaultNodeTimeout
	if node.Timeout != "" {
		if d, perr := time.ParseDuration(node.Timeout); perr == nil {
			timeout = d
		}
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &nodes.Request{
		ExecutionID: r.exec.ID,
		Node:        node,
		Config:      resolved,
		Trigger:     trigger,
		Outputs:     outputs,
		Resumed:     resumed,
	}
	if node.Kind == schema.NodeKindAI {
		nodeID := node.ID
		req.OnChunk = func(chunk string) {
			_ = r.e.publisher.Emit(ctx, events.StreamEvent{
				ExecutionID: r.exec.ID,
				WorkflowID:  r.exec.WorkflowID,
				NodeID:      nodeID,
				EventType:   schema.EventAIChunk,
				Payload:     map[string]any{"text": chunk},
			})
		}
	}

	res, err := executor.Execute(attemptCtx, req)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout,
				"node exceeded timeout %s", timeout).WithNode(node.ID).WithCause(err)
		}
		return nil, err
	}
	return res, nil
}

// maybeFinish checks for a terminal condition and, when reached, writes the
// final status. Returns true when the loop should exit.
func (r *run) maybeFinish(ctx context.Context) bool {
	if r.fatal {
		return true
	}
	if len(r.inFlight) > 0 {
		return false
	}

	if r.cancelled.Load() {
		r.finish(ctx, schema.ExecutionStatusCancelled, nil)
		return true
	}
	if r.failure != nil {
		r.finish(ctx, schema.ExecutionStatusFailed, r.failure)
		return true
	}
	if len(r.waits) > 0 || len(r.retrying) > 0 {
		return false
	}

	for _, id := range r.dag.Sorted {
		res, ok := r.results[id]
		if !ok || !res.Status.Terminal() {
			return false
		}
	}

	r.finish(ctx, schema.ExecutionStatusCompleted, nil)
	return true
}

func (r *run) finish(ctx context.Context, status schema.ExecutionStatus, failure *schema.EngineError) {
	r.stopTimers()
	if err := CheckExecutionTransition(r.exec.ID, r.status, status); err != nil {
		// terminal anyway; flag the table violation rather than wedging
		logging.LogWith(ctx, r.e.logger).Warn("unexpected status transition", slog.Any("error", err))
	}
	r.status = status
	now := time.Now().UTC()

	update := store.ExecutionUpdate{
		Status:      &status,
		Results:     r.results,
		CompletedAt: &now,
	}
	if failure != nil {
		update.Error = failure
	}
	if err := r.e.store.UpdateExecution(ctx, r.exec.ID, update); err != nil {
		logging.LogWith(ctx, r.e.logger).Error("final execution update failed", slog.Any("error", err))
		r.fatal = true
		return
	}
	r.saveCheckpoint(ctx)

	var payload map[string]any
	if failure != nil {
		payload = map[string]any{"error": failure.Message, "code": failure.Code}
		if failure.NodeID != "" {
			payload["node_id"] = failure.NodeID
		}
	}
	r.emit(ctx, executionEventType(status), "", payload)
}

// persist writes the execution record and checkpoint. Write-ahead ordering:
// callers invoke it after a node's side effect and before any dependent is
// dispatched. A write failure is fatal to this instance's ownership.
func (r *run) persist(ctx context.Context) {
	status := r.status
	if err := r.e.store.UpdateExecution(ctx, r.exec.ID, store.ExecutionUpdate{
		Status:  &status,
		Results: r.results,
	}); err != nil {
		logging.LogWith(ctx, r.e.logger).Error("execution update failed", slog.Any("error", err))
		r.fatal = true
		return
	}
	r.saveCheckpoint(ctx)
}

func (r *run) saveCheckpoint(ctx context.Context) {
	r.seq++
	cp := &store.Checkpoint{
		ExecutionID:     r.exec.ID,
		WorkflowID:      r.exec.WorkflowID,
		WorkflowVersion: r.exec.WorkflowVersion,
		Status:          r.status,
		Trigger:         r.exec.Trigger,
		Results:         r.results,
		Waits:           r.waits,
		Seq:             r.seq,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := r.e.store.SaveCheckpoint(ctx, cp); err != nil {
		logging.LogWith(ctx, r.e.logger).Error("checkpoint write failed", slog.Any("error", err))
		r.fatal = true
	}
}

func (r *run) appendAttempt(ctx context.Context, nodeID string, attempt int, outcome, errMsg string, delayMs int64) {
	entry := &schema.AttemptEntry{
		ExecutionID: r.exec.ID,
		NodeID:      nodeID,
		Attempt:     attempt,
		Outcome:     outcome,
		Error:       errMsg,
		DelayMs:     delayMs,
		Timestamp:   time.Now().UTC(),
	}
	if err := r.e.store.AppendAttempt(ctx, entry); err != nil {
		logging.LogWith(ctx, r.e.logger).Error("attempt log write failed", slog.Any("error", err))
		r.fatal = true
	}
}

func (r *run) emit(ctx context.Context, eventType, nodeID string, payload map[string]any) {
	if eventType == "" {
		return
	}
	err := r.e.publisher.Emit(ctx, events.StreamEvent{
		ExecutionID: r.exec.ID,
		WorkflowID:  r.exec.WorkflowID,
		NodeID:      nodeID,
		EventType:   eventType,
		Payload:     payload,
	})
	if err != nil {
		logging.LogWith(ctx, r.e.logger).Warn("event emit failed",
			slog.String("event_type", eventType), slog.Any("error", err))
	}
}

func (r *run) armTimer(nodeID string, d time.Duration, c completion) {
	if d < 0 {
		d = 0
	}
	if t, ok := r.timers[nodeID]; ok {
		t.Stop()
	}
	r.timers[nodeID] = time.AfterFunc(d, func() {
		r.send(c)
	})
}

func (r *run) stopTimers() {
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

// send delivers a completion unless the loop has already exited.
func (r *run) send(c completion) {
	select {
	case r.completions <- c:
	case <-r.finished:
	}
}

func (r *run) nodePolicy(nodeID string) *schema.RetryPolicy {
	node := r.dag.Nodes[nodeID]
	if node != nil && node.Retry != nil {
		p := *node.Retry
		if p.MaxAttempts < 1 {
			p.MaxAttempts = 1
		}
		return &p
	}
	return schema.DefaultRetryPolicy()
}

func toEngineError(err error, nodeID string) *schema.EngineError {
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		if engErr.NodeID == "" {
			engErr.NodeID = nodeID
		}
		return engErr
	}
	if errors.Is(err, context.Canceled) {
		return schema.NewError(schema.ErrCodeCancelled, "attempt cancelled").WithNode(nodeID).WithCause(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeTimeout, "attempt timed out").WithNode(nodeID).WithCause(err)
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithNode(nodeID).WithCause(err)
}

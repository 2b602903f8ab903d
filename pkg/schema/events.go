package schema

// Event type constants for the execution event stream. Events are delivered
// at-least-once and in causal (per-execution) order.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionCancelled = "execution_cancelled"
	EventExecutionResumed   = "execution_resumed"

	EventNodeStarted  = "node_started"
	EventNodeComplete = "node_completed"
	EventNodeFailed   = "node_failed"
	EventNodeSkipped  = "node_skipped"
	EventNodeRetrying = "node_retrying"
	EventNodeWaiting  = "node_waiting"

	// EventAIChunk carries one partial-output fragment of a streamed
	// model invocation; the terminating node_completed carries the final
	// result.
	EventAIChunk = "ai_output_chunk"
)

package engine

import (
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// ValidExecutionTransitions defines the allowed lifecycle transitions for
// executions. retrying is the transient sub-state while some node's retry
// loop is active.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusPending:   {schema.ExecutionStatusRunning, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusRunning:   {schema.ExecutionStatusRetrying, schema.ExecutionStatusCompleted, schema.ExecutionStatusFailed, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusRetrying:  {schema.ExecutionStatusRunning, schema.ExecutionStatusFailed, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusCompleted: {},
	schema.ExecutionStatusFailed:    {},
	schema.ExecutionStatusCancelled: {},
}

// ValidNodeTransitions defines the allowed lifecycle transitions for nodes
// within an execution.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusPending:   {schema.NodeStatusRunning, schema.NodeStatusSkipped},
	schema.NodeStatusRunning:   {schema.NodeStatusSucceeded, schema.NodeStatusFailed, schema.NodeStatusRetrying, schema.NodeStatusWaiting},
	schema.NodeStatusRetrying:  {schema.NodeStatusRunning, schema.NodeStatusFailed},
	schema.NodeStatusWaiting:   {schema.NodeStatusRunning, schema.NodeStatusFailed, schema.NodeStatusSkipped},
	schema.NodeStatusSucceeded: {},
	schema.NodeStatusFailed:    {},
	schema.NodeStatusSkipped:   {},
}

// CheckExecutionTransition validates an execution state transition.
func CheckExecutionTransition(executionID string, from, to schema.ExecutionStatus) error {
	for _, a := range ValidExecutionTransitions[from] {
		if a == to {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid execution transition: %s -> %s", from, to).
		WithDetails(map[string]any{"execution_id": executionID})
}

// CheckNodeTransition validates a node state transition.
func CheckNodeTransition(nodeID string, from, to schema.NodeStatus) error {
	for _, a := range ValidNodeTransitions[from] {
		if a == to {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid node transition: %s -> %s", from, to).
		WithNode(nodeID)
}

// executionEventType maps a new execution status to its stream event.
func executionEventType(to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionStatusRunning:
		return schema.EventExecutionStarted
	case schema.ExecutionStatusCompleted:
		return schema.EventExecutionCompleted
	case schema.ExecutionStatusFailed:
		return schema.EventExecutionFailed
	case schema.ExecutionStatusCancelled:
		return schema.EventExecutionCancelled
	default:
		return ""
	}
}

// nodeEventType maps a new node status to its stream event.
func nodeEventType(to schema.NodeStatus) string {
	switch to {
	case schema.NodeStatusRunning:
		return schema.EventNodeStarted
	case schema.NodeStatusSucceeded:
		return schema.EventNodeComplete
	case schema.NodeStatusFailed:
		return schema.EventNodeFailed
	case schema.NodeStatusSkipped:
		return schema.EventNodeSkipped
	case schema.NodeStatusRetrying:
		return schema.EventNodeRetrying
	case schema.NodeStatusWaiting:
		return schema.EventNodeWaiting
	default:
		return ""
	}
}

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

func TestExecutionTransitions(t *testing.T) {
	allowed := [][2]schema.ExecutionStatus{
		{schema.ExecutionStatusPending, schema.ExecutionStatusRunning},
		{schema.ExecutionStatusPending, schema.ExecutionStatusCancelled},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusRetrying},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusCompleted},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusFailed},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusCancelled},
		{schema.ExecutionStatusRetrying, schema.ExecutionStatusRunning},
		{schema.ExecutionStatusRetrying, schema.ExecutionStatusFailed},
		{schema.ExecutionStatusRetrying, schema.ExecutionStatusCancelled},
	}
	for _, tr := range allowed {
		assert.NoError(t, CheckExecutionTransition("exec-1", tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]schema.ExecutionStatus{
		{schema.ExecutionStatusPending, schema.ExecutionStatusCompleted},
		{schema.ExecutionStatusPending, schema.ExecutionStatusRetrying},
		{schema.ExecutionStatusCompleted, schema.ExecutionStatusRunning},
		{schema.ExecutionStatusFailed, schema.ExecutionStatusRunning},
		{schema.ExecutionStatusCancelled, schema.ExecutionStatusRunning},
		{schema.ExecutionStatusRetrying, schema.ExecutionStatusCompleted},
	}
	for _, tr := range denied {
		err := CheckExecutionTransition("exec-1", tr[0], tr[1])
		require.Error(t, err, "%s -> %s", tr[0], tr[1])
		var engErr *schema.EngineError
		require.ErrorAs(t, err, &engErr)
		assert.Equal(t, schema.ErrCodeInvalidTransition, engErr.Code)
	}
}

func TestNodeTransitions(t *testing.T) {
	allowed := [][2]schema.NodeStatus{
		{schema.NodeStatusPending, schema.NodeStatusRunning},
		{schema.NodeStatusPending, schema.NodeStatusSkipped},
		{schema.NodeStatusRunning, schema.NodeStatusSucceeded},
		{schema.NodeStatusRunning, schema.NodeStatusFailed},
		{schema.NodeStatusRunning, schema.NodeStatusRetrying},
		{schema.NodeStatusRunning, schema.NodeStatusWaiting},
		{schema.NodeStatusRetrying, schema.NodeStatusRunning},
		{schema.NodeStatusRetrying, schema.NodeStatusFailed},
		{schema.NodeStatusWaiting, schema.NodeStatusRunning},
	}
	for _, tr := range allowed {
		assert.NoError(t, CheckNodeTransition("n1", tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]schema.NodeStatus{
		{schema.NodeStatusPending, schema.NodeStatusSucceeded},
		{schema.NodeStatusPending, schema.NodeStatusWaiting},
		{schema.NodeStatusSucceeded, schema.NodeStatusRunning},
		{schema.NodeStatusFailed, schema.NodeStatusRetrying},
		{schema.NodeStatusSkipped, schema.NodeStatusRunning},
		{schema.NodeStatusRetrying, schema.NodeStatusWaiting},
	}
	for _, tr := range denied {
		err := CheckNodeTransition("n1", tr[0], tr[1])
		require.Error(t, err, "%s -> %s", tr[0], tr[1])
		var engErr *schema.EngineError
		require.ErrorAs(t, err, &engErr)
		assert.Equal(t, "n1", engErr.NodeID)
	}
}

func TestEventTypeMapping(t *testing.T) {
	assert.Equal(t, schema.EventExecutionCompleted, executionEventType(schema.ExecutionStatusCompleted))
	assert.Equal(t, schema.EventExecutionFailed, executionEventType(schema.ExecutionStatusFailed))
	assert.Equal(t, schema.EventExecutionCancelled, executionEventType(schema.ExecutionStatusCancelled))
	assert.Equal(t, "", executionEventType(schema.ExecutionStatusPending))

	assert.Equal(t, schema.EventNodeComplete, nodeEventType(schema.NodeStatusSucceeded))
	assert.Equal(t, schema.EventNodeRetrying, nodeEventType(schema.NodeStatusRetrying))
	assert.Equal(t, schema.EventNodeWaiting, nodeEventType(schema.NodeStatusWaiting))
	assert.Equal(t, "", nodeEventType(schema.NodeStatusPending))
}

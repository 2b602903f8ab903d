package schema

import (
	"encoding/json"
	"time"
)

// ExecutionStatus represents the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusRetrying  ExecutionStatus = "retrying"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// NodeStatus represents the lifecycle state of a node within an execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusRetrying  NodeStatus = "retrying"
	NodeStatusWaiting   NodeStatus = "waiting" // delay continuation armed
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// Terminal reports whether a node result is final.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusSucceeded || s == NodeStatusFailed || s == NodeStatusSkipped
}

// Execution is the persisted record of one workflow run. It is created when
// a trigger fires, mutated incrementally by the scheduler, and immutable
// once terminal.
type Execution struct {
	ID              string                 `json:"id"`
	WorkflowID      string                 `json:"workflow_id"`
	WorkflowVersion int                    `json:"workflow_version"`
	Status          ExecutionStatus        `json:"status"`
	Trigger         map[string]any         `json:"trigger,omitempty"`
	Results         map[string]*NodeResult `json:"results,omitempty"`
	Error           *EngineError           `json:"error,omitempty"`
	StartedAt       time.Time              `json:"started_at"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
}

// NodeResult summarizes the outcome of a single node.
type NodeResult struct {
	NodeID      string          `json:"node_id"`
	Status      NodeStatus      `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Branch      string          `json:"branch,omitempty"` // condition nodes: chosen output port
	Error       string          `json:"error,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	Attempts    int             `json:"attempts"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
}

// AttemptEntry is one line in the append-only per-node attempt log.
// It is written before the next attempt begins.
type AttemptEntry struct {
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	Attempt     int       `json:"attempt"` // 1-based
	Outcome     string    `json:"outcome"` // success | failure
	Error       string    `json:"error,omitempty"`
	DelayMs     int64     `json:"delay_ms,omitempty"` // backoff applied before this attempt
	Timestamp   time.Time `json:"timestamp"`
}

const (
	AttemptOutcomeSuccess = "success"
	AttemptOutcomeFailure = "failure"
)

package store

import (
	"encoding/json"
	"time"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// Checkpoint is the durable projection of an execution's live context,
// written after each node transition. It is everything a new process needs
// to reconstruct the working set and continue.
type Checkpoint struct {
	ExecutionID     string                        `json:"execution_id"`
	WorkflowID      string                        `json:"workflow_id"`
	WorkflowVersion int                           `json:"workflow_version"`
	Status          schema.ExecutionStatus        `json:"status"`
	Trigger         map[string]any                `json:"trigger,omitempty"`
	Results         map[string]*schema.NodeResult `json:"results,omitempty"`
	Waits           map[string]time.Time          `json:"waits,omitempty"` // delay node wake deadlines
	Seq             int64                         `json:"seq"`             // strictly increasing per execution
	UpdatedAt       time.Time                     `json:"updated_at"`
}

// Event is an immutable entry in the execution event log.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	NodeID      string          `json:"node_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// Schedule is a cron-triggered execution of a workflow.
type Schedule struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Cron       string         `json:"cron"`
	Payload    map[string]any `json:"payload,omitempty"`
	Enabled    bool           `json:"enabled"`
	LastRunAt  *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time     `json:"next_run_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ExecutionUpdate specifies mutable fields of an execution record.
type ExecutionUpdate struct {
	Status      *schema.ExecutionStatus `json:"status,omitempty"`
	Results     map[string]*schema.NodeResult
	Error       *schema.EngineError `json:"error,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Since      *time.Time              `json:"since,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
}

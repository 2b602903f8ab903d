package store

import (
	"context"
	"time"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// Store defines the persistence layer contract the engine depends on.
// All implementations must be safe for concurrent use. Checkpoint writes
// must be durable before the call returns.
type Store interface {
	// Graphs (versioned; saving bumps the version)
	SaveGraph(ctx context.Context, g *schema.WorkflowGraph) error
	GetGraph(ctx context.Context, id string, version int) (*schema.WorkflowGraph, error) // version 0 = latest
	ListGraphs(ctx context.Context) ([]*schema.WorkflowGraph, error)
	DeleteGraph(ctx context.Context, id string) error

	// Executions
	CreateExecution(ctx context.Context, ex *schema.Execution) error
	GetExecution(ctx context.Context, id string) (*schema.Execution, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error)

	// Checkpoints (one per execution, overwritten on each advance)
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	GetCheckpoint(ctx context.Context, executionID string) (*Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, executionID string) error

	// Attempt log (append-only)
	AppendAttempt(ctx context.Context, entry *schema.AttemptEntry) error
	ListAttempts(ctx context.Context, executionID, nodeID string) ([]*schema.AttemptEntry, error)

	// Event log (append-only, per-execution monotonic sequence)
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)

	// Leases (single-writer discipline per execution)
	AcquireLease(ctx context.Context, executionID, owner string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, executionID, owner string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, executionID, owner string) error

	// Secrets (opaque encrypted blobs; the vault owns the cipher)
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Cron trigger schedules
	CreateSchedule(ctx context.Context, s *Schedule) error
	ListSchedules(ctx context.Context, enabledOnly bool) ([]*Schedule, error)
	UpdateScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error
	DeleteSchedule(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// MemoryStore is an in-memory Store implementation. It backs engine tests
// and embedded single-process use; durability semantics are per-process
// only.
type MemoryStore struct {
	mu          sync.RWMutex
	graphs      map[string][]*schema.WorkflowGraph // id -> versions ascending
	executions  map[string]*schema.Execution
	checkpoints map[string]*Checkpoint
	attempts    []*schema.AttemptEntry
	events      map[string][]*Event // execution id -> ordered events
	leases      map[string]memLease
	secrets     map[string][]byte
	schedules   map[string]*Schedule
	eventID     int64
}

type memLease struct {
	owner     string
	expiresAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		graphs:      make(map[string][]*schema.WorkflowGraph),
		executions:  make(map[string]*schema.Execution),
		checkpoints: make(map[string]*Checkpoint),
		events:      make(map[string][]*Event),
		leases:      make(map[string]memLease),
		secrets:     make(map[string][]byte),
		schedules:   make(map[string]*Schedule),
	}
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                      { return nil }

// --- Graphs ---

func (s *MemoryStore) SaveGraph(ctx context.Context, g *schema.WorkflowGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.Version = len(s.graphs[g.ID]) + 1
	s.graphs[g.ID] = append(s.graphs[g.ID], cloneGraph(g))
	return nil
}

func (s *MemoryStore) GetGraph(ctx context.Context, id string, version int) (*schema.WorkflowGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.graphs[id]
	if len(versions) == 0 {
		return nil, storeNotFound("graph", id)
	}
	if version <= 0 {
		return cloneGraph(versions[len(versions)-1]), nil
	}
	if version > len(versions) {
		return nil, storeNotFound("graph", id)
	}
	return cloneGraph(versions[version-1]), nil
}

func (s *MemoryStore) ListGraphs(ctx context.Context) ([]*schema.WorkflowGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schema.WorkflowGraph, 0, len(s.graphs))
	for _, versions := range s.graphs {
		out = append(out, cloneGraph(versions[len(versions)-1]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) DeleteGraph(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[id]; !ok {
		return storeNotFound("graph", id)
	}
	delete(s.graphs, id)
	return nil
}

// --- Executions ---

func (s *MemoryStore) CreateExecution(ctx context.Context, ex *schema.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[ex.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution already exists: %s", ex.ID)
	}
	s.executions[ex.ID] = cloneExecution(ex)
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*schema.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.executions[id]
	if !ok {
		return nil, storeNotFound("execution", id)
	}
	return cloneExecution(ex), nil
}

func (s *MemoryStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.executions[id]
	if !ok {
		return storeNotFound("execution", id)
	}
	if update.Status != nil {
		ex.Status = *update.Status
	}
	if update.Results != nil {
		ex.Results = cloneResults(update.Results)
	}
	if update.Error != nil {
		ex.Error = update.Error
	}
	if update.CompletedAt != nil {
		ex.CompletedAt = update.CompletedAt
	}
	return nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.Execution
	for _, ex := range s.executions {
		if filter.WorkflowID != "" && ex.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != nil && ex.Status != *filter.Status {
			continue
		}
		if filter.Since != nil && ex.StartedAt.Before(*filter.Since) {
			continue
		}
		out = append(out, cloneExecution(ex))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- Checkpoints ---

func (s *MemoryStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *cp
	clone.Results = cloneResults(cp.Results)
	if cp.Waits != nil {
		clone.Waits = make(map[string]time.Time, len(cp.Waits))
		for k, v := range cp.Waits {
			clone.Waits[k] = v
		}
	}
	s.checkpoints[cp.ExecutionID] = &clone
	return nil
}

func (s *MemoryStore) GetCheckpoint(ctx context.Context, executionID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[executionID]
	if !ok {
		return nil, storeNotFound("checkpoint", executionID)
	}
	clone := *cp
	clone.Results = cloneResults(cp.Results)
	return &clone, nil
}

func (s *MemoryStore) DeleteCheckpoint(ctx context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, executionID)
	return nil
}

// --- Attempt log ---

func (s *MemoryStore) AppendAttempt(ctx context.Context, entry *schema.AttemptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	clone := *entry
	s.attempts = append(s.attempts, &clone)
	return nil
}

func (s *MemoryStore) ListAttempts(ctx context.Context, executionID, nodeID string) ([]*schema.AttemptEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.AttemptEntry
	for _, e := range s.attempts {
		if e.ExecutionID != executionID {
			continue
		}
		if nodeID != "" && e.NodeID != nodeID {
			continue
		}
		clone := *e
		out = append(out, &clone)
	}
	return out, nil
}

// --- Event log ---

func (s *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventID++
	event.ID = s.eventID
	event.Sequence = int64(len(s.events[event.ExecutionID])) + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	clone := *event
	s.events[event.ExecutionID] = append(s.events[event.ExecutionID], &clone)
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, ev := range s.events[executionID] {
		if ev.Sequence > since {
			clone := *ev
			out = append(out, &clone)
		}
	}
	return out, nil
}

// --- Leases ---

func (s *MemoryStore) AcquireLease(ctx context.Context, executionID, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if l, ok := s.leases[executionID]; ok && l.owner != owner && l.expiresAt.After(now) {
		return false, nil
	}
	s.leases[executionID] = memLease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) RenewLease(ctx context.Context, executionID, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[executionID]
	if !ok || l.owner != owner {
		return schema.NewErrorf(schema.ErrCodeConflict, "lease for execution %s not held by %s", executionID, owner)
	}
	l.expiresAt = time.Now().UTC().Add(ttl)
	s.leases[executionID] = l
	return nil
}

func (s *MemoryStore) ReleaseLease(ctx context.Context, executionID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leases[executionID]; ok && l.owner == owner {
		delete(s.leases, executionID)
	}
	return nil
}

// --- Secrets ---

func (s *MemoryStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[key]
	if !ok {
		return nil, storeNotFound("secret", key)
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) DeleteSecret(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[key]; !ok {
		return storeNotFound("secret", key)
	}
	delete(s.secrets, key)
	return nil
}

func (s *MemoryStore) ListSecrets(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.secrets))
	for k := range s.secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// --- Schedules ---

func (s *MemoryStore) CreateSchedule(ctx context.Context, sched *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[sched.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "schedule already exists: %s", sched.ID)
	}
	clone := *sched
	s.schedules[sched.ID] = &clone
	return nil
}

func (s *MemoryStore) ListSchedules(ctx context.Context, enabledOnly bool) ([]*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Schedule
	for _, sc := range s.schedules {
		if enabledOnly && !sc.Enabled {
			continue
		}
		clone := *sc
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return storeNotFound("schedule", id)
	}
	sc.LastRunAt = &lastRun
	sc.NextRunAt = &nextRun
	return nil
}

func (s *MemoryStore) DeleteSchedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return storeNotFound("schedule", id)
	}
	delete(s.schedules, id)
	return nil
}

// --- clone helpers ---

func cloneGraph(g *schema.WorkflowGraph) *schema.WorkflowGraph {
	b, _ := json.Marshal(g)
	out := &schema.WorkflowGraph{}
	_ = json.Unmarshal(b, out)
	return out
}

func cloneExecution(ex *schema.Execution) *schema.Execution {
	clone := *ex
	clone.Results = cloneResults(ex.Results)
	return &clone
}

func cloneResults(r map[string]*schema.NodeResult) map[string]*schema.NodeResult {
	if r == nil {
		return nil
	}
	out := make(map[string]*schema.NodeResult, len(r))
	for k, v := range r {
		clone := *v
		out[k] = &clone
	}
	return out
}

var _ Store = (*MemoryStore)(nil)

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/engine.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Graphs ---

// SaveGraph persists a graph under the next version number and writes the
// assigned version back to g.Version.
func (s *LibSQLStore) SaveGraph(ctx context.Context, g *schema.WorkflowGraph) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save graph: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM graphs WHERE id = ?`, g.ID,
	).Scan(&next); err != nil {
		return fmt.Errorf("next graph version: %w", err)
	}
	g.Version = next

	def, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO graphs (id, version, name, definition) VALUES (?, ?, ?, ?)`,
		g.ID, g.Version, nullStr(g.Name), string(def),
	); err != nil {
		return fmt.Errorf("insert graph: %w", err)
	}
	return tx.Commit()
}

func (s *LibSQLStore) GetGraph(ctx context.Context, id string, version int) (*schema.WorkflowGraph, error) {
	query := `SELECT definition FROM graphs WHERE id = ? AND version = ?`
	args := []any{id, version}
	if version <= 0 {
		query = `SELECT definition FROM graphs WHERE id = ? ORDER BY version DESC LIMIT 1`
		args = []any{id}
	}

	var def string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&def)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("graph", id)
	}
	if err != nil {
		return nil, err
	}

	g := &schema.WorkflowGraph{}
	if err := json.Unmarshal([]byte(def), g); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	return g, nil
}

func (s *LibSQLStore) ListGraphs(ctx context.Context) ([]*schema.WorkflowGraph, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition FROM graphs g
		 WHERE version = (SELECT MAX(version) FROM graphs WHERE id = g.id)
		 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var graphs []*schema.WorkflowGraph
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, err
		}
		g := &schema.WorkflowGraph{}
		if err := json.Unmarshal([]byte(def), g); err != nil {
			return nil, fmt.Errorf("unmarshal graph: %w", err)
		}
		graphs = append(graphs, g)
	}
	return graphs, rows.Err()
}

func (s *LibSQLStore) DeleteGraph(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM graphs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "graph", id)
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, ex *schema.Execution) error {
	trigger, err := marshalMapOrDefault(ex.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	results, err := marshalResults(ex.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	var errJSON any
	if ex.Error != nil {
		b, _ := json.Marshal(ex.Error)
		errJSON = string(b)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, workflow_version, status, trigger_payload, results, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.WorkflowID, ex.WorkflowVersion, string(ex.Status),
		trigger, results, errJSON, timeOrNow(ex.StartedAt), nullTime(ex.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*schema.Execution, error) {
	ex := &schema.Execution{}
	var (
		status                 string
		triggerJSON, resJSON   sql.NullString
		errJSON                sql.NullString
		completedAt            sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, workflow_version, status, trigger_payload, results, error, started_at, completed_at
		 FROM executions WHERE id = ?`, id,
	).Scan(&ex.ID, &ex.WorkflowID, &ex.WorkflowVersion, &status, &triggerJSON, &resJSON, &errJSON, &ex.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, err
	}
	ex.Status = schema.ExecutionStatus(status)
	if triggerJSON.Valid && triggerJSON.String != "" {
		_ = json.Unmarshal([]byte(triggerJSON.String), &ex.Trigger)
	}
	if resJSON.Valid && resJSON.String != "" {
		_ = json.Unmarshal([]byte(resJSON.String), &ex.Results)
	}
	if errJSON.Valid && errJSON.String != "" {
		ex.Error = &schema.EngineError{}
		_ = json.Unmarshal([]byte(errJSON.String), ex.Error)
	}
	if completedAt.Valid {
		ex.CompletedAt = &completedAt.Time
	}
	return ex, nil
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Results != nil {
		results, err := marshalResults(update.Results)
		if err != nil {
			return fmt.Errorf("marshal results: %w", err)
		}
		sets = append(sets, "results = ?")
		args = append(args, results)
	}
	if update.Error != nil {
		b, _ := json.Marshal(update.Error)
		sets = append(sets, "error = ?")
		args = append(args, string(b))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	executions := make([]*schema.Execution, 0, len(ids))
	for _, id := range ids {
		ex, err := s.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		executions = append(executions, ex)
	}
	return executions, nil
}

// --- Checkpoints ---

func (s *LibSQLStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	trigger, err := marshalMapOrDefault(cp.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	results, err := marshalResults(cp.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	waits, err := json.Marshal(cp.Waits)
	if err != nil {
		return fmt.Errorf("marshal waits: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (execution_id, workflow_id, workflow_version, status, trigger_payload, results, waits, seq, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(execution_id) DO UPDATE SET
		   status=excluded.status, results=excluded.results, waits=excluded.waits,
		   seq=excluded.seq, updated_at=excluded.updated_at`,
		cp.ExecutionID, cp.WorkflowID, cp.WorkflowVersion, string(cp.Status),
		trigger, results, string(waits), cp.Seq, timeOrNow(cp.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetCheckpoint(ctx context.Context, executionID string) (*Checkpoint, error) {
	cp := &Checkpoint{}
	var (
		status               string
		triggerJSON, resJSON sql.NullString
		waitsJSON            sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT execution_id, workflow_id, workflow_version, status, trigger_payload, results, waits, seq, updated_at
		 FROM checkpoints WHERE execution_id = ?`, executionID,
	).Scan(&cp.ExecutionID, &cp.WorkflowID, &cp.WorkflowVersion, &status, &triggerJSON, &resJSON, &waitsJSON, &cp.Seq, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("checkpoint", executionID)
	}
	if err != nil {
		return nil, err
	}
	cp.Status = schema.ExecutionStatus(status)
	if triggerJSON.Valid && triggerJSON.String != "" {
		_ = json.Unmarshal([]byte(triggerJSON.String), &cp.Trigger)
	}
	if resJSON.Valid && resJSON.String != "" {
		_ = json.Unmarshal([]byte(resJSON.String), &cp.Results)
	}
	if waitsJSON.Valid && waitsJSON.String != "" {
		_ = json.Unmarshal([]byte(waitsJSON.String), &cp.Waits)
	}
	return cp, nil
}

func (s *LibSQLStore) DeleteCheckpoint(ctx context.Context, executionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE execution_id = ?`, executionID)
	return err
}

// --- Attempt log ---

func (s *LibSQLStore) AppendAttempt(ctx context.Context, entry *schema.AttemptEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (execution_id, node_id, attempt, outcome, error, delay_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ExecutionID, entry.NodeID, entry.Attempt, entry.Outcome, nullStr(entry.Error), entry.DelayMs, entry.Timestamp,
	)
	return err
}

func (s *LibSQLStore) ListAttempts(ctx context.Context, executionID, nodeID string) ([]*schema.AttemptEntry, error) {
	query := `SELECT execution_id, node_id, attempt, outcome, error, delay_ms, timestamp FROM attempts WHERE execution_id = ?`
	args := []any{executionID}
	if nodeID != "" {
		query += " AND node_id = ?"
		args = append(args, nodeID)
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*schema.AttemptEntry
	for rows.Next() {
		e := &schema.AttemptEntry{}
		var errMsg sql.NullString
		if err := rows.Scan(&e.ExecutionID, &e.NodeID, &e.Attempt, &e.Outcome, &errMsg, &e.DelayMs, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Error = errMsg.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Event log ---

// AppendEvent appends an event with a monotonically increasing per-execution
// sequence. A transaction keeps sequence reads and writes from interleaving
// under concurrency.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next event sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var payload any
	if len(event.Payload) > 0 {
		payload = string(event.Payload)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (execution_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ExecutionID, nullStr(event.NodeID), event.Type, payload, event.Timestamp, seq,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

func (s *LibSQLStore) ListEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, node_id, event_type, payload, timestamp, sequence
		 FROM events WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.ExecutionID, &nodeID, &ev.Type, &payload, &ev.Timestamp, &ev.Sequence); err != nil {
			return nil, err
		}
		ev.NodeID = nodeID.String
		if payload.Valid && payload.String != "" {
			ev.Payload = json.RawMessage(payload.String)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Leases ---

// AcquireLease grants ownership of an execution to owner for ttl. Returns
// false when another owner holds an unexpired lease.
func (s *LibSQLStore) AcquireLease(ctx context.Context, executionID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin lease tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT owner, expires_at FROM leases WHERE execution_id = ?`, executionID,
	).Scan(&current, &expiresAt)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO leases (execution_id, owner, expires_at) VALUES (?, ?, ?)`,
			executionID, owner, expires,
		); err != nil {
			return false, fmt.Errorf("insert lease: %w", err)
		}
	case err != nil:
		return false, err
	default:
		if current != owner && expiresAt.After(now) {
			return false, nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE leases SET owner = ?, expires_at = ? WHERE execution_id = ?`,
			owner, expires, executionID,
		); err != nil {
			return false, fmt.Errorf("update lease: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *LibSQLStore) RenewLease(ctx context.Context, executionID, owner string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leases SET expires_at = ? WHERE execution_id = ? AND owner = ?`,
		time.Now().UTC().Add(ttl), executionID, owner,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeConflict, "lease for execution %s not held by %s", executionID, owner)
	}
	return nil
}

func (s *LibSQLStore) ReleaseLease(ctx context.Context, executionID, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM leases WHERE execution_id = ? AND owner = ?`, executionID, owner)
	return err
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("secret", key)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "secret", key)
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Schedules ---

func (s *LibSQLStore) CreateSchedule(ctx context.Context, sched *Schedule) error {
	payload, err := marshalMapOrDefault(sched.Payload)
	if err != nil {
		return fmt.Errorf("marshal schedule payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules (id, workflow_id, cron, payload, enabled, last_run_at, next_run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.WorkflowID, sched.Cron, payload, boolToInt(sched.Enabled),
		nullTime(sched.LastRunAt), nullTime(sched.NextRunAt), timeOrNow(sched.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListSchedules(ctx context.Context, enabledOnly bool) ([]*Schedule, error) {
	query := `SELECT id, workflow_id, cron, payload, enabled, last_run_at, next_run_at, created_at FROM schedules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		sc := &Schedule{}
		var payload sql.NullString
		var enabled int
		var lastRun, nextRun sql.NullTime
		if err := rows.Scan(&sc.ID, &sc.WorkflowID, &sc.Cron, &payload, &enabled, &lastRun, &nextRun, &sc.CreatedAt); err != nil {
			return nil, err
		}
		sc.Enabled = enabled != 0
		if payload.Valid && payload.String != "" {
			_ = json.Unmarshal([]byte(payload.String), &sc.Payload)
		}
		if lastRun.Valid {
			sc.LastRunAt = &lastRun.Time
		}
		if nextRun.Valid {
			sc.NextRunAt = &nextRun.Time
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

func (s *LibSQLStore) UpdateScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run_at = ?, next_run_at = ? WHERE id = ?`,
		lastRun, nextRun, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

func (s *LibSQLStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

// --- Helpers ---

func storeNotFound(kind, id string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s not found: %s", kind, id)
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(kind, id)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalMapOrDefault(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func marshalResults(r map[string]*schema.NodeResult) (string, error) {
	if r == nil {
		return "{}", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ Store = (*LibSQLStore)(nil)

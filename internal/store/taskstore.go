// Package store implements the durable backends consumed by the rest of the
// orchestrator: TaskStore and MemoryStore. The SQLite schema and
// atomic-claim-by-UPDATE technique are grounded on the ancestor gateway's
// pkg/integration/kanban/kanban.go.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sipeed/agentclaw/internal/domain"
	"github.com/sipeed/agentclaw/internal/domain/task"
	"github.com/sipeed/agentclaw/internal/logger"
)

// ListFilter narrows TaskStore.List results.
type ListFilter struct {
	Status        *task.Status
	AssignedAgent *domain.EntityID
}

// Stats summarizes the task table for observability.
type Stats struct {
	Total    int
	ByStatus map[task.Status]int
}

// TaskStore is the capability surface from spec.md §4.1. All operations are
// atomic and serializable with respect to a single task id.
type TaskStore interface {
	Create(ctx context.Context, t *task.Task) (*task.Task, error)
	CreateWithStatus(ctx context.Context, t *task.Task, status task.Status) (*task.Task, error)
	Get(ctx context.Context, id domain.EntityID) (*task.Task, error)
	List(ctx context.Context, filter ListFilter) ([]*task.Task, error)
	GetReady(ctx context.Context) ([]*task.Task, error)
	Claim(ctx context.Context, id domain.EntityID, agentID domain.EntityID) (*task.Task, error)
	Update(ctx context.Context, id domain.EntityID, patch func(*task.Task) error) (*task.Task, error)
	Stats(ctx context.Context) (Stats, error)
}

// SQLiteTaskStore is the production TaskStore backend.
type SQLiteTaskStore struct {
	db *sql.DB
	mu sync.Mutex // serializes Update's read-check-write; Claim relies on its conditional UPDATE alone
}

// NewSQLiteTaskStore opens (creating if necessary) the SQLite-backed task
// table at dbPath.
func NewSQLiteTaskStore(dbPath string) (*SQLiteTaskStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	s := &SQLiteTaskStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteTaskStore) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL,
	priority TEXT NOT NULL,
	required_skills TEXT,
	dependencies TEXT,
	assigned_agent TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	completed_at TEXT,
	estimated_minutes INTEGER DEFAULT 0,
	actual_minutes INTEGER DEFAULT 0,
	retry_count INTEGER DEFAULT 0,
	max_retries INTEGER DEFAULT 2,
	last_error TEXT,
	last_attempt_at TEXT,
	failure_type TEXT,
	tags TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_assigned_agent ON tasks(assigned_agent);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("init task schema: %w", err)
	}
	return nil
}

func jsonList[T any](v []T) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalList[T any](s string) []T {
	var out []T
	if s == "" {
		return out
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

// Create inserts a new task. Status is auto-classified per spec.md §3: ready
// when it has no dependencies or all are already completed, blocked
// otherwise. Callers that need a different initial status (e.g. the
// ObjectivePlanner creating intra-batch-dependent tasks as pending per
// spec.md §4.7) should use CreateWithStatus.
func (s *SQLiteTaskStore) Create(ctx context.Context, t *task.Task) (*task.Task, error) {
	if len(t.Dependencies) == 0 {
		t.Status = task.StatusReady
	} else {
		satisfied, err := s.dependenciesSatisfied(ctx, t.Dependencies)
		if err != nil {
			return nil, err
		}
		if satisfied {
			t.Status = task.StatusReady
		} else {
			t.Status = task.StatusBlocked
		}
	}
	return s.insert(ctx, t)
}

// CreateWithStatus inserts a new task with an explicit initial status,
// bypassing auto-classification.
func (s *SQLiteTaskStore) CreateWithStatus(ctx context.Context, t *task.Task, status task.Status) (*task.Task, error) {
	t.Status = status
	return s.insert(ctx, t)
}

func (s *SQLiteTaskStore) insert(ctx context.Context, t *task.Task) (*task.Task, error) {
	if t.ID().IsZero() {
		t.SetID(domain.NewID())
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.MaxRetries == 0 {
		t.MaxRetries = task.DefaultMaxRetries
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (id, title, description, status, priority, required_skills, dependencies,
	assigned_agent, created_at, updated_at, estimated_minutes, actual_minutes, retry_count,
	max_retries, last_error, failure_type, tags)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID().String(), t.Title, t.Description, string(t.Status), string(t.Priority),
		jsonList(t.RequiredSkills), jsonList(entityIDStrings(t.Dependencies)), t.AssignedAgent.String(),
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano),
		t.EstimatedMinutes, t.ActualMinutes, t.RetryCount, t.MaxRetries, t.LastError,
		string(t.FailureType), jsonList(t.Tags))
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	logger.InfoCF("taskstore", "task created", map[string]interface{}{
		"task_id": t.ID().String(), "status": string(t.Status),
	})
	return t, nil
}

func entityIDStrings(ids []domain.EntityID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func (s *SQLiteTaskStore) dependenciesSatisfied(ctx context.Context, deps []domain.EntityID) (bool, error) {
	for _, dep := range deps {
		d, err := s.Get(ctx, dep)
		if err != nil {
			return false, err
		}
		if d == nil || d.Status != task.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// Get retrieves a task by id, returning (nil, nil) if not found.
func (s *SQLiteTaskStore) Get(ctx context.Context, id domain.EntityID) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id.String())
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// List returns tasks matching filter.
func (s *SQLiteTaskStore) List(ctx context.Context, filter ListFilter) ([]*task.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []interface{}
	if filter.Status != nil {
		q += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.AssignedAgent != nil {
		q += ` AND assigned_agent = ?`
		args = append(args, filter.AssignedAgent.String())
	}
	q += ` ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetReady promotes eligible pending tasks to ready (those whose
// dependencies are now all completed), then returns every ready task.
func (s *SQLiteTaskStore) GetReady(ctx context.Context) ([]*task.Task, error) {
	pending, err := s.List(ctx, ListFilter{status(task.StatusPending)})
	if err != nil {
		return nil, err
	}
	for _, t := range pending {
		satisfied, err := s.dependenciesSatisfied(ctx, t.Dependencies)
		if err != nil {
			return nil, err
		}
		if satisfied {
			if _, err := s.Update(ctx, t.ID(), func(tt *task.Task) error {
				tt.Status = task.StatusReady
				return nil
			}); err != nil {
				return nil, err
			}
		}
	}
	return s.List(ctx, ListFilter{status(task.StatusReady)})
}

func status(s task.Status) ListFilter { return ListFilter{Status: &s} }

// Claim is the sole synchronization point among agents: an atomic
// compare-and-set from ready/unassigned to claimed/agentID. Returns nil,nil
// if another agent already claimed it (or it moved out of ready).
func (s *SQLiteTaskStore) Claim(ctx context.Context, id domain.EntityID, agentID domain.EntityID) (*task.Task, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET status = ?, assigned_agent = ?, updated_at = ?
WHERE id = ? AND status = ? AND (assigned_agent IS NULL OR assigned_agent = '')`,
		string(task.StatusClaimed), agentID.String(), now,
		id.String(), string(task.StatusReady))
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim task rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	return s.Get(ctx, id)
}

// Update applies patch to the task's mutable fields within a single
// transaction, rejecting illegal status transitions.
func (s *SQLiteTaskStore) Update(ctx context.Context, id domain.EntityID, patch func(*task.Task) error) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("update task: not found: %s", id)
	}
	before := current.Status
	if err := patch(current); err != nil {
		return nil, err
	}
	if !task.CanTransition(before, current.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", task.ErrIllegalTransition, before, current.Status)
	}
	current.UpdatedAt = time.Now().UTC()

	var completedAt interface{}
	if current.CompletedAt != nil {
		completedAt = current.CompletedAt.Format(time.RFC3339Nano)
	}
	var lastAttemptAt interface{}
	if current.LastAttemptAt != nil {
		lastAttemptAt = current.LastAttemptAt.Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
UPDATE tasks SET title=?, description=?, status=?, priority=?, required_skills=?, dependencies=?,
	assigned_agent=?, updated_at=?, completed_at=?, estimated_minutes=?, actual_minutes=?,
	retry_count=?, max_retries=?, last_error=?, last_attempt_at=?, failure_type=?, tags=?
WHERE id = ?`,
		current.Title, current.Description, string(current.Status), string(current.Priority),
		jsonList(current.RequiredSkills), jsonList(entityIDStrings(current.Dependencies)),
		current.AssignedAgent.String(), current.UpdatedAt.Format(time.RFC3339Nano), completedAt,
		current.EstimatedMinutes, current.ActualMinutes, current.RetryCount, current.MaxRetries,
		current.LastError, lastAttemptAt, string(current.FailureType), jsonList(current.Tags),
		id.String())
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return current, nil
}

// Stats summarizes the task table.
func (s *SQLiteTaskStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()
	out := Stats{ByStatus: map[task.Status]int{}}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return Stats{}, err
		}
		out.ByStatus[task.Status(st)] = n
		out.Total += n
	}
	return out, nil
}

const taskColumns = `id, title, description, status, priority, required_skills, dependencies,
	assigned_agent, created_at, updated_at, completed_at, estimated_minutes, actual_minutes,
	retry_count, max_retries, last_error, last_attempt_at, failure_type, tags`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		id, title, description, statusStr, priorityStr                    string
		requiredSkills, dependencies, assignedAgent, tagsStr               string
		createdAt, updatedAt                                               string
		completedAt, lastAttemptAt                                        sql.NullString
		estimatedMinutes, actualMinutes, retryCount, maxRetries            int
		lastError, failureType                                            sql.NullString
	)
	if err := row.Scan(&id, &title, &description, &statusStr, &priorityStr, &requiredSkills,
		&dependencies, &assignedAgent, &createdAt, &updatedAt, &completedAt, &estimatedMinutes,
		&actualMinutes, &retryCount, &maxRetries, &lastError, &lastAttemptAt, &failureType, &tagsStr); err != nil {
		return nil, err
	}
	t := &task.Task{
		Title:            title,
		Description:      description,
		Status:           task.Status(statusStr),
		Priority:         task.Priority(priorityStr),
		RequiredSkills:   unmarshalList[string](requiredSkills),
		AssignedAgent:    domain.EntityID(assignedAgent),
		EstimatedMinutes: estimatedMinutes,
		ActualMinutes:    actualMinutes,
		RetryCount:       retryCount,
		MaxRetries:       maxRetries,
		Tags:             unmarshalList[string](tagsStr),
	}
	t.SetID(domain.EntityID(id))
	for _, s := range unmarshalList[string](dependencies) {
		t.Dependencies = append(t.Dependencies, domain.EntityID(s))
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		t.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		t.UpdatedAt = ts
	}
	if completedAt.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
			t.CompletedAt = &ts
		}
	}
	if lastAttemptAt.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, lastAttemptAt.String); err == nil {
			t.LastAttemptAt = &ts
		}
	}
	if lastError.Valid {
		t.LastError = lastError.String
	}
	if failureType.Valid {
		t.FailureType = task.FailureType(failureType.String)
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteTaskStore) Close() error { return s.db.Close() }

// sortByPriorityThenScore sorts candidate tasks by priority descending, then
// by the caller-supplied score descending, per spec.md §4.4's lookForWork
// ordering rule.
func sortByPriorityThenScore(tasks []*task.Task, score func(*task.Task) float64) {
	sort.SliceStable(tasks, func(i, j int) bool {
		wi, wj := tasks[i].Priority.Weight(), tasks[j].Priority.Weight()
		if wi != wj {
			return wi > wj
		}
		return score(tasks[i]) > score(tasks[j])
	})
}

// SortReadyTasks exposes sortByPriorityThenScore for AgentController's
// lookForWork candidate ranking.
func SortReadyTasks(tasks []*task.Task, score func(*task.Task) float64) {
	sortByPriorityThenScore(tasks, score)
}

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sipeed/agentclaw/internal/domain"
	"github.com/sipeed/agentclaw/internal/domain/task"
)

// InMemoryTaskStore is the local, non-durable TaskStore variant used by
// tests, matching the capability set's "local in-memory variant" called for
// in spec.md §9.
type InMemoryTaskStore struct {
	mu    sync.Mutex
	tasks map[domain.EntityID]*task.Task
}

// NewInMemoryTaskStore constructs an empty in-memory TaskStore.
func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{tasks: make(map[domain.EntityID]*task.Task)}
}

func (s *InMemoryTaskStore) clone(t *task.Task) *task.Task {
	cp := *t
	cp.Dependencies = append([]domain.EntityID(nil), t.Dependencies...)
	cp.RequiredSkills = append([]string(nil), t.RequiredSkills...)
	cp.Tags = append([]string(nil), t.Tags...)
	return &cp
}

func (s *InMemoryTaskStore) dependenciesSatisfiedLocked(deps []domain.EntityID) bool {
	for _, dep := range deps {
		d, ok := s.tasks[dep]
		if !ok || d.Status != task.StatusCompleted {
			return false
		}
	}
	return true
}

// Create inserts t, auto-classifying ready/blocked per spec.md §3.
func (s *InMemoryTaskStore) Create(ctx context.Context, t *task.Task) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	if len(t.Dependencies) == 0 || s.dependenciesSatisfiedLocked(t.Dependencies) {
		t.Status = task.StatusReady
	} else {
		t.Status = task.StatusBlocked
	}
	s.tasks[t.ID()] = s.clone(t)
	return s.clone(t), nil
}

// CreateWithStatus inserts t with an explicit status, bypassing auto-classification.
func (s *InMemoryTaskStore) CreateWithStatus(ctx context.Context, t *task.Task, status task.Status) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	t.Status = status
	s.tasks[t.ID()] = s.clone(t)
	return s.clone(t), nil
}

// Get retrieves a task by id, returning (nil, nil) if absent.
func (s *InMemoryTaskStore) Get(ctx context.Context, id domain.EntityID) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	return s.clone(t), nil
}

// List returns tasks matching filter.
func (s *InMemoryTaskStore) List(ctx context.Context, filter ListFilter) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.AssignedAgent != nil && t.AssignedAgent != *filter.AssignedAgent {
			continue
		}
		out = append(out, s.clone(t))
	}
	return out, nil
}

// GetReady promotes eligible pending tasks then returns every ready task.
func (s *InMemoryTaskStore) GetReady(ctx context.Context) ([]*task.Task, error) {
	s.mu.Lock()
	for _, t := range s.tasks {
		if t.Status == task.StatusPending && s.dependenciesSatisfiedLocked(t.Dependencies) {
			t.Status = task.StatusReady
			t.UpdatedAt = time.Now().UTC()
		}
	}
	var out []*task.Task
	for _, t := range s.tasks {
		if t.Status == task.StatusReady {
			out = append(out, s.clone(t))
		}
	}
	s.mu.Unlock()
	return out, nil
}

// Claim atomically moves id from ready/unassigned to claimed/agentID.
func (s *InMemoryTaskStore) Claim(ctx context.Context, id domain.EntityID, agentID domain.EntityID) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != task.StatusReady || !t.AssignedAgent.IsZero() {
		return nil, nil
	}
	t.Status = task.StatusClaimed
	t.AssignedAgent = agentID
	t.UpdatedAt = time.Now().UTC()
	return s.clone(t), nil
}

// Update applies patch under lock, rejecting illegal transitions.
func (s *InMemoryTaskStore) Update(ctx context.Context, id domain.EntityID, patch func(*task.Task) error) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("update task: not found: %s", id)
	}
	cp := s.clone(t)
	before := cp.Status
	if err := patch(cp); err != nil {
		return nil, err
	}
	if !task.CanTransition(before, cp.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", task.ErrIllegalTransition, before, cp.Status)
	}
	cp.UpdatedAt = time.Now().UTC()
	s.tasks[id] = s.clone(cp)
	return s.clone(cp), nil
}

// Stats summarizes the task table.
func (s *InMemoryTaskStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{ByStatus: map[task.Status]int{}}
	for _, t := range s.tasks {
		out.ByStatus[t.Status]++
		out.Total++
	}
	return out, nil
}

var _ TaskStore = (*InMemoryTaskStore)(nil)
var _ TaskStore = (*SQLiteTaskStore)(nil)

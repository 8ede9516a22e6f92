package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sipeed/agentclaw/internal/domain"
	"github.com/sipeed/agentclaw/internal/domain/task"
)

func newTestTaskStore(t *testing.T) *SQLiteTaskStore {
	t.Helper()
	s, err := NewSQLiteTaskStore(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("open task store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAssignsReadyWithNoDependencies(t *testing.T) {
	s := newTestTaskStore(t)
	ctx := context.Background()
	tk, _ := task.New("ship it", "desc", task.PriorityMedium)

	stored, err := s.Create(ctx, tk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status != task.StatusReady {
		t.Errorf("expected ready with no dependencies, got %s", stored.Status)
	}
}

func TestCreateBlocksOnUnsatisfiedDependency(t *testing.T) {
	s := newTestTaskStore(t)
	ctx := context.Background()

	dep, _ := task.New("dependency", "desc", task.PriorityMedium)
	storedDep, _ := s.Create(ctx, dep)

	tk, _ := task.New("dependent", "desc", task.PriorityMedium)
	tk.Dependencies = []domain.EntityID{storedDep.ID()}
	stored, err := s.Create(ctx, tk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status != task.StatusBlocked {
		t.Errorf("expected blocked while dependency incomplete, got %s", stored.Status)
	}
}

func TestCreateWithStatusBypassesClassification(t *testing.T) {
	s := newTestTaskStore(t)
	ctx := context.Background()
	tk, _ := task.New("pending batch item", "desc", task.PriorityMedium)

	stored, err := s.CreateWithStatus(ctx, tk, task.StatusPending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status != task.StatusPending {
		t.Errorf("expected pending, got %s", stored.Status)
	}
}

func TestGetRoundTrip(t *testing.T) {
	s := newTestTaskStore(t)
	ctx := context.Background()
	tk, _ := task.New("roundtrip", "desc", task.PriorityHigh)
	tk.RequiredSkills = []string{"go"}
	tk.Tags = []string{"infra"}
	stored, _ := s.Create(ctx, tk)

	got, err := s.Get(ctx, stored.ID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title != "roundtrip" || len(got.RequiredSkills) != 1 || got.RequiredSkills[0] != "go" {
		t.Errorf("round-tripped task mismatch: %+v", got)
	}
}

func TestGetMissingReturnsNilNil(t *testing.T) {
	s := newTestTaskStore(t)
	got, err := s.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for a missing task")
	}
}

func TestClaimIsExclusive(t *testing.T) {
	s := newTestTaskStore(t)
	ctx := context.Background()
	tk, _ := task.New("claim me", "desc", task.PriorityMedium)
	stored, _ := s.Create(ctx, tk)

	first, err := s.Claim(ctx, stored.ID(), "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == nil || first.Status != task.StatusClaimed {
		t.Fatal("expected first claim to succeed")
	}

	second, err := s.Claim(ctx, stored.ID(), "agent-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != nil {
		t.Error("expected second claim to fail once the task is already claimed")
	}
}

func TestUpdateRejectsIllegalTransition(t *testing.T) {
	s := newTestTaskStore(t)
	ctx := context.Background()
	tk, _ := task.New("t", "d", task.PriorityMedium)
	stored, _ := s.Create(ctx, tk)

	_, err := s.Update(ctx, stored.ID(), func(tt *task.Task) error {
		tt.Status = task.StatusCompleted
		return nil
	})
	if err == nil {
		t.Error("expected ready->completed via Update to be rejected as an illegal transition")
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	s := newTestTaskStore(t)
	ctx := context.Background()
	a, _ := task.New("a", "d", task.PriorityMedium)
	b, _ := task.New("b", "d", task.PriorityMedium)
	s.Create(ctx, a)
	s.Create(ctx, b)

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("expected 2 total, got %d", stats.Total)
	}
	if stats.ByStatus[task.StatusReady] != 2 {
		t.Errorf("expected 2 ready, got %d", stats.ByStatus[task.StatusReady])
	}
}

func TestGetReadyPromotesSatisfiedPending(t *testing.T) {
	s := newTestTaskStore(t)
	ctx := context.Background()

	dep, _ := task.New("dep", "d", task.PriorityMedium)
	storedDep, _ := s.Create(ctx, dep)
	s.Update(ctx, storedDep.ID(), func(tt *task.Task) error { tt.Status = task.StatusClaimed; return nil })
	s.Update(ctx, storedDep.ID(), func(tt *task.Task) error { tt.Status = task.StatusInProgress; return nil })
	s.Update(ctx, storedDep.ID(), func(tt *task.Task) error { tt.Status = task.StatusCompleted; return nil })

	dependent, _ := task.New("dependent", "d", task.PriorityMedium)
	dependent.Dependencies = []domain.EntityID{storedDep.ID()}
	storedDependent, _ := s.CreateWithStatus(ctx, dependent, task.StatusPending)
	if storedDependent.Status != task.StatusPending {
		t.Fatalf("expected pending before GetReady runs, got %s", storedDependent.Status)
	}

	ready, err := s.GetReady(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, r := range ready {
		if r.ID() == storedDependent.ID() {
			found = true
		}
	}
	if !found {
		t.Error("expected GetReady to promote and return the now-satisfied dependent task")
	}
}

func TestSortReadyTasksOrdersByPriorityThenScore(t *testing.T) {
	low, _ := task.New("low", "d", task.PriorityLow)
	critical, _ := task.New("critical", "d", task.PriorityCritical)
	medium, _ := task.New("medium", "d", task.PriorityMedium)

	tasks := []*task.Task{low, critical, medium}
	SortReadyTasks(tasks, func(*task.Task) float64 { return 0 })

	if tasks[0] != critical || tasks[2] != low {
		t.Errorf("expected critical first and low last, got order %v", []string{tasks[0].Title, tasks[1].Title, tasks[2].Title})
	}
}

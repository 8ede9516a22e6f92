package store

import (
	"context"
	"testing"

	"github.com/sipeed/agentclaw/internal/domain"
	"github.com/sipeed/agentclaw/internal/domain/task"
)

func TestInMemoryTaskStoreClaimIsExclusive(t *testing.T) {
	s := NewInMemoryTaskStore()
	ctx := context.Background()
	tk, _ := task.New("claim me", "d", task.PriorityMedium)
	stored, _ := s.Create(ctx, tk)

	first, err := s.Claim(ctx, stored.ID(), "agent-1")
	if err != nil || first == nil {
		t.Fatalf("expected first claim to succeed, got %v, %v", first, err)
	}
	second, err := s.Claim(ctx, stored.ID(), "agent-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != nil {
		t.Error("expected second claim on an already-claimed task to fail")
	}
}

func TestInMemoryTaskStoreCloneIsolatesCallers(t *testing.T) {
	s := NewInMemoryTaskStore()
	ctx := context.Background()
	tk, _ := task.New("t", "d", task.PriorityMedium)
	stored, _ := s.Create(ctx, tk)

	got, _ := s.Get(ctx, stored.ID())
	got.Title = "mutated by caller"

	got2, _ := s.Get(ctx, stored.ID())
	if got2.Title != "t" {
		t.Error("expected stored task to be unaffected by mutations on a returned clone")
	}
}

func TestInMemoryTaskStoreGetReadyPromotesPending(t *testing.T) {
	s := NewInMemoryTaskStore()
	ctx := context.Background()

	dep, _ := task.New("dep", "d", task.PriorityMedium)
	storedDep, _ := s.CreateWithStatus(ctx, dep, task.StatusCompleted)

	dependent, _ := task.New("dependent", "d", task.PriorityMedium)
	dependent.Dependencies = []domain.EntityID{storedDep.ID()}
	storedDependent, _ := s.CreateWithStatus(ctx, dependent, task.StatusPending)

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
		t.Error("expected pending task with a completed dependency to be promoted to ready")
	}
}

func TestInMemoryTaskStoreUpdateNotFound(t *testing.T) {
	s := NewInMemoryTaskStore()
	_, err := s.Update(context.Background(), "missing", func(*task.Task) error { return nil })
	if err == nil {
		t.Error("expected an error updating a task that does not exist")
	}
}

func TestInMemoryTaskStoreStats(t *testing.T) {
	s := NewInMemoryTaskStore()
	ctx := context.Background()
	a, _ := task.New("a", "d", task.PriorityMedium)
	b, _ := task.New("b", "d", task.PriorityMedium)
	s.Create(ctx, a)
	s.CreateWithStatus(ctx, b, task.StatusPending)

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("expected 2 total, got %d", stats.Total)
	}
	if stats.ByStatus[task.StatusReady] != 1 || stats.ByStatus[task.StatusPending] != 1 {
		t.Errorf("unexpected status breakdown: %+v", stats.ByStatus)
	}
}

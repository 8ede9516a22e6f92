package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/sipeed/agentclaw/internal/domain/task"
	"github.com/sipeed/agentclaw/internal/mailbus"
	"github.com/sipeed/agentclaw/internal/store"
)

type fakeLocator struct{ stalled []string }

func (f fakeLocator) StalledAgentIDs(time.Duration) []string { return f.stalled }

func TestSweepNudgesOnReadyTasks(t *testing.T) {
	tasks := store.NewInMemoryTaskStore()
	ctx := context.Background()
	tk, _ := task.New("t", "d", task.PriorityMedium)
	tasks.Create(ctx, tk)

	bus := mailbus.New()
	received := make(chan mailbus.Message, 1)
	bus.Subscribe(mailbus.TopicTaskAvailable, func(m mailbus.Message) { received <- m })

	r := New(Config{}, tasks, bus, fakeLocator{})
	r.Sweep(ctx)

	select {
	case m := <-received:
		if m.Payload["count"] != 1 {
			t.Errorf("expected count 1, got %v", m.Payload["count"])
		}
	case <-time.After(time.Second):
		t.Fatal("expected a task.available notification for the ready task")
	}
}

func TestSweepRearmsRetryableFailure(t *testing.T) {
	tasks := store.NewInMemoryTaskStore()
	ctx := context.Background()
	tk, _ := task.New("t", "d", task.PriorityMedium)
	tk.MaxRetries = 2
	stored, _ := tasks.CreateWithStatus(ctx, tk, task.StatusFailed)

	r := New(Config{}, tasks, mailbus.New(), fakeLocator{})
	r.Sweep(ctx)

	got, _ := tasks.Get(ctx, stored.ID())
	if got.Status != task.StatusReady {
		t.Errorf("expected rearmed failure to become ready, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("expected retry count incremented, got %d", got.RetryCount)
	}
}

func TestSweepDoesNotRearmAtRetryCeiling(t *testing.T) {
	tasks := store.NewInMemoryTaskStore()
	ctx := context.Background()
	tk, _ := task.New("t", "d", task.PriorityMedium)
	tk.MaxRetries = 1
	tk.RetryCount = 1
	stored, _ := tasks.CreateWithStatus(ctx, tk, task.StatusFailed)

	r := New(Config{}, tasks, mailbus.New(), fakeLocator{})
	r.Sweep(ctx)

	got, _ := tasks.Get(ctx, stored.ID())
	if got.Status != task.StatusFailed {
		t.Errorf("expected a task at its retry ceiling to remain failed, got %s", got.Status)
	}
}

func TestSweepResetsStalledAgentsTasks(t *testing.T) {
	tasks := store.NewInMemoryTaskStore()
	ctx := context.Background()
	tk, _ := task.New("t", "d", task.PriorityMedium)
	stored, _ := tasks.Create(ctx, tk)
	tasks.Claim(ctx, stored.ID(), "agent-1")
	tasks.Update(ctx, stored.ID(), func(tt *task.Task) error { tt.Status = task.StatusInProgress; return nil })

	r := New(Config{}, tasks, mailbus.New(), fakeLocator{stalled: []string{"agent-1"}})
	r.Sweep(ctx)

	got, _ := tasks.Get(ctx, stored.ID())
	if got.Status != task.StatusReady || !got.AssignedAgent.IsZero() {
		t.Errorf("expected stalled agent's task reset to unassigned ready, got status=%s agent=%s", got.Status, got.AssignedAgent)
	}
}

func TestSweepUnblocksSatisfiedDependents(t *testing.T) {
	tasks := store.NewInMemoryTaskStore()
	ctx := context.Background()
	dep, _ := task.New("dep", "d", task.PriorityMedium)
	storedDep, _ := tasks.CreateWithStatus(ctx, dep, task.StatusCompleted)

	blocked, _ := task.New("blocked", "d", task.PriorityMedium)
	blocked.Dependencies = append(blocked.Dependencies, storedDep.ID())
	storedBlocked, _ := tasks.CreateWithStatus(ctx, blocked, task.StatusBlocked)

	r := New(Config{}, tasks, mailbus.New(), fakeLocator{})
	r.Sweep(ctx)

	got, _ := tasks.Get(ctx, storedBlocked.ID())
	if got.Status != task.StatusReady {
		t.Errorf("expected the blocked task to unblock once its dependency completed, got %s", got.Status)
	}
}

func TestSweepSurvivesNilAgentLocator(t *testing.T) {
	tasks := store.NewInMemoryTaskStore()
	r := New(Config{}, tasks, mailbus.New(), nil)
	r.Sweep(context.Background()) // must not panic
}

func TestStartStop(t *testing.T) {
	tasks := store.NewInMemoryTaskStore()
	r := New(Config{Interval: 10 * time.Millisecond}, tasks, mailbus.New(), fakeLocator{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	r.Stop()
}

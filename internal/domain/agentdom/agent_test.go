package agentdom

import (
	"testing"

	"github.com/sipeed/agentclaw/internal/domain"
)

func TestNewRejectsEmptyName(t *testing.T) {
	if _, err := New("", nil); err != ErrEmptyName {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}

func TestNewStartsIdle(t *testing.T) {
	a, err := New("agent-01", []string{"go", "testing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != StatusIdle {
		t.Errorf("expected idle, got %s", a.Status)
	}
	if !a.Skills["go"] || !a.Skills["testing"] {
		t.Error("expected starting skills to be held")
	}
}

func TestMarkBusyThenIdle(t *testing.T) {
	a, _ := New("agent-01", nil)
	taskID := domain.NewID()

	if err := a.MarkBusy(taskID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != StatusBusy || a.CurrentTask != taskID {
		t.Error("expected busy with current task set")
	}

	if err := a.MarkBusy(domain.NewID()); err != ErrAlreadyBusy {
		t.Errorf("expected ErrAlreadyBusy, got %v", err)
	}

	a.MarkIdle()
	if a.Status != StatusIdle || !a.CurrentTask.IsZero() {
		t.Error("expected idle with no current task")
	}
}

func TestAcquireSkill(t *testing.T) {
	a, _ := New("agent-01", nil)
	a.AcquireSkill("rust")
	if !a.Skills["rust"] || !a.AcquiredSkills["rust"] {
		t.Error("expected acquired skill to be held and tracked")
	}
}

func TestRecordCompletionAndFailure(t *testing.T) {
	a, _ := New("agent-01", nil)
	a.RecordCompletion(1500)
	a.RecordCompletion(2500)
	a.RecordFailure()

	if a.Stats.TasksCompleted != 2 {
		t.Errorf("expected 2 completions, got %d", a.Stats.TasksCompleted)
	}
	if a.Stats.TotalCompletionMs != 4000 {
		t.Errorf("expected 4000ms total, got %d", a.Stats.TotalCompletionMs)
	}
	if a.Stats.TasksFailed != 1 {
		t.Errorf("expected 1 failure, got %d", a.Stats.TasksFailed)
	}
}

func TestToRegistryEntry(t *testing.T) {
	a, _ := New("agent-01", []string{"go"})
	taskID := domain.NewID()
	_ = a.MarkBusy(taskID)

	entry := a.ToRegistryEntry()
	if entry.Name != "agent-01" {
		t.Errorf("expected name agent-01, got %s", entry.Name)
	}
	if entry.Status != string(StatusBusy) {
		t.Errorf("expected busy status, got %s", entry.Status)
	}
	if entry.CurrentTask == nil || *entry.CurrentTask != taskID.String() {
		t.Error("expected current task to be reflected in registry entry")
	}
}

func TestToRegistryEntryIdleHasNilCurrentTask(t *testing.T) {
	a, _ := New("agent-01", nil)
	entry := a.ToRegistryEntry()
	if entry.CurrentTask != nil {
		t.Error("expected nil current task while idle")
	}
}

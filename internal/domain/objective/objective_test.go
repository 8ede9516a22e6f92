package objective

import (
	"testing"

	"github.com/sipeed/agentclaw/internal/domain"
)

func TestNewRejectsNoMilestones(t *testing.T) {
	if _, err := New("goal", nil); err != ErrNoMilestones {
		t.Fatalf("expected ErrNoMilestones, got %v", err)
	}
}

func TestNewStartsFirstMilestone(t *testing.T) {
	m1 := &Milestone{Title: "phase 1"}
	m2 := &Milestone{Title: "phase 2"}
	obj, err := New("goal", []*Milestone{m1, m2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj.Status != StatusInProgress {
		t.Errorf("expected objective in_progress, got %s", obj.Status)
	}
	if m1.Status != StatusInProgress {
		t.Errorf("expected first milestone in_progress, got %s", m1.Status)
	}
	if m2.Status == StatusInProgress {
		t.Error("second milestone should not start in_progress")
	}
	if obj.CurrentMilestone() != m1 {
		t.Error("expected CurrentMilestone to return the first milestone")
	}
}

func TestAdvanceMilestone(t *testing.T) {
	m1 := &Milestone{Title: "phase 1"}
	m2 := &Milestone{Title: "phase 2"}
	obj, _ := New("goal", []*Milestone{m1, m2})

	if obj.IsLastMilestone() {
		t.Fatal("two milestones: first should not be last")
	}
	if err := obj.AdvanceMilestone(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m1.Status != StatusCompleted {
		t.Error("expected first milestone completed")
	}
	if obj.CurrentMilestone() != m2 {
		t.Error("expected current milestone to advance to second")
	}
	if obj.Status == StatusCompleted {
		t.Error("objective should not be complete with a milestone remaining")
	}

	if !obj.IsLastMilestone() {
		t.Fatal("expected second milestone to be last")
	}
	if err := obj.AdvanceMilestone(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj.Status != StatusCompleted {
		t.Error("expected objective completed after advancing past the last milestone")
	}
	if obj.ProgressPercent != 100 {
		t.Errorf("expected 100%% progress, got %v", obj.ProgressPercent)
	}
}

func TestRecordGeneration(t *testing.T) {
	m1 := &Milestone{Title: "phase 1"}
	obj, _ := New("goal", []*Milestone{m1})

	ids := []domain.EntityID{"t1", "t2"}
	obj.RecordGeneration(ids)

	if obj.GenerationRound != 1 {
		t.Errorf("expected generation round 1, got %d", obj.GenerationRound)
	}
	if len(m1.TaskIDs) != 2 {
		t.Errorf("expected 2 task ids recorded against the current milestone, got %d", len(m1.TaskIDs))
	}
}

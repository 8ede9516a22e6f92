package task

import (
	"testing"
	"time"

	"github.com/sipeed/agentclaw/internal/domain"
)

func TestNewRejectsEmptyTitle(t *testing.T) {
	if _, err := New("", "desc", PriorityMedium); err != ErrEmptyTitle {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}
}

func TestNewDefaults(t *testing.T) {
	tk, err := New("ship feature", "desc", PriorityHigh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tk.Status != StatusPending {
		t.Errorf("expected pending status, got %s", tk.Status)
	}
	if tk.MaxRetries != DefaultMaxRetries {
		t.Errorf("expected MaxRetries=%d, got %d", DefaultMaxRetries, tk.MaxRetries)
	}
	if tk.ID().IsZero() {
		t.Error("expected a non-zero id")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"pending to ready", StatusPending, StatusReady, true},
		{"pending to claimed illegal", StatusPending, StatusClaimed, false},
		{"ready to claimed", StatusReady, StatusClaimed, true},
		{"claimed to in_progress", StatusClaimed, StatusInProgress, true},
		{"in_progress to completed", StatusInProgress, StatusCompleted, true},
		{"completed is terminal", StatusCompleted, StatusReady, false},
		{"failed to ready for retry", StatusFailed, StatusReady, true},
		{"same state always legal", StatusReady, StatusReady, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestPriorityWeight(t *testing.T) {
	if PriorityCritical.Weight() <= PriorityHigh.Weight() {
		t.Error("critical must outrank high")
	}
	if PriorityHigh.Weight() <= PriorityMedium.Weight() {
		t.Error("high must outrank medium")
	}
	if PriorityMedium.Weight() <= PriorityLow.Weight() {
		t.Error("medium must outrank low")
	}
}

func TestDependenciesSatisfied(t *testing.T) {
	tk, _ := New("t", "d", PriorityMedium)
	tk.Dependencies = []domain.EntityID{"a", "b"}

	completed := map[domain.EntityID]bool{"a": true, "b": false}
	isCompleted := func(id domain.EntityID) bool { return completed[id] }

	if tk.DependenciesSatisfied(isCompleted) {
		t.Error("expected unsatisfied, b is not complete")
	}
	completed["b"] = true
	if !tk.DependenciesSatisfied(isCompleted) {
		t.Error("expected satisfied once both are complete")
	}
}

func TestDependenciesSatisfiedEmpty(t *testing.T) {
	tk, _ := New("t", "d", PriorityMedium)
	if !tk.DependenciesSatisfied(func(domain.EntityID) bool { return false }) {
		t.Error("no dependencies should always be satisfied")
	}
}

func TestSkillScore(t *testing.T) {
	tk, _ := New("t", "d", PriorityMedium)
	tk.RequiredSkills = []string{"go", "sql"}

	tests := []struct {
		name      string
		skills    map[string]bool
		wantScore float64
	}{
		{"full match", map[string]bool{"go": true, "sql": true}, 1.0},
		{"partial match", map[string]bool{"go": true}, 0.5},
		{"no match", map[string]bool{"python": true}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, _ := tk.SkillScore(tt.skills)
			if score != tt.wantScore {
				t.Errorf("SkillScore() = %v, want %v", score, tt.wantScore)
			}
		})
	}
}

func TestSkillScoreNoRequirements(t *testing.T) {
	tk, _ := New("t", "d", PriorityMedium)
	score, missing := tk.SkillScore(map[string]bool{})
	if score != 1.0 {
		t.Errorf("expected perfect score with no requirements, got %v", score)
	}
	if missing != nil {
		t.Errorf("expected no missing skills, got %v", missing)
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 30 * time.Second},
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 240 * time.Second},
	}
	for _, tt := range tests {
		if got := NextBackoff(tt.retryCount); got != tt.want {
			t.Errorf("NextBackoff(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		message string
		want    FailureType
	}{
		{"process timed out after 2h", FailureTimeout},
		{"agent stalled: no output for 5m", FailureStalled},
		{"FILE_LOCKED:src/main.go:agent-02", FailureBlocked},
		{"dependency blocked on review", FailureBlocked},
		{"unexpected panic: nil pointer", FailureError},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			if got := ClassifyFailure(tt.message); got != tt.want {
				t.Errorf("ClassifyFailure(%q) = %s, want %s", tt.message, got, tt.want)
			}
		})
	}
}

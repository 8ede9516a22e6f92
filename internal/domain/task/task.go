// Package task defines the Task aggregate: the unit of work that flows
// through TaskStore, AgentController, and SupervisorReconciler.
package task

import (
	"strings"
	"time"

	"github.com/sipeed/agentclaw/internal/domain"
)

// Status is the task's position in its state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusReady      Status = "ready"
	StatusBlocked    Status = "blocked"
	StatusClaimed    Status = "claimed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ValidTransitions enumerates the legal state-machine edges. The store only
// advances pending<->ready<->blocked; a successful atomic claim is the only
// way to move ready->claimed; only the owning agent may advance
// claimed->in_progress->{completed,failed} or drop back to ready for retry.
var ValidTransitions = map[Status][]Status{
	StatusPending:    {StatusReady, StatusBlocked},
	StatusReady:      {StatusClaimed, StatusBlocked, StatusPending},
	StatusBlocked:    {StatusReady, StatusPending},
	StatusClaimed:    {StatusInProgress, StatusReady, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusReady},
	StatusCompleted:  {},
	StatusFailed:     {StatusReady},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Priority ranks tasks for scheduling purposes; higher Weight runs first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Weight returns a numeric rank used to sort candidates, higher first.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// FailureType classifies why an execution attempt failed.
type FailureType string

const (
	FailureError   FailureType = "error"
	FailureTimeout FailureType = "timeout"
	FailureStalled FailureType = "stalled"
	FailureBlocked FailureType = "blocked"
)

// DefaultMaxRetries is the default ceiling on retryCount.
const DefaultMaxRetries = 2

// Error is a sentinel domain error for illegal task operations.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrIllegalTransition Error = "task: illegal status transition"
	ErrRetryCeiling      Error = "task: retry ceiling exceeded"
	ErrEmptyTitle        Error = "task: title is required"
)

// Task is the aggregate root describing one unit of work.
type Task struct {
	domain.AggregateRoot

	Title            string
	Description      string
	Status           Status
	Priority         Priority
	RequiredSkills   []string
	Dependencies     []domain.EntityID
	AssignedAgent    domain.EntityID
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	EstimatedMinutes int
	ActualMinutes    int
	RetryCount       int
	MaxRetries       int
	LastError        string
	LastAttemptAt    *time.Time
	FailureType      FailureType
	Tags             []string
}

// New constructs a Task in status pending, ready to be promoted by the store.
func New(title, description string, priority Priority) (*Task, error) {
	if title == "" {
		return nil, ErrEmptyTitle
	}
	t := &Task{
		Title:       title,
		Description: description,
		Status:      StatusPending,
		Priority:    priority,
		MaxRetries:  DefaultMaxRetries,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	t.SetID(domain.NewID())
	t.RecordEvent(domain.NewEvent(domain.EventTaskCreated, t.ID(), map[string]interface{}{
		"title": title,
	}))
	return t, nil
}

// DependenciesSatisfied reports whether every dependency id in completed
// is marked completed (caller supplies the lookup, since only the store
// knows the dependency graph's live statuses).
func (t *Task) DependenciesSatisfied(isCompleted func(domain.EntityID) bool) bool {
	for _, dep := range t.Dependencies {
		if !isCompleted(dep) {
			return false
		}
	}
	return true
}

// SkillScore returns a match score in [0,1] between the task's required
// skills and an agent's held skill set: 1.0 means every required skill is
// held; a positive partial score requires at least one overlapping skill.
func (t *Task) SkillScore(agentSkills map[string]bool) (score float64, missing []string) {
	if len(t.RequiredSkills) == 0 {
		return 1.0, nil
	}
	held := 0
	for _, s := range t.RequiredSkills {
		if agentSkills[s] {
			held++
		} else {
			missing = append(missing, s)
		}
	}
	if held == 0 {
		return 0, missing
	}
	return float64(held) / float64(len(t.RequiredSkills)), missing
}

// NextBackoff computes the exponential retry backoff per spec.md §4.4:
// 30_000 * 2^retryCount ms, evaluated against the retryCount *before* the
// increment for the attempt about to be scheduled (so the first retry is
// 30s, the second 60s, and so on).
func NextBackoff(retryCount int) time.Duration {
	ms := int64(30_000)
	for i := 0; i < retryCount; i++ {
		ms *= 2
	}
	return time.Duration(ms) * time.Millisecond
}

// ClassifyFailure maps an Executor error message to a FailureType, following
// spec.md §4.4 step 10's substring rules, checked in priority order.
func ClassifyFailure(message string) FailureType {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "timed out"):
		return FailureTimeout
	case strings.Contains(lower, "stalled") || strings.Contains(lower, "no output"):
		return FailureStalled
	case strings.HasPrefix(lower, "file_locked") || strings.Contains(lower, "blocked"):
		return FailureBlocked
	default:
		return FailureError
	}
}

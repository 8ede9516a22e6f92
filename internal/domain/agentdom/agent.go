// Package agentdom defines the Agent aggregate: a worker in the
// orchestrator's pool, its skills, current assignment, and lifetime stats.
package agentdom

import (
	"time"

	"github.com/sipeed/agentclaw/internal/domain"
)

// Status is the agent's coarse lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
)

// Error is a sentinel domain error for illegal agent operations.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrAlreadyBusy  Error = "agentdom: agent already has a current task"
	ErrNotAssigned  Error = "agentdom: task is not assigned to this agent"
	ErrEmptyName    Error = "agentdom: name is required"
)

// Stats accumulates lifetime counters for an agent.
type Stats struct {
	TasksCompleted     int64
	TasksFailed        int64
	TotalCompletionMs  int64
	StartTime          time.Time
}

// Agent is the aggregate root for one orchestrator worker.
type Agent struct {
	domain.AggregateRoot

	Name           string
	Status         Status
	Skills         map[string]bool
	AcquiredSkills map[string]bool
	CurrentTask    domain.EntityID
	CreatedAt      time.Time
	LastActive     time.Time
	Stats          Stats
}

// New constructs an idle Agent with the given starting skill set.
func New(name string, skills []string) (*Agent, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	now := time.Now().UTC()
	a := &Agent{
		Name:           name,
		Status:         StatusIdle,
		Skills:         toSet(skills),
		AcquiredSkills: map[string]bool{},
		CreatedAt:      now,
		LastActive:     now,
		Stats:          Stats{StartTime: now},
	}
	a.SetID(domain.NewID())
	return a, nil
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}

// SkillList returns the agent's held skills as a sorted-free slice.
func (a *Agent) SkillList() []string {
	out := make([]string, 0, len(a.Skills))
	for s := range a.Skills {
		out = append(out, s)
	}
	return out
}

// AcquireSkill adds a skill to both Skills and AcquiredSkills. Per spec.md
// §9, this mutation is local to the agent and must not be observed
// externally until the next agent.status publish.
func (a *Agent) AcquireSkill(skill string) {
	if a.Skills == nil {
		a.Skills = map[string]bool{}
	}
	if a.AcquiredSkills == nil {
		a.AcquiredSkills = map[string]bool{}
	}
	a.Skills[skill] = true
	a.AcquiredSkills[skill] = true
}

// MarkBusy assigns a task and transitions to busy. Fails if already assigned.
func (a *Agent) MarkBusy(taskID domain.EntityID) error {
	if !a.CurrentTask.IsZero() {
		return ErrAlreadyBusy
	}
	a.CurrentTask = taskID
	a.Status = StatusBusy
	a.LastActive = time.Now().UTC()
	return nil
}

// MarkIdle clears the current task and returns to idle.
func (a *Agent) MarkIdle() {
	a.CurrentTask = ""
	a.Status = StatusIdle
	a.LastActive = time.Now().UTC()
}

// MarkOffline transitions the agent to offline, e.g. during graceful shutdown.
func (a *Agent) MarkOffline() {
	a.Status = StatusOffline
	a.LastActive = time.Now().UTC()
}

// RecordCompletion updates stats for a successful task completion.
func (a *Agent) RecordCompletion(durationMs int64) {
	a.Stats.TasksCompleted++
	a.Stats.TotalCompletionMs += durationMs
	a.LastActive = time.Now().UTC()
}

// RecordFailure updates stats for a permanently failed task.
func (a *Agent) RecordFailure() {
	a.Stats.TasksFailed++
	a.LastActive = time.Now().UTC()
}

// Touch refreshes LastActive, used by heartbeat and status broadcasts.
func (a *Agent) Touch() {
	a.LastActive = time.Now().UTC()
}

// RegistryEntry is the JSON-serializable snapshot written to agents.json.
type RegistryEntry struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	Skills          []string   `json:"skills"`
	CurrentTask     *string    `json:"currentTask"`
	LastHeartbeat   time.Time  `json:"lastHeartbeat"`
	TasksCompleted  int64      `json:"tasksCompleted"`
	StartedAt       time.Time  `json:"startedAt"`
}

// ToRegistryEntry renders the agent into its agents.json representation.
func (a *Agent) ToRegistryEntry() RegistryEntry {
	var cur *string
	if !a.CurrentTask.IsZero() {
		s := a.CurrentTask.String()
		cur = &s
	}
	return RegistryEntry{
		ID:             a.ID().String(),
		Name:           a.Name,
		Status:         string(a.Status),
		Skills:         a.SkillList(),
		CurrentTask:    cur,
		LastHeartbeat:  a.LastActive,
		TasksCompleted: a.Stats.TasksCompleted,
		StartedAt:      a.Stats.StartTime,
	}
}

// Package objective defines the optional Objective/Milestone layer consumed
// by ObjectivePlanner and ProgressAnalyzer.
package objective

import (
	"github.com/sipeed/agentclaw/internal/domain"
)

// Status is the lifecycle state of an Objective or Milestone.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Milestone is one phase of an Objective with explicit completion criteria.
type Milestone struct {
	ID                 domain.EntityID
	Title              string
	CompletionCriteria []string
	EstimatedTasks     int
	TaskIDs            []domain.EntityID
	Status             Status
}

// Objective is the aggregate root for a higher-level goal broken into
// milestone-sized batches of tasks generated by the ObjectivePlanner.
type Objective struct {
	domain.AggregateRoot

	Title                 string
	Status                Status
	Milestones            []*Milestone
	CurrentMilestoneIndex int
	ProgressPercent       float64
	GenerationRound       int
}

// Error is a sentinel domain error for illegal objective operations.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrNoMilestones     Error = "objective: at least one milestone is required"
	ErrIndexOutOfBounds Error = "objective: milestone index out of bounds"
)

// New constructs an Objective with the given milestone titles and criteria,
// starting the first milestone in_progress.
func New(title string, milestones []*Milestone) (*Objective, error) {
	if len(milestones) == 0 {
		return nil, ErrNoMilestones
	}
	o := &Objective{
		Title:       title,
		Status:      StatusInProgress,
		Milestones:  milestones,
		GenerationRound: 0,
	}
	o.SetID(domain.NewID())
	milestones[0].Status = StatusInProgress
	o.RecordEvent(domain.NewEvent(domain.EventObjectiveCreated, o.ID(), map[string]interface{}{
		"title": title,
	}))
	return o, nil
}

// CurrentMilestone returns the milestone currently in progress, if any.
func (o *Objective) CurrentMilestone() *Milestone {
	if o.CurrentMilestoneIndex < 0 || o.CurrentMilestoneIndex >= len(o.Milestones) {
		return nil
	}
	return o.Milestones[o.CurrentMilestoneIndex]
}

// IsLastMilestone reports whether the current milestone is the final one.
func (o *Objective) IsLastMilestone() bool {
	return o.CurrentMilestoneIndex == len(o.Milestones)-1
}

// AdvanceMilestone completes the current milestone and, if another exists,
// starts the next one; otherwise marks the whole Objective completed.
func (o *Objective) AdvanceMilestone() error {
	cur := o.CurrentMilestone()
	if cur == nil {
		return ErrIndexOutOfBounds
	}
	cur.Status = StatusCompleted
	if o.IsLastMilestone() {
		o.Status = StatusCompleted
		o.ProgressPercent = 100
		o.RecordEvent(domain.NewEvent(domain.EventObjectiveCompleted, o.ID(), nil))
		return nil
	}
	o.CurrentMilestoneIndex++
	next := o.Milestones[o.CurrentMilestoneIndex]
	next.Status = StatusInProgress
	o.ProgressPercent = 100 * float64(o.CurrentMilestoneIndex) / float64(len(o.Milestones))
	o.RecordEvent(domain.NewEvent(domain.EventMilestoneAdvanced, o.ID(), map[string]interface{}{
		"milestone_index": o.CurrentMilestoneIndex,
	}))
	return nil
}

// RecordGeneration bumps the generation round counter, called each time the
// ObjectivePlanner successfully produces a new batch of tasks.
func (o *Objective) RecordGeneration(taskIDs []domain.EntityID) {
	o.GenerationRound++
	cur := o.CurrentMilestone()
	if cur != nil {
		cur.TaskIDs = append(cur.TaskIDs, taskIDs...)
	}
}

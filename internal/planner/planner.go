// Package planner implements ObjectivePlanner and ProgressAnalyzer (spec.md
// §4.7): watermark-driven task-batch generation and milestone
// completion-criteria judging, both backed by a pluggable llm.Provider.
//
// The milestone/criteria bookkeeping mirrors pkg/domain/workflow/workflow.go's
// Step/Execution/StepResult aggregate pattern, adapted to objective.Milestone.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sipeed/agentclaw/internal/domain"
	"github.com/sipeed/agentclaw/internal/domain/objective"
	"github.com/sipeed/agentclaw/internal/domain/task"
	"github.com/sipeed/agentclaw/internal/llm"
	"github.com/sipeed/agentclaw/internal/logger"
	"github.com/sipeed/agentclaw/internal/store"
)

// Watermarks configures ObjectivePlanner's batch-generation thresholds.
type Watermarks struct {
	Low      int
	High     int
	Max      int
	Cooldown time.Duration
}

func (w Watermarks) withDefaults() Watermarks {
	if w.Low <= 0 {
		w.Low = 2
	}
	if w.High <= 0 {
		w.High = 8
	}
	if w.Max <= 0 {
		w.Max = 15
	}
	if w.Cooldown <= 0 {
		w.Cooldown = 30 * time.Second
	}
	return w
}

// generatedTask is the shape the planner's LLM response is expected to
// produce, one per new task in a batch.
type generatedTask struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Priority         string   `json:"priority"`
	RequiredSkills   []string `json:"requiredSkills"`
	EstimatedMinutes int      `json:"estimatedMinutes"`
	DependsOnBatch   []int    `json:"dependsOnBatch"` // indices into this same batch
}

// ObjectivePlanner generates new tasks for an Objective's current milestone
// once the pending-task queue runs low, subject to a cooldown.
type ObjectivePlanner struct {
	watermarks        Watermarks
	provider          llm.Provider
	tasks             store.TaskStore
	memories          store.MemoryStore
	lastGenerationTime time.Time
}

// New constructs an ObjectivePlanner.
func New(watermarks Watermarks, provider llm.Provider, tasks store.TaskStore, memories store.MemoryStore) *ObjectivePlanner {
	return &ObjectivePlanner{
		watermarks: watermarks.withDefaults(),
		provider:   provider,
		tasks:      tasks,
		memories:   memories,
	}
}

// MaybeGenerate evaluates the watermark rule against pendingCount and, if
// triggered, generates a new batch of tasks for obj's current milestone.
// Returns the number of tasks created (0 if the rule did not trigger).
func (p *ObjectivePlanner) MaybeGenerate(ctx context.Context, obj *objective.Objective, pendingCount int) (int, error) {
	if !p.lastGenerationTime.IsZero() && time.Since(p.lastGenerationTime) < p.watermarks.Cooldown {
		return 0, nil
	}
	if pendingCount >= p.watermarks.Low || pendingCount >= p.watermarks.High {
		return 0, nil
	}

	batchSize := min3(p.watermarks.High-pendingCount, p.watermarks.Max-pendingCount, 8)
	if batchSize <= 0 {
		return 0, nil
	}

	milestone := obj.CurrentMilestone()
	if milestone == nil {
		return 0, nil
	}

	contextMemories, err := p.memories.Query(ctx, milestone.Title, 5)
	if err != nil {
		logger.WarnCF("planner", "memory query failed", map[string]interface{}{"error": err.Error()})
	}

	generated, err := p.generateBatch(ctx, milestone, batchSize, contextMemories)
	if err != nil {
		return 0, err
	}

	created := 0
	idToIndex := map[int]domain.EntityID{}
	for i, g := range generated {
		t, err := task.New(g.Title, g.Description, priorityOrDefault(g.Priority))
		if err != nil {
			logger.WarnCF("planner", "skip invalid generated task", map[string]interface{}{"error": err.Error()})
			continue
		}
		t.RequiredSkills = g.RequiredSkills
		t.EstimatedMinutes = g.EstimatedMinutes
		for _, depIdx := range g.DependsOnBatch {
			if depID, ok := idToIndex[depIdx]; ok {
				t.Dependencies = append(t.Dependencies, depID)
			}
		}
		status := task.StatusReady
		if len(t.Dependencies) > 0 {
			status = task.StatusPending
		}
		stored, err := p.tasks.CreateWithStatus(ctx, t, status)
		if err != nil {
			logger.WarnCF("planner", "create generated task failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		idToIndex[i] = stored.ID()
		created++
	}

	obj.RecordGeneration(milestoneTaskIDs(idToIndex))
	p.lastGenerationTime = time.Now()
	return created, nil
}

func milestoneTaskIDs(idx map[int]domain.EntityID) []domain.EntityID {
	out := make([]domain.EntityID, 0, len(idx))
	for _, id := range idx {
		out = append(out, id)
	}
	return out
}

func priorityOrDefault(p string) task.Priority {
	switch task.Priority(p) {
	case task.PriorityCritical, task.PriorityHigh, task.PriorityMedium, task.PriorityLow:
		return task.Priority(p)
	default:
		return task.PriorityMedium
	}
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func (p *ObjectivePlanner) generateBatch(ctx context.Context, milestone *objective.Milestone, batchSize int, memories []*store.MemoryEntry) ([]generatedTask, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Milestone: %s\nCompletion criteria:\n", milestone.Title)
	for _, c := range milestone.CompletionCriteria {
		fmt.Fprintf(&sb, "- %s\n", c)
	}
	if len(memories) > 0 {
		sb.WriteString("\nRelevant context:\n")
		for _, m := range memories {
			fmt.Fprintf(&sb, "- %s\n", m.Content)
		}
	}
	fmt.Fprintf(&sb, "\nGenerate up to %d new tasks as a JSON array of objects with fields "+
		"title, description, priority, requiredSkills, estimatedMinutes, dependsOnBatch (indices into this array).", batchSize)

	resp, err := p.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "You plan incremental engineering tasks for an autonomous agent swarm. Respond with JSON only."},
			{Role: "user", Content: sb.String()},
		},
		MaxTokens: 2048,
	})
	if err != nil {
		return nil, fmt.Errorf("planner: generate batch: %w", err)
	}

	var batch []generatedTask
	if err := json.Unmarshal([]byte(extractJSONArray(resp.Text)), &batch); err != nil {
		return nil, fmt.Errorf("planner: parse generated batch: %w", err)
	}
	if len(batch) > batchSize {
		batch = batch[:batchSize]
	}
	return batch, nil
}

// extractJSONArray trims any leading/trailing prose a model might add
// around the JSON array the prompt asked for.
func extractJSONArray(s string) string {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end < 0 || end < start {
		return "[]"
	}
	return s[start : end+1]
}

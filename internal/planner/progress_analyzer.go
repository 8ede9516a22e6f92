package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sipeed/agentclaw/internal/domain/objective"
	"github.com/sipeed/agentclaw/internal/domain/task"
	"github.com/sipeed/agentclaw/internal/llm"
	"github.com/sipeed/agentclaw/internal/logger"
	"github.com/sipeed/agentclaw/internal/store"
)

// judgement is the structured verdict the model returns when asked whether
// a milestone's completion criteria are met.
type judgement struct {
	Satisfied bool   `json:"satisfied"`
	Reasoning string `json:"reasoning"`
}

// ProgressAnalyzer fires once every task belonging to the current milestone
// has reached a terminal state, judges whether the milestone's completion
// criteria are met, and either advances the Objective to its next milestone
// or completes it.
type ProgressAnalyzer struct {
	provider llm.Provider
	tasks    store.TaskStore
	onEnd    func(end string)
}

// NewProgressAnalyzer constructs a ProgressAnalyzer. onEnd, if non-nil, is invoked with
// "objective_complete" when the final milestone finishes, mirroring the
// RuntimeGovernor.SignalObjectiveComplete call site.
func NewProgressAnalyzer(provider llm.Provider, tasks store.TaskStore, onEnd func(end string)) *ProgressAnalyzer {
	return &ProgressAnalyzer{provider: provider, tasks: tasks, onEnd: onEnd}
}

// Evaluate checks obj's current milestone and, if every one of its tasks is
// terminal (completed or failed), judges completion and advances the
// objective. Returns true if the milestone was judged complete.
func (a *ProgressAnalyzer) Evaluate(ctx context.Context, obj *objective.Objective) (bool, error) {
	milestone := obj.CurrentMilestone()
	if milestone == nil || len(milestone.TaskIDs) == 0 {
		return false, nil
	}

	var completed, failed int
	var summaries []string
	for _, id := range milestone.TaskIDs {
		t, err := a.tasks.Get(ctx, id)
		if err != nil || t == nil {
			continue
		}
		switch t.Status {
		case task.StatusCompleted:
			completed++
			summaries = append(summaries, fmt.Sprintf("[done] %s", t.Title))
		case task.StatusFailed:
			failed++
			summaries = append(summaries, fmt.Sprintf("[failed] %s: %s", t.Title, t.LastError))
		default:
			return false, nil // still in flight, nothing to evaluate yet
		}
	}

	verdict, err := a.judge(ctx, milestone, summaries)
	if err != nil {
		return false, err
	}

	logger.InfoCF("planner", "milestone evaluated", map[string]interface{}{
		"milestone": milestone.Title, "satisfied": verdict.Satisfied,
		"completed": completed, "failed": failed, "reasoning": verdict.Reasoning,
	})

	if !verdict.Satisfied {
		return false, nil
	}

	wasLast := obj.IsLastMilestone()
	if err := obj.AdvanceMilestone(); err != nil {
		return false, fmt.Errorf("planner: advance milestone: %w", err)
	}
	if wasLast && a.onEnd != nil {
		a.onEnd("objective_complete")
	}
	return true, nil
}

func (a *ProgressAnalyzer) judge(ctx context.Context, milestone *objective.Milestone, summaries []string) (judgement, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Milestone: %s\nCompletion criteria:\n", milestone.Title)
	for _, c := range milestone.CompletionCriteria {
		fmt.Fprintf(&sb, "- %s\n", c)
	}
	sb.WriteString("\nTask outcomes:\n")
	for _, s := range summaries {
		fmt.Fprintf(&sb, "- %s\n", s)
	}
	sb.WriteString("\nRespond with JSON only: {\"satisfied\": bool, \"reasoning\": string}.")

	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "You judge whether a milestone's completion criteria have been met given its task outcomes. Be conservative: if criteria are ambiguous or outcomes are mixed, prefer not satisfied."},
			{Role: "user", Content: sb.String()},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return judgement{}, fmt.Errorf("planner: judge milestone: %w", err)
	}

	var v judgement
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Text)), &v); err != nil {
		return judgement{}, fmt.Errorf("planner: parse judgement: %w", err)
	}
	return v, nil
}

func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return "{}"
	}
	return s[start : end+1]
}

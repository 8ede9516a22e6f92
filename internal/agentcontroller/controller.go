// Package agentcontroller implements the AgentController lifecycle: a
// single worker's lookForWork/claimAndExecute/retry/gracefulStop cycle.
//
// The routing and retry-ceiling decisions are grounded on
// pkg/orchestration/orchestrator.go's RouteTask/ClaimTask/FailTask; the
// store-side completion/release effects follow
// pkg/integration/kanban/kanban.go's ClaimTask/ReleaseTask/CompleteTask; the
// agent state-transition style follows pkg/domain/agent/agent.go's
// behavioral methods (Start/Stop/MarkProcessing).
package agentcontroller

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/agentclaw/internal/domain"
	"github.com/sipeed/agentclaw/internal/domain/agentdom"
	"github.com/sipeed/agentclaw/internal/domain/task"
	"github.com/sipeed/agentclaw/internal/executor"
	"github.com/sipeed/agentclaw/internal/logger"
	"github.com/sipeed/agentclaw/internal/mailbus"
	"github.com/sipeed/agentclaw/internal/store"
)

// Phase is the current stage within an in-flight task execution.
type Phase string

const (
	PhaseIdle       Phase = ""
	PhaseAnalyzing  Phase = "analyzing"
	PhaseExecuting  Phase = "executing"
	PhaseTesting    Phase = "testing"
	PhaseFinalizing Phase = "finalizing"
)

// SkillRegistry answers whether a missing skill could be acquired on the
// fly. A nil SkillRegistry means no skill is ever acquirable.
type SkillRegistry interface {
	CanAcquire(skill string) bool
}

// Config tunes the controller's timers and leasing behavior. Zero values
// fall back to spec defaults.
type Config struct {
	PollInterval    time.Duration
	HeartbeatPeriod time.Duration
	StatusPeriod    time.Duration
	LeaseTTL        time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.HeartbeatPeriod <= 0 {
		c.HeartbeatPeriod = 30 * time.Second
	}
	if c.StatusPeriod <= 0 {
		c.StatusPeriod = 10 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 120 * time.Second
	}
	return c
}

// filePathPattern is a conservative extractor for probable source file
// paths mentioned in a task's title/description: a run of path-safe
// characters containing at least one '/' and ending in a short extension,
// or a bare "name.ext" token — restricted to the common source directories
// a task description is likely to reference.
var filePathPattern = regexp.MustCompile(`\b(?:[\w-]+/)*(?:src|internal|pkg|cmd|lib|test|tests|cli)?/?[\w.-]+\.[A-Za-z0-9]{1,8}\b`)

func extractFilePaths(title, description string) []string {
	combined := title + "\n" + description
	matches := filePathPattern.FindAllString(combined, -1)
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Controller runs one agent's full lifecycle: subscribe, poll, claim,
// execute, retry-or-complete, and graceful shutdown. Exactly one
// claimAndExecute runs at a time per Controller, matching the single
// Executor in flight per instance.
type Controller struct {
	cfg Config

	mu            sync.Mutex
	agent         *agentdom.Agent
	currentTask   *task.Task
	taskStartedAt time.Time
	phase         Phase

	taskStore     store.TaskStore
	memoryStore   store.MemoryStore
	bus           *mailbus.Bus
	exec          *executor.Executor
	skillRegistry SkillRegistry
	workDir       string

	subs   []mailbus.SubscriptionID
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Controller for agent, wired to the shared stores, bus,
// and executor. skillRegistry may be nil.
func New(agent *agentdom.Agent, taskStore store.TaskStore, memoryStore store.MemoryStore, bus *mailbus.Bus, exec *executor.Executor, skillRegistry SkillRegistry, workDir string, cfg Config) *Controller {
	return &Controller{
		cfg:           cfg.withDefaults(),
		agent:         agent,
		taskStore:     taskStore,
		memoryStore:   memoryStore,
		bus:           bus,
		exec:          exec,
		skillRegistry: skillRegistry,
		workDir:       workDir,
		stopCh:        make(chan struct{}),
	}
}

// Agent returns the controller's underlying agent aggregate, for the
// Orchestrator's registry writer and governors.
func (c *Controller) Agent() *agentdom.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *c.agent
	return &cp
}

// Start subscribes to task topics, begins the heartbeat/status/poll
// tickers, publishes agent.started, and runs lookForWork once immediately.
func (c *Controller) Start(ctx context.Context) {
	onWake := func(mailbus.Message) { c.lookForWork(ctx) }
	c.subs = append(c.subs,
		c.bus.Subscribe(mailbus.TopicTaskCreated, onWake),
		c.bus.Subscribe(mailbus.TopicTaskUpdated, onWake),
		c.bus.Subscribe(mailbus.TopicTaskAssigned, onWake),
	)

	c.wg.Add(3)
	go c.tickerLoop(ctx, c.cfg.HeartbeatPeriod, c.heartbeat)
	go c.tickerLoop(ctx, c.cfg.StatusPeriod, c.broadcastStatus)
	go c.tickerLoop(ctx, c.cfg.PollInterval, func() { c.lookForWork(ctx) })

	c.mu.Lock()
	name := c.agent.Name
	skills := c.agent.SkillList()
	id := c.agent.ID()
	c.mu.Unlock()

	c.bus.Publish(mailbus.Message{
		Type: mailbus.TopicAgentStarted,
		From: id.String(),
		Payload: map[string]interface{}{
			"agentId": id.String(),
			"name":    name,
			"skills":  skills,
		},
	})

	c.lookForWork(ctx)
}

func (c *Controller) tickerLoop(ctx context.Context, interval time.Duration, fn func()) {
	defer c.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-t.C:
			fn()
		}
	}
}

func (c *Controller) heartbeat() {
	defer c.swallow("heartbeat")
	c.mu.Lock()
	id := c.agent.ID()
	c.agent.Touch()
	c.mu.Unlock()
	c.bus.SendHeartbeat(id.String())
}

func (c *Controller) broadcastStatus() {
	defer c.swallow("status broadcast")
	c.mu.Lock()
	id := c.agent.ID()
	name := c.agent.Name
	status := c.agent.Status
	var taskID string
	if c.currentTask != nil {
		taskID = c.currentTask.ID().String()
	}
	phase := c.phase
	elapsed := int64(0)
	if !c.taskStartedAt.IsZero() {
		elapsed = time.Since(c.taskStartedAt).Milliseconds()
	}
	stats := c.agent.Stats
	c.mu.Unlock()

	c.bus.Publish(mailbus.Message{
		Type: mailbus.TopicAgentStatus,
		From: id.String(),
		Payload: map[string]interface{}{
			"agentId":        id.String(),
			"name":           name,
			"status":         string(status),
			"currentTask":    taskID,
			"phase":          string(phase),
			"elapsedMs":      elapsed,
			"tasksCompleted": stats.TasksCompleted,
			"tasksFailed":    stats.TasksFailed,
		},
	})
}

// swallow recovers from and logs a panic in a best-effort tick, matching
// spec.md §4.4's "failures are logged and swallowed" requirement.
func (c *Controller) swallow(what string) {
	if r := recover(); r != nil {
		logger.ErrorCF("agentcontroller", "recovered panic", map[string]interface{}{"what": what, "panic": r})
	}
}

type scoredTask struct {
	t     *task.Task
	score float64
}

// lookForWork fetches ready tasks, scores them against the agent's skills,
// and claims the best candidate. No-reentrant: a non-idle agent returns
// immediately.
func (c *Controller) lookForWork(ctx context.Context) {
	defer c.swallow("lookForWork")

	c.mu.Lock()
	idle := c.agent.Status == agentdom.StatusIdle
	c.mu.Unlock()
	if !idle {
		return
	}

	ready, err := c.taskStore.GetReady(ctx)
	if err != nil {
		logger.WarnCF("agentcontroller", "GetReady failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if len(ready) == 0 {
		return
	}

	c.mu.Lock()
	skills := c.agent.Skills
	c.mu.Unlock()

	var candidates []scoredTask
	var acquireFor *task.Task
	var acquireSkills []string
	for _, t := range ready {
		score, missing := t.SkillScore(skills)
		canAcquire := false
		if len(missing) > 0 && c.skillRegistry != nil {
			canAcquire = true
			for _, m := range missing {
				if !c.skillRegistry.CanAcquire(m) {
					canAcquire = false
					break
				}
			}
		}
		if score > 0 || canAcquire {
			candidates = append(candidates, scoredTask{t: t, score: score})
			if canAcquire && score == 0 {
				acquireFor, acquireSkills = t, missing
			}
		}
	}
	if len(candidates) == 0 {
		return
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		wi, wj := candidates[i].t.Priority.Weight(), candidates[j].t.Priority.Weight()
		if wi != wj {
			return wi > wj
		}
		return candidates[i].score > candidates[j].score
	})

	top := candidates[0].t
	if acquireFor != nil && acquireFor.ID() == top.ID() {
		c.mu.Lock()
		for _, s := range acquireSkills {
			c.agent.AcquireSkill(s)
		}
		c.mu.Unlock()
	}

	c.claimAndExecute(ctx, top)
}

// reasoningPayload is the structured justification published with
// task.claimed, per spec.md §4.4 step 3.
type reasoningPayload struct {
	CorrelationID    string   `json:"correlationId"`
	MatchedSkills    []string `json:"matchedSkills"`
	Score            float64  `json:"score"`
	EstimatedMinutes int      `json:"estimatedMinutes"`
	Priority         string   `json:"priority"`
	TaskType         string   `json:"taskType"`
}

func (c *Controller) claimAndExecute(ctx context.Context, t *task.Task) {
	c.mu.Lock()
	agentID := c.agent.ID()
	agentName := c.agent.Name
	skills := c.agent.Skills
	c.mu.Unlock()

	claimed, err := c.taskStore.Claim(ctx, t.ID(), agentID)
	if err != nil {
		logger.WarnCF("agentcontroller", "claim failed", map[string]interface{}{"task": t.ID().String(), "error": err.Error()})
		return
	}
	if claimed == nil {
		return // another agent won the race
	}

	c.mu.Lock()
	c.currentTask = claimed
	c.taskStartedAt = time.Now()
	c.phase = PhaseAnalyzing
	if err := c.agent.MarkBusy(claimed.ID()); err != nil {
		c.mu.Unlock()
		logger.ErrorCF("agentcontroller", "MarkBusy failed", map[string]interface{}{"error": err.Error()})
		return
	}
	c.mu.Unlock()

	score, missing := claimed.SkillScore(skills)
	matched := make([]string, 0, len(claimed.RequiredSkills)-len(missing))
	for _, s := range claimed.RequiredSkills {
		if skills[s] {
			matched = append(matched, s)
		}
	}
	c.bus.Publish(mailbus.Message{
		Type: mailbus.TopicTaskClaimed,
		From: agentID.String(),
		Payload: map[string]interface{}{
			"taskId":  claimed.ID().String(),
			"agentId": agentID.String(),
			"reasoning": reasoningPayload{
				CorrelationID:    uuid.NewString(),
				MatchedSkills:    matched,
				Score:            score,
				EstimatedMinutes: claimed.EstimatedMinutes,
				Priority:         string(claimed.Priority),
				TaskType:         classifyTaskType(claimed),
			},
		},
	})

	memories, err := c.memoryStore.Query(ctx, claimed.Title+" "+claimed.Description, 5)
	if err != nil {
		logger.WarnCF("agentcontroller", "memory query failed", map[string]interface{}{"error": err.Error()})
	}

	c.broadcastProgress(claimed.ID(), agentID, PhaseAnalyzing, 10)

	paths := extractFilePaths(claimed.Title, claimed.Description)
	var acquired []string
	leaseFailure := ""
	for _, p := range paths {
		if c.bus.AcquireLease(p, agentID.String(), c.cfg.LeaseTTL) {
			acquired = append(acquired, p)
			continue
		}
		_, holder := c.bus.IsLeased(p)
		leaseFailure = fmt.Sprintf("FILE_LOCKED:%s:%s", p, holder)
		break
	}
	if leaseFailure != "" {
		c.finishFailure(ctx, claimed, agentID, fmt.Errorf("%s", leaseFailure), acquired)
		return
	}
	if len(acquired) > 0 {
		c.bus.Publish(mailbus.Message{
			Type:    mailbus.TopicFileLock,
			From:    agentID.String(),
			Payload: map[string]interface{}{"taskId": claimed.ID().String(), "paths": acquired},
		})
	}

	c.broadcastProgress(claimed.ID(), agentID, PhaseExecuting, 30)

	updated, err := c.taskStore.Update(ctx, claimed.ID(), func(tk *task.Task) error {
		tk.Status = task.StatusInProgress
		return nil
	})
	if err != nil || updated == nil {
		c.finishFailure(ctx, claimed, agentID, fmt.Errorf("update to in_progress failed: %v", err), acquired)
		return
	}

	c.mu.Lock()
	c.phase = PhaseExecuting
	c.mu.Unlock()

	ec := executor.ExecutionContext{
		Task:        updated,
		Memories:    memories,
		WorkDir:     c.workDir,
		AgentID:     agentID,
		AgentName:   agentName,
		AgentSkills: updated.RequiredSkills,
	}
	result, err := c.exec.Execute(ctx, ec, nil)
	if err != nil {
		c.finishFailure(ctx, updated, agentID, err, acquired)
		return
	}
	if !result.Success {
		c.finishFailure(ctx, updated, agentID, fmt.Errorf("%s", result.Error), acquired)
		return
	}

	c.finishSuccess(ctx, updated, agentID, result.DurationMs, acquired)
}

func classifyTaskType(t *task.Task) string {
	if len(t.RequiredSkills) == 0 {
		return "general"
	}
	return t.RequiredSkills[0]
}

func (c *Controller) broadcastProgress(taskID, agentID domain.EntityID, phase Phase, pct int) {
	c.mu.Lock()
	c.phase = phase
	c.mu.Unlock()
	c.bus.Publish(mailbus.Message{
		Type: mailbus.TopicTaskProgress,
		From: agentID.String(),
		Payload: map[string]interface{}{
			"taskId":  taskID.String(),
			"agentId": agentID.String(),
			"phase":   string(phase),
			"percent": pct,
		},
	})
}

func (c *Controller) releaseLeases(paths []string, agentID domain.EntityID) {
	if len(paths) == 0 {
		return
	}
	for _, p := range paths {
		c.bus.ReleaseLease(p, agentID.String())
	}
	c.bus.Publish(mailbus.Message{
		Type:    mailbus.TopicFileUnlock,
		From:    agentID.String(),
		Payload: map[string]interface{}{"paths": paths},
	})
}

func (c *Controller) finishSuccess(ctx context.Context, t *task.Task, agentID domain.EntityID, durationMs int64, acquired []string) {
	actualMinutes := int((durationMs + 30_000) / 60_000)
	now := time.Now().UTC()
	updated, err := c.taskStore.Update(ctx, t.ID(), func(tk *task.Task) error {
		tk.Status = task.StatusCompleted
		tk.CompletedAt = &now
		tk.ActualMinutes = actualMinutes
		return nil
	})
	if err != nil {
		logger.ErrorCF("agentcontroller", "completion update failed", map[string]interface{}{"error": err.Error()})
	}

	c.mu.Lock()
	c.agent.RecordCompletion(durationMs)
	c.mu.Unlock()

	if _, err := c.memoryStore.Store(ctx, &store.MemoryEntry{
		Type:       "agent_learning",
		Content:    fmt.Sprintf("Completed task %q (%s) in %dms", t.Title, t.ID().String(), durationMs),
		Importance: 0.6,
		TaskID:     t.ID(),
		AgentID:    agentID,
	}); err != nil {
		logger.WarnCF("agentcontroller", "memory store failed", map[string]interface{}{"error": err.Error()})
	}

	c.bus.Publish(mailbus.Message{
		Type: mailbus.TopicTaskCompleted,
		From: agentID.String(),
		Payload: map[string]interface{}{
			"taskId":        t.ID().String(),
			"agentId":       agentID.String(),
			"durationMs":    durationMs,
			"actualMinutes": actualMinutes,
		},
	})

	_ = updated
	c.releaseLeases(acquired, agentID)
	c.endCycle()
}

func (c *Controller) finishFailure(ctx context.Context, t *task.Task, agentID domain.EntityID, causeErr error, acquired []string) {
	msg := causeErr.Error()
	failureType := task.ClassifyFailure(msg)
	willRetry := t.RetryCount+1 <= t.MaxRetries

	if willRetry {
		nextRetryIn := task.NextBackoff(t.RetryCount)
		now := time.Now().UTC()
		_, err := c.taskStore.Update(ctx, t.ID(), func(tk *task.Task) error {
			tk.Status = task.StatusReady
			tk.AssignedAgent = ""
			tk.RetryCount++
			tk.LastError = msg
			tk.LastAttemptAt = &now
			tk.FailureType = failureType
			return nil
		})
		if err != nil {
			logger.ErrorCF("agentcontroller", "retry update failed", map[string]interface{}{"error": err.Error()})
		}
		c.bus.Publish(mailbus.Message{
			Type: mailbus.TopicTaskRetryScheduled,
			From: agentID.String(),
			Payload: map[string]interface{}{
				"taskId":      t.ID().String(),
				"retryCount":  t.RetryCount + 1,
				"nextRetryIn": nextRetryIn.Milliseconds(),
				"failureType": string(failureType),
			},
		})
	} else {
		now := time.Now().UTC()
		c.mu.Lock()
		c.agent.RecordFailure()
		c.mu.Unlock()
		_, err := c.taskStore.Update(ctx, t.ID(), func(tk *task.Task) error {
			tk.Status = task.StatusFailed
			tk.LastError = msg
			tk.LastAttemptAt = &now
			tk.FailureType = failureType
			return nil
		})
		if err != nil {
			logger.ErrorCF("agentcontroller", "failure update failed", map[string]interface{}{"error": err.Error()})
		}
		c.bus.Publish(mailbus.Message{
			Type: mailbus.TopicTaskFailed,
			From: agentID.String(),
			Payload: map[string]interface{}{
				"taskId":      t.ID().String(),
				"failureType": string(failureType),
				"error":       msg,
			},
		})
	}

	c.releaseLeases(acquired, agentID)
	c.endCycle()
}

// endCycle is the step 11 "finally": clear current task, reset phase, go
// idle, and schedule lookForWork after 1 second.
func (c *Controller) endCycle() {
	c.mu.Lock()
	c.currentTask = nil
	c.phase = PhaseIdle
	c.agent.MarkIdle()
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-time.After(1 * time.Second):
			c.lookForWork(context.Background())
		case <-c.stopCh:
		}
	}()
}

// GracefulStop persists a shutdown memory, cancels the timers, unsubscribes
// from every topic, publishes agent.stopped, and transitions offline.
func (c *Controller) GracefulStop(ctx context.Context) {
	c.mu.Lock()
	agentName := c.agent.Name
	agentID := c.agent.ID()
	c.mu.Unlock()

	if _, err := c.memoryStore.Store(ctx, &store.MemoryEntry{
		Type:       "agent_learning",
		Content:    fmt.Sprintf("agent %s shutdown", agentName),
		Importance: 0.3,
		AgentID:    agentID,
		Metadata:   map[string]string{"agentName": agentName, "shutdownAt": time.Now().UTC().Format(time.RFC3339)},
	}); err != nil {
		logger.WarnCF("agentcontroller", "shutdown memory store failed", map[string]interface{}{"error": err.Error()})
	}

	close(c.stopCh)
	c.wg.Wait()

	for _, id := range c.subs {
		c.bus.Unsubscribe(id)
	}

	c.exec.Abort()

	c.bus.Publish(mailbus.Message{
		Type:    mailbus.TopicAgentStopped,
		From:    agentID.String(),
		Payload: map[string]interface{}{"agentId": agentID.String(), "name": agentName},
	})

	c.mu.Lock()
	c.agent.MarkOffline()
	c.mu.Unlock()
}

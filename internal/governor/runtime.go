// Package governor implements the RuntimeGovernor and MemoryGovernor end
// states from spec.md §4.5: bounded-lifetime process supervision and
// heap-pressure monitoring.
//
// The "mutate under lock, expose a copied snapshot" discipline is grounded
// on pkg/orchestration/orchestrator.go's Status() method; crash-recovery
// persistence follows pkg/infrastructure/persistence/repositories.go's
// JSONStore.Put serialize-then-write idiom, upgraded to temp-file-then-
// rename for the one file whose corruption would be observed on restart.
package governor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sipeed/agentclaw/internal/domain"
	"github.com/sipeed/agentclaw/internal/logger"
)

// EndState is the terminal reason a RuntimeGovernor stopped.
type EndState string

const (
	EndMaxCyclesReached    EndState = "max_cycles_reached"
	EndMaxRuntimeReached   EndState = "max_runtime_reached"
	EndIdleTimeout         EndState = "idle_timeout"
	EndMaxFailuresReached  EndState = "max_failures_reached"
	EndAllTasksComplete    EndState = "all_tasks_complete"
	EndObjectiveComplete   EndState = "objective_complete"
	EndManualStop          EndState = "manual_stop"
)

// Limits configures RuntimeGovernor thresholds. A zero value disables that
// particular limit.
type Limits struct {
	MaxCycles              int
	MaxRuntime             time.Duration
	IdleTimeout            time.Duration
	MaxConsecutiveFailures int
	MinQueueSize           int
	CheckInterval          time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.CheckInterval <= 0 {
		l.CheckInterval = 5 * time.Second
	}
	return l
}

// counters is the persisted, crash-recoverable state.
type counters struct {
	CycleCount          int        `json:"cycleCount"`
	TasksCompleted      int        `json:"tasksCompleted"`
	TasksFailed         int        `json:"tasksFailed"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	StartedAt           time.Time  `json:"startedAt"`
	LastWorkAt          *time.Time `json:"lastWorkAt,omitempty"`
	Running             bool       `json:"running"`
	EndState            *EndState  `json:"endState,omitempty"`
}

// RuntimeGovernor enforces cycle, runtime, idle, and failure-ceiling limits,
// persisting its counters so a crash (process exit with endState still nil)
// can be resumed on the next start.
type RuntimeGovernor struct {
	limits   Limits
	statePath string

	mu sync.Mutex
	c  counters

	stopCh chan struct{}
	wg     sync.WaitGroup

	onEnd func(EndState)
}

// New constructs a RuntimeGovernor whose crash-recovery file lives at
// statePath. onEnd is invoked once, exactly when the governor transitions
// to a terminal EndState.
func New(limits Limits, statePath string, onEnd func(EndState)) *RuntimeGovernor {
	g := &RuntimeGovernor{
		limits:    limits.withDefaults(),
		statePath: statePath,
		stopCh:    make(chan struct{}),
		onEnd:     onEnd,
	}
	g.resumeOrInit()
	return g
}

func (g *RuntimeGovernor) resumeOrInit() {
	if g.statePath != "" {
		if data, err := os.ReadFile(g.statePath); err == nil {
			var prior counters
			if err := json.Unmarshal(data, &prior); err == nil && prior.EndState == nil {
				g.c = prior
				g.c.Running = true
				logger.InfoCF("governor", "resumed counters after crash", map[string]interface{}{
					"cycleCount": prior.CycleCount,
				})
				return
			}
		}
	}
	g.c = counters{StartedAt: time.Now().UTC(), Running: true}
}

// Start launches the periodic limit-check ticker.
func (g *RuntimeGovernor) Start() {
	g.persist()
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		t := time.NewTicker(g.limits.CheckInterval)
		defer t.Stop()
		for {
			select {
			case <-g.stopCh:
				return
			case <-t.C:
				g.checkTimeBasedLimits()
			}
		}
	}()
}

// Stop ends the governor with the given end state (manual or terminal) and
// persists final counters.
func (g *RuntimeGovernor) Stop(end EndState) {
	g.mu.Lock()
	alreadyEnded := g.c.EndState != nil
	if !alreadyEnded {
		g.c.Running = false
		e := end
		g.c.EndState = &e
		close(g.stopCh)
	}
	g.mu.Unlock()

	g.wg.Wait()
	g.persist()

	if !alreadyEnded && g.onEnd != nil {
		g.onEnd(end)
	}
}

// RecordCycle increments the cycle counter and checks the max-cycles limit.
func (g *RuntimeGovernor) RecordCycle() {
	g.mu.Lock()
	g.c.CycleCount++
	now := time.Now().UTC()
	g.c.LastWorkAt = &now
	cycles := g.c.CycleCount
	limit := g.limits.MaxCycles
	g.mu.Unlock()
	g.persist()

	if limit > 0 && cycles >= limit {
		go g.Stop(EndMaxCyclesReached)
	}
}

// RecordTaskComplete resets the consecutive-failure counter.
func (g *RuntimeGovernor) RecordTaskComplete(id domain.EntityID) {
	g.mu.Lock()
	g.c.TasksCompleted++
	g.c.ConsecutiveFailures = 0
	now := time.Now().UTC()
	g.c.LastWorkAt = &now
	g.mu.Unlock()
	g.persist()
}

// RecordTaskFailed increments failure counters and checks the
// max-consecutive-failures ceiling.
func (g *RuntimeGovernor) RecordTaskFailed(id domain.EntityID, cause error) {
	g.mu.Lock()
	g.c.TasksFailed++
	g.c.ConsecutiveFailures++
	now := time.Now().UTC()
	g.c.LastWorkAt = &now
	consecutive := g.c.ConsecutiveFailures
	limit := g.limits.MaxConsecutiveFailures
	g.mu.Unlock()
	g.persist()

	if limit > 0 && consecutive >= limit {
		go g.Stop(EndMaxFailuresReached)
	}
}

// SignalAllTasksComplete ends the governor only if minQueueSize is 0.
func (g *RuntimeGovernor) SignalAllTasksComplete() {
	if g.limits.MinQueueSize != 0 {
		return
	}
	go g.Stop(EndAllTasksComplete)
}

// SignalObjectiveComplete ends the governor unconditionally.
func (g *RuntimeGovernor) SignalObjectiveComplete() {
	go g.Stop(EndObjectiveComplete)
}

func (g *RuntimeGovernor) checkTimeBasedLimits() {
	g.mu.Lock()
	startedAt := g.c.StartedAt
	lastWorkAt := g.c.LastWorkAt
	g.mu.Unlock()

	if g.limits.MaxRuntime > 0 && time.Since(startedAt) >= g.limits.MaxRuntime {
		go g.Stop(EndMaxRuntimeReached)
		return
	}
	if g.limits.IdleTimeout > 0 && lastWorkAt != nil && time.Since(*lastWorkAt) >= g.limits.IdleTimeout {
		go g.Stop(EndIdleTimeout)
	}
}

// Snapshot returns a copy of the governor's current counters.
type Snapshot struct {
	CycleCount          int
	TasksCompleted      int
	TasksFailed         int
	ConsecutiveFailures int
	StartedAt           time.Time
	Running             bool
	EndState            *EndState
}

// Status returns a consistent snapshot of the counters.
func (g *RuntimeGovernor) Status() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		CycleCount:          g.c.CycleCount,
		TasksCompleted:      g.c.TasksCompleted,
		TasksFailed:         g.c.TasksFailed,
		ConsecutiveFailures: g.c.ConsecutiveFailures,
		StartedAt:           g.c.StartedAt,
		Running:             g.c.Running,
		EndState:            g.c.EndState,
	}
}

func (g *RuntimeGovernor) persist() {
	if g.statePath == "" {
		return
	}
	g.mu.Lock()
	data, err := json.MarshalIndent(g.c, "", "  ")
	g.mu.Unlock()
	if err != nil {
		logger.WarnCF("governor", "marshal counters failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := os.MkdirAll(filepath.Dir(g.statePath), 0755); err != nil {
		logger.WarnCF("governor", "mkdir state dir failed", map[string]interface{}{"error": err.Error()})
		return
	}
	tmp := g.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		logger.WarnCF("governor", "write counters failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := os.Rename(tmp, g.statePath); err != nil {
		logger.WarnCF("governor", "rename counters failed", map[string]interface{}{"error": err.Error()})
	}
}

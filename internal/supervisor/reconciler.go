// Package supervisor implements SupervisorReconciler (spec.md §4.6): a
// periodic, best-effort sweep that repairs the task queue independently of
// any single agent.
//
// The ticker-driven, independent-context sweep shape is grounded on
// pkg/orchestration/orchestrator.go's RunLeaseWatcher/CleanupExpiredLeases
// and pkg/integration/kanban/kanban.go's CleanupExpiredClaims.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/sipeed/agentclaw/internal/domain"
	"github.com/sipeed/agentclaw/internal/domain/task"
	"github.com/sipeed/agentclaw/internal/logger"
	"github.com/sipeed/agentclaw/internal/mailbus"
	"github.com/sipeed/agentclaw/internal/store"
)

// AgentLocator is the read-only view the reconciler needs of the live agent
// pool, to find stalled agents and the tasks they hold.
type AgentLocator interface {
	// StalledAgentIDs returns the string ids of agents whose status is busy
	// and whose last-active time is older than threshold.
	StalledAgentIDs(threshold time.Duration) []string
}

// Config tunes the reconciler's interval and stall threshold.
type Config struct {
	Interval     time.Duration
	Cron         string // optional cron expression; overrides Interval's cadence when set
	StalledAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.StalledAfter <= 0 {
		c.StalledAfter = 2 * time.Minute
	}
	return c
}

// Reconciler runs the periodic sweep.
type Reconciler struct {
	cfg     Config
	tasks   store.TaskStore
	bus     *mailbus.Bus
	agents  AgentLocator

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Reconciler.
func New(cfg Config, tasks store.TaskStore, bus *mailbus.Bus, agents AgentLocator) *Reconciler {
	return &Reconciler{
		cfg:    cfg.withDefaults(),
		tasks:  tasks,
		bus:    bus,
		agents: agents,
		stopCh: make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called. If cfg.Cron is set, each
// tick checks the cron expression via gronx and only sweeps on a match;
// otherwise it sweeps on every Interval tick.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		interval := r.cfg.Interval
		if r.cfg.Cron != "" {
			interval = time.Second // poll the cron expression at 1s granularity
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case now := <-t.C:
				if r.cfg.Cron != "" {
					due, err := gronx.IsDue(r.cfg.Cron, now)
					if err != nil {
						logger.WarnCF("supervisor", "cron expression invalid", map[string]interface{}{"cron": r.cfg.Cron, "error": err.Error()})
						continue
					}
					if !due {
						continue
					}
				}
				r.Sweep(ctx)
			}
		}
	}()
}

// Stop ends the sweep loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// Sweep runs one reconciliation pass. Each step is independent and
// best-effort: a failure in one must not prevent the others from running.
func (r *Reconciler) Sweep(ctx context.Context) {
	r.nudgeUnassignedReady(ctx)
	r.rearmRetryableFailures(ctx)
	r.resetStalledAgents(ctx)
	r.unblockDependents(ctx)
}

func (r *Reconciler) nudgeUnassignedReady(ctx context.Context) {
	defer r.swallow("nudge unassigned ready")
	ready, err := r.tasks.GetReady(ctx)
	if err != nil {
		logger.WarnCF("supervisor", "GetReady failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if len(ready) == 0 {
		return
	}
	r.bus.Publish(mailbus.Message{
		Type:    mailbus.TopicTaskAvailable,
		From:    "supervisor",
		Payload: map[string]interface{}{"count": len(ready)},
	})
}

func (r *Reconciler) rearmRetryableFailures(ctx context.Context) {
	defer r.swallow("rearm retryable failures")
	failedStatus := task.StatusFailed
	failed, err := r.tasks.List(ctx, store.ListFilter{Status: &failedStatus})
	if err != nil {
		logger.WarnCF("supervisor", "list failed tasks failed", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, t := range failed {
		if t.RetryCount >= t.MaxRetries {
			continue
		}
		id := t.ID()
		if _, err := r.tasks.Update(ctx, id, func(tk *task.Task) error {
			tk.Status = task.StatusReady
			tk.AssignedAgent = ""
			tk.RetryCount++
			return nil
		}); err != nil {
			logger.WarnCF("supervisor", "rearm update failed", map[string]interface{}{"task": id.String(), "error": err.Error()})
		}
	}
}

func (r *Reconciler) resetStalledAgents(ctx context.Context) {
	defer r.swallow("reset stalled agents")
	if r.agents == nil {
		return
	}
	stalled := r.agents.StalledAgentIDs(r.cfg.StalledAfter)
	if len(stalled) == 0 {
		return
	}
	for _, agentID := range stalled {
		inProgressStatus := task.StatusInProgress
		held, err := r.tasks.List(ctx, store.ListFilter{Status: &inProgressStatus})
		if err != nil {
			logger.WarnCF("supervisor", "list in_progress tasks failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		for _, t := range held {
			if t.AssignedAgent.String() != agentID {
				continue
			}
			id := t.ID()
			if _, err := r.tasks.Update(ctx, id, func(tk *task.Task) error {
				tk.Status = task.StatusReady
				tk.AssignedAgent = ""
				return nil
			}); err != nil {
				logger.WarnCF("supervisor", "stalled task reset failed", map[string]interface{}{"task": id.String(), "error": err.Error()})
			}
		}
	}
}

func (r *Reconciler) unblockDependents(ctx context.Context) {
	defer r.swallow("unblock dependents")
	blockedStatus := task.StatusBlocked
	blocked, err := r.tasks.List(ctx, store.ListFilter{Status: &blockedStatus})
	if err != nil {
		logger.WarnCF("supervisor", "list blocked tasks failed", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, t := range blocked {
		satisfied := t.DependenciesSatisfied(func(depID domain.EntityID) bool {
			dep, err := r.tasks.Get(ctx, depID)
			return err == nil && dep != nil && dep.Status == task.StatusCompleted
		})
		if !satisfied {
			continue
		}
		id := t.ID()
		if _, err := r.tasks.Update(ctx, id, func(tk *task.Task) error {
			tk.Status = task.StatusReady
			return nil
		}); err != nil {
			logger.WarnCF("supervisor", "unblock update failed", map[string]interface{}{"task": id.String(), "error": err.Error()})
		}
	}
}

func (r *Reconciler) swallow(what string) {
	if rec := recover(); rec != nil {
		logger.ErrorCF("supervisor", "recovered panic", map[string]interface{}{"what": what, "panic": rec})
	}
}

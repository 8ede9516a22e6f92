// Package orchestrator owns the agent pool, the intake watcher, the
// registry writer and the governors, wiring them all to one shared MailBus
// and TaskStore (spec.md §4.8).
//
// The start/stop-everything-uniformly shape is grounded on
// pkg/integration/registry.go's InitAll/StartAll/StopAll and
// pkg/app/container.go's DI-root constructor style.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sipeed/agentclaw/internal/agentcontroller"
	"github.com/sipeed/agentclaw/internal/config"
	"github.com/sipeed/agentclaw/internal/domain"
	"github.com/sipeed/agentclaw/internal/domain/agentdom"
	"github.com/sipeed/agentclaw/internal/domain/objective"
	"github.com/sipeed/agentclaw/internal/domain/task"
	"github.com/sipeed/agentclaw/internal/executor"
	"github.com/sipeed/agentclaw/internal/governor"
	"github.com/sipeed/agentclaw/internal/llm"
	"github.com/sipeed/agentclaw/internal/logger"
	"github.com/sipeed/agentclaw/internal/mailbus"
	"github.com/sipeed/agentclaw/internal/notify"
	"github.com/sipeed/agentclaw/internal/planner"
	"github.com/sipeed/agentclaw/internal/store"
	"github.com/sipeed/agentclaw/internal/supervisor"
)

// staticSkillRegistry is the default SkillRegistry: nothing is acquirable
// unless explicitly listed, matching a conservative out-of-the-box posture.
type staticSkillRegistry struct {
	acquirable map[string]bool
}

func (r staticSkillRegistry) CanAcquire(skill string) bool { return r.acquirable[skill] }

// Orchestrator is the process-level composition root.
type Orchestrator struct {
	cfg     *config.Config
	bus     *mailbus.Bus
	tasks   store.TaskStore
	memories store.MemoryStore

	mu          sync.RWMutex
	controllers []*agentcontroller.Controller

	runtimeGov *governor.RuntimeGovernor
	memoryGov  *governor.MemoryGovernor
	reconciler *supervisor.Reconciler
	intake     *IntakeWatcher
	registry   *RegistryWriter
	notifySink notify.Sink

	objPlanner  *planner.ObjectivePlanner
	progress    *planner.ProgressAnalyzer
	objective   *objective.Objective
	objectiveMu sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New wires every component from cfg. The caller retains ownership of tasks
// and memories so cmd/orchestrator can pick concrete backends.
func New(cfg *config.Config, tasks store.TaskStore, memories store.MemoryStore, provider llm.Provider, sink notify.Sink) (*Orchestrator, error) {
	bus := mailbus.New()

	o := &Orchestrator{
		cfg:       cfg,
		bus:       bus,
		tasks:     tasks,
		memories:  memories,
		notifySink: sink,
		stopCh:    make(chan struct{}),
	}

	o.runtimeGov = governor.New(governor.Limits{
		MaxCycles:              cfg.Runtime.MaxCycles,
		MaxRuntime:             cfg.Runtime.MaxRuntime,
		IdleTimeout:            cfg.Runtime.IdleTimeout,
		MaxConsecutiveFailures: cfg.Runtime.MaxConsecutiveFailures,
		MinQueueSize:           cfg.Runtime.MinQueueSize,
		CheckInterval:          cfg.Runtime.CheckInterval,
	}, cfg.StateDir+"/runtime_governor.json", o.onGovernorEnd)

	o.memoryGov = governor.NewMemory(governor.MemoryLimits{
		SoftLimitBytes: cfg.Memory.SoftLimitBytes,
		HardLimitBytes: cfg.Memory.HardLimitBytes,
		CheckInterval:  cfg.Memory.CheckInterval,
	}, o.onMemorySeverityChange)

	o.reconciler = supervisor.New(supervisor.Config{
		Interval:     cfg.Supervisor.ReconcileInterval,
		Cron:         cfg.Supervisor.ReconcileCron,
		StalledAfter: cfg.Supervisor.StalledAfter,
	}, tasks, bus, o)

	o.registry = NewRegistryWriter(cfg.StateDir+"/agents.json", o, 5*time.Second)
	o.intake = NewIntakeWatcher(cfg.IntakeDir, tasks, bus, 2*time.Second)

	if cfg.Planner.Enabled && provider != nil {
		o.objPlanner = planner.New(planner.Watermarks{
			Low:      cfg.Planner.LowWatermark,
			High:     cfg.Planner.HighWatermark,
			Max:      cfg.Planner.MaxWatermark,
			Cooldown: time.Duration(cfg.Planner.CooldownMs) * time.Millisecond,
		}, provider, tasks, memories)
		o.progress = planner.NewProgressAnalyzer(provider, tasks, func(end string) {
			o.runtimeGov.SignalObjectiveComplete()
		})
	}

	return o, nil
}

// SpawnAgent creates a new agent with the given name and starting skills,
// wires it to a fresh Controller, and starts it.
func (o *Orchestrator) SpawnAgent(ctx context.Context, name string, skills []string) (*agentcontroller.Controller, error) {
	agent, err := agentdom.New(name, skills)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: spawn agent: %w", err)
	}

	exec := executor.New(executor.Options{
		Command:           o.cfg.Executor.Command,
		TimeoutMultiplier: o.cfg.Executor.TimeoutMultiplier,
		MinTimeout:        o.cfg.Executor.MinTimeout,
		MaxTimeout:        o.cfg.Executor.MaxTimeout,
		FallbackTimeout:   o.cfg.Executor.FallbackTimeout,
		GracefulShutdown:  o.cfg.Executor.GracefulShutdown,
	})

	ctrl := agentcontroller.New(agent, o.tasks, o.memories, o.bus, exec, staticSkillRegistry{}, o.cfg.WorkspaceRoot, agentcontroller.Config{
		PollInterval:    o.cfg.Agents.PollInterval,
		HeartbeatPeriod: o.cfg.Agents.HeartbeatPeriod,
		StatusPeriod:    o.cfg.Agents.StatusPeriod,
		LeaseTTL:        o.cfg.Agents.LeaseTTL,
	})

	o.mu.Lock()
	o.controllers = append(o.controllers, ctrl)
	o.mu.Unlock()

	ctrl.Start(ctx)
	return ctrl, nil
}

// Start brings up the full pool (cfg.Agents.PoolSize agents), the intake
// watcher, the registry writer, the reconciler and both governors.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.bus.Subscribe(mailbus.TopicTaskCompleted, o.onTaskCompleted)
	o.bus.Subscribe(mailbus.TopicTaskFailed, o.onTaskFailed)

	for i := 0; i < o.cfg.Agents.PoolSize; i++ {
		name := fmt.Sprintf("agent-%02d", i+1)
		if _, err := o.SpawnAgent(ctx, name, nil); err != nil {
			return err
		}
	}

	o.runtimeGov.Start()
	o.memoryGov.Start()
	o.reconciler.Start(ctx)
	o.intake.Start(ctx)
	o.registry.Start(ctx)

	if o.objPlanner != nil {
		o.wg.Add(1)
		go o.plannerLoop(ctx)
	}

	o.bus.Publish(mailbus.Message{Type: string(domain.EventSystemStartup), From: "orchestrator"})
	logger.InfoCF("orchestrator", "started", map[string]interface{}{"pool_size": o.cfg.Agents.PoolSize})
	return nil
}

// Stop gracefully tears down every owned component.
func (o *Orchestrator) Stop(ctx context.Context) {
	close(o.stopCh)
	o.wg.Wait()

	o.intake.Stop()
	o.registry.Stop()
	o.reconciler.Stop()
	o.memoryGov.Stop()
	o.runtimeGov.Stop(governor.EndManualStop)

	o.mu.RLock()
	controllers := append([]*agentcontroller.Controller(nil), o.controllers...)
	o.mu.RUnlock()
	for _, c := range controllers {
		c.GracefulStop(ctx)
	}

	o.bus.Publish(mailbus.Message{Type: string(domain.EventSystemShutdown), From: "orchestrator"})
	o.bus.Close()
	logger.InfoCF("orchestrator", "stopped", nil)
}

// StalledAgentIDs implements agentcontroller's consumer-facing
// supervisor.AgentLocator interface: agents busy longer than threshold
// without a heartbeat.
func (o *Orchestrator) StalledAgentIDs(threshold time.Duration) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []string
	cutoff := time.Now().Add(-threshold)
	for _, c := range o.controllers {
		a := c.Agent()
		if a.Status == agentdom.StatusBusy && a.LastActive.Before(cutoff) {
			out = append(out, a.ID().String())
		}
	}
	return out
}

// Bus returns the shared MailBus, for the gateway's event feed to tap.
func (o *Orchestrator) Bus() *mailbus.Bus { return o.bus }

// StatusSnapshot is the JSON shape returned by the gateway's GET /api/status.
type StatusSnapshot struct {
	Governor governor.Snapshot           `json:"governor"`
	Agents   []agentdom.RegistryEntry    `json:"agents"`
	Tasks    store.Stats                 `json:"tasks"`
}

// Status assembles a point-in-time snapshot of the whole orchestrator.
func (o *Orchestrator) Status(ctx context.Context) StatusSnapshot {
	agents := o.Agents()
	entries := make([]agentdom.RegistryEntry, 0, len(agents))
	for _, a := range agents {
		entries = append(entries, a.ToRegistryEntry())
	}
	taskStats, _ := o.tasks.Stats(ctx)
	return StatusSnapshot{
		Governor: o.runtimeGov.Status(),
		Agents:   entries,
		Tasks:    taskStats,
	}
}

// Agents returns a snapshot of every owned agent, for the registry writer
// and the gateway's /api/status endpoint.
func (o *Orchestrator) Agents() []*agentdom.Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*agentdom.Agent, 0, len(o.controllers))
	for _, c := range o.controllers {
		out = append(out, c.Agent())
	}
	return out
}

// CreateTask publishes task.created after persisting t via §3's
// creation-time classification.
func (o *Orchestrator) CreateTask(ctx context.Context, t *task.Task) (*task.Task, error) {
	stored, err := o.tasks.Create(ctx, t)
	if err != nil {
		return nil, err
	}
	o.bus.Publish(mailbus.Message{
		Type: mailbus.TopicTaskCreated, From: "orchestrator",
		Payload: map[string]interface{}{"taskId": stored.ID().String(), "title": stored.Title},
	})
	return stored, nil
}

// SetObjective installs the Objective the planner/analyzer track.
func (o *Orchestrator) SetObjective(obj *objective.Objective) {
	o.objectiveMu.Lock()
	defer o.objectiveMu.Unlock()
	o.objective = obj
}

func (o *Orchestrator) onTaskCompleted(msg mailbus.Message) {
	o.runtimeGov.RecordTaskComplete(payloadTaskID(msg))
	o.runtimeGov.RecordCycle()
	o.maybeSignalDrained(context.Background())
}

func (o *Orchestrator) onTaskFailed(msg mailbus.Message) {
	var cause error
	if s, ok := msg.Payload["error"].(string); ok {
		cause = fmt.Errorf("%s", s)
	}
	o.runtimeGov.RecordTaskFailed(payloadTaskID(msg), cause)
	if o.notifySink != nil {
		o.notifySink.Notify(context.Background(), notify.Event{
			Title:   "task permanently failed",
			Message: fmt.Sprintf("%v", msg.Payload),
		})
	}
}

func (o *Orchestrator) maybeSignalDrained(ctx context.Context) {
	stats, err := o.tasks.Stats(ctx)
	if err != nil {
		return
	}
	if stats.ByStatus[task.StatusReady] == 0 && stats.ByStatus[task.StatusInProgress] == 0 &&
		stats.ByStatus[task.StatusClaimed] == 0 && stats.ByStatus[task.StatusPending] == 0 {
		o.runtimeGov.SignalAllTasksComplete()
	}
}

func (o *Orchestrator) onGovernorEnd(end governor.EndState) {
	o.bus.Publish(mailbus.Message{
		Type: string(domain.EventGovernorEndState), From: "orchestrator",
		Payload: map[string]interface{}{"endState": string(end)},
	})
	if o.notifySink != nil {
		o.notifySink.Notify(context.Background(), notify.Event{
			Title: "orchestrator stopping", Message: string(end),
		})
	}
}

func (o *Orchestrator) onMemorySeverityChange(from, to governor.Severity, heapBytes uint64) {
	logger.WarnCF("orchestrator", "memory severity changed", map[string]interface{}{
		"from": from, "to": to, "heap_bytes": heapBytes,
	})
}

func (o *Orchestrator) plannerLoop(ctx context.Context) {
	defer o.wg.Done()
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-t.C:
			o.runPlannerTick(ctx)
		}
	}
}

func payloadTaskID(msg mailbus.Message) domain.EntityID {
	if s, ok := msg.Payload["taskId"].(string); ok {
		return domain.EntityID(s)
	}
	return ""
}

func (o *Orchestrator) runPlannerTick(ctx context.Context) {
	o.objectiveMu.Lock()
	obj := o.objective
	o.objectiveMu.Unlock()
	if obj == nil {
		return
	}

	if _, err := o.progress.Evaluate(ctx, obj); err != nil {
		logger.WarnCF("orchestrator", "progress analyzer failed", map[string]interface{}{"error": err.Error()})
	}

	readyStatus := task.StatusReady
	pendingStatus := task.StatusPending
	ready, _ := o.tasks.List(ctx, store.ListFilter{Status: &readyStatus})
	pending, _ := o.tasks.List(ctx, store.ListFilter{Status: &pendingStatus})
	if _, err := o.objPlanner.MaybeGenerate(ctx, obj, len(ready)+len(pending)); err != nil {
		logger.WarnCF("orchestrator", "objective planner failed", map[string]interface{}{"error": err.Error()})
	}
}

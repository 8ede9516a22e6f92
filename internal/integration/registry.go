// Package integration provides an extensible plugin registry for connecting
// the orchestrator to external services: notification sinks, LLM
// providers, or anything else that wants a uniform Init/Start/Stop/Health
// lifecycle alongside the orchestrator's own components.
//
// To add a new integration: implement Integration, register it with
// Register(), and it starts/stops alongside the rest of the process via
// StartAll/StopAll.
package integration

import (
	"context"
	"fmt"
	"sync"

	"github.com/sipeed/agentclaw/internal/config"
	"github.com/sipeed/agentclaw/internal/logger"
	"github.com/sipeed/agentclaw/internal/mailbus"
)

// Integration represents a pluggable external service connection.
type Integration interface {
	// Name returns a unique identifier for this integration.
	Name() string

	// Init sets up the integration with the shared config and bus.
	Init(cfg *config.Config, bus *mailbus.Bus) error

	// Start begins the integration's event loop (non-blocking).
	Start(ctx context.Context) error

	// Stop gracefully shuts down the integration.
	Stop(ctx context.Context) error

	// Health returns nil if healthy, or an error describing the problem.
	Health() error
}

// EventConsumer extends Integration for services that subscribe to bus topics.
type EventConsumer interface {
	Integration

	// Topics returns the MailBus topics this integration subscribes to.
	Topics() []string

	// HandleMessage processes a message from a subscribed topic.
	HandleMessage(ctx context.Context, msg mailbus.Message) error
}

// Registry manages all registered integrations.
type Registry struct {
	integrations map[string]Integration
	mu           sync.RWMutex
	started      bool
}

// NewRegistry creates a new integration registry.
func NewRegistry() *Registry {
	return &Registry{integrations: make(map[string]Integration)}
}

// Global registry instance.
var globalRegistry = NewRegistry()

// Register adds an integration to the global registry.
func Register(i Integration) { globalRegistry.Register(i) }

// GetRegistry returns the global registry.
func GetRegistry() *Registry { return globalRegistry }

// Register adds an integration to this registry.
func (r *Registry) Register(i Integration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.integrations[i.Name()] = i
	logger.InfoCF("integration", "registered integration", map[string]interface{}{"name": i.Name()})
}

// Get retrieves an integration by name.
func (r *Registry) Get(name string) (Integration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.integrations[name]
	return i, ok
}

// List returns all registered integration names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.integrations))
	for name := range r.integrations {
		names = append(names, name)
	}
	return names
}

// InitAll initializes all registered integrations.
func (r *Registry) InitAll(cfg *config.Config, bus *mailbus.Bus) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, i := range r.integrations {
		if err := i.Init(cfg, bus); err != nil {
			logger.ErrorCF("integration", "init failed", map[string]interface{}{"name": name, "error": err.Error()})
			return fmt.Errorf("init integration %s: %w", name, err)
		}
	}
	return nil
}

// StartAll starts all registered integrations.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, i := range r.integrations {
		if err := i.Start(ctx); err != nil {
			logger.ErrorCF("integration", "start failed", map[string]interface{}{"name": name, "error": err.Error()})
			return fmt.Errorf("start integration %s: %w", name, err)
		}
		logger.InfoCF("integration", "started integration", map[string]interface{}{"name": name})
	}
	r.started = true
	return nil
}

// StopAll gracefully stops all integrations.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, i := range r.integrations {
		if err := i.Stop(ctx); err != nil {
			logger.ErrorCF("integration", "stop failed", map[string]interface{}{"name": name, "error": err.Error()})
		}
	}
	r.started = false
}

// HealthAll returns a map of integration name to health status.
func (r *Registry) HealthAll() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status := make(map[string]string, len(r.integrations))
	for name, i := range r.integrations {
		if err := i.Health(); err != nil {
			status[name] = err.Error()
		} else {
			status[name] = "ok"
		}
	}
	return status
}

package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sipeed/agentclaw/internal/domain/agentdom"
	"github.com/sipeed/agentclaw/internal/logger"
)

// AgentSource is the read-only view RegistryWriter needs of the live pool.
type AgentSource interface {
	Agents() []*agentdom.Agent
}

// RegistryWriter periodically snapshots every agent's RegistryEntry to a
// JSON file (spec.md §6: agents.json), atomically via temp-file-then-rename.
type RegistryWriter struct {
	path     string
	source   AgentSource
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRegistryWriter constructs a writer targeting path, snapshotting every interval.
func NewRegistryWriter(path string, source AgentSource, interval time.Duration) *RegistryWriter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &RegistryWriter{path: path, source: source, interval: interval, stopCh: make(chan struct{})}
}

// Start launches the snapshot loop, writing once immediately.
func (r *RegistryWriter) Start(ctx context.Context) {
	r.writeOnce()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		t := time.NewTicker(r.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-t.C:
				r.writeOnce()
			}
		}
	}()
}

// Stop ends the snapshot loop.
func (r *RegistryWriter) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *RegistryWriter) writeOnce() {
	entries := make([]agentdom.RegistryEntry, 0)
	for _, a := range r.source.Agents() {
		entries = append(entries, a.ToRegistryEntry())
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		logger.WarnCF("registry", "marshal agents.json failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		logger.WarnCF("registry", "create state dir failed", map[string]interface{}{"error": err.Error()})
		return
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logger.WarnCF("registry", "write agents.json tmp failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := os.Rename(tmp, r.path); err != nil {
		logger.WarnCF("registry", "rename agents.json failed", map[string]interface{}{"error": err.Error()})
	}
}

package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sipeed/agentclaw/internal/domain"
	"github.com/sipeed/agentclaw/internal/domain/task"
	"github.com/sipeed/agentclaw/internal/logger"
	"github.com/sipeed/agentclaw/internal/mailbus"
	"github.com/sipeed/agentclaw/internal/store"
)

const frontmatterDelim = "---"

// taskFrontmatter is the YAML block at the top of an intake .md file
// (spec.md §6: task-file intake).
type taskFrontmatter struct {
	Title        string   `yaml:"title"`
	Description  string   `yaml:"description"`
	Priority     string   `yaml:"priority"`
	Skills       []string `yaml:"skills"`
	Estimate     int      `yaml:"estimate"`
	Dependencies []string `yaml:"dependencies"`
}

// IntakeWatcher polls a directory for *.md task files, parses their
// frontmatter, creates a task per file, and moves the file into a
// processed/ subdirectory of the intake directory. Grounded on the gateway project's own preference
// for ticker-driven polling loops over OS-level file-watch primitives
// (no fsnotify-class library is a pack dependency).
type IntakeWatcher struct {
	dir      string
	tasks    store.TaskStore
	bus      *mailbus.Bus
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewIntakeWatcher constructs a watcher over dir, polling every interval.
func NewIntakeWatcher(dir string, tasks store.TaskStore, bus *mailbus.Bus, interval time.Duration) *IntakeWatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &IntakeWatcher{dir: dir, tasks: tasks, bus: bus, interval: interval, stopCh: make(chan struct{})}
}

// Start launches the poll loop. A no-op if dir is empty.
func (w *IntakeWatcher) Start(ctx context.Context) {
	if w.dir == "" {
		return
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		logger.WarnCF("intake", "create intake dir failed", map[string]interface{}{"dir": w.dir, "error": err.Error()})
		return
	}
	if err := os.MkdirAll(w.processedDir(), 0o755); err != nil {
		logger.WarnCF("intake", "create processed dir failed", map[string]interface{}{"error": err.Error()})
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		t := time.NewTicker(w.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-t.C:
				w.scan(ctx)
			}
		}
	}()
}

// Stop ends the poll loop.
func (w *IntakeWatcher) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *IntakeWatcher) processedDir() string {
	return filepath.Join(w.dir, "processed")
}

func (w *IntakeWatcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logger.WarnCF("intake", "read dir failed", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		w.ingest(ctx, filepath.Join(w.dir, e.Name()))
	}
}

func (w *IntakeWatcher) ingest(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.WarnCF("intake", "read task file failed", map[string]interface{}{"path": path, "error": err.Error()})
		return
	}

	fm, body, err := parseFrontmatter(data)
	if err != nil {
		logger.WarnCF("intake", "invalid task file, skipping", map[string]interface{}{"path": path, "error": err.Error()})
		return
	}
	if fm.Title == "" {
		logger.WarnCF("intake", "task file missing required title, skipping", map[string]interface{}{"path": path})
		return
	}

	description := fm.Description
	if description == "" {
		description = strings.TrimSpace(body)
	}

	t, err := task.New(fm.Title, description, intakePriority(fm.Priority))
	if err != nil {
		logger.WarnCF("intake", "construct task failed, skipping", map[string]interface{}{"path": path, "error": err.Error()})
		return
	}
	t.RequiredSkills = fm.Skills
	t.EstimatedMinutes = fm.Estimate
	t.Dependencies = w.resolveDependencies(ctx, fm.Dependencies)

	stored, err := w.tasks.Create(ctx, t)
	if err != nil {
		logger.WarnCF("intake", "create task failed", map[string]interface{}{"path": path, "error": err.Error()})
		return
	}

	w.bus.Publish(mailbus.Message{
		Type: mailbus.TopicTaskCreated, From: "intake",
		Payload: map[string]interface{}{"taskId": stored.ID().String(), "title": stored.Title},
	})

	newName := fmt.Sprintf("%s-%s", stored.ID().String(), filepath.Base(path))
	if err := os.Rename(path, filepath.Join(w.processedDir(), newName)); err != nil {
		logger.WarnCF("intake", "move processed file failed", map[string]interface{}{"path": path, "error": err.Error()})
	}
}

// resolveDependencies accepts either task ids or titles, looking titles up
// against the existing task set. Unresolvable references are dropped with a
// warning rather than failing the whole file.
func (w *IntakeWatcher) resolveDependencies(ctx context.Context, refs []string) []domain.EntityID {
	var out []domain.EntityID
	if len(refs) == 0 {
		return out
	}
	all, err := w.tasks.List(ctx, store.ListFilter{})
	if err != nil {
		logger.WarnCF("intake", "list tasks for dependency resolution failed", map[string]interface{}{"error": err.Error()})
		return out
	}
	for _, ref := range refs {
		found := false
		for _, t := range all {
			if t.ID().String() == ref || t.Title == ref {
				out = append(out, t.ID())
				found = true
				break
			}
		}
		if !found {
			logger.WarnCF("intake", "unresolved dependency reference, dropping", map[string]interface{}{"ref": ref})
		}
	}
	return out
}

func intakePriority(p string) task.Priority {
	switch task.Priority(p) {
	case task.PriorityCritical, task.PriorityHigh, task.PriorityMedium, task.PriorityLow:
		return task.Priority(p)
	default:
		return task.PriorityMedium
	}
}

func parseFrontmatter(data []byte) (taskFrontmatter, string, error) {
	text := string(data)
	if !strings.HasPrefix(strings.TrimLeft(text, "\n"), frontmatterDelim) {
		return taskFrontmatter{}, "", fmt.Errorf("intake: missing frontmatter delimiter")
	}
	text = strings.TrimLeft(text, "\n")
	rest := strings.TrimPrefix(text, frontmatterDelim)
	idx := strings.Index(rest, frontmatterDelim)
	if idx < 0 {
		return taskFrontmatter{}, "", fmt.Errorf("intake: unterminated frontmatter block")
	}
	yamlBlock := rest[:idx]
	body := rest[idx+len(frontmatterDelim):]

	var fm taskFrontmatter
	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return taskFrontmatter{}, "", fmt.Errorf("intake: parse frontmatter: %w", err)
	}
	return fm, body, nil
}

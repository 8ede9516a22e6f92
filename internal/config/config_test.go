package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsWithNoFileOrEnv(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WorkspaceRoot != "./workspace" {
		t.Errorf("expected default workspace root, got %q", cfg.WorkspaceRoot)
	}
	if cfg.Agents.PoolSize != 4 {
		t.Errorf("expected default pool size of 4, got %d", cfg.Agents.PoolSize)
	}
	if cfg.Runtime.CheckInterval != 5*time.Second {
		t.Errorf("expected default check interval of 5s, got %v", cfg.Runtime.CheckInterval)
	}
}

func TestLoadReadsYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := "workspace_root: /tmp/myworkspace\nagents:\n  pool_size: 7\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WorkspaceRoot != "/tmp/myworkspace" {
		t.Errorf("expected workspace root from YAML, got %q", cfg.WorkspaceRoot)
	}
	if cfg.Agents.PoolSize != 7 {
		t.Errorf("expected pool size from YAML, got %d", cfg.Agents.PoolSize)
	}
}

func TestLoadIgnoresMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected missing file to be ignored, got error: %v", err)
	}
	if cfg.WorkspaceRoot != "./workspace" {
		t.Errorf("expected default workspace root when file is missing, got %q", cfg.WorkspaceRoot)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("agents:\n  pool_size: 7\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Setenv("ORC_AGENT_POOL_SIZE", "12")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agents.PoolSize != 12 {
		t.Errorf("expected env var to override YAML, got %d", cfg.Agents.PoolSize)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("agents: [this is not a mapping"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected malformed YAML to produce an error")
	}
}

func TestWorkspacePathJoinsRoot(t *testing.T) {
	cfg := &Config{WorkspaceRoot: "/srv/orchestrator"}
	got := cfg.WorkspacePath("tasks", "intake")
	want := filepath.Join("/srv/orchestrator", "tasks", "intake")
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

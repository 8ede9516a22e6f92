// Package config loads the orchestrator's configuration from an optional
// YAML file overlay followed by environment variables (env always wins),
// mirroring how the ancestor gateway project layers its own config.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration object for the orchestrator process.
type Config struct {
	WorkspaceRoot string `yaml:"workspace_root" env:"ORC_WORKSPACE_ROOT" envDefault:"./workspace"`
	IntakeDir     string `yaml:"intake_dir" env:"ORC_INTAKE_DIR" envDefault:"tasks/intake"`
	StateDir      string `yaml:"state_dir" env:"ORC_STATE_DIR" envDefault:"state"`
	DBPath        string `yaml:"db_path" env:"ORC_DB_PATH" envDefault:"state/orchestrator.db"`
	LogFormat     string `yaml:"log_format" env:"ORC_LOG_FORMAT" envDefault:"json"`

	Agents struct {
		PoolSize        int           `yaml:"pool_size" env:"ORC_AGENT_POOL_SIZE" envDefault:"4"`
		PollInterval    time.Duration `yaml:"poll_interval" env:"ORC_AGENT_POLL_INTERVAL" envDefault:"30s"`
		HeartbeatPeriod time.Duration `yaml:"heartbeat_period" env:"ORC_AGENT_HEARTBEAT_PERIOD" envDefault:"30s"`
		StatusPeriod    time.Duration `yaml:"status_period" env:"ORC_AGENT_STATUS_PERIOD" envDefault:"10s"`
		LeaseTTL        time.Duration `yaml:"lease_ttl" env:"ORC_AGENT_LEASE_TTL" envDefault:"120s"`
	} `yaml:"agents"`

	Executor struct {
		Command          string        `yaml:"command" env:"ORC_EXEC_COMMAND" envDefault:"/usr/local/bin/agent-runner"`
		TimeoutMultiplier float64      `yaml:"timeout_multiplier" env:"ORC_EXEC_TIMEOUT_MULTIPLIER" envDefault:"2.0"`
		MinTimeout       time.Duration `yaml:"min_timeout" env:"ORC_EXEC_MIN_TIMEOUT" envDefault:"5m"`
		MaxTimeout       time.Duration `yaml:"max_timeout" env:"ORC_EXEC_MAX_TIMEOUT" envDefault:"2h"`
		FallbackTimeout  time.Duration `yaml:"fallback_timeout" env:"ORC_EXEC_FALLBACK_TIMEOUT" envDefault:"30m"`
		InterruptGrace   time.Duration `yaml:"interrupt_grace" env:"ORC_EXEC_INTERRUPT_GRACE" envDefault:"5s"`
		GracefulShutdown time.Duration `yaml:"graceful_shutdown" env:"ORC_EXEC_GRACEFUL_SHUTDOWN" envDefault:"30s"`
	} `yaml:"executor"`

	Runtime struct {
		MaxCycles              int           `yaml:"max_cycles" env:"ORC_MAX_CYCLES" envDefault:"0"`
		MaxRuntime             time.Duration `yaml:"max_runtime" env:"ORC_MAX_RUNTIME" envDefault:"0"`
		IdleTimeout            time.Duration `yaml:"idle_timeout" env:"ORC_IDLE_TIMEOUT" envDefault:"0"`
		MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" env:"ORC_MAX_CONSECUTIVE_FAILURES" envDefault:"0"`
		MinQueueSize           int           `yaml:"min_queue_size" env:"ORC_MIN_QUEUE_SIZE" envDefault:"0"`
		CheckInterval          time.Duration `yaml:"check_interval" env:"ORC_GOVERNOR_CHECK_INTERVAL" envDefault:"5s"`
	} `yaml:"runtime"`

	Memory struct {
		SoftLimitBytes uint64        `yaml:"soft_limit_bytes" env:"ORC_MEM_SOFT_LIMIT" envDefault:"1073741824"`
		HardLimitBytes uint64        `yaml:"hard_limit_bytes" env:"ORC_MEM_HARD_LIMIT" envDefault:"1610612736"`
		CheckInterval  time.Duration `yaml:"check_interval" env:"ORC_MEM_CHECK_INTERVAL" envDefault:"10s"`
	} `yaml:"memory"`

	Supervisor struct {
		ReconcileInterval time.Duration `yaml:"reconcile_interval" env:"ORC_SUPERVISOR_INTERVAL" envDefault:"30s"`
		ReconcileCron     string        `yaml:"reconcile_cron" env:"ORC_SUPERVISOR_CRON"`
		StalledAfter      time.Duration `yaml:"stalled_after" env:"ORC_SUPERVISOR_STALLED_AFTER" envDefault:"2m"`
	} `yaml:"supervisor"`

	Planner struct {
		Enabled       bool   `yaml:"enabled" env:"ORC_PLANNER_ENABLED" envDefault:"false"`
		Provider      string `yaml:"provider" env:"ORC_PLANNER_PROVIDER" envDefault:"anthropic"`
		Model         string `yaml:"model" env:"ORC_PLANNER_MODEL" envDefault:"claude-sonnet-4-5"`
		APIKey        string `yaml:"-" env:"ORC_PLANNER_API_KEY"`
		LowWatermark  int    `yaml:"low_watermark" env:"ORC_PLANNER_LOW_WATERMARK" envDefault:"2"`
		HighWatermark int    `yaml:"high_watermark" env:"ORC_PLANNER_HIGH_WATERMARK" envDefault:"8"`
		MaxWatermark  int    `yaml:"max_watermark" env:"ORC_PLANNER_MAX_WATERMARK" envDefault:"15"`
		CooldownMs    int64  `yaml:"cooldown_ms" env:"ORC_PLANNER_COOLDOWN_MS" envDefault:"30000"`
	} `yaml:"planner"`

	Gateway struct {
		Addr   string `yaml:"addr" env:"ORC_GATEWAY_ADDR" envDefault:"127.0.0.1:18790"`
		APIKey string `yaml:"-" env:"ORC_GATEWAY_API_KEY"`
	} `yaml:"gateway"`

	Notify struct {
		SlackWebhookURL string `yaml:"-" env:"ORC_NOTIFY_SLACK_WEBHOOK_URL"`
		SlackChannel    string `yaml:"slack_channel" env:"ORC_NOTIFY_SLACK_CHANNEL"`
	} `yaml:"notify"`
}

// Load reads an optional YAML file (ignored if path is empty or missing)
// then applies environment overrides on top of it.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WorkspacePath joins the workspace root with the given path segments.
func (c *Config) WorkspacePath(parts ...string) string {
	all := append([]string{c.WorkspaceRoot}, parts...)
	return filepath.Join(all...)
}

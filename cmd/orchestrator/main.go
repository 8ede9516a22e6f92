// Command orchestrator runs the agent-pool orchestrator: loads config, wires
// the task/memory stores, the LLM provider (if the planner is enabled), the
// notification sink, the gateway, and every governor/supervisor component,
// then blocks until SIGINT/SIGTERM.
//
// Grounded on pkg/app/container.go's DI-root constructor style — no cmd/
// package survived the pack's retrieval filter, so the wiring order below
// follows the component dependency graph spec.md §4.8 describes rather
// than a retrieved main().
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sipeed/agentclaw/internal/api"
	"github.com/sipeed/agentclaw/internal/config"
	"github.com/sipeed/agentclaw/internal/integration"
	"github.com/sipeed/agentclaw/internal/llm"
	"github.com/sipeed/agentclaw/internal/logger"
	"github.com/sipeed/agentclaw/internal/notify"
	"github.com/sipeed/agentclaw/internal/orchestrator"
	"github.com/sipeed/agentclaw/internal/store"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file overlay")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}

	format := logger.FormatJSON
	if cfg.LogFormat == "text" {
		format = logger.FormatText
	}
	logger.Configure(format, slog.LevelInfo)

	tasks, err := store.NewSQLiteTaskStore(cfg.DBPath)
	if err != nil {
		logger.ErrorCF("main", "open task store failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	memories, err := store.NewSQLiteMemoryStore(cfg.DBPath)
	if err != nil {
		logger.ErrorCF("main", "open memory store failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	var provider llm.Provider
	if cfg.Planner.Enabled {
		switch cfg.Planner.Provider {
		case "openai":
			provider = llm.NewOpenAIProvider(cfg.Planner.APIKey, cfg.Planner.Model)
		default:
			provider = llm.NewAnthropicProvider(cfg.Planner.APIKey, cfg.Planner.Model)
		}
	}

	var sink notify.Sink = notify.NopSink{}
	if cfg.Notify.SlackWebhookURL != "" {
		slackSink := notify.NewSlackSink(cfg.Notify.SlackWebhookURL, cfg.Notify.SlackChannel)
		integration.Register(slackSink)
		sink = slackSink
	}

	orch, err := orchestrator.New(cfg, tasks, memories, provider, sink)
	if err != nil {
		logger.ErrorCF("main", "construct orchestrator failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := integration.GetRegistry().InitAll(cfg, orch.Bus()); err != nil {
		logger.ErrorCF("main", "init integrations failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	if err := integration.GetRegistry().StartAll(ctx); err != nil {
		logger.ErrorCF("main", "start integrations failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	if err := orch.Start(ctx); err != nil {
		logger.ErrorCF("main", "start orchestrator failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	gateway := api.New(cfg.Gateway.Addr, cfg.Gateway.APIKey, orch.Bus(), func(c context.Context) interface{} {
		return orch.Status(c)
	})
	go func() {
		if err := gateway.Start(ctx); err != nil {
			logger.ErrorCF("main", "gateway stopped with error", map[string]interface{}{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	logger.InfoCF("main", "shutdown signal received", nil)

	stopCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	orch.Stop(stopCtx)
	integration.GetRegistry().StopAll(stopCtx)
}

package notify

import (
	"testing"

	"github.com/sipeed/agentclaw/internal/config"
)

func TestSlackSinkHealthRequiresWebhook(t *testing.T) {
	s := NewSlackSink("", "")
	if err := s.Health(); err == nil {
		t.Error("expected unhealthy with no webhook configured")
	}

	s = NewSlackSink("https://hooks.slack.test/abc", "")
	if err := s.Health(); err != nil {
		t.Errorf("expected healthy once a webhook is configured, got %v", err)
	}
}

func TestSlackSinkInitOverridesFromConfig(t *testing.T) {
	s := NewSlackSink("", "")
	var cfg config.Config
	cfg.Notify.SlackWebhookURL = "https://hooks.slack.test/xyz"
	cfg.Notify.SlackChannel = "#ops"

	if err := s.Init(&cfg, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Health(); err != nil {
		t.Errorf("expected healthy after Init sets the webhook, got %v", err)
	}
}

func TestSlackSinkName(t *testing.T) {
	s := NewSlackSink("", "")
	if s.Name() != "notify.slack" {
		t.Errorf("expected name notify.slack, got %s", s.Name())
	}
}

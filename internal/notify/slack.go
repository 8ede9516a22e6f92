package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/sipeed/agentclaw/internal/config"
	"github.com/sipeed/agentclaw/internal/logger"
	"github.com/sipeed/agentclaw/internal/mailbus"
)

// SlackSink posts Events to an incoming webhook URL. It also satisfies the
// integration package's Integration interface structurally (Name/Init/
// Start/Stop/Health), so it can register with the shared integration
// registry alongside any other external-service connection.
type SlackSink struct {
	webhookURL string
	channel    string
}

// NewSlackSink constructs a Sink posting to webhookURL. channel, if set,
// overrides the webhook's configured default channel.
func NewSlackSink(webhookURL, channel string) *SlackSink {
	return &SlackSink{webhookURL: webhookURL, channel: channel}
}

// Notify posts ev as a Slack message. Failures are logged by the caller's
// discretion; Notify itself returns the error so callers can decide whether
// to swallow it (the orchestrator does, per spec.md's best-effort
// notification stance).
func (s *SlackSink) Notify(ctx context.Context, ev Event) error {
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("*%s*\n%s", ev.Title, ev.Message),
	}
	if s.channel != "" {
		msg.Channel = s.channel
	}
	if err := slack.PostWebhookContext(ctx, s.webhookURL, msg); err != nil {
		logger.WarnCF("notify", "slack webhook post failed", map[string]interface{}{"error": err.Error()})
		return err
	}
	return nil
}

// Name identifies this integration in the registry.
func (s *SlackSink) Name() string { return "notify.slack" }

// Init reconfigures the sink from cfg, overriding the constructor's values.
func (s *SlackSink) Init(cfg *config.Config, _ *mailbus.Bus) error {
	s.webhookURL = cfg.Notify.SlackWebhookURL
	s.channel = cfg.Notify.SlackChannel
	return nil
}

// Start is a no-op: SlackSink has no background loop, only outbound calls.
func (s *SlackSink) Start(context.Context) error { return nil }

// Stop is a no-op for the same reason.
func (s *SlackSink) Stop(context.Context) error { return nil }

// Health reports unhealthy if no webhook URL is configured.
func (s *SlackSink) Health() error {
	if s.webhookURL == "" {
		return fmt.Errorf("notify: no slack webhook url configured")
	}
	return nil
}

var _ Sink = (*SlackSink)(nil)

// Package alert posts operator alerts to a Slack incoming webhook.
package alert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// Slack sends alerts to an incoming webhook. The zero webhook URL disables
// alerting; Alert then only logs.
type Slack struct {
	webhookURL string
	prefix     string
	logger     *slog.Logger
}

// NewSlack creates an alerter. prefix is prepended to every alert so that
// several bot processes can share one channel.
func NewSlack(webhookURL, prefix string, logger *slog.Logger) *Slack {
	return &Slack{webhookURL: webhookURL, prefix: prefix, logger: logger}
}

// Enabled reports whether alerts are actually posted.
func (s *Slack) Enabled() bool {
	return s.webhookURL != ""
}

// Alert posts text to the webhook.
func (s *Slack) Alert(ctx context.Context, text string) error {
	if s.prefix != "" {
		text = fmt.Sprintf("[%s] %s", s.prefix, text)
	}
	if !s.Enabled() {
		s.logger.Debug("Alerting disabled, dropping alert", "text", text)
		return nil
	}
	if err := slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{Text: text}); err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	s.logger.Info("Alert posted", "text", text)
	return nil
}

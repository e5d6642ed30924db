// Package message composes mention notifications and delivers them through a
// pluggable provider.
package message

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"mentioned-bot/pkg/mention"
)

// Provider defines the interface for direct message delivery.
type Provider interface {
	// Send delivers a direct message to the named account.
	Send(ctx context.Context, to, subject, body string) error
}

// Notification describes a single mention to deliver.
type Notification struct {
	Category mention.Category
	Link     string
	Author   string // Author of the mentioning item, empty if deleted
	Text     string // Text the mention was found in
}

// Sender composes notifications and hands them to a provider.
type Sender struct {
	provider Provider
	composer *Composer
	logger   *slog.Logger
}

// New creates a new notification sender.
func New(provider Provider, composer *Composer, logger *slog.Logger) *Sender {
	return &Sender{
		provider: provider,
		composer: composer,
		logger:   logger,
	}
}

// Notify sends a mention notification to the named account.
func (s *Sender) Notify(ctx context.Context, to string, n Notification) error {
	body := s.composer.Compose(n.Category, n.Link, n.Author, n.Text)

	s.logger.Info("Sending mention notification",
		"to", to,
		"category", string(n.Category),
		"link", n.Link,
		"body_length", utf8.RuneCountInString(body))

	if err := s.provider.Send(ctx, to, Subject, body); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

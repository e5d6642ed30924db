package message

import (
	"context"
	"log/slog"
	"unicode/utf8"
)

// MockProvider logs messages instead of sending them, for local development.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Send logs the message instead of sending it.
func (m *MockProvider) Send(ctx context.Context, to, subject, body string) error {
	m.logger.Info("MOCK MESSAGE",
		"to", to,
		"subject", subject,
		"body_length", utf8.RuneCountInString(body))
	return nil
}

package poll

import (
	"context"
	"fmt"
	"log/slog"

	"mentioned-bot/pkg/mention"
)

// Blacklist reports whether an account has opted out of notifications.
type Blacklist interface {
	Contains(ctx context.Context, name string) (bool, error)
}

// Gate checks accounts against the current blacklist right before delivery.
type Gate struct {
	blacklist Blacklist
	logger    *slog.Logger
}

// NewGate creates an opt-out gate.
func NewGate(blacklist Blacklist, logger *slog.Logger) *Gate {
	return &Gate{
		blacklist: blacklist,
		logger:    logger,
	}
}

// Allowed reports whether account may receive a notification.
func (g *Gate) Allowed(ctx context.Context, account mention.Account) (bool, error) {
	listed, err := g.blacklist.Contains(ctx, account.Name)
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	if listed {
		g.logger.Info("Account is blacklisted", "name", account.Name)
		return false, nil
	}
	return true, nil
}

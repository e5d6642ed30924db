// Package optout lets accounts stop and resume notifications by sending the
// bot a private message reading "ignore" or "unignore".
package optout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mentioned-bot/pkg/mention"
)

const (
	KeywordIgnore   = "ignore"
	KeywordUnignore = "unignore"
)

// Replies sent back to the requesting account.
const (
	IgnoredReply        = "You have been added to my blacklist, message me with 'unignore' to begin receiving notifications again."
	AlreadyIgnoredReply = "You are already being ignored."
	NotIgnoredReply     = "You are already not being ignored. ;)"
	UnignoredReply      = "You have been removed from my blacklist, message me with 'ignore' to stop receiving notifications."
)

// Inbox reads and answers the bot's private messages.
type Inbox interface {
	Unread(ctx context.Context) ([]*mention.Message, error)
	MarkRead(ctx context.Context, ids ...string) error
	Send(ctx context.Context, to, subject, body string) error
}

// Store is the blacklist the handler edits.
type Store interface {
	Add(ctx context.Context, name string) (bool, error)
	Remove(ctx context.Context, name string) (bool, error)
}

// Handler processes opt-out requests.
type Handler struct {
	inbox   Inbox
	store   Store
	subject string
	logger  *slog.Logger
}

// New creates a handler whose replies carry botName as their subject.
func New(inbox Inbox, store Store, botName string, logger *slog.Logger) *Handler {
	return &Handler{inbox: inbox, store: store, subject: botName, logger: logger}
}

// Tick handles every unread message once. Messages that were handled, or
// that are not opt-out requests, are marked read; a message whose handling
// failed stays unread and is picked up again on the next tick.
func (h *Handler) Tick(ctx context.Context) error {
	msgs, err := h.inbox.Unread(ctx)
	if err != nil {
		return fmt.Errorf("read inbox: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}
	h.logger.Info("Processing unread messages", "count", len(msgs))

	var done []string
	var failed int
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := h.handle(ctx, msg); err != nil {
			failed++
			h.logger.Warn("Failed to handle message", "message_id", msg.ID, "author", msg.Author, "error", err)
			continue
		}
		done = append(done, msg.ID)
	}

	if err := h.inbox.MarkRead(ctx, done...); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d messages failed", failed, len(msgs))
	}
	return nil
}

func (h *Handler) handle(ctx context.Context, msg *mention.Message) error {
	if msg.Author == "" {
		return nil
	}

	var reply string
	switch strings.ToLower(strings.TrimSpace(msg.Body)) {
	case KeywordIgnore:
		added, err := h.store.Add(ctx, msg.Author)
		if err != nil {
			return fmt.Errorf("add to blacklist: %w", err)
		}
		reply = AlreadyIgnoredReply
		if added {
			reply = IgnoredReply
		}
		h.logger.Info("Ignore request", "author", msg.Author, "added", added)
	case KeywordUnignore:
		removed, err := h.store.Remove(ctx, msg.Author)
		if err != nil {
			return fmt.Errorf("remove from blacklist: %w", err)
		}
		reply = NotIgnoredReply
		if removed {
			reply = UnignoredReply
		}
		h.logger.Info("Unignore request", "author", msg.Author, "removed", removed)
	default:
		return nil
	}

	if err := h.inbox.Send(ctx, msg.Author, h.subject, reply); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

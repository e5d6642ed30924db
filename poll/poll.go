// Package poll scans platform items for username mentions and notifies the
// mentioned accounts.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mentioned-bot/message"
	"mentioned-bot/parse"
	"mentioned-bot/pkg/mention"
)

// Source fetches the most recent batch of items from a platform feed.
type Source interface {
	Fetch(ctx context.Context) ([]*mention.Item, error)
}

// SourceFunc adapts a fetch function to Source.
type SourceFunc func(ctx context.Context) ([]*mention.Item, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context) ([]*mention.Item, error) { return f(ctx) }

// Notifier delivers a mention notification.
type Notifier interface {
	Notify(ctx context.Context, to string, n message.Notification) error
}

// Recorder persists per-account mention counters.
type Recorder interface {
	Record(ctx context.Context, name string, category mention.Category) error
}

// Field is one independently scanned text field of an item.
type Field struct {
	Category mention.Category
	Text     func(*mention.Item) string
}

// CommentFields scans the body of a comment.
var CommentFields = []Field{
	{Category: mention.Comment, Text: func(i *mention.Item) string { return i.Body }},
}

// SubmissionFields scans a submission's title and self-text separately.
var SubmissionFields = []Field{
	{Category: mention.Title, Text: func(i *mention.Item) string { return i.Title }},
	{Category: mention.SelfText, Text: func(i *mention.Item) string { return i.SelfText }},
}

// DeliveryError reports a failed notification send. It aborts the cycle.
type DeliveryError struct {
	To     string
	ItemID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s for %s: %v", e.To, e.ItemID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsDeliveryError checks if an error is a delivery failure.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}

// Stats summarises the monitor's activity since start.
type Stats struct {
	LastCycleAt   time.Time
	LastError     string
	Cycles        int
	ItemsScanned  int
	Notifications int
	Blocked       int
	Handled       int
}

// Config holds monitor dependencies.
type Config struct {
	Source      Source
	Fields      []Field
	Resolver    *Resolver
	Gate        *Gate
	Notifier    Notifier
	Recorder    Recorder
	Dedup       *Dedup // Optional; a fresh set is created when nil
	Logger      *slog.Logger
	AllowHyphen bool
}

// Monitor runs the mention pipeline over one source.
type Monitor struct {
	source      Source
	fields      []Field
	resolver    *Resolver
	gate        *Gate
	notifier    Notifier
	recorder    Recorder
	dedup       *Dedup
	logger      *slog.Logger
	allowHyphen bool

	mu    sync.Mutex
	stats Stats
}

// New creates a new mention monitor.
func New(cfg *Config) *Monitor {
	dedup := cfg.Dedup
	if dedup == nil {
		dedup = NewDedup()
	}
	return &Monitor{
		source:      cfg.Source,
		fields:      cfg.Fields,
		resolver:    cfg.Resolver,
		gate:        cfg.Gate,
		notifier:    cfg.Notifier,
		recorder:    cfg.Recorder,
		dedup:       dedup,
		logger:      cfg.Logger,
		allowHyphen: cfg.AllowHyphen,
	}
}

// CheckAll fetches one batch and processes every item in it. Errors confined
// to a single item are logged and skipped; a delivery failure aborts the cycle.
func (m *Monitor) CheckAll(ctx context.Context) error {
	start := time.Now()

	items, err := m.source.Fetch(ctx)
	if err != nil {
		m.finishCycle(start, err)
		return fmt.Errorf("fetch items: %w", err)
	}

	m.logger.Info("Checking items", "count", len(items), "timestamp", start.Format(time.RFC3339))

	var failed int
	for _, item := range items {
		select {
		case <-ctx.Done():
			m.logger.Info("Context cancelled, stopping cycle", "error", ctx.Err())
			m.finishCycle(start, ctx.Err())
			return ctx.Err()
		default:
		}

		m.mu.Lock()
		m.stats.ItemsScanned++
		m.mu.Unlock()

		if err := m.checkItem(ctx, item); err != nil {
			if IsDeliveryError(err) {
				m.finishCycle(start, err)
				return err
			}
			failed++
			m.logger.Warn("Item check failed", "item_id", item.ID, "error", err)
		}
	}

	m.logger.Info("Item check completed",
		"total_items", len(items),
		"failed", failed,
		"dedup_size", m.dedup.Len(),
		"duration_ms", time.Since(start).Milliseconds())

	m.finishCycle(start, nil)
	return nil
}

func (m *Monitor) checkItem(ctx context.Context, item *mention.Item) error {
	for _, field := range m.fields {
		if err := m.checkField(ctx, item, field); err != nil {
			return fmt.Errorf("check %s: %w", field.Category, err)
		}
	}
	return nil
}

// checkField notifies the first valid, non-blacklisted account mentioned in
// one field of an item. Only the first resolvable account is compared against
// the dedup set; blacklisted accounts are skipped without marking the item.
func (m *Monitor) checkField(ctx context.Context, item *mention.Item, field Field) error {
	text := field.Text(item)
	key := dedupKey(field.Category, item.ID)

	for token := range parse.Tokens(text) {
		name := parse.Username(token, m.allowHyphen)
		if name == "" {
			continue
		}

		m.logger.Debug("Possible match", "item_id", item.ID, "category", string(field.Category), "name", name)

		account, ok := m.resolver.Resolve(ctx, name)
		if !ok {
			continue
		}

		if m.dedup.Seen(key) {
			m.logger.Debug("Item already handled", "item_id", item.ID, "category", string(field.Category))
			return nil
		}

		allowed, err := m.gate.Allowed(ctx, account)
		if err != nil {
			return err
		}
		if !allowed {
			m.mu.Lock()
			m.stats.Blocked++
			m.mu.Unlock()
			continue
		}

		n := message.Notification{
			Category: field.Category,
			Link:     item.Permalink,
			Author:   item.Author,
			Text:     text,
		}
		if err := m.notifier.Notify(ctx, account.Name, n); err != nil {
			return &DeliveryError{To: account.Name, ItemID: item.ID, Err: err}
		}

		if !m.dedup.Add(key) {
			m.logger.Warn("Item marked by a concurrent check", "item_id", item.ID, "category", string(field.Category))
			return nil
		}

		if err := m.recorder.Record(ctx, account.Name, field.Category); err != nil {
			m.logger.Warn("Failed to record mention", "name", account.Name, "category", string(field.Category), "error", err)
		}

		m.mu.Lock()
		m.stats.Notifications++
		m.mu.Unlock()

		m.logger.Info("Mention notified",
			"to", account.Name,
			"item_id", item.ID,
			"category", string(field.Category))
		return nil
	}
	return nil
}

func (m *Monitor) finishCycle(start time.Time, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Cycles++
	m.stats.LastCycleAt = start
	m.stats.LastError = ""
	if err != nil {
		m.stats.LastError = err.Error()
	}
}

// Stats returns a snapshot of the monitor's counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Handled = m.dedup.Len()
	return s
}

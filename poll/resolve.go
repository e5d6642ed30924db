package poll

import (
	"context"
	"log/slog"

	"mentioned-bot/pkg/mention"
)

// Lookup finds an account by name. A nil account with a nil error means the
// account does not exist.
type Lookup interface {
	Account(ctx context.Context, name string) (*mention.Account, error)
}

// Resolver turns candidate names into accounts. Lookup failures are logged and
// reported as not found; they never abort a scan.
type Resolver struct {
	lookup Lookup
	logger *slog.Logger
}

// NewResolver creates a resolver over lookup.
func NewResolver(lookup Lookup, logger *slog.Logger) *Resolver {
	return &Resolver{
		lookup: lookup,
		logger: logger,
	}
}

// Resolve returns the account for name and whether it was found.
func (r *Resolver) Resolve(ctx context.Context, name string) (mention.Account, bool) {
	if name == "" {
		return mention.Account{}, false
	}

	account, err := r.lookup.Account(ctx, name)
	if err != nil {
		r.logger.Warn("Account lookup failed", "name", name, "error", err)
		return mention.Account{}, false
	}
	if account == nil {
		r.logger.Debug("No such account", "name", name)
		return mention.Account{}, false
	}
	return *account, true
}

package storage

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
)

// BlacklistKey is the object name of the blacklist file.
const BlacklistKey = "blacklist.txt"

// Blacklist is the set of accounts that opted out of notifications, stored as
// one comma-delimited line of lowercase names. Every call reads a fresh
// snapshot, so changes made by the opt-out process are seen on the next check.
type Blacklist struct {
	objects objects
	mu      sync.Mutex // serialises read-modify-write within this process
}

// NewBlacklist creates a blacklist kept in localPath when set, otherwise in
// the given Cloud Storage bucket.
func NewBlacklist(client *storage.Client, bucket, localPath string, logger *slog.Logger) *Blacklist {
	return &Blacklist{
		objects: objects{
			client:     client,
			logger:     logger,
			localPath:  localPath,
			bucket:     bucket,
			retryDelay: time.Second,
		},
	}
}

// List returns every blacklisted name.
func (b *Blacklist) List(ctx context.Context) ([]string, error) {
	data, err := b.objects.read(ctx, BlacklistKey)
	if err != nil {
		return nil, err
	}
	return decodeNames(string(data)), nil
}

// Contains reports whether name is blacklisted, ignoring case.
func (b *Blacklist) Contains(ctx context.Context, name string) (bool, error) {
	names, err := b.List(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(names, normalize(name)), nil
}

// Add blacklists name. It reports false when the name was already present.
func (b *Blacklist) Add(ctx context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	names, err := b.List(ctx)
	if err != nil {
		return false, err
	}
	name = normalize(name)
	if name == "" || slices.Contains(names, name) {
		return false, nil
	}
	names = append(names, name)
	if err := b.objects.write(ctx, BlacklistKey, []byte(strings.Join(names, ","))); err != nil {
		return false, err
	}
	b.objects.logger.Info("Account blacklisted", "name", name, "total", len(names))
	return true, nil
}

// Remove takes name off the blacklist. It reports false when the name was
// not present.
func (b *Blacklist) Remove(ctx context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	names, err := b.List(ctx)
	if err != nil {
		return false, err
	}
	name = normalize(name)
	i := slices.Index(names, name)
	if i < 0 {
		return false, nil
	}
	names = slices.Delete(names, i, i+1)
	if err := b.objects.write(ctx, BlacklistKey, []byte(strings.Join(names, ","))); err != nil {
		return false, err
	}
	b.objects.logger.Info("Account removed from blacklist", "name", name, "total", len(names))
	return true, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func decodeNames(s string) []string {
	var names []string
	for part := range strings.SplitSeq(s, ",") {
		if n := normalize(part); n != "" && !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	return names
}

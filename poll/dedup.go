package poll

import (
	"sync"

	"mentioned-bot/pkg/mention"
)

// Dedup is the in-memory set of item fields already notified. It lives for
// the lifetime of the process.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedup creates an empty dedup set.
func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]struct{})}
}

// Seen reports whether key has been added.
func (d *Dedup) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[key]
	return ok
}

// Add records key and reports whether it was new.
func (d *Dedup) Add(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// Len returns the number of recorded keys.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func dedupKey(category mention.Category, itemID string) string {
	return string(category) + ":" + itemID
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"mentioned-bot/pkg/mention"
)

// CountersKey is the object name of the file-backed counters.
const CountersKey = "mentions.json"

// CountersCollection is the Firestore collection holding one document per account.
const CountersCollection = "mention_counts"

// Counts maps a mention category to the number of notifications sent for it.
type Counts map[mention.Category]int

// FileCounters keeps mention counters in a single JSON object in a local
// directory or a Cloud Storage bucket.
type FileCounters struct {
	objects objects
	mu      sync.Mutex
}

// NewFileCounters creates counters kept in localPath when set, otherwise in
// the given Cloud Storage bucket.
func NewFileCounters(client *storage.Client, bucket, localPath string, logger *slog.Logger) *FileCounters {
	return &FileCounters{
		objects: objects{
			client:     client,
			logger:     logger,
			localPath:  localPath,
			bucket:     bucket,
			retryDelay: time.Second,
		},
	}
}

func (c *FileCounters) load(ctx context.Context) (map[string]Counts, error) {
	data, err := c.objects.read(ctx, CountersKey)
	if err != nil {
		return nil, err
	}
	all := make(map[string]Counts)
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("unmarshal counters: %w", err)
	}
	return all, nil
}

// Record increments the counter for name and category.
func (c *FileCounters) Record(ctx context.Context, name string, category mention.Category) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.load(ctx)
	if err != nil {
		return err
	}
	key := normalize(name)
	if all[key] == nil {
		all[key] = make(Counts)
	}
	all[key][category]++

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	return c.objects.write(ctx, CountersKey, data)
}

// Counts returns the counters for one account.
func (c *FileCounters) Counts(ctx context.Context, name string) (Counts, error) {
	all, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	counts := all[normalize(name)]
	if counts == nil {
		counts = make(Counts)
	}
	return counts, nil
}

// Totals returns the counters summed over every account.
func (c *FileCounters) Totals(ctx context.Context) (Counts, error) {
	all, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	totals := make(Counts)
	for _, counts := range all {
		for cat, n := range counts {
			totals[cat] += n
		}
	}
	return totals, nil
}

// FirestoreCounters keeps one document per account in Firestore, with an
// integer field per category.
type FirestoreCounters struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

// NewFirestoreCounters wraps an existing Firestore client.
func NewFirestoreCounters(client *firestore.Client, logger *slog.Logger) *FirestoreCounters {
	return &FirestoreCounters{client: client, collection: CountersCollection, logger: logger}
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.NotFound
}

// Record increments the counter for name and category.
func (c *FirestoreCounters) Record(ctx context.Context, name string, category mention.Category) error {
	docRef := c.client.Collection(c.collection).Doc(normalize(name))
	data := map[string]any{
		"name":             name,
		string(category):   firestore.Increment(1),
		"last_notified_at": firestore.ServerTimestamp,
	}

	err := retry.Do(
		func() error {
			_, err := docRef.Set(ctx, data, firestore.MergeAll)
			return err
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying counter update after error", "attempt", n, "name", name, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("increment counter (doc=%s): %w", docRef.ID, err)
	}
	return nil
}

// Counts returns the counters for one account.
func (c *FirestoreCounters) Counts(ctx context.Context, name string) (Counts, error) {
	snapshot, err := c.client.Collection(c.collection).Doc(normalize(name)).Get(ctx)
	if isNotFound(err) {
		return make(Counts), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get counters: %w", err)
	}
	return countsFromData(snapshot.Data()), nil
}

// Totals returns the counters summed over every account.
func (c *FirestoreCounters) Totals(ctx context.Context) (Counts, error) {
	totals := make(Counts)
	iter := c.client.Collection(c.collection).Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate counters: %w", err)
		}
		for cat, n := range countsFromData(doc.Data()) {
			totals[cat] += n
		}
	}
	return totals, nil
}

func countsFromData(data map[string]any) Counts {
	counts := make(Counts)
	for _, cat := range []mention.Category{mention.Comment, mention.Title, mention.SelfText} {
		if v, ok := data[string(cat)].(int64); ok {
			counts[cat] = int(v)
		}
	}
	return counts
}

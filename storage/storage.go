// Package storage persists the opt-out blacklist and per-account mention
// counters, either on the local filesystem or in Google Cloud.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// objects reads and writes whole named objects in a local directory or a
// Cloud Storage bucket. A missing object reads as nil data.
type objects struct {
	client     *storage.Client
	logger     *slog.Logger
	localPath  string
	bucket     string
	retryDelay time.Duration
}

func (o *objects) read(ctx context.Context, key string) ([]byte, error) {
	if o.localPath != "" {
		data, err := os.ReadFile(filepath.Join(o.localPath, key))
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := o.client.Bucket(o.bucket).Object(key).NewReader(ctx)
			if errors.Is(openErr, storage.ErrObjectNotExist) {
				data = nil
				return nil
			}
			if openErr != nil {
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					o.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(o.retryDelay),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*o.retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			o.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

func (o *objects) write(ctx context.Context, key string, data []byte) error {
	if o.localPath != "" {
		path := filepath.Join(o.localPath, key)
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("replace local file: %w", err)
		}
		return nil
	}

	err := retry.Do(
		func() error {
			w := o.client.Bucket(o.bucket).Object(key).NewWriter(ctx)
			w.ContentType = "text/plain; charset=utf-8"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					o.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(o.retryDelay),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*o.retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			o.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

// Package feed fetches comments and submissions from the public Atom feeds,
// for running without API credentials.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
	"github.com/mmcdole/gofeed"

	"mentioned-bot/pkg/mention"
)

// Kind selects which item fields an entry populates.
type Kind int

const (
	// Comments feeds carry the comment body as entry content.
	Comments Kind = iota
	// Submissions feeds carry the title and the self-text as content.
	Submissions
)

const (
	// DefaultCommentsURL is the site-wide comments feed.
	DefaultCommentsURL = "https://www.reddit.com/r/all/comments/.rss?limit=100"
	// DefaultSubmissionsURL is the site-wide new submissions feed.
	DefaultSubmissionsURL = "https://www.reddit.com/r/all/new/.rss?limit=100"

	maxBytes = 8 << 20
)

// HTTPError reports a non-OK feed response.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// IsClientError checks if an error is a 4xx feed response other than 429.
func IsClientError(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	return he.StatusCode >= 400 && he.StatusCode < 500 && he.StatusCode != http.StatusTooManyRequests
}

// Source fetches one Atom feed.
type Source struct {
	client     *http.Client
	logger     *slog.Logger
	url        string
	userAgent  string
	kind       Kind
	retryDelay time.Duration
}

// New creates a feed source.
func New(client *http.Client, feedURL, userAgent string, kind Kind, logger *slog.Logger) *Source {
	return &Source{
		client:     client,
		logger:     logger,
		url:        feedURL,
		userAgent:  userAgent,
		kind:       kind,
		retryDelay: time.Second,
	}
}

// Fetch returns the entries currently in the feed, newest first.
func (s *Source) Fetch(ctx context.Context) ([]*mention.Item, error) {
	var items []*mention.Item

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("User-Agent", s.userAgent)

			startTime := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Warn("Feed request failed, will retry",
					"url", s.url,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Debug("Feed request completed",
				"url", s.url,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode != http.StatusOK {
				return &HTTPError{URL: s.url, StatusCode: resp.StatusCode}
			}

			items, err = s.parse(io.LimitReader(resp.Body, maxBytes))
			if err != nil {
				s.logger.Error("Failed to parse feed", "url", s.url, "error", err)
				return retry.Unrecoverable(err)
			}
			return nil
		},
		retry.Attempts(5),
		retry.Delay(s.retryDelay),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*s.retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying feed fetch after error", "attempt", n, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !IsClientError(err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	s.logger.Debug("Feed parsed", "url", s.url, "entries", len(items))
	return items, nil
}

func (s *Source) parse(r io.Reader) ([]*mention.Item, error) {
	f, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]*mention.Item, 0, len(f.Items))
	for _, entry := range f.Items {
		content := entry.Content
		if content == "" {
			content = entry.Description
		}
		text, err := htmlText(content)
		if err != nil {
			s.logger.Warn("Failed to parse entry content", "id", entry.GUID, "error", err)
			continue
		}

		item := &mention.Item{
			ID:        entry.GUID,
			Permalink: entry.Link,
			Author:    author(entry),
		}
		if s.kind == Submissions {
			item.Title = entry.Title
			item.SelfText = text
		} else {
			item.Body = text
		}
		items = append(items, item)
	}
	return items, nil
}

func author(entry *gofeed.Item) string {
	var name string
	switch {
	case len(entry.Authors) > 0 && entry.Authors[0] != nil:
		name = entry.Authors[0].Name
	case entry.Author != nil:
		name = entry.Author.Name
	}
	name = strings.TrimPrefix(strings.TrimSpace(name), "/u/")
	if name == "[deleted]" {
		return ""
	}
	return name
}

// htmlText flattens entry HTML into plain text, one paragraph per block
// element separated by blank lines.
func htmlText(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", err
	}

	var paras []string
	doc.Find("p, pre").Each(func(_ int, sel *goquery.Selection) {
		if t := strings.TrimSpace(sel.Text()); t != "" {
			paras = append(paras, t)
		}
	})
	if len(paras) == 0 {
		return strings.TrimSpace(doc.Text()), nil
	}
	return strings.Join(paras, "\n\n"), nil
}

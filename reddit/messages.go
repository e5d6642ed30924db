package reddit

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"mentioned-bot/pkg/mention"
)

type jsonResponse struct {
	JSON struct {
		Errors [][]any `json:"errors"`
	} `json:"json"`
}

// Send delivers a private message.
func (c *Client) Send(ctx context.Context, to, subject, body string) error {
	form := url.Values{
		"api_type": {"json"},
		"to":       {to},
		"subject":  {subject},
		"text":     {body},
	}
	var resp jsonResponse
	if err := c.postOnce(ctx, "/api/compose", form, &resp); err != nil {
		return fmt.Errorf("compose: %w", err)
	}
	if len(resp.JSON.Errors) > 0 {
		return &APIError{Errors: resp.JSON.Errors}
	}
	return nil
}

// Unread returns the unread private messages in the bot's inbox.
func (c *Client) Unread(ctx context.Context) ([]*mention.Message, error) {
	var l listing
	if err := c.get(ctx, "/message/unread", url.Values{"raw_json": {"1"}}, &l); err != nil {
		return nil, fmt.Errorf("fetch unread: %w", err)
	}

	msgs := make([]*mention.Message, 0, len(l.Data.Children))
	for _, t := range l.Data.Children {
		// Comment replies and username mentions also land in the inbox.
		if t.Kind != "t4" {
			continue
		}
		msgs = append(msgs, &mention.Message{
			ID:      t.Data.Name,
			Author:  authorName(t.Data.Author),
			Subject: t.Data.Subject,
			Body:    t.Data.Body,
		})
	}
	return msgs, nil
}

// MarkRead marks the given messages as read.
func (c *Client) MarkRead(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.post(ctx, "/api/read_message", url.Values{"id": {strings.Join(ids, ",")}}, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

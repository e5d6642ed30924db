package reddit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"mentioned-bot/pkg/mention"
)

const listingLimit = 100

type listing struct {
	Data struct {
		Children []thing `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string    `json:"kind"`
	Data thingData `json:"data"`
}

type thingData struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Author      string `json:"author"`
	Body        string `json:"body"`
	Title       string `json:"title"`
	SelfText    string `json:"selftext"`
	Permalink   string `json:"permalink"`
	Subject     string `json:"subject"`
	IsSuspended bool   `json:"is_suspended"`
}

// RecentComments returns the newest comments across the site.
func (c *Client) RecentComments(ctx context.Context) ([]*mention.Item, error) {
	return c.listing(ctx, "/r/all/comments")
}

// RecentSubmissions returns the newest submissions across the site.
func (c *Client) RecentSubmissions(ctx context.Context) ([]*mention.Item, error) {
	return c.listing(ctx, "/r/all/new")
}

func (c *Client) listing(ctx context.Context, path string) ([]*mention.Item, error) {
	query := url.Values{
		"limit":    {strconv.Itoa(listingLimit)},
		"raw_json": {"1"},
	}
	var l listing
	if err := c.get(ctx, path, query, &l); err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}

	items := make([]*mention.Item, 0, len(l.Data.Children))
	for _, t := range l.Data.Children {
		items = append(items, toItem(t.Data))
	}
	c.logger.Debug("Fetched listing", "path", path, "count", len(items))
	return items, nil
}

func toItem(d thingData) *mention.Item {
	id := d.Name
	if id == "" {
		id = d.ID
	}
	link := d.Permalink
	if link != "" && link[0] == '/' {
		link = siteURL + link
	}
	return &mention.Item{
		ID:        id,
		Permalink: link,
		Author:    authorName(d.Author),
		Body:      d.Body,
		Title:     d.Title,
		SelfText:  d.SelfText,
	}
}

func authorName(s string) string {
	if s == "[deleted]" {
		return ""
	}
	return s
}

// Account looks up a user by name. It returns nil without error when the
// account does not exist or is suspended.
func (c *Client) Account(ctx context.Context, name string) (*mention.Account, error) {
	var t thing
	err := c.get(ctx, "/user/"+url.PathEscape(name)+"/about", url.Values{"raw_json": {"1"}}, &t)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup account %s: %w", name, err)
	}
	if t.Data.IsSuspended || t.Data.Name == "" {
		return nil, nil
	}
	return &mention.Account{Name: t.Data.Name}, nil
}

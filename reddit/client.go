// Package reddit is a small client for the parts of the Reddit API the bot
// uses: global listings, account lookup, direct messages and the inbox.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/oauth2"
)

const (
	// DefaultAPIURL is the base URL for authenticated API requests.
	DefaultAPIURL = "https://oauth.reddit.com"
	// DefaultTokenURL is the OAuth2 token endpoint.
	DefaultTokenURL = "https://www.reddit.com/api/v1/access_token"

	siteURL  = "https://www.reddit.com"
	maxBytes = 8 << 20
)

// StatusError reports a non-2xx API response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
}

// IsNotFound checks if an error is an HTTP 404 from the API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// permanentError marks failures that repeating the request cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// retryable reports whether a failed request is worth repeating: transport
// errors, rate limiting and server errors are; other client errors are not.
func retryable(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	var se *StatusError
	if !errors.As(err, &se) {
		return true
	}
	return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
}

// rejected reports whether the server refused a request before acting on it.
// Only these failures are safe to repeat for a non-idempotent call.
func rejected(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}

// APIError carries the errors array of a JSON API response.
type APIError struct {
	Errors [][]any
}

func (e *APIError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fields := range e.Errors {
		strs := make([]string, 0, len(fields))
		for _, f := range fields {
			if f != nil {
				strs = append(strs, fmt.Sprint(f))
			}
		}
		parts = append(parts, strings.Join(strs, ": "))
	}
	return "reddit api: " + strings.Join(parts, "; ")
}

// Credentials identify the bot's script application and account.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
	TokenURL     string // Defaults to DefaultTokenURL
	APIURL       string // Defaults to DefaultAPIURL
}

// Client talks to the Reddit API.
type Client struct {
	http       *http.Client
	baseURL    string
	userAgent  string
	logger     *slog.Logger
	retryDelay time.Duration
	jsonSuffix bool // public endpoints need an explicit .json suffix
}

// New creates a client that sends requests through httpClient, which must
// already carry any authentication.
func New(httpClient *http.Client, baseURL, userAgent string, logger *slog.Logger) *Client {
	return &Client{
		http:       httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		userAgent:  userAgent,
		logger:     logger,
		retryDelay: time.Second,
	}
}

// NewAnonymous creates a client for the public, unauthenticated endpoints.
// It can read listings and look up accounts but cannot send messages.
func NewAnonymous(httpClient *http.Client, userAgent string, logger *slog.Logger) *Client {
	c := New(httpClient, siteURL, userAgent, logger)
	c.jsonSuffix = true
	return c
}

// Login obtains an access token with the password grant and returns a client
// that renews it whenever it expires.
func Login(ctx context.Context, creds Credentials, logger *slog.Logger) (*Client, error) {
	tokenURL := creds.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	apiURL := creds.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	base := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &userAgentTransport{userAgent: creds.UserAgent, base: http.DefaultTransport},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	src := &passwordTokenSource{ctx: ctx, conf: conf, username: creds.Username, password: creds.Password}
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("password grant: %w", err)
	}
	logger.Info("Logged in", "username", creds.Username, "expires", tok.Expiry.Format(time.RFC3339))

	httpClient := oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src))
	httpClient.Timeout = 30 * time.Second

	return New(httpClient, apiURL, creds.UserAgent, logger), nil
}

// passwordTokenSource repeats the password grant; script apps get no refresh token.
type passwordTokenSource struct {
	ctx      context.Context
	conf     *oauth2.Config
	username string
	password string
}

func (s *passwordTokenSource) Token() (*oauth2.Token, error) {
	return s.conf.PasswordCredentialsToken(s.ctx, s.username, s.password)
}

type userAgentTransport struct {
	userAgent string
	base      http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out, 10, retryable)
}

// post is for idempotent form posts.
func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, form, out, 3, retryable)
}

// postOnce is for posts with side effects the server may have applied even
// when the response failed. It is repeated only after rate limiting.
func (c *Client) postOnce(ctx context.Context, path string, form url.Values, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, form, out, 3, rejected)
}

func (c *Client) do(ctx context.Context, method, path string, query, form url.Values, out any, attempts uint, retryIf func(error) bool) error {
	target := c.baseURL + path
	if c.jsonSuffix {
		target += ".json"
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	err := retry.Do(
		func() error {
			err := c.attempt(ctx, method, target, path, form, out)
			lastErr = err
			if err != nil && !retryIf(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(attempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*c.retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying API request after error", "method", method, "path", path, "attempt", n, "error", err)
		}),
	)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", method, path, ctxErr)
	}
	if lastErr != nil {
		err = lastErr
	}
	// StatusError already names the request.
	var se *StatusError
	if errors.As(err, &se) {
		return err
	}
	return fmt.Errorf("%s %s: %w", method, path, err)
}

func (c *Client) attempt(ctx context.Context, method, target, path string, form url.Values, out any) error {
	var body io.Reader = http.NoBody
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return &permanentError{fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	startTime := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("API request failed",
			"method", method,
			"path", path,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Debug("API request completed",
		"method", method,
		"path", path,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBytes)).Decode(out); err != nil {
		return &permanentError{fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

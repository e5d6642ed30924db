package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// Process modes. Each process runs exactly one loop; deploy one process per
// mode.
const (
	modeComments    = "comments"
	modeSubmissions = "submissions"
	modeOptOut      = "optout"

	sourceAPI  = "api"
	sourceFeed = "feed"
)

const (
	defaultBotName    = "mentioned_bot"
	defaultMaintainer = "w1ndwak3r"
	defaultSourceURL  = "https://github.com/windy1/MentionedBot"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type config struct {
	Mode   string
	Source string

	FeedURL string

	BotName    string
	Maintainer string
	SourceURL  string

	ClientID       string
	ClientSecret   string
	Username       string
	Password       string
	PasswordSecret string
	GCPProject     string

	CredentialsJSON  string
	LocalStorage     string
	Bucket           string
	FirestoreProject string

	PollInterval time.Duration
	AllowHyphen  bool
	MockDelivery bool

	SlackWebhookURL string
	Port            string
	LogLevel        slog.Level
}

// hasCredentials reports whether enough is configured to log in.
func (c *config) hasCredentials() bool {
	return c.ClientID != "" && c.Username != "" && (c.Password != "" || c.PasswordSecret != "")
}

// userAgent identifies the bot to the platform, as its API rules require.
func (c *config) userAgent() string {
	return fmt.Sprintf("%s/%s by /u/%s", c.BotName, version, c.Maintainer)
}

// clientOptions returns the Google Cloud client options for explicit
// credentials, or none to use Application Default Credentials.
func (c *config) clientOptions() []option.ClientOption {
	if c.CredentialsJSON == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsJSON([]byte(c.CredentialsJSON))}
}

// loadConfig reads configuration from getenv.
func loadConfig(getenv func(string) string) (*config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &config{
		Mode:             strings.ToLower(env("BOT_MODE", modeComments)),
		FeedURL:          env("FEED_URL", ""),
		BotName:          env("BOT_NAME", defaultBotName),
		Maintainer:       strings.TrimPrefix(env("BOT_MAINTAINER", defaultMaintainer), "/u/"),
		SourceURL:        env("SOURCE_URL", defaultSourceURL),
		ClientID:         env("REDDIT_CLIENT_ID", ""),
		ClientSecret:     env("REDDIT_CLIENT_SECRET", ""),
		Username:         env("REDDIT_USERNAME", ""),
		Password:         getenv("REDDIT_PASSWORD"),
		PasswordSecret:   env("REDDIT_PASSWORD_SECRET", ""),
		GCPProject:       env("GCP_PROJECT", ""),
		CredentialsJSON:  getenv("GOOGLE_CREDENTIALS_JSON"),
		LocalStorage:     env("LOCAL_STORAGE", ""),
		Bucket:           env("STORAGE_BUCKET", ""),
		FirestoreProject: env("FIRESTORE_PROJECT", ""),
		SlackWebhookURL:  env("SLACK_WEBHOOK_URL", ""),
		Port:             env("PORT", "8080"),
	}

	switch cfg.Mode {
	case modeComments, modeSubmissions, modeOptOut:
	default:
		return nil, fmt.Errorf("BOT_MODE: unknown mode %q (want %s, %s or %s)", cfg.Mode, modeComments, modeSubmissions, modeOptOut)
	}

	defaultSource := sourceFeed
	if cfg.hasCredentials() {
		defaultSource = sourceAPI
	}
	cfg.Source = strings.ToLower(env("SOURCE", defaultSource))
	switch cfg.Source {
	case sourceAPI, sourceFeed:
	default:
		return nil, fmt.Errorf("SOURCE: unknown source %q (want %s or %s)", cfg.Source, sourceAPI, sourceFeed)
	}

	var err error
	if cfg.PollInterval, err = time.ParseDuration(env("POLL_INTERVAL", "30s")); err != nil {
		return nil, fmt.Errorf("POLL_INTERVAL: %w", err)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL: must be positive, got %s", cfg.PollInterval)
	}
	if cfg.AllowHyphen, err = strconv.ParseBool(env("ALLOW_HYPHEN", "true")); err != nil {
		return nil, fmt.Errorf("ALLOW_HYPHEN: %w", err)
	}
	if cfg.MockDelivery, err = strconv.ParseBool(env("MOCK_DELIVERY", strconv.FormatBool(!cfg.hasCredentials()))); err != nil {
		return nil, fmt.Errorf("MOCK_DELIVERY: %w", err)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(env("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	// Default to local development mode if no bucket specified
	if cfg.Bucket == "" && cfg.LocalStorage == "" {
		cfg.LocalStorage = "./data"
	}

	if cfg.PasswordSecret != "" && cfg.GCPProject == "" {
		return nil, errors.New("GCP_PROJECT: required with REDDIT_PASSWORD_SECRET")
	}
	if cfg.Source == sourceAPI && !cfg.hasCredentials() {
		return nil, errors.New("SOURCE=api requires REDDIT_CLIENT_ID, REDDIT_USERNAME and a password")
	}
	if cfg.Mode == modeOptOut && !cfg.hasCredentials() {
		return nil, errors.New("BOT_MODE=optout requires Reddit credentials to read the inbox")
	}
	if !cfg.MockDelivery && !cfg.hasCredentials() {
		return nil, errors.New("MOCK_DELIVERY=false requires Reddit credentials")
	}

	return cfg, nil
}

// resolvePassword fetches the Reddit password from Secret Manager when a
// secret name is configured.
func resolvePassword(ctx context.Context, cfg *config) (string, error) {
	if cfg.PasswordSecret == "" {
		return cfg.Password, nil
	}

	client, err := secretmanager.NewClient(ctx, cfg.clientOptions()...)
	if err != nil {
		return "", fmt.Errorf("create secret manager client: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			slog.Warn("Failed to close secret manager client", "error", closeErr)
		}
	}()

	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", cfg.GCPProject, cfg.PasswordSecret)
	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("access secret %s: %w", cfg.PasswordSecret, err)
	}

	password := strings.TrimSpace(string(result.GetPayload().GetData()))
	if password == "" {
		return "", fmt.Errorf("secret %s is empty", cfg.PasswordSecret)
	}
	return password, nil
}

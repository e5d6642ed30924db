// Command mentioned-bot watches public comments and submissions for "/u/name"
// mentions and sends each mentioned account a private message linking back
// to where it was mentioned. A separate opt-out mode processes "ignore" and
// "unignore" requests sent to the bot.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	gcs "cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"mentioned-bot/alert"
	"mentioned-bot/feed"
	"mentioned-bot/message"
	"mentioned-bot/optout"
	"mentioned-bot/poll"
	"mentioned-bot/reddit"
	"mentioned-bot/server"
	"mentioned-bot/storage"
)

func main() {
	// A missing .env file is normal outside local development.
	envErr := godotenv.Load()

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logger.Warn("Failed to load .env file", "error", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Bot stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Bot stopped")
}

func run(ctx context.Context, cfg *config, logger *slog.Logger) error {
	logger.Info("Starting bot",
		"mode", cfg.Mode,
		"source", cfg.Source,
		"version", version,
		"poll_interval", cfg.PollInterval.String(),
		"allow_hyphen", cfg.AllowHyphen,
		"mock_delivery", cfg.MockDelivery)

	blacklist, counters, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	httpClient := &http.Client{Timeout: 30 * time.Second}

	var client *reddit.Client
	if cfg.hasCredentials() {
		password, err := resolvePassword(ctx, cfg)
		if err != nil {
			return fmt.Errorf("resolve password: %w", err)
		}
		client, err = reddit.Login(ctx, reddit.Credentials{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Username:     cfg.Username,
			Password:     password,
			UserAgent:    cfg.userAgent(),
		}, logger)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	alerter := alert.NewSlack(cfg.SlackWebhookURL, cfg.BotName+" "+cfg.Mode, logger)
	if !alerter.Enabled() {
		logger.Info("No SLACK_WEBHOOK_URL set, operator alerts disabled")
	}

	var (
		cycle func(context.Context) error
		stats func() poll.Stats
	)
	switch cfg.Mode {
	case modeOptOut:
		handler := optout.New(client, blacklist, cfg.BotName, logger)
		cycle = handler.Tick
	default:
		// Account lookups work without credentials through the public endpoints.
		var lookup poll.Lookup = client
		if client == nil {
			lookup = reddit.NewAnonymous(httpClient, cfg.userAgent(), logger)
		}
		monitor := newMonitor(cfg, client, lookup, httpClient, blacklist, counters, logger)
		cycle = monitor.CheckAll
		stats = monitor.Stats
	}

	runner := poll.NewRunner(cfg.Mode, cycle, cfg.PollInterval, alerter, logger)
	srv := server.New(&server.Config{
		Trigger:  runner,
		Stats:    stats,
		Counters: counters,
		Logger:   logger,
		BotName:  cfg.BotName,
		Mode:     cfg.Mode,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return srv.Run(ctx, cfg.Port)
	})
	return g.Wait()
}

// newMonitor wires the mention pipeline for the comments or submissions mode.
func newMonitor(cfg *config, client *reddit.Client, lookup poll.Lookup, httpClient *http.Client, blacklist *storage.Blacklist, counters poll.Recorder, logger *slog.Logger) *poll.Monitor {
	fields := poll.CommentFields
	if cfg.Mode == modeSubmissions {
		fields = poll.SubmissionFields
	}

	var source poll.Source
	switch {
	case cfg.Source == sourceAPI && cfg.Mode == modeSubmissions:
		source = poll.SourceFunc(client.RecentSubmissions)
	case cfg.Source == sourceAPI:
		source = poll.SourceFunc(client.RecentComments)
	default:
		kind, feedURL := feed.Comments, feed.DefaultCommentsURL
		if cfg.Mode == modeSubmissions {
			kind, feedURL = feed.Submissions, feed.DefaultSubmissionsURL
		}
		if cfg.FeedURL != "" {
			feedURL = cfg.FeedURL
		}
		source = feed.New(httpClient, feedURL, cfg.userAgent(), kind, logger)
	}

	var provider message.Provider = client
	if cfg.MockDelivery {
		logger.Info("Mock delivery enabled, notifications are logged instead of sent")
		provider = message.NewMockProvider(logger)
	}
	composer := message.NewComposer(cfg.BotName, cfg.Maintainer, cfg.SourceURL)

	return poll.New(&poll.Config{
		Source:      source,
		Fields:      fields,
		Resolver:    poll.NewResolver(lookup, logger),
		Gate:        poll.NewGate(blacklist, logger),
		Notifier:    message.New(provider, composer, logger),
		Recorder:    counters,
		Logger:      logger,
		AllowHyphen: cfg.AllowHyphen,
	})
}

// countersStore records mentions and reports them on the status page.
type countersStore interface {
	poll.Recorder
	server.Counters
}

// openStores opens the blacklist and the mention counters. The returned
// function releases any cloud clients.
func openStores(ctx context.Context, cfg *config, logger *slog.Logger) (*storage.Blacklist, countersStore, func(), error) {
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("Failed to close client", "error", err)
			}
		}
	}

	var gcsClient *gcs.Client
	if cfg.LocalStorage != "" {
		logger.Info("Running with local storage", "storage_path", cfg.LocalStorage)
		if err := os.MkdirAll(cfg.LocalStorage, 0o755); err != nil {
			return nil, nil, closeAll, fmt.Errorf("create local storage directory: %w", err)
		}
	} else {
		var err error
		gcsClient, err = gcs.NewClient(ctx, cfg.clientOptions()...)
		if err != nil {
			return nil, nil, closeAll, fmt.Errorf("create storage client: %w", err)
		}
		closers = append(closers, gcsClient.Close)
		logger.Info("Running with Cloud Storage", "bucket", cfg.Bucket)
	}

	blacklist := storage.NewBlacklist(gcsClient, cfg.Bucket, cfg.LocalStorage, logger)

	if cfg.FirestoreProject == "" {
		return blacklist, storage.NewFileCounters(gcsClient, cfg.Bucket, cfg.LocalStorage, logger), closeAll, nil
	}

	fsClient, err := firestore.NewClient(ctx, cfg.FirestoreProject, cfg.clientOptions()...)
	if err != nil {
		closeAll()
		return nil, nil, func() {}, fmt.Errorf("create firestore client: %w", err)
	}
	closers = append(closers, fsClient.Close)
	logger.Info("Recording mention counters in Firestore", "project", cfg.FirestoreProject)
	return blacklist, storage.NewFirestoreCounters(fsClient, logger), closeAll, nil
}

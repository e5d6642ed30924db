// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"mentioned-bot/pkg/mention"
	"mentioned-bot/poll"
	"mentioned-bot/storage"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "tmpl/*.tmpl"))

// Trigger wakes the poll loop for an immediate cycle.
type Trigger interface {
	Trigger()
}

// Counters reports per-account and total mention counters.
type Counters interface {
	Counts(ctx context.Context, name string) (storage.Counts, error)
	Totals(ctx context.Context) (storage.Counts, error)
}

// Server handles HTTP requests.
type Server struct {
	trigger  Trigger
	stats    func() poll.Stats
	counters Counters
	logger   *slog.Logger
	limiter  *rateLimiter
	botName  string
	mode     string
}

// Config holds server configuration.
type Config struct {
	Trigger  Trigger
	Stats    func() poll.Stats // Optional; nil in modes without a mention monitor
	Counters Counters          // Optional
	Logger   *slog.Logger
	BotName  string
	Mode     string
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		trigger:  cfg.Trigger,
		stats:    cfg.Stats,
		counters: cfg.Counters,
		logger:   cfg.Logger,
		limiter:  newRateLimiter(6, time.Minute),
		botName:  cfg.BotName,
		mode:     cfg.Mode,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pollz", s.handlePoll)
	mux.HandleFunc("/counts", s.handleCounts)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.logger, map[string]string{"status": "healthy"})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.logger.Warn("Poll trigger rate limited", "client_ip", ip)
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	s.logger.Info("Poll endpoint triggered", "client_ip", ip)
	s.trigger.Trigger()
	writeJSON(w, s.logger, map[string]string{"status": "triggered"})
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.counters == nil {
		http.Error(w, "Counters not configured", http.StatusNotFound)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "Missing name", http.StatusBadRequest)
		return
	}

	counts, err := s.counters.Counts(r.Context(), name)
	if err != nil {
		s.logger.Error("Failed to load counters", "name", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.logger, map[string]any{"name": name, "counts": counts})
}

type totalRow struct {
	Label string
	Count int
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")

	data := struct {
		BotName  string
		Mode     string
		HasStats bool
		Stats    poll.Stats
		Totals   []totalRow
	}{
		BotName: s.botName,
		Mode:    s.mode,
	}
	if s.stats != nil {
		data.HasStats = true
		data.Stats = s.stats()
	}
	if s.counters != nil {
		totals, err := s.counters.Totals(r.Context())
		if err != nil {
			s.logger.Warn("Failed to load counter totals", "error", err)
		}
		for _, cat := range []mention.Category{mention.Comment, mention.Title, mention.SelfText} {
			if n := totals[cat]; n > 0 {
				data.Totals = append(data.Totals, totalRow{Label: cat.Label(), Count: n})
			}
		}
	}

	if err := templates.ExecuteTemplate(w, "status.tmpl", data); err != nil {
		s.logger.Error("Failed to render template", "template", "status.tmpl", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", "error", err)
	}
}

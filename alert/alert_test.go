package alert

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAlertPostsToWebhook(t *testing.T) {
	var got struct {
		Text string `json:"text"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlack(srv.URL, "comments", discardLogger())
	if !s.Enabled() {
		t.Fatal("Expected alerter to be enabled")
	}
	if err := s.Alert(context.Background(), "cycle failed: boom"); err != nil {
		t.Fatalf("Alert() error = %v", err)
	}
	if want := "[comments] cycle failed: boom"; got.Text != want {
		t.Errorf("Webhook text = %q, want %q", got.Text, want)
	}
}

func TestAlertReportsWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSlack(srv.URL, "", discardLogger())
	if err := s.Alert(context.Background(), "x"); err == nil {
		t.Error("Expected error for rejected webhook")
	}
}

func TestAlertDisabled(t *testing.T) {
	s := NewSlack("", "optout", discardLogger())
	if s.Enabled() {
		t.Error("Expected alerter to be disabled without a URL")
	}
	if err := s.Alert(context.Background(), "ignored"); err != nil {
		t.Errorf("Alert() error = %v, want nil when disabled", err)
	}
}

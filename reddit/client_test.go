package reddit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mentioned-bot/pkg/mention"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(srv.Client(), srv.URL, "test-agent/1.0", slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.retryDelay = time.Millisecond
	return c
}

const commentListing = `{
  "kind": "Listing",
  "data": {
    "children": [
      {"kind": "t1", "data": {"id": "abc", "name": "t1_abc", "author": "alice", "body": "hi /u/bob", "permalink": "/r/go/comments/x/y/abc/"}},
      {"kind": "t1", "data": {"id": "def", "name": "t1_def", "author": "[deleted]", "body": "gone", "permalink": "/r/go/comments/x/y/def/"}}
    ]
  }
}`

func TestRecentComments(t *testing.T) {
	var gotQuery, gotAgent string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/r/all/comments" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query().Get("limit")
		gotAgent = r.Header.Get("User-Agent")
		fmt.Fprint(w, commentListing)
	}))

	items, err := c.RecentComments(context.Background())
	if err != nil {
		t.Fatalf("RecentComments() error = %v", err)
	}

	want := []*mention.Item{
		{ID: "t1_abc", Permalink: "https://www.reddit.com/r/go/comments/x/y/abc/", Author: "alice", Body: "hi /u/bob"},
		{ID: "t1_def", Permalink: "https://www.reddit.com/r/go/comments/x/y/def/", Author: "", Body: "gone"},
	}
	if diff := cmp.Diff(want, items); diff != "" {
		t.Errorf("RecentComments() mismatch (-want +got):\n%s", diff)
	}
	if gotQuery != "100" {
		t.Errorf("limit = %q, want 100", gotQuery)
	}
	if gotAgent != "test-agent/1.0" {
		t.Errorf("User-Agent = %q, want test-agent/1.0", gotAgent)
	}
}

func TestRecentSubmissions(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/r/all/new" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"data":{"children":[{"kind":"t3","data":{"name":"t3_q","author":"carol","title":"ask /u/dave","selftext":"body","permalink":"/r/x/comments/q/t/"}}]}}`)
	}))

	items, err := c.RecentSubmissions(context.Background())
	if err != nil {
		t.Fatalf("RecentSubmissions() error = %v", err)
	}
	want := []*mention.Item{
		{ID: "t3_q", Permalink: "https://www.reddit.com/r/x/comments/q/t/", Author: "carol", Title: "ask /u/dave", SelfText: "body"},
	}
	if diff := cmp.Diff(want, items); diff != "" {
		t.Errorf("RecentSubmissions() mismatch (-want +got):\n%s", diff)
	}
}

func TestAccount(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/Alice/about":
			fmt.Fprint(w, `{"kind":"t2","data":{"name":"Alice"}}`)
		case "/user/banned/about":
			fmt.Fprint(w, `{"kind":"t2","data":{"name":"banned","is_suspended":true}}`)
		default:
			http.NotFound(w, r)
		}
	}))

	tests := []struct {
		name string
		want *mention.Account
	}{
		{"Alice", &mention.Account{Name: "Alice"}},
		{"banned", nil},
		{"ghost", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Account(context.Background(), tt.name)
			if err != nil {
				t.Fatalf("Account(%q) error = %v", tt.name, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Account(%q) mismatch (-want +got):\n%s", tt.name, diff)
			}
		})
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"data":{"children":[]}}`)
	}))

	items, err := c.RecentComments(context.Background())
	if err != nil {
		t.Fatalf("RecentComments() error = %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected no items, got %d", len(items))
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("Expected 3 calls, got %d", n)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.RecentComments(context.Background())
	if err == nil {
		t.Fatal("Expected error for 403 response")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusForbidden {
		t.Errorf("Expected StatusError 403, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("Expected 1 call, got %d", n)
	}
}

func TestSend(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/compose" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		got = map[string]string{
			"api_type": r.PostForm.Get("api_type"),
			"to":       r.PostForm.Get("to"),
			"subject":  r.PostForm.Get("subject"),
			"text":     r.PostForm.Get("text"),
		}
		if got["to"] == "nobody" {
			fmt.Fprint(w, `{"json":{"errors":[["USER_DOESNT_EXIST","that user doesn't exist","to"]]}}`)
			return
		}
		fmt.Fprint(w, `{"json":{"errors":[]}}`)
	}))

	if err := c.Send(context.Background(), "bob", "hello", "body text"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	want := map[string]string{"api_type": "json", "to": "bob", "subject": "hello", "text": "body text"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Send() form mismatch (-want +got):\n%s", diff)
	}

	err := c.Send(context.Background(), "nobody", "hello", "body")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if len(apiErr.Errors) != 1 {
		t.Errorf("Expected 1 API error, got %d", len(apiErr.Errors))
	}
}

func TestUnreadAndMarkRead(t *testing.T) {
	var marked string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/message/unread":
			fmt.Fprint(w, `{"data":{"children":[
				{"kind":"t4","data":{"name":"t4_1","author":"alice","subject":"ignore","body":"ignore"}},
				{"kind":"t1","data":{"name":"t1_2","author":"bob","subject":"comment reply","body":"hi"}}
			]}}`)
		case "/api/read_message":
			_ = r.ParseForm()
			marked = r.PostForm.Get("id")
			fmt.Fprint(w, `{}`)
		default:
			http.NotFound(w, r)
		}
	}))

	msgs, err := c.Unread(context.Background())
	if err != nil {
		t.Fatalf("Unread() error = %v", err)
	}
	want := []*mention.Message{{ID: "t4_1", Author: "alice", Subject: "ignore", Body: "ignore"}}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("Unread() mismatch (-want +got):\n%s", diff)
	}

	if err := c.MarkRead(context.Background(), "t4_1", "t4_9"); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if marked != "t4_1,t4_9" {
		t.Errorf("MarkRead sent id=%q, want t4_1,t4_9", marked)
	}
}

func TestLogin(t *testing.T) {
	var grant, user string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		grant = r.PostForm.Get("grant_type")
		user = r.PostForm.Get("username")
		if id, _, ok := r.BasicAuth(); !ok || id != "client-id" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok123","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/user/alice/about", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"data":{"name":"alice"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	creds := Credentials{
		ClientID:     "client-id",
		ClientSecret: "secret",
		Username:     "mention-bot",
		Password:     "hunter2",
		UserAgent:    "test-agent/1.0",
		TokenURL:     srv.URL + "/api/v1/access_token",
		APIURL:       srv.URL,
	}
	c, err := Login(context.Background(), creds, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if grant != "password" || user != "mention-bot" {
		t.Errorf("token request grant_type=%q username=%q", grant, user)
	}

	acct, err := c.Account(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Account() error = %v", err)
	}
	if acct == nil || acct.Name != "alice" {
		t.Errorf("Account() = %v, want alice", acct)
	}
}

func TestAnonymousClientUsesJSONSuffix(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"data":{"name":"Alice"}}`)
	}))
	defer srv.Close()

	c := NewAnonymous(srv.Client(), "test-agent/1.0", slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.baseURL = srv.URL
	c.retryDelay = time.Millisecond

	acct, err := c.Account(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("Account() error = %v", err)
	}
	if acct == nil || acct.Name != "Alice" {
		t.Errorf("Account() = %v, want Alice", acct)
	}
	if gotPath != "/user/Alice/about.json" {
		t.Errorf("Request path = %q, want /user/Alice/about.json", gotPath)
	}
}

func TestSendIsNotRepeatedAfterServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := c.Send(context.Background(), "bob", "hello", "body")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Fatalf("Expected StatusError 502, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("Expected 1 compose POST, got %d", n)
	}
	if want := "compose: POST /api/compose: HTTP 502"; err.Error() != want {
		t.Errorf("Error = %q, want %q", err, want)
	}
}

func TestSendRetriesAfterRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"json":{"errors":[]}}`)
	}))

	if err := c.Send(context.Background(), "bob", "hello", "body"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("Expected 2 compose POSTs, got %d", n)
	}
}

func TestMarkReadRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{}`)
	}))

	if err := c.MarkRead(context.Background(), "t4_1"); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("Expected 3 calls, got %d", n)
	}
}

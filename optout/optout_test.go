package optout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mentioned-bot/pkg/mention"
)

type sent struct {
	To, Subject, Body string
}

type fakeInbox struct {
	unread  []*mention.Message
	read    []string
	sent    []sent
	sendErr error
}

func (f *fakeInbox) Unread(ctx context.Context) ([]*mention.Message, error) {
	return f.unread, nil
}

func (f *fakeInbox) MarkRead(ctx context.Context, ids ...string) error {
	f.read = append(f.read, ids...)
	return nil
}

func (f *fakeInbox) Send(ctx context.Context, to, subject, body string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sent{to, subject, body})
	return nil
}

type fakeStore struct {
	names []string
	err   error
}

func (f *fakeStore) Add(ctx context.Context, name string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	name = strings.ToLower(name)
	if slices.Contains(f.names, name) {
		return false, nil
	}
	f.names = append(f.names, name)
	return true, nil
}

func (f *fakeStore) Remove(ctx context.Context, name string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	name = strings.ToLower(name)
	i := slices.Index(f.names, name)
	if i < 0 {
		return false, nil
	}
	f.names = slices.Delete(f.names, i, i+1)
	return true, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTick(t *testing.T) {
	inbox := &fakeInbox{unread: []*mention.Message{
		{ID: "t4_1", Author: "Alice", Body: "  IGNORE \n"},
		{ID: "t4_2", Author: "alice", Body: "ignore"},
		{ID: "t4_3", Author: "bob", Body: "unignore"},
		{ID: "t4_4", Author: "carol", Body: "thanks for the bot!"},
		{ID: "t4_5", Author: "", Body: "ignore"},
		{ID: "t4_6", Author: "dave", Body: "Unignore"},
	}}
	store := &fakeStore{names: []string{"dave"}}
	h := New(inbox, store, "mentioned_bot", discardLogger())

	if err := h.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	wantSent := []sent{
		{"Alice", "mentioned_bot", IgnoredReply},
		{"alice", "mentioned_bot", AlreadyIgnoredReply},
		{"bob", "mentioned_bot", NotIgnoredReply},
		{"dave", "mentioned_bot", UnignoredReply},
	}
	if diff := cmp.Diff(wantSent, inbox.sent); diff != "" {
		t.Errorf("Replies mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"alice"}, store.names); diff != "" {
		t.Errorf("Blacklist mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"t4_1", "t4_2", "t4_3", "t4_4", "t4_5", "t4_6"}, inbox.read); diff != "" {
		t.Errorf("Marked read mismatch (-want +got):\n%s", diff)
	}
}

func TestTickLeavesFailedMessagesUnread(t *testing.T) {
	tests := []struct {
		name  string
		inbox *fakeInbox
		store *fakeStore
	}{
		{
			name:  "store error",
			inbox: &fakeInbox{},
			store: &fakeStore{err: errors.New("bucket unavailable")},
		},
		{
			name:  "reply error",
			inbox: &fakeInbox{sendErr: errors.New("rate limited")},
			store: &fakeStore{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.inbox.unread = []*mention.Message{
				{ID: "t4_1", Author: "alice", Body: "ignore"},
				{ID: "t4_2", Author: "bob", Body: "hello"},
			}
			h := New(tt.inbox, tt.store, "mentioned_bot", discardLogger())

			if err := h.Tick(context.Background()); err == nil {
				t.Error("Expected Tick() to report the failed message")
			}
			if diff := cmp.Diff([]string{"t4_2"}, tt.inbox.read); diff != "" {
				t.Errorf("Marked read mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTickEmptyInbox(t *testing.T) {
	inbox := &fakeInbox{}
	h := New(inbox, &fakeStore{}, "mentioned_bot", discardLogger())
	if err := h.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(inbox.read) != 0 || len(inbox.sent) != 0 {
		t.Errorf("Expected no activity, got read=%v sent=%v", inbox.read, inbox.sent)
	}
}

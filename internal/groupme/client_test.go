package groupme_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgard/groupstash/internal/apperrors"
	"github.com/edgard/groupstash/internal/groupme"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) *groupme.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return groupme.NewClient(srv.URL, 5*time.Second, testLogger())
}

func TestMe(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("token"); got != "tok-1" {
			t.Errorf("expected token tok-1, got %q", got)
		}
		fmt.Fprint(w, `{"response": {"id": "42", "name": "Alice"}, "meta": {"code": 200}}`)
	}))

	user, err := client.Me(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if user.ID != "42" || user.Name != "Alice" {
		t.Errorf("unexpected user %+v", user)
	}
}

func TestMeAuthError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"meta": {"code": 401, "errors": ["unauthorized"]}}`)
	}))

	_, err := client.Me(context.Background(), "expired")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := apperrors.Code(err); code != apperrors.CodeAuth {
		t.Errorf("expected AUTH code, got %q", code)
	}
}

func TestGroups(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/groups" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"response": [
			{"id": "10", "name": "study group", "members_count": 2,
			 "members": [{"id": "100", "user_id": "42", "nickname": "Alice"},
			             {"id": "101", "user_id": "43", "nickname": "Bob"}],
			 "messages": {"count": 1234}}
		], "meta": {"code": 200}}`)
	}))

	groups, err := client.Groups(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	g := groups[0]
	if g.ID != "10" || g.Name != "study group" {
		t.Errorf("unexpected group %+v", g)
	}
	if len(g.Members) != 2 || g.Members[1].Nickname != "Bob" {
		t.Errorf("unexpected members %+v", g.Members)
	}
	if g.MessageTotal() != 1234 {
		t.Errorf("expected message total 1234, got %d", g.MessageTotal())
	}
}

func TestMessagePage(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/groups/10/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		q := r.URL.Query()
		if got := q.Get("limit"); got != "100" {
			t.Errorf("expected limit 100, got %q", got)
		}
		if got := q.Get("before_id"); got != "555" {
			t.Errorf("expected before_id 555, got %q", got)
		}
		fmt.Fprint(w, `{"response": {"messages": [
			{"id": "554", "group_id": "10", "sender_id": "42", "text": "hi",
			 "created_at": 1700000000,
			 "reactions": [{"user_ids": ["1", "2"]}],
			 "attachments": [{"type": "image", "url": "https://example.com/i.png"}]}
		]}, "meta": {"code": 200}}`)
	}))

	msgs, err := client.MessagePage(context.Background(), "tok-1", "10", "555")
	if err != nil {
		t.Fatalf("MessagePage: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.ID != "554" || m.SenderID != "42" || m.CreatedAt != 1700000000 {
		t.Errorf("unexpected message %+v", m)
	}
	if m.Text == nil || *m.Text != "hi" {
		t.Errorf("unexpected text %v", m.Text)
	}
	if m.Likes() != 2 {
		t.Errorf("expected 2 likes, got %d", m.Likes())
	}
	if len(m.Attachments) == 0 {
		t.Error("expected raw attachments to be retained")
	}
}

func TestMessagePageFirstRequestOmitsCursor(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("before_id") {
			t.Error("first page request must not carry before_id")
		}
		fmt.Fprint(w, `{"response": {"messages": []}, "meta": {"code": 200}}`)
	}))

	if _, err := client.MessagePage(context.Background(), "tok-1", "10", ""); err != nil {
		t.Fatalf("MessagePage: %v", err)
	}
}

func TestMessagePageEndOfHistory(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// GroupMe answers 304 with an empty body past the oldest message.
		w.WriteHeader(http.StatusNotModified)
	}))

	msgs, err := client.MessagePage(context.Background(), "tok-1", "10", "1")
	if err != nil {
		t.Fatalf("MessagePage on 304: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty page, got %d messages", len(msgs))
	}
}

func TestRemoteErrorCarriesMetaDetail(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"meta": {"code": 503, "errors": ["maintenance window"]}}`)
	}))

	_, err := client.Groups(context.Background(), "tok-1")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := apperrors.Code(err); code != apperrors.CodeRemote {
		t.Errorf("expected REMOTE code, got %q", code)
	}
}

func TestMalformedEnvelope(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"unexpected": true}`)
	}))

	_, err := client.Me(context.Background(), "tok-1")
	if err == nil {
		t.Fatal("expected error for missing envelope payload")
	}
	if code := apperrors.Code(err); code != apperrors.CodeRemote {
		t.Errorf("expected REMOTE code, got %q", code)
	}
}

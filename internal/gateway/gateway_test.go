package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/freelancehub/convo/internal/bus"
	"github.com/freelancehub/convo/internal/chat"
	"github.com/freelancehub/convo/internal/directory"
	"github.com/freelancehub/convo/internal/profile"
	"github.com/freelancehub/convo/internal/store"
	"github.com/freelancehub/convo/internal/stream"
	"github.com/freelancehub/convo/internal/typing"
)

type fixture struct {
	srv    *Server
	ts     *httptest.Server
	db     *store.DB
	stream *stream.Service
	auth   *Auth
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	logger, _ := zap.NewDevelopment()
	dir := directory.NewService(db, b, logger)
	st := stream.NewService(db, b, dir, logger)
	auth := NewAuth("test-secret")
	srv := NewServer("127.0.0.1:0", auth, db, b, dir, st, typing.NewMemory(b),
		profile.NewClient(""), logger)

	ts := httptest.NewServer(srv.router())
	t.Cleanup(ts.Close)

	return &fixture{srv: srv, ts: ts, db: db, stream: st, auth: auth}
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.auth.GenerateToken(userID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (f *fixture) do(t *testing.T, userID, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+f.token(t, userID))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

// drainOutbox commits pending entries synchronously so tests don't depend on
// the sender's tick.
func (f *fixture) drainOutbox(t *testing.T) {
	t.Helper()
	pending, err := f.db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range pending {
		id, err := f.stream.Deliver(context.Background(), e)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.db.MarkOutboxSent(e.ClientMsgID, id); err != nil {
			t.Fatal(err)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without token", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp2.Body.Close() }()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for garbage token", resp2.StatusCode)
	}
}

func TestSendAndListConversations(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "alice", http.MethodPost, "/api/messages",
		map[string]string{"receiverId": "bob", "text": "hello bob"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("send status = %d, want 202", resp.StatusCode)
	}
	sent := decode[map[string]string](t, resp)
	if sent["clientMsgId"] == "" {
		t.Fatal("missing clientMsgId")
	}
	f.drainOutbox(t)

	resp = f.do(t, "bob", http.MethodGet, "/api/conversations", nil)
	list := decode[struct {
		Conversations []struct {
			DisplayName string `json:"displayName"`
			Unread      bool   `json:"unread"`
			Conversation struct {
				LastMessage string `json:"lastMessage"`
			} `json:"conversation"`
		} `json:"conversations"`
	}](t, resp)
	if len(list.Conversations) != 1 {
		t.Fatalf("bob sees %d conversations, want 1", len(list.Conversations))
	}
	item := list.Conversations[0]
	if item.DisplayName != "alice" {
		t.Errorf("displayName = %q, want raw id alice (no profile cached)", item.DisplayName)
	}
	if !item.Unread {
		t.Error("bob's view must be unread")
	}
	if item.Conversation.LastMessage != "hello bob" {
		t.Errorf("lastMessage = %q", item.Conversation.LastMessage)
	}
}

func TestSearchFiltersConversations(t *testing.T) {
	f := newFixture(t)

	if err := f.db.BulkUpsertProfiles([]chat.Profile{
		{UserID: "u1", DisplayName: "Alice"},
		{UserID: "u2", DisplayName: "Bob Smith"},
	}); err != nil {
		t.Fatal(err)
	}

	f.do(t, "me", http.MethodPost, "/api/messages", map[string]string{"receiverId": "u1", "text": "see you tomorrow"})
	f.do(t, "me", http.MethodPost, "/api/messages", map[string]string{"receiverId": "u2", "text": "budget update"})
	f.drainOutbox(t)

	for _, tc := range []struct {
		query string
		want  string
	}{
		{"bob", "Bob Smith"},
		{"budget", "Bob Smith"},
		{"tomorrow", "Alice"},
	} {
		resp := f.do(t, "me", http.MethodGet, "/api/conversations?q="+tc.query, nil)
		list := decode[struct {
			Conversations []struct {
				DisplayName string `json:"displayName"`
			} `json:"conversations"`
		}](t, resp)
		if len(list.Conversations) != 1 || list.Conversations[0].DisplayName != tc.want {
			t.Errorf("q=%q matched %+v, want %s", tc.query, list.Conversations, tc.want)
		}
	}
}

func TestMessagesEndpointScopedToParticipants(t *testing.T) {
	f := newFixture(t)

	f.do(t, "alice", http.MethodPost, "/api/messages", map[string]string{"receiverId": "bob", "text": "private"})
	f.drainOutbox(t)
	convID := chat.PairID("alice", "bob")

	resp := f.do(t, "bob", http.MethodGet, "/api/conversations/"+convID+"/messages", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("participant read status = %d", resp.StatusCode)
	}
	thread := decode[struct {
		Messages []chat.Message `json:"messages"`
	}](t, resp)
	if len(thread.Messages) != 1 || thread.Messages[0].Text != "private" {
		t.Fatalf("thread = %+v", thread.Messages)
	}

	resp = f.do(t, "mallory", http.MethodGet, "/api/conversations/"+convID+"/messages", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("outsider read status = %d, want 403", resp.StatusCode)
	}
}

func TestReadEndpointMarksThread(t *testing.T) {
	f := newFixture(t)

	f.do(t, "alice", http.MethodPost, "/api/messages", map[string]string{"receiverId": "bob", "text": "hello"})
	f.drainOutbox(t)
	convID := chat.PairID("alice", "bob")

	// Empty id list means "everything addressed to me".
	resp := f.do(t, "bob", http.MethodPost, "/api/conversations/"+convID+"/read",
		map[string][]string{"messageIds": {}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read status = %d", resp.StatusCode)
	}

	ids, err := f.db.UnreadMessageIDs(convID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("unread after read call = %v", ids)
	}
}

func TestStatusEndpointCounts(t *testing.T) {
	f := newFixture(t)

	f.do(t, "alice", http.MethodPost, "/api/messages", map[string]string{"receiverId": "bob", "text": "one"})
	f.drainOutbox(t)

	resp := f.do(t, "alice", http.MethodGet, "/api/status", nil)
	stats := decode[map[string]any](t, resp)
	if stats["userId"] != "alice" {
		t.Errorf("userId = %v", stats["userId"])
	}
	if stats["conversations"].(float64) != 1 || stats["messages"].(float64) != 1 {
		t.Errorf("counts = %v conversations, %v messages, want 1/1",
			stats["conversations"], stats["messages"])
	}
}

func TestProfileEndpoint(t *testing.T) {
	f := newFixture(t)

	if err := f.db.BulkUpsertProfiles([]chat.Profile{
		{UserID: "u1", DisplayName: "Alice", AvatarURL: "https://cdn/a.png"},
	}); err != nil {
		t.Fatal(err)
	}

	resp := f.do(t, "me", http.MethodGet, "/api/profiles/u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	p := decode[chat.Profile](t, resp)
	if p.DisplayName != "Alice" || p.AvatarURL != "https://cdn/a.png" {
		t.Errorf("profile = %+v", p)
	}

	// Unknown user with no remote directory configured.
	resp = f.do(t, "me", http.MethodGet, "/api/profiles/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestWebSocketPushesToParticipantsOnly(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http")
	dial := func(userID string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(
			fmt.Sprintf("%s/ws?token=%s", wsURL, f.token(t, userID)), nil)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	}
	bob := dial("bob")
	outsider := dial("mallory")
	time.Sleep(100 * time.Millisecond) // let the server-side pumps subscribe

	f.do(t, "alice", http.MethodPost, "/api/messages", map[string]string{"receiverId": "bob", "text": "ping"})
	f.drainOutbox(t)

	_ = bob.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env Envelope
	if err := bob.ReadJSON(&env); err != nil {
		t.Fatal(err)
	}
	if env.EventID == "" || env.OccurredAtUnixMs == 0 {
		t.Errorf("envelope missing metadata: %+v", env)
	}
	if !strings.HasPrefix(env.Kind, "conversation.") && !strings.HasPrefix(env.Kind, "message.") {
		t.Errorf("kind = %q", env.Kind)
	}

	_ = outsider.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var leaked Envelope
	if err := outsider.ReadJSON(&leaked); err == nil {
		t.Errorf("outsider received %+v", leaked)
	}
}

func TestWebSocketDeliveredAck(t *testing.T) {
	f := newFixture(t)

	f.do(t, "alice", http.MethodPost, "/api/messages", map[string]string{"receiverId": "bob", "text": "ack me"})
	f.drainOutbox(t)
	convID := chat.PairID("alice", "bob")

	msgs, err := f.db.ListMessages(convID, 10)
	if err != nil {
		t.Fatal(err)
	}

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(
		fmt.Sprintf("%s/ws?token=%s", wsURL, f.token(t, "bob")), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(wsCommand{
		Kind:           "delivered",
		ConversationID: convID,
		MessageIDs:     []string{msgs[0].ID},
	}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msgs, err = f.db.ListMessages(convID, 10)
		if err != nil {
			t.Fatal(err)
		}
		if string(msgs[0].Status) == "delivered" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("status = %s, want delivered", msgs[0].Status)
}

func TestTypingEndpointReachesPeer(t *testing.T) {
	f := newFixture(t)

	f.do(t, "alice", http.MethodPost, "/api/messages", map[string]string{"receiverId": "bob", "text": "hi"})
	f.drainOutbox(t)
	convID := chat.PairID("alice", "bob")

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(
		fmt.Sprintf("%s/ws?token=%s", wsURL, f.token(t, "bob")), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()
	time.Sleep(100 * time.Millisecond)

	resp := f.do(t, "alice", http.MethodPost, "/api/conversations/"+convID+"/typing",
		map[string]bool{"typing": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("typing status = %d", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatal(err)
		}
		if env.Kind != "typing" {
			continue
		}
		raw, _ := json.Marshal(env.Payload)
		var p chat.TypingEvent
		if err := json.Unmarshal(raw, &p); err != nil {
			t.Fatal(err)
		}
		if p.UserID != "alice" || !p.Typing || p.ConversationID != convID {
			t.Errorf("payload = %+v", p)
		}
		return
	}
}
